// Resolver is the relay's MX-lookup collaborator (spec §4.5 step 2),
// grounded on the teacher's internal/account/record.go use of
// miekg/dns's Client/Msg/MX types for live record checks. Unlike the
// teacher's single-answer verification query, this resolver wants the
// whole priority-ordered MX set, with the spec's explicit fallback to
// the bare host when the zone has none.
package relay

import (
	"sort"
	"strings"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

// Resolver looks up MX records for a domain.
type Resolver interface {
	MX(host string) ([]string, error)
}

// DNSResolver queries the system's configured resolvers directly via
// miekg/dns, the same library the teacher uses for its own record
// checks, rather than net.LookupMX, to keep the query timeout and
// server selection under this package's control.
type DNSResolver struct {
	client  *dns.Client
	servers []string
}

// NewDNSResolver builds a resolver reading /etc/resolv.conf, matching
// the teacher's dns.ClientConfig usage in Record.Check.
func NewDNSResolver() (*DNSResolver, error) {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return nil, errors.WithMessage(err, "ClientConfigFromFile")
	}
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no dns servers configured")
	}

	servers := make([]string, len(cfg.Servers))
	for i, s := range cfg.Servers {
		servers[i] = s + ":" + cfg.Port
	}

	return &DNSResolver{
		client:  new(dns.Client),
		servers: servers,
	}, nil
}

// MX returns MX hostnames for host in priority order, lowest preference
// first. No answer or NXDOMAIN yields an empty list and no error; a query
// that fails against every configured server returns an error. In both
// cases the caller falls back to [host] per spec §4.5.
func (r *DNSResolver) MX(host string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeMX)
	m.RecursionDesired = true

	var resp *dns.Msg
	var err error
	for _, server := range r.servers {
		resp, _, err = r.client.Exchange(m, server)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "Exchange MX %q", host)
	}

	type rec struct {
		pref uint16
		name string
	}
	var records []rec
	for _, a := range resp.Answer {
		mx, ok := a.(*dns.MX)
		if !ok {
			continue
		}
		records = append(records, rec{pref: mx.Preference, name: strings.TrimSuffix(mx.Mx, ".")})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].pref < records[j].pref })

	names := make([]string, len(records))
	for i, rr := range records {
		names[i] = rr.name
	}
	return names, nil
}
