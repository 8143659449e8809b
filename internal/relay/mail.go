// mail is one queue file under active relay (spec §3 "Relay Mail",
// §4.5). It owns its tasks directly rather than holding a back-pointer
// to the owning Service — the cyclic RelayTask -> RelayMail -> service
// reference the original takes is replaced (spec §9 redesign note) with
// an owning tree plus polling: the Service asks each mail to progress,
// the mail asks each task to progress, nothing calls upward.
package relay

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/jawr/mtad/internal/queue"
)

// taskFailure records enough about a failed task for the service to log
// the destination MX, per spec §8 S6.
type taskFailure struct {
	host string
	mx   string
	err  string
}

type mail struct {
	rawFilename string // basename in queue/
	filename    string // full path in queue/

	from string
	to   []string

	headers []byte // synthesized From:/Subject: preamble
	body    []byte

	tasks     []*task
	anyFailed bool
	failures  []taskFailure
}

// newMail reads and groups the envelope per spec §4.5 steps 1-3: one
// task per unique recipient domain, MX resolved once per domain via
// resolver (falling back to [host] on an empty/errored answer).
func newMail(path string, resolver Resolver) (*mail, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "open %q", path)
	}
	defer f.Close()

	env, err := queue.Decode(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "decode %q", path)
	}

	m := &mail{
		rawFilename: basename(path),
		filename:    path,
		from:        env.From,
		to:          env.To,
		body:        env.Body,
	}

	byHost := map[string][]string{}
	var hostOrder []string
	for _, addr := range env.To {
		host := domainOf(addr)
		if _, seen := byHost[host]; !seen {
			hostOrder = append(hostOrder, host)
		}
		byHost[host] = append(byHost[host], addr)
	}
	sort.Strings(hostOrder) // observable order is unspecified; keep it deterministic for tests

	for _, host := range hostOrder {
		recipients := byHost[host]
		mx, err := resolver.MX(host)
		if err != nil || len(mx) == 0 {
			mx = []string{host}
		}
		m.tasks = append(m.tasks, newTask(host, recipients, mx))
	}

	m.headers = m.synthesizeHeaders()

	return m, nil
}

// synthesizeHeaders builds the shared From:/Subject: preamble, the
// sender local-part-prefixed and angle-bracketed per spec §4.5 step 3
// (grounded on relay.cc's get_username(mail.from) + "<" + mail.from +
// ">"). Per-task To: lines are rendered by task.headerTo and prepended
// when each task's send is kicked off, since the recipient list differs
// per task.
func (m *mail) synthesizeHeaders() []byte {
	return []byte(fmt.Sprintf("From: %s\r\nSubject: hello\r\n", formatAddr(m.from)))
}

// start kicks off one send per task (spec §4.5 step 4).
func (m *mail) start(client SmtpClient) {
	for _, t := range m.tasks {
		headers := append([]byte(nil), m.headers...)
		headers = append(headers, []byte(fmt.Sprintf("To: %s\r\n\r\n", t.headerTo()))...)
		t.start(client, m.from, headers, m.body)
	}
}

// progress polls every outstanding task, recording failures as they
// complete, and drops the terminal ones (spec §4.5's progress tick).
// Returns true once every task has finished, i.e. the mail is ready to
// be filed.
func (m *mail) progress() bool {
	remaining := m.tasks[:0]
	for _, t := range m.tasks {
		if !t.poll() {
			remaining = append(remaining, t)
			continue
		}
		if t.failed() {
			m.anyFailed = true
			m.failures = append(m.failures, taskFailure{host: t.host, mx: t.currentMX, err: t.result.Err})
		}
	}
	m.tasks = remaining
	return len(m.tasks) == 0
}

// outcome reports whether the mail's delivery succeeded, computed
// explicitly from the tasks the mail ran rather than inferred from
// teardown order (spec §9's "destructor-as-success-path" flag). Call
// only after progress() returns true.
func (m *mail) outcome() bool {
	return !m.anyFailed
}

func domainOf(addr string) string {
	i := strings.LastIndexByte(addr, '@')
	if i < 0 {
		return addr
	}
	return addr[i+1:]
}

func basename(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return path
	}
	return path[i+1:]
}
