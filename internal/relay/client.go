// SmtpClient is the relay's outbound-delivery collaborator (spec §4.5
// step 4): dial a destination MX on port 25 and issue one MAIL/RCPT/DATA
// transaction. Grounded on the teacher's use of emersion/go-smtp, but
// repurposed to its client half only — the teacher used the same
// library to run its inbound server, which this rewrite deliberately
// hand-rolls instead (internal/smtpd).
package relay

import (
	"net"
	"strconv"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/pkg/errors"
)

const smtpPort = 25

// SmtpResult is the outcome of one delivery attempt.
type SmtpResult struct {
	OK  bool
	Err string
}

// SmtpClient sends one email to one MX host on behalf of a RelayTask.
type SmtpClient interface {
	Send(mxHost string, from string, to []string, headers, body []byte) SmtpResult
}

// GoSmtpClient dials with net.DialTimeout and drives the transaction
// with emersion/go-smtp's client Mail/Rcpt/Data surface.
type GoSmtpClient struct {
	DialTimeout time.Duration
}

// NewGoSmtpClient returns a client with the teacher's usual dial
// timeout ballpark.
func NewGoSmtpClient() *GoSmtpClient {
	return &GoSmtpClient{DialTimeout: 30 * time.Second}
}

func (g *GoSmtpClient) Send(mxHost string, from string, to []string, headers, body []byte) SmtpResult {
	addr := net.JoinHostPort(mxHost, strconv.Itoa(smtpPort))

	conn, err := net.DialTimeout("tcp", addr, g.DialTimeout)
	if err != nil {
		return SmtpResult{OK: false, Err: errors.WithMessagef(err, "dial %s", addr).Error()}
	}

	client, err := gosmtp.NewClient(conn, mxHost)
	if err != nil {
		conn.Close()
		return SmtpResult{OK: false, Err: errors.WithMessage(err, "NewClient").Error()}
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return SmtpResult{OK: false, Err: errors.WithMessage(err, "HELO").Error()}
	}

	if err := client.Mail(from, nil); err != nil {
		return SmtpResult{OK: false, Err: errors.WithMessage(err, "MAIL").Error()}
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return SmtpResult{OK: false, Err: errors.WithMessagef(err, "RCPT %s", rcpt).Error()}
		}
	}

	w, err := client.Data()
	if err != nil {
		return SmtpResult{OK: false, Err: errors.WithMessage(err, "DATA").Error()}
	}
	if _, err := w.Write(headers); err != nil {
		w.Close()
		return SmtpResult{OK: false, Err: errors.WithMessage(err, "write headers").Error()}
	}
	if _, err := w.Write(body); err != nil {
		w.Close()
		return SmtpResult{OK: false, Err: errors.WithMessage(err, "write body").Error()}
	}
	if err := w.Close(); err != nil {
		return SmtpResult{OK: false, Err: errors.WithMessage(err, "close DATA").Error()}
	}

	if err := client.Quit(); err != nil {
		return SmtpResult{OK: false, Err: errors.WithMessage(err, "QUIT").Error()}
	}

	return SmtpResult{OK: true}
}
