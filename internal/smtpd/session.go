// Session is the per-connection state machine (spec §3 "Session
// Context", §4.2 state table, §4.3 DATA streaming). Its read loop is
// modeled directly on _examples/original_source/src/server.cc's
// receive_mail/recv_data: an accumulating byte buffer that is filled
// from the socket, scanned for a line or the DATA terminator, and
// trimmed from the front as bytes are consumed — the same shape as the
// original's angel::buffer peek/retrieve pair, expressed here as a
// slice-backed buffer since Go has no equivalent in the standard
// library.
package smtpd

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/jawr/mtad/internal/config"
	"github.com/jawr/mtad/internal/logger"
	"github.com/jawr/mtad/internal/queue"
)

// State is one of the five per-connection states of spec §3/§4.2.
type State int

const (
	StatePrepare State = iota
	StateReady
	StateMail
	StateRcpt
	StateData
)

func (s State) String() string {
	switch s {
	case StatePrepare:
		return "Prepare"
	case StateReady:
		return "Ready"
	case StateMail:
		return "Mail"
	case StateRcpt:
		return "Rcpt"
	case StateData:
		return "Data"
	default:
		return "Unknown"
	}
}

const (
	idleTimeout  = 30 * time.Second
	maxMailSize  = 70 * 1024 * 1024 // 70 MiB, spec §4.3
	terminator   = "\r\n.\r\n"
	flushAtBytes = 4096
)

// Session owns one inbound connection end to end.
type Session struct {
	conn net.Conn
	cfg  *config.Config
	log  logger.Logger

	serverName string

	state    State
	mailFrom string
	mailTo   []string

	tmpFile *os.File
	tmpPath string

	recvSize uint64

	buf []byte // unconsumed bytes read off the wire, front-trimmed as consumed
}

// NewSession constructs a session for a freshly accepted connection.
// The caller is expected to call Serve.
func NewSession(conn net.Conn, cfg *config.Config, log logger.Logger, serverName string) *Session {
	return &Session{
		conn:       conn,
		cfg:        cfg,
		log:        log,
		serverName: serverName,
		state:      StatePrepare,
	}
}

func (s *Session) String() string {
	return fmt.Sprintf("smtpd[%s]", s.conn.RemoteAddr())
}

// Serve drives the connection until the client disconnects, issues
// QUIT, or the idle timeout elapses.
func (s *Session) Serve() error {
	defer s.cleanupTmp()

	if err := s.respond(220, fmt.Sprintf("%s Simple Mail Transfer Service Ready", s.serverName)); err != nil {
		return err
	}
	s.state = StatePrepare

	for {
		if s.state == StateData {
			done, err := s.stepData()
			if err != nil {
				return err
			}
			if done {
				continue
			}
			if err := s.fill(); err != nil {
				return err
			}
			continue
		}

		idx := bytes.Index(s.buf, []byte("\r\n"))
		if idx < 0 {
			if err := s.fill(); err != nil {
				return err
			}
			continue
		}

		line := string(s.buf[:idx])
		rawLen := idx + 2

		cmd, perr := ParseLine(line, rawLen)
		s.consume(rawLen)

		if perr != nil {
			if err := s.respond(perr.Code, perr.Text); err != nil {
				return err
			}
			continue
		}

		quit, err := s.handleCommand(cmd)
		if err != nil {
			return err
		}
		if quit {
			return nil
		}
	}
}

// fill reads more bytes off the wire, applying the idle timeout per
// connection read (spec §4.2).
func (s *Session) fill() error {
	if err := s.conn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
		return err
	}
	chunk := make([]byte, 4096)
	n, err := s.conn.Read(chunk)
	if n > 0 {
		s.buf = append(s.buf, chunk[:n]...)
	}
	return err
}

func (s *Session) consume(n int) {
	s.buf = s.buf[n:]
}

func (s *Session) respond(code int, text string) error {
	_, err := s.conn.Write([]byte(fmt.Sprintf("%d %s\r\n", code, text)))
	return err
}

func (s *Session) respondBadSequence(verb Verb) error {
	switch verb {
	case VerbMAIL:
		return s.respond(503, "Send command HELO/EHLO first.")
	case VerbRCPT:
		return s.respond(503, "Send command MAIL first.")
	case VerbDATA:
		return s.respond(503, "Send command RCPT first.")
	default:
		return s.respond(503, "Bad sequence of commands.")
	}
}

// handleCommand applies one parsed command to the state machine per
// spec §4.2's table and returns true if the connection should close.
func (s *Session) handleCommand(cmd Command) (bool, error) {
	switch cmd.Verb {
	case VerbEHLO, VerbRSET:
		s.reset()
		s.state = StateReady
		return false, s.respond(250, "OK")

	case VerbNOOP:
		return false, s.respond(250, "OK")

	case VerbQUIT:
		if err := s.respond(221, "Service closing transmission channel"); err != nil {
			return true, err
		}
		return true, nil

	case VerbHELO, VerbVRFY, VerbEXPN, VerbHELP:
		return false, s.respond(502, "Command not implemented.")

	case VerbMAIL:
		if s.state != StateReady {
			return false, s.respondBadSequence(VerbMAIL)
		}
		s.mailFrom = cmd.Addr
		s.state = StateMail
		return false, s.respond(250, "OK")

	case VerbRCPT:
		if s.state != StateMail && s.state != StateRcpt {
			return false, s.respondBadSequence(VerbRCPT)
		}
		s.mailTo = append(s.mailTo, cmd.Addr)
		s.state = StateRcpt
		return false, s.respond(250, "OK")

	case VerbDATA:
		if s.state != StateRcpt {
			return false, s.respondBadSequence(VerbDATA)
		}
		if err := s.beginData(); err != nil {
			return true, errors.WithMessage(err, "beginData")
		}
		s.state = StateData
		return false, s.respond(354, "Start mail input; end with <CRLF>.<CRLF>")

	default:
		return false, s.respond(500, "Command unrecognized.")
	}
}

// reset clears the transaction fields and unlinks any in-progress temp
// file (spec §3's Session Context invariant).
func (s *Session) reset() {
	s.mailFrom = ""
	s.mailTo = nil
	s.recvSize = 0
	s.cleanupTmp()
}

func (s *Session) cleanupTmp() {
	if s.tmpFile != nil {
		s.tmpFile.Close()
		s.tmpFile = nil
	}
	if s.tmpPath != "" {
		os.Remove(s.tmpPath)
		s.tmpPath = ""
	}
}

// beginData opens the temp file and writes the envelope header prefix,
// per spec §4.3. os.CreateTemp is used in place of the original's
// mktemp+open pair (spec §9): it is atomic create-exclusive and retries
// internally on name collision.
func (s *Session) beginData() error {
	f, err := os.CreateTemp(s.cfg.TmpDir, "tmp.*")
	if err != nil {
		return errors.WithMessage(err, "CreateTemp")
	}

	if err := queue.WriteHeader(f, s.mailFrom, s.mailTo); err != nil {
		f.Close()
		os.Remove(f.Name())
		return errors.WithMessage(err, "WriteHeader")
	}

	s.tmpFile = f
	s.tmpPath = f.Name()
	s.recvSize = 0
	return nil
}

// stepData processes as much of the buffered DATA payload as is
// currently available, per spec §4.3: while the terminator isn't
// visible and at least flushAtBytes are buffered, flush
// (available-4) bytes, keeping the last 4 unconsumed so a terminator
// straddling a read boundary is never missed. Returns done=true once
// the transaction has reached a terminal response.
func (s *Session) stepData() (bool, error) {
	for {
		if len(s.buf) < 5 {
			return false, nil
		}

		if idx := bytes.Index(s.buf, []byte(terminator)); idx >= 0 {
			return true, s.finishData(idx)
		}

		if len(s.buf) < flushAtBytes {
			return false, nil
		}

		flushLen := len(s.buf) - 4
		if err := s.writeBody(s.buf[:flushLen]); err != nil {
			return true, err
		}
		s.consume(flushLen)
		// Loop again: the buffer may already hold enough for another
		// flush, or the terminator, without waiting on the network.
	}
}

// writeBody accounts len(b) bytes against the size cap and only
// writes them to the temp file while the running total stays within
// the cap — once exceeded, subsequent chunks are dropped but scanning
// for the terminator continues (spec §4.3's "stop writing further
// bytes but continue scanning").
func (s *Session) writeBody(b []byte) error {
	s.recvSize += uint64(len(b))
	if s.recvSize > maxMailSize {
		return nil
	}
	return writeFull(s.tmpFile, b)
}

// finishData handles the terminator found at s.buf[:idx]: bytes before
// it are the final chunk of the body.
func (s *Session) finishData(idx int) error {
	payload := s.buf[:idx]
	s.consume(idx + len(terminator))

	s.recvSize += uint64(len(payload))

	if s.recvSize > maxMailSize {
		s.reset()
		s.state = StateReady
		return s.respond(552, "Too much mail data")
	}

	if err := writeFull(s.tmpFile, payload); err != nil {
		return err
	}

	if err := s.tmpFile.Sync(); err != nil {
		return errors.WithMessage(err, "Sync")
	}
	if err := s.tmpFile.Close(); err != nil {
		return errors.WithMessage(err, "Close")
	}
	s.tmpFile = nil

	name := queue.Filename(LocalPart(s.mailFrom))
	dest, err := queue.Promote(s.tmpPath, s.cfg.QueueDir, name)
	if err != nil {
		return errors.WithMessage(err, "Promote")
	}
	s.tmpPath = ""

	s.log.Printf("%s - queued %s", s, dest)

	s.reset()
	s.state = StateReady
	return s.respond(250, "OK")
}

// writeFull retries partial writes to completion, matching spec §4.3's
// requirement that a write returning fewer bytes than requested
// (including after EINTR) be retried.
func writeFull(f *os.File, b []byte) error {
	for len(b) > 0 {
		n, err := f.Write(b)
		if err != nil {
			return errors.WithMessage(err, "Write")
		}
		b = b[n:]
	}
	return nil
}
