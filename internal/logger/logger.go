// Package logger is the pluggable logging sink spec §1/§6 treats as an
// external collaborator: the core packages log through a Logger
// interface rather than a concrete sink, so tests can capture output.
//
// The shape is carried over from the teacher's internal/logger package
// (github.com/jawr/mxax), stripped of the Postgres/AMQP-only fields it
// used to persist entries remotely; what survives is the vocabulary for
// describing a relay outcome, and the teacher's habit of logging through
// a Stringer session/mail identifier prefix.
package logger

import (
	"log"
	"time"

	"github.com/google/uuid"
)

// EntryType classifies a relay outcome.
type EntryType int

const (
	EntryTypeSent EntryType = iota
	EntryTypeFailed
	EntryTypeRejected
)

func (t EntryType) String() string {
	switch t {
	case EntryTypeSent:
		return "sent"
	case EntryTypeFailed:
		return "failed"
	case EntryTypeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Entry describes one terminal outcome for a relay task.
type Entry struct {
	Time time.Time

	MailID uuid.UUID

	FromEmail string
	ToEmail   string
	Host      string
	MX        string

	Etype  EntryType
	Status string
}

// Logger is the sink the core packages log through.
type Logger interface {
	Printf(format string, args ...interface{})
	LogEntry(Entry)
}

// Std is the default Logger, backed by the standard log package the
// teacher uses everywhere (log.Printf("%s - Verb - detail", s, ...)).
type Std struct {
	*log.Logger
}

// NewStd returns a Logger writing through log.Default().
func NewStd() *Std {
	return &Std{Logger: log.Default()}
}

func (s *Std) LogEntry(e Entry) {
	e.Time = time.Now()
	s.Printf(
		"relay %s - %s -> %s via %s (%s): %s",
		e.Etype, e.FromEmail, e.ToEmail, e.MX, e.MailID, e.Status,
	)
}
