// Package relay implements the outbound relay engine: the queue
// scanner (spec §4.4) and per-mail delivery (spec §4.5). Its shape is
// grounded on the teacher's internal/sender package — a dedicated
// goroutine reacting to ticks rather than a pool of workers blocking on
// I/O — generalized from the teacher's single AMQP subscriber channel
// to a filesystem directory scan, since this spec's queue is the
// filesystem itself (spec §9's dropped message-broker dependency).
package relay

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/jawr/mtad/internal/config"
	"github.com/jawr/mtad/internal/eventloop"
	"github.com/jawr/mtad/internal/logger"
)

const (
	// progressInterval is the tick granularity of the single relay loop
	// (spec §4.5 step 5). scanInterval is a whole multiple of it so the
	// scan can piggyback on every other progress tick rather than run on
	// its own goroutine (spec §5: "runs on its own thread" — singular —
	// owning the active map, the RelayMails, and both periodic tasks).
	progressInterval = 500 * time.Millisecond // spec §4.5 step 5
	scanInterval     = 1000 * time.Millisecond // spec §4.4
	scanEveryNTicks  = int(scanInterval / progressInterval)
)

// Service owns the active relay map: queue-path -> in-flight mail (spec
// §3 "Ownership"). It is the sole authority on what is in-flight; the
// rename out of queue/ is the only signal that a mail is done (spec
// §4.4's idempotence rule).
//
// Everything Service touches — active, and every mail/task reachable
// through it — is mutated from a single goroutine driven by one
// eventloop tick (Run), matching spec §5's single relay thread. No
// mutex guards active: there is never a second goroutine that could
// race with it.
type Service struct {
	cfg    *config.Config
	log    logger.Logger
	loop   eventloop.EventLoop
	client SmtpClient

	resolver Resolver

	active map[string]*mail
	ticks  int

	cancel func()
}

// NewService wires the default collaborators (DNS resolver behind a
// cache, the go-smtp-backed client, a time.Ticker event loop); it takes
// no collaborator arguments. Tests construct a Service directly with
// fakes instead of going through this constructor.
func NewService(cfg *config.Config, log logger.Logger) (*Service, error) {
	dnsResolver, err := NewDNSResolver()
	if err != nil {
		return nil, errors.WithMessage(err, "NewDNSResolver")
	}
	cached, err := newCachingResolver(dnsResolver)
	if err != nil {
		return nil, errors.WithMessage(err, "newCachingResolver")
	}

	return &Service{
		cfg:      cfg,
		log:      log,
		loop:     eventloop.Ticker{},
		client:   NewGoSmtpClient(),
		resolver: cached,
		active:   make(map[string]*mail),
	}, nil
}

// Run starts the single relay loop and returns immediately: one
// progressInterval tick runs progressAll every time, and scan every
// scanEveryNTicks-th time, both on the same goroutine (spec §5).
func (s *Service) Run() {
	s.cancel = s.loop.RunEvery(progressInterval, func() {
		s.progressAll()

		s.ticks++
		if s.ticks%scanEveryNTicks == 0 {
			s.scan()
		}
	})
}

// Close stops the relay loop. In-flight mails are not cancelled (spec
// §3's "no cancellation" invariant) — they simply stop being polled,
// which only matters for process shutdown.
func (s *Service) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// scan is one queue-scanner tick (spec §4.4).
func (s *Service) scan() {
	entries, err := os.ReadDir(s.cfg.QueueDir)
	if err != nil {
		s.log.Printf("relay scan %q: %s", s.cfg.QueueDir, err)
		return
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(s.cfg.QueueDir, e.Name())

		if _, inFlight := s.active[path]; inFlight {
			continue
		}

		m, err := newMail(path, s.resolver)
		if err != nil {
			s.log.Printf("relay %q: %s", path, err)
			continue
		}

		s.active[path] = m
		m.start(s.client)
	}
}

// progressAll runs one progress tick across every in-flight mail (spec
// §4.5 step 5), filing each one that has become terminal.
func (s *Service) progressAll() {
	for path, m := range s.active {
		if !m.progress() {
			continue
		}
		s.finish(path, m)
	}
}

// finish computes the mail's outcome explicitly before filing it, per
// spec §9's "destructor-as-success-path" redesign note: the outcome is
// a value read off m, not an artifact of teardown order.
func (s *Service) finish(path string, m *mail) {
	delete(s.active, path)

	destDir := s.cfg.SentDir
	etype := logger.EntryTypeSent
	if !m.outcome() {
		destDir = s.cfg.FailDir
		etype = logger.EntryTypeFailed
	}

	for _, f := range m.failures {
		s.log.LogEntry(logger.Entry{
			FromEmail: m.from,
			Host:      f.host,
			MX:        f.mx,
			Etype:     logger.EntryTypeFailed,
			Status:    f.err,
		})
	}

	dest := filepath.Join(destDir, m.rawFilename)
	if err := os.Rename(path, dest); err != nil {
		s.log.Printf("relay %q: rename to %q: %s", path, dest, err)
		return
	}

	if etype == logger.EntryTypeSent {
		s.log.LogEntry(logger.Entry{FromEmail: m.from, Etype: etype, Status: "delivered"})
	}
}
