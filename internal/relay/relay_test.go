package relay

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jawr/mtad/internal/config"
	"github.com/jawr/mtad/internal/logger"
	"github.com/jawr/mtad/internal/queue"
)

// fakeResolver returns a canned MX list per host, or none to exercise
// the host-fallback path.
type fakeResolver struct {
	mx map[string][]string
}

func (f *fakeResolver) MX(host string) ([]string, error) {
	return f.mx[host], nil
}

// fakeClient resolves every Send call immediately according to a
// per-host outcome table, so tests don't wait on real network I/O.
type fakeClient struct {
	outcomes map[string]SmtpResult
}

func (f *fakeClient) Send(mxHost string, from string, to []string, headers, body []byte) SmtpResult {
	if res, ok := f.outcomes[mxHost]; ok {
		return res
	}
	return SmtpResult{OK: true}
}

// manualLoop never fires on its own; used only to confirm Run wires up
// exactly one recurring callback (spec §5's single relay thread). Tests
// that need to drive scan/progress ticks call Service.scan/progressAll
// directly instead of going through the loop, since both are meant to
// run on the same goroutine as each other and that goroutine is what
// Run's single RunEvery call represents.
type manualLoop struct {
	fns []func()
}

func (m *manualLoop) RunEvery(_ time.Duration, fn func()) func() {
	m.fns = append(m.fns, fn)
	return func() {}
}

func writeQueueFile(t *testing.T, dir, name string, env queue.Envelope) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %q: %s", path, err)
	}
	defer f.Close()
	if err := queue.Encode(f, env); err != nil {
		t.Fatalf("encode: %s", err)
	}
	return path
}

func newTestService(cfg *config.Config, client SmtpClient, resolver Resolver) *Service {
	return &Service{
		cfg:      cfg,
		log:      logger.NewStd(),
		loop:     &manualLoop{},
		client:   client,
		resolver: resolver,
		active:   make(map[string]*mail),
	}
}

// waitForTerminal drives progressAll directly (no eventloop involved)
// until path leaves the active map or the deadline passes.
func waitForTerminal(t *testing.T, s *Service, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.progressAll()
		if _, inFlight := s.active[path]; !inFlight {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("mail at %q never reached a terminal state", path)
}

// Run wires exactly one recurring callback onto the event loop — the
// spec's single relay thread owning both the scanner and the progress
// tick (spec §5), not two independently scheduled goroutines.
func TestRunUsesOneLoopCallback(t *testing.T) {
	mailDir := t.TempDir()
	cfg := &config.Config{
		QueueDir: filepath.Join(mailDir, "queue"),
		SentDir:  filepath.Join(mailDir, "sent"),
		FailDir:  filepath.Join(mailDir, "fail"),
		TmpDir:   filepath.Join(mailDir, "tmp"),
	}
	if err := config.Bootstrap(cfg); err != nil {
		t.Fatalf("Bootstrap: %s", err)
	}

	svc := newTestService(cfg, &fakeClient{}, &fakeResolver{})
	svc.Run()

	loop := svc.loop.(*manualLoop)
	if len(loop.fns) != 1 {
		t.Fatalf("Run registered %d callbacks, want 1", len(loop.fns))
	}
}

// S5: a single recipient whose MX accepts the mail ends up in sent/,
// gone from queue/, with an empty active map (spec §8 S5).
func TestRelaySuccessMovesToSent(t *testing.T) {
	mailDir := t.TempDir()
	cfg := &config.Config{
		QueueDir: filepath.Join(mailDir, "queue"),
		SentDir:  filepath.Join(mailDir, "sent"),
		FailDir:  filepath.Join(mailDir, "fail"),
		TmpDir:   filepath.Join(mailDir, "tmp"),
	}
	if err := config.Bootstrap(cfg); err != nil {
		t.Fatalf("Bootstrap: %s", err)
	}

	path := writeQueueFile(t, cfg.QueueDir, "alice-1.mail", queue.Envelope{
		From: "alice@example.com",
		To:   []string{"bob@accepts.test"},
		Body: []byte("hello"),
	})

	svc := newTestService(cfg,
		&fakeClient{outcomes: map[string]SmtpResult{}},
		&fakeResolver{mx: map[string][]string{"accepts.test": {"mx1.accepts.test"}}},
	)

	svc.scan() // scan tick picks up the file

	if _, inFlight := svc.active[path]; !inFlight {
		t.Fatalf("expected %q to be claimed by the active map", path)
	}

	waitForTerminal(t, svc, path)

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected %q removed from queue/, stat err=%v", path, err)
	}
	if _, err := os.Stat(filepath.Join(cfg.SentDir, "alice-1.mail")); err != nil {
		t.Fatalf("expected file in sent/: %s", err)
	}
	if len(svc.active) != 0 {
		t.Fatalf("active map not empty: %d entries", len(svc.active))
	}
}

// S6: an SmtpClient failure routes the mail to fail/ and logs the
// destination MX (spec §8 S6).
func TestRelayFailureMovesToFail(t *testing.T) {
	mailDir := t.TempDir()
	cfg := &config.Config{
		QueueDir: filepath.Join(mailDir, "queue"),
		SentDir:  filepath.Join(mailDir, "sent"),
		FailDir:  filepath.Join(mailDir, "fail"),
		TmpDir:   filepath.Join(mailDir, "tmp"),
	}
	if err := config.Bootstrap(cfg); err != nil {
		t.Fatalf("Bootstrap: %s", err)
	}

	path := writeQueueFile(t, cfg.QueueDir, "alice-2.mail", queue.Envelope{
		From: "alice@example.com",
		To:   []string{"bob@rejects.test"},
		Body: []byte("hello"),
	})

	svc := newTestService(cfg,
		&fakeClient{outcomes: map[string]SmtpResult{"mx1.rejects.test": {OK: false, Err: "550 no such user"}}},
		&fakeResolver{mx: map[string][]string{"rejects.test": {"mx1.rejects.test"}}},
	)

	svc.scan()
	waitForTerminal(t, svc, path)

	if _, err := os.Stat(filepath.Join(cfg.FailDir, "alice-2.mail")); err != nil {
		t.Fatalf("expected file in fail/: %s", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected %q removed from queue/", path)
	}
}

// Scanner idempotence (spec invariant 7): two consecutive scans over the
// same queue/ state create at most one mail per file.
func TestScannerIdempotence(t *testing.T) {
	mailDir := t.TempDir()
	cfg := &config.Config{
		QueueDir: filepath.Join(mailDir, "queue"),
		SentDir:  filepath.Join(mailDir, "sent"),
		FailDir:  filepath.Join(mailDir, "fail"),
		TmpDir:   filepath.Join(mailDir, "tmp"),
	}
	if err := config.Bootstrap(cfg); err != nil {
		t.Fatalf("Bootstrap: %s", err)
	}

	path := writeQueueFile(t, cfg.QueueDir, "alice-3.mail", queue.Envelope{
		From: "alice@example.com",
		To:   []string{"bob@slow.test"},
		Body: []byte("hello"),
	})

	svc := newTestService(cfg,
		&fakeClient{outcomes: map[string]SmtpResult{}},
		&fakeResolver{mx: map[string][]string{"slow.test": {"mx1.slow.test"}}},
	)

	svc.scan()
	svc.scan()

	claims := 0
	for p := range svc.active {
		if p == path {
			claims++
		}
	}
	if claims != 1 {
		t.Fatalf("expected exactly one claim for %q, got %d", path, claims)
	}
}

// Synthesized headers match spec §4.5 step 3's local-part-prefixed,
// angle-bracketed address format (grounded on relay.cc's
// get_username(addr) + "<" + addr + ">").
func TestSynthesizedHeaders(t *testing.T) {
	mailDir := t.TempDir()
	queueDir := filepath.Join(mailDir, "queue")
	if err := os.MkdirAll(queueDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %s", err)
	}

	path := writeQueueFile(t, queueDir, "alice-4.mail", queue.Envelope{
		From: "alice@example.com",
		To:   []string{"bob@example.com", "carol@example.com"},
		Body: []byte("hello"),
	})

	m, err := newMail(path, &fakeResolver{mx: map[string][]string{"example.com": {"mx1.example.com"}}})
	if err != nil {
		t.Fatalf("newMail: %s", err)
	}

	wantFrom := "From: alice<alice@example.com>\r\n"
	if got := string(m.headers); got != wantFrom+"Subject: hello\r\n" {
		t.Fatalf("headers = %q, want %q", got, wantFrom+"Subject: hello\r\n")
	}

	if len(m.tasks) != 1 {
		t.Fatalf("want 1 task (single recipient domain), got %d", len(m.tasks))
	}
	wantTo := "bob<bob@example.com>,carol<carol@example.com>"
	if got := m.tasks[0].headerTo(); got != wantTo {
		t.Fatalf("headerTo = %q, want %q", got, wantTo)
	}
}

// MX resolver fallback: an empty answer falls back to [host].
func TestCachingResolverFallsBackToHost(t *testing.T) {
	inner := &fakeResolver{mx: map[string][]string{}}
	cr, err := newCachingResolver(inner)
	if err != nil {
		t.Fatalf("newCachingResolver: %s", err)
	}

	mx, err := cr.MX("nomx.example.com")
	if err != nil {
		t.Fatalf("MX: %s", err)
	}
	if len(mx) != 1 || mx[0] != "nomx.example.com" {
		t.Fatalf("MX fallback = %v, want [nomx.example.com]", mx)
	}
}

func TestCachingResolverCachesHit(t *testing.T) {
	inner := &fakeResolver{mx: map[string][]string{"example.com": {"mx1.example.com", "mx2.example.com"}}}
	cr, err := newCachingResolver(inner)
	if err != nil {
		t.Fatalf("newCachingResolver: %s", err)
	}

	first, err := cr.MX("example.com")
	if err != nil {
		t.Fatalf("MX: %s", err)
	}
	// ristretto's Set is processed asynchronously; give it a moment to
	// land before relying on a cache hit.
	time.Sleep(10 * time.Millisecond)

	// Mutate the backing map; a cached hit must not reflect this.
	inner.mx["example.com"] = nil

	second, err := cr.MX("example.com")
	if err != nil {
		t.Fatalf("MX: %s", err)
	}

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected cached MX list preserved across calls: first=%v second=%v", first, second)
	}
}
