package relay

import (
	"fmt"
	"strings"

	"github.com/jawr/mtad/internal/smtpd"
)

// taskState is the lifecycle of one RelayTask's outstanding attempt.
type taskState int

const (
	taskPending taskState = iota
	taskDone
)

// task is one destination host within a RelayMail: a set of recipients
// sharing a domain, a FIFO of candidate MX hosts to try, and the single
// outstanding delivery attempt for the current_mx (spec §3 "Relay
// Task"). The spec's "future<SmtpResult>" is expressed here as a result
// channel populated by a goroutine started in start(), polled by the
// progress tick rather than blocked on — matching the teacher's
// Sender.Run select-loop shape of reacting to whatever is ready without
// blocking other work.
type task struct {
	host       string
	recipients []string
	mxList     []string
	currentMX  string

	state  taskState
	result SmtpResult

	resultCh chan SmtpResult
}

func newTask(host string, recipients []string, mx []string) *task {
	return &task{
		host:       host,
		recipients: append([]string(nil), recipients...),
		mxList:     append([]string(nil), mx...),
	}
}

// start pops the next MX and kicks off one send attempt in the
// background (spec §4.5 step 4: "one send per task"). The current
// design never retries the next MX on a failed attempt (spec §9 Open
// Questions); start is therefore called at most once per task.
func (t *task) start(client SmtpClient, from string, headers, body []byte) {
	if len(t.mxList) == 0 {
		t.currentMX = t.host
	} else {
		t.currentMX, t.mxList = t.mxList[0], t.mxList[1:]
	}

	t.resultCh = make(chan SmtpResult, 1)
	mx := t.currentMX
	recipients := append([]string(nil), t.recipients...)

	go func() {
		t.resultCh <- client.Send(mx, from, recipients, headers, body)
	}()
}

// poll checks for a ready result without blocking (spec §4.5 progress
// tick: "if the pending future is not ready, leave it"). Returns true
// once the task has reached a terminal state.
func (t *task) poll() bool {
	if t.state == taskDone {
		return true
	}
	select {
	case res := <-t.resultCh:
		t.result = res
		t.state = taskDone
		return true
	default:
		return false
	}
}

func (t *task) failed() bool {
	return t.state == taskDone && !t.result.OK
}

// headerTo renders the comma-joined To: line for this task's recipient
// subset, each address local-part-prefixed and angle-bracketed per spec
// §4.5 step 3 (grounded on relay.cc's get_username(name) + "<" + name +
// ">" joined with "," and no trailing separator).
func (t *task) headerTo() string {
	addrs := make([]string, len(t.recipients))
	for i, r := range t.recipients {
		addrs[i] = formatAddr(r)
	}
	return strings.Join(addrs, ",")
}

// formatAddr renders addr as "<local-part><addr>", e.g.
// "alice<alice@example.com>" (spec §4.5 step 3).
func formatAddr(addr string) string {
	return smtpd.LocalPart(addr) + "<" + addr + ">"
}

func (t *task) String() string {
	return fmt.Sprintf("task[%s]", t.host)
}
