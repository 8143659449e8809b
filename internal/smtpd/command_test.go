package smtpd

import (
	"strings"
	"testing"
)

func parse(t *testing.T, line string) (Command, *ProtoError) {
	t.Helper()
	return ParseLine(line, len(line)+2)
}

func TestParseLineVerbs(t *testing.T) {
	cases := []struct {
		line string
		verb Verb
	}{
		{"EHLO mail.example.com", VerbEHLO},
		{"ehlo mail.example.com", VerbEHLO},
		{"HELO mail.example.com", VerbHELO},
		{"RSET", VerbRSET},
		{"rset", VerbRSET},
		{"NOOP", VerbNOOP},
		{"noop ping", VerbNOOP},
		{"QUIT", VerbQUIT},
		{"VRFY someone", VerbVRFY},
		{"EXPN list", VerbEXPN},
		{"HELP", VerbHELP},
		{"DATA", VerbDATA},
	}

	for _, c := range cases {
		cmd, perr := parse(t, c.line)
		if perr != nil {
			t.Errorf("ParseLine(%q) unexpected error: %s", c.line, perr)
			continue
		}
		if cmd.Verb != c.verb {
			t.Errorf("ParseLine(%q).Verb = %v, want %v", c.line, cmd.Verb, c.verb)
		}
	}
}

func TestParseLineMailRcpt(t *testing.T) {
	cmd, perr := parse(t, "MAIL FROM:<a@b.co>")
	if perr != nil {
		t.Fatalf("unexpected error: %s", perr)
	}
	if cmd.Verb != VerbMAIL || cmd.Addr != "a@b.co" {
		t.Fatalf("got %+v", cmd)
	}

	cmd, perr = parse(t, "mail from:<a@b.co>")
	if perr != nil || cmd.Addr != "a@b.co" {
		t.Fatalf("case-insensitive MAIL FROM failed: %+v %v", cmd, perr)
	}

	cmd, perr = parse(t, "RCPT TO:<c@d.co>")
	if perr != nil {
		t.Fatalf("unexpected error: %s", perr)
	}
	if cmd.Verb != VerbRCPT || cmd.Addr != "c@d.co" {
		t.Fatalf("got %+v", cmd)
	}
}

func TestParseLineUnrecognized(t *testing.T) {
	_, perr := parse(t, "BLARG foo")
	if perr == nil || perr.Code != 500 {
		t.Fatalf("expected 500, got %v", perr)
	}
}

func TestParseLineTooLong(t *testing.T) {
	line := strings.Repeat("A", 600)
	_, perr := parse(t, line)
	if perr == nil || perr.Code != 500 || perr.Text != "Command line too long." {
		t.Fatalf("expected line-too-long 500, got %v", perr)
	}
}

func TestParseLineUnexpectedParams(t *testing.T) {
	for _, line := range []string{"DATA junk", "RSET junk", "QUIT junk"} {
		_, perr := parse(t, line)
		if perr == nil || perr.Code != 501 || perr.Text != "Command not accept parameters." {
			t.Errorf("ParseLine(%q): expected 501 unexpected-params, got %v", line, perr)
		}
	}
}

func TestParseLineArgSyntaxError(t *testing.T) {
	cases := []string{
		"MAIL FROM:a@b.co",    // missing angle brackets
		"MAIL FROM:<notanemail>",
		"RCPT TO:<@b.co>",
		"RCPT TO:<a@b.c>", // TLD too short
	}
	for _, line := range cases {
		_, perr := parse(t, line)
		if perr == nil || perr.Code != 501 {
			t.Errorf("ParseLine(%q): expected 501 syntax error, got %v", line, perr)
		}
	}
}
