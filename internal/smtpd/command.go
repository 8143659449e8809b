// Command lexing, grounded on other_examples/siebenmann-smtpd__smtpd.go's
// prefix-table parser: recognize a verb by the longest matching literal
// at the start of the line, then validate the word boundary and any
// trailing argument per spec §4.1. The "no stray parameters" rule for
// DATA/RSET/QUIT and the "ignore anything else" rule for
// EHLO/HELO/NOOP/VRFY/EXPN/HELP come from _examples/original_source's
// cmd_verify/receive_mail, which the distilled spec states tersely.
package smtpd

import (
	"strings"
)

// Verb identifies a recognized SMTP command.
type Verb int

const (
	VerbUnknown Verb = iota
	VerbEHLO
	VerbHELO
	VerbMAIL
	VerbRCPT
	VerbDATA
	VerbRSET
	VerbVRFY
	VerbEXPN
	VerbHELP
	VerbNOOP
	VerbQUIT
)

// maxCommandLine is the largest command line (excluding CRLF) the
// server accepts, per spec §4.1.
const maxCommandLine = 512

// ProtoError is a protocol-level error that maps directly to an SMTP
// reply code and text (spec §7's "Syntax"/"Sequence" kinds).
type ProtoError struct {
	Code int
	Text string
}

func (e *ProtoError) Error() string {
	return e.Text
}

func protoErr(code int, text string) *ProtoError {
	return &ProtoError{Code: code, Text: text}
}

var (
	errLineTooLong  = protoErr(500, "Command line too long.")
	errUnrecognized = protoErr(500, "Command unrecognized.")
	errHasParams    = protoErr(501, "Command not accept parameters.")
	errArgSyntax    = protoErr(501, "Syntax error in arguments.")
)

type verbSpec struct {
	verb Verb
	word string // literal to match, case-insensitively, at line start
	addr bool   // verb takes a "<addr>" after ':' (MAIL FROM:/RCPT TO:)
	bare bool   // verb must have no trailing parameters at all
}

// order matters only in that MAIL/RCPT must be matched on their full
// "VERB FROM"/"VERB TO" literal before any shorter prefix could
// mismatch them; since no other verb starts with "MAIL" or "RCPT" this
// is not actually ambiguous, but the table is written out in full
// command order for readability.
var verbTable = []verbSpec{
	{VerbEHLO, "EHLO", false, false},
	{VerbHELO, "HELO", false, false},
	{VerbMAIL, "MAIL FROM", true, false},
	{VerbRCPT, "RCPT TO", true, false},
	{VerbDATA, "DATA", false, true},
	{VerbRSET, "RSET", false, true},
	{VerbVRFY, "VRFY", false, false},
	{VerbEXPN, "EXPN", false, false},
	{VerbHELP, "HELP", false, false},
	{VerbNOOP, "NOOP", false, false},
	{VerbQUIT, "QUIT", false, true},
}

// Command is one parsed SMTP command line.
type Command struct {
	Verb Verb
	// Addr is the extracted <addr> content for MAIL/RCPT, without
	// angle brackets.
	Addr string
}

// ParseLine parses one command line with the trailing CRLF already
// stripped. rawLen is the byte length of the line as it appeared on
// the wire including CRLF, used for the 512-byte check in spec §4.1.
func ParseLine(line string, rawLen int) (Command, *ProtoError) {
	if rawLen-2 > maxCommandLine {
		return Command{}, errLineTooLong
	}

	upper := strings.ToUpper(line)

	var spec *verbSpec
	for i := range verbTable {
		v := &verbTable[i]
		if !strings.HasPrefix(upper, v.word) {
			continue
		}
		rest := line[len(v.word):]

		if v.addr {
			if !strings.HasPrefix(rest, ":") {
				continue
			}
		} else if len(rest) > 0 && rest[0] != ' ' && rest[0] != '\t' {
			continue
		}

		spec = v
		break
	}

	if spec == nil {
		return Command{}, errUnrecognized
	}

	cmd := Command{Verb: spec.verb}

	switch {
	case spec.addr:
		addr, ok := extractBracketedAddr(line[len(spec.word)+1:])
		if !ok {
			return Command{}, errArgSyntax
		}
		cmd.Addr = addr

	case spec.bare:
		if strings.TrimSpace(line[len(spec.word):]) != "" {
			return Command{}, errHasParams
		}
	}

	return cmd, nil
}

// extractBracketedAddr pulls the content out of a leading "<...>" and
// validates it against the address grammar. Anything after the closing
// '>' is ignored (ESMTP parameters are not supported, spec §1
// Non-goals).
func extractBracketedAddr(rest string) (string, bool) {
	if len(rest) < 2 || rest[0] != '<' {
		return "", false
	}
	end := strings.IndexByte(rest, '>')
	if end < 0 {
		return "", false
	}
	addr := rest[1:end]
	if !ValidAddress(addr) {
		return "", false
	}
	return addr, true
}
