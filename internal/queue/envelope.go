// Package queue implements the bespoke binary envelope framing used for
// files under mail-dir/queue, and the atomic promotion of a finished
// temp file into that directory.
//
// Wire format (little-endian, see spec §6):
//
//	u16  from_len
//	u8   from[from_len]
//	u32  to_count
//	repeat to_count times:
//	    u16 to_len
//	    u8  to[to_len]
//	u8   0x0A
//	u8   body[...]
package queue

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const separator = 0x0A

// Envelope is the decoded {from, to[], body} triple for one accepted
// mail.
type Envelope struct {
	From string
	To   []string
	Body []byte
}

// WriteHeader writes the from/to prefix and the trailing separator byte.
// The caller streams the body after this call returns; WriteHeader does
// not touch the body at all, since the session writes it incrementally
// as it arrives off the wire (spec §4.3).
func WriteHeader(w io.Writer, from string, to []string) error {
	if len(from) > 0xFFFF {
		return errors.Errorf("from too long: %d bytes", len(from))
	}
	if err := writeU16String(w, from); err != nil {
		return errors.WithMessage(err, "write from")
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(to))); err != nil {
		return errors.WithMessage(err, "write to_count")
	}

	for _, addr := range to {
		if len(addr) > 0xFFFF {
			return errors.Errorf("recipient too long: %d bytes", len(addr))
		}
		if err := writeU16String(w, addr); err != nil {
			return errors.WithMessage(err, "write to")
		}
	}

	if _, err := w.Write([]byte{separator}); err != nil {
		return errors.WithMessage(err, "write separator")
	}

	return nil
}

func writeU16String(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// Encode writes a complete queue file: header followed by body. Used by
// tests and by any caller that already holds the whole message in
// memory.
func Encode(w io.Writer, env Envelope) error {
	if err := WriteHeader(w, env.From, env.To); err != nil {
		return err
	}
	_, err := w.Write(env.Body)
	return errors.WithMessage(err, "write body")
}

// Decode parses a queue file back into an Envelope. The remainder of r
// after the header, to EOF, is the body.
func Decode(r io.Reader) (Envelope, error) {
	br := bufio.NewReader(r)

	from, err := readU16String(br)
	if err != nil {
		return Envelope{}, errors.WithMessage(err, "read from")
	}

	var toCount uint32
	if err := binary.Read(br, binary.LittleEndian, &toCount); err != nil {
		return Envelope{}, errors.WithMessage(err, "read to_count")
	}

	to := make([]string, 0, toCount)
	for i := uint32(0); i < toCount; i++ {
		addr, err := readU16String(br)
		if err != nil {
			return Envelope{}, errors.WithMessagef(err, "read to[%d]", i)
		}
		to = append(to, addr)
	}

	sep, err := br.ReadByte()
	if err != nil {
		return Envelope{}, errors.WithMessage(err, "read separator")
	}
	if sep != separator {
		return Envelope{}, errors.Errorf("malformed envelope: expected separator, got %#x", sep)
	}

	body, err := io.ReadAll(br)
	if err != nil {
		return Envelope{}, errors.WithMessage(err, "read body")
	}

	return Envelope{From: from, To: to, Body: body}, nil
}

func readU16String(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
