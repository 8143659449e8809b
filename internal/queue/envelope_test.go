package queue

import (
	"bytes"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := []Envelope{
		{From: "a@b.co", To: []string{"c@d.co"}, Body: []byte("hi")},
		{From: "", To: nil, Body: nil},
		{From: strings.Repeat("x", 65535), To: []string{strings.Repeat("y", 65535)}, Body: []byte("body")},
		{From: "multi@host.com", To: []string{"one@a.com", "two@b.com", "three@c.com"}, Body: []byte("multi-recipient body\r\nwith lines")},
	}

	for i, want := range cases {
		var buf bytes.Buffer
		if err := Encode(&buf, want); err != nil {
			t.Fatalf("case %d: Encode: %s", i, err)
		}

		got, err := Decode(&buf)
		if err != nil {
			t.Fatalf("case %d: Decode: %s", i, err)
		}

		if got.From != want.From {
			t.Fatalf("case %d: From = %q, want %q", i, got.From, want.From)
		}
		if len(got.To) != len(want.To) {
			t.Fatalf("case %d: To = %v, want %v", i, got.To, want.To)
		}
		for j := range want.To {
			if got.To[j] != want.To[j] {
				t.Fatalf("case %d: To[%d] = %q, want %q", i, j, got.To[j], want.To[j])
			}
		}
		if !bytes.Equal(got.Body, want.Body) {
			t.Fatalf("case %d: Body = %q, want %q", i, got.Body, want.Body)
		}
	}
}

func TestDecodeMalformedSeparator(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHeader(&buf, "a@b.co", []string{"c@d.co"}); err != nil {
		t.Fatalf("WriteHeader: %s", err)
	}
	raw := buf.Bytes()
	raw[len(raw)-1] = 'X' // corrupt the separator byte

	if _, err := Decode(bytes.NewReader(raw)); err == nil {
		t.Fatal("expected error decoding malformed envelope")
	}
}
