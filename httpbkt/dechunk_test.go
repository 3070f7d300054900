package httpbkt

import (
	"io"
	"testing"

	"github.com/pkg/errors"

	"github.com/bobg/bkt"
)

// bytewise splits s into one-byte buckets.
func bytewise(s string) *bkt.Aggregate {
	var parts []bkt.Bucket
	for i := 0; i < len(s); i++ {
		parts = append(parts, bkt.NewMemory([]byte(s[i:i+1])))
	}
	return bkt.NewAggregate(parts...)
}

func whole(s string) bkt.Bucket {
	return bkt.NewMemory([]byte(s))
}

func TestDechunk(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{name: "simple", in: "5\r\nHello\r\n0\r\n\r\n", want: "Hello"},
		{name: "two chunks", in: "6\r\nHello,\r\n7\r\n world!\r\n0\r\n\r\n", want: "Hello, world!"},
		{name: "hex size", in: "a\r\n0123456789\r\n0\r\n\r\n", want: "0123456789"},
		{name: "extension", in: "4;name=val\r\nWiki\r\n0;last\r\n\r\n", want: "Wiki"},
		{name: "trailer", in: "3\r\nabc\r\n0\r\nX-Checksum: 1234\r\nX-Other: y\r\n\r\n", want: "abc"},
		{name: "empty", in: "0\r\n\r\n", want: ""},
	}

	for _, c := range cases {
		for _, split := range []struct {
			name string
			f    func(string) bkt.Bucket
		}{
			{name: "whole", f: whole},
			{name: "bytewise", f: func(s string) bkt.Bucket { return bytewise(s) }},
		} {
			t.Run(c.name+"/"+split.name, func(t *testing.T) {
				inner := split.f(c.in + "NEXT")
				d := NewDechunk(bkt.NoClose(inner))

				got, err := bkt.ReadAll(d)
				if err != nil {
					t.Fatal(err)
				}
				if string(got) != c.want {
					t.Errorf("got %q, want %q", got, c.want)
				}
				if _, err = d.Read(1); err != io.EOF {
					t.Errorf("got %v after end, want io.EOF", err)
				}
				if pos, _ := d.Position(); pos != int64(len(c.want)) {
					t.Errorf("position %d, want %d", pos, len(c.want))
				}
				if n, ok, _ := d.RemainingBytes(); !ok || n != 0 {
					t.Errorf("remaining %d (known: %v) at end", n, ok)
				}

				rest, err := bkt.ReadAll(inner)
				if err != nil {
					t.Fatal(err)
				}
				if string(rest) != "NEXT" {
					t.Errorf("left %q in the inner bucket, want NEXT", rest)
				}
			})
		}
	}
}

func TestDechunkPeek(t *testing.T) {
	d := NewDechunk(whole("3\r\nabc\r\n0\r\n\r\n"))
	defer d.Close()

	peek, err := d.Peek(false)
	if err != nil {
		t.Fatal(err)
	}
	if string(peek) != "abc" {
		t.Errorf("peeked %q, want abc", peek)
	}
	if pos, _ := d.Position(); pos != 0 {
		t.Errorf("peek advanced position to %d", pos)
	}
	if _, ok, _ := d.RemainingBytes(); ok {
		t.Error("length known before the end")
	}

	got, err := bkt.ReadAll(d)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "abc" {
		t.Errorf("got %q", got)
	}
	if _, err = d.Peek(false); err != io.EOF {
		t.Errorf("got %v from peek at end, want io.EOF", err)
	}
}

func TestDechunkErrors(t *testing.T) {
	cases := []struct {
		name     string
		in       string
		protocol bool
	}{
		{name: "eof in chunk", in: "5\r\nHel", protocol: true},
		{name: "eof in size", in: "5", protocol: true},
		{name: "eof before trailer end", in: "0\r\n", protocol: true},
		{name: "missing crlf", in: "3\r\nabcXY0\r\n\r\n", protocol: true},
		{name: "bad size", in: "zz\r\nabc\r\n0\r\n\r\n"},
		{name: "empty size", in: "\r\nabc\r\n"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := bkt.ReadAll(NewDechunk(whole(c.in)))
			if err == nil {
				t.Fatal("no error")
			}
			var (
				pe *ProtocolError
				fe *bkt.FormatError
			)
			if c.protocol && !errors.As(err, &pe) {
				t.Errorf("got %v, want a ProtocolError", err)
			}
			if !c.protocol && !errors.As(err, &fe) {
				t.Errorf("got %v, want a FormatError", err)
			}
		})
	}
}
