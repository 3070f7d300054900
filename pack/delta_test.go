package pack

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/testutil"
)

func deltaOf(base string, ops ...[]byte) *Delta {
	return NewDelta(bkt.NewMemory([]byte(base)), bkt.NewMemory(bytes.Join(ops, nil)))
}

func insert(s string) []byte {
	return append([]byte{byte(len(s))}, s...)
}

func header(baseLen, resultLen int) []byte {
	return append(varint(baseLen), varint(resultLen)...)
}

func varint(n int) []byte {
	var out []byte
	for n >= 0x80 {
		out = append(out, byte(n&0x7f)|0x80)
		n >>= 7
	}
	return append(out, byte(n))
}

func TestDelta(t *testing.T) {
	cases := []struct {
		name string
		base string
		ops  [][]byte
		want string
	}{{
		name: "insert only",
		base: "abc",
		ops:  [][]byte{header(3, 5), insert("hello")},
		want: "hello",
	}, {
		name: "copy forward",
		base: "0123456789",
		ops:  [][]byte{header(10, 6), testutil.CopyOp(2, 3), testutil.CopyOp(7, 3)},
		want: "234789",
	}, {
		name: "copy backward",
		base: "0123456789",
		ops:  [][]byte{header(10, 8), testutil.CopyOp(6, 4), insert("-"), testutil.CopyOp(1, 3)},
		want: "6789-123",
	}, {
		name: "repeat",
		base: "ab",
		ops:  [][]byte{header(2, 6), testutil.CopyOp(0, 2), testutil.CopyOp(0, 2), testutil.CopyOp(0, 2)},
		want: "ababab",
	}, {
		name: "empty result",
		base: "abc",
		ops:  [][]byte{header(3, 0)},
		want: "",
	}}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := deltaOf(tc.base, tc.ops...)
			defer d.Close()

			n, ok, err := d.RemainingBytes()
			if err != nil {
				t.Fatal(err)
			}
			if !ok || n != int64(len(tc.want)) {
				t.Errorf("got remaining %d (%v), want %d", n, ok, len(tc.want))
			}

			for pass := 0; pass < 2; pass++ {
				got, err := bkt.ReadAll(d)
				if err != nil {
					t.Fatal(err)
				}
				if string(got) != tc.want {
					t.Errorf("pass %d: got %q, want %q", pass, got, tc.want)
				}
				if err = d.Reset(); err != nil {
					t.Fatal(err)
				}
			}
		})
	}
}

func TestDeltaLargeCopy(t *testing.T) {
	base := bytes.Repeat([]byte("0123456789abcdef"), 0x1000) // 0x10000 bytes

	// A copy with no size bytes means 0x10000.
	src := append(header(len(base), len(base)), 0x80)
	d := NewDelta(bkt.NewMemory(base), bkt.NewMemory(src))
	defer d.Close()

	got, err := bkt.ReadAll(d)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, base) {
		t.Errorf("got %d bytes, want %d", len(got), len(base))
	}
}

func TestDeltaErrors(t *testing.T) {
	cases := []struct {
		name string
		base string
		ops  [][]byte
	}{
		{"reserved instruction", "abc", [][]byte{header(3, 3), {0}}},
		{"base size mismatch", "abc", [][]byte{header(4, 3), testutil.CopyOp(0, 3)}},
		{"copy past base", "abc", [][]byte{header(3, 3), testutil.CopyOp(2, 3)}},
		{"overrun", "abc", [][]byte{header(3, 2), testutil.CopyOp(0, 3)}},
		{"short instructions", "abc", [][]byte{header(3, 3), testutil.CopyOp(0, 2)}},
		{"truncated insert", "abc", [][]byte{header(3, 3), {3, 'x'}}},
		{"trailing instructions", "abc", [][]byte{header(3, 3), testutil.CopyOp(0, 3), insert("x")}},
		{"truncated header", "abc", [][]byte{{0x83}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := deltaOf(tc.base, tc.ops...)
			defer d.Close()

			_, err := bkt.ReadAll(d)
			var fe *bkt.FormatError
			if !errors.As(err, &fe) {
				t.Errorf("got %v, want a FormatError", err)
			}
		})
	}
}
