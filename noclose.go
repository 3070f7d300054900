package bkt

var (
	_ Bucket      = &noClose{}
	_ ReadSkipper = &noClose{}
	_ Lengther    = &noClose{}
	_ Positioner  = &noClose{}
	_ Resetter    = &noClose{}
	_ Duplicator  = &noClose{}
	_ NoCloser    = &noClose{}
	_ EolReader   = &noClose{}
)

// noClose forwards everything to a borrowed bucket except Close.
type noClose struct {
	inner Bucket
}

// NoClose produces a view of b whose Close leaves b open.
// Use it to hand a borrowed bucket to a combinator that would otherwise take ownership.
func NoClose(b Bucket) Bucket {
	if n, ok := b.(NoCloser); ok {
		return n.NoClose()
	}
	return &noClose{inner: b}
}

func (n *noClose) Read(max int) ([]byte, error)     { return n.inner.Read(max) }
func (n *noClose) Peek(noPoll bool) ([]byte, error) { return n.inner.Peek(noPoll) }
func (n *noClose) ReadSkip(k int64) (int64, error)  { return ReadSkip(n.inner, k) }
func (n *noClose) RemainingBytes() (int64, bool, error) {
	return Remaining(n.inner)
}
func (n *noClose) Position() (int64, bool) { return Position(n.inner) }
func (n *noClose) CanReset() bool          { return CanReset(n.inner) }
func (n *noClose) Reset() error            { return Reset(n.inner) }

func (n *noClose) ReadUntilEol(accept Eol) ([]byte, Eol, error) {
	return ReadUntilEol(n.inner, accept)
}

// Duplicate returns a duplicate of the inner bucket.
// The duplicate is not borrowed: the caller owns it.
func (n *noClose) Duplicate(reset bool) (Bucket, error) {
	return Duplicate(n.inner, reset)
}

func (n *noClose) NoClose() Bucket { return n }

func (n *noClose) Close() error { return nil }

func (n *noClose) Name() string { return "noclose(" + Name(n.inner) + ")" }
