package git

import "github.com/bobg/bkt"

var (
	_ ObjectBucket   = &Object{}
	_ bkt.Lengther   = &Object{}
	_ bkt.Positioner = &Object{}
	_ bkt.Resetter   = &Object{}
	_ bkt.Duplicator = &Object{}
)

// Object is an ObjectBucket whose type is known up front,
// such as an object body held in memory.
type Object struct {
	typ  ObjectType
	body bkt.Bucket
}

// NewObject produces an ObjectBucket of the given type yielding body.
// The result owns body.
func NewObject(typ ObjectType, body bkt.Bucket) *Object {
	return &Object{typ: typ, body: body}
}

// ReadType implements ObjectBucket.
func (o *Object) ReadType() (ObjectType, error) { return o.typ, nil }

func (o *Object) Read(max int) ([]byte, error)     { return o.body.Read(max) }
func (o *Object) Peek(noPoll bool) ([]byte, error) { return o.body.Peek(noPoll) }
func (o *Object) Close() error                     { return o.body.Close() }

func (o *Object) RemainingBytes() (int64, bool, error) { return bkt.Remaining(o.body) }
func (o *Object) Position() (int64, bool)              { return bkt.Position(o.body) }
func (o *Object) CanReset() bool                       { return bkt.CanReset(o.body) }
func (o *Object) Reset() error                         { return bkt.Reset(o.body) }

// Duplicate implements bkt.Duplicator.
func (o *Object) Duplicate(reset bool) (bkt.Bucket, error) {
	d, err := bkt.Duplicate(o.body, reset)
	if err != nil {
		return nil, err
	}
	return NewObject(o.typ, d), nil
}

// Name implements bkt.Namer.
func (o *Object) Name() string {
	return o.typ.String() + "(" + bkt.Name(o.body) + ")"
}
