package store

import "github.com/kvdaemon/kvdaemon/internal/bstr"

// Shared holds the long-lived reply singletons spec.md §4.4 calls the shared-object
// pool: `+OK\r\n`, `+PONG\r\n`, the `nil\r\n` marker, the decimal `0`/`1` replies, a
// bare CRLF, and a generic `-ERR\r\n`. Retain and Release track their refcount like
// any other Obj's, but Release never actually recycles them, even at zero; addresses
// to them are safe to hand to any client.
type Shared struct {
	OK   *Obj
	Pong *Obj
	Nil  *Obj
	Zero *Obj
	One  *Obj
	CRLF *Obj
	Err  *Obj
}

func newSharedObj(text string) *Obj {
	o := NewString(bstr.NewFromString(text))
	o.shared = true
	return o
}

// NewShared builds the shared-object pool. Called once at server startup.
func NewShared() *Shared {
	return &Shared{
		OK:   newSharedObj("+OK\r\n"),
		Pong: newSharedObj("+PONG\r\n"),
		Nil:  newSharedObj("nil\r\n"),
		Zero: newSharedObj("0\r\n"),
		One:  newSharedObj("1\r\n"),
		CRLF: newSharedObj("\r\n"),
		Err:  newSharedObj("-ERR\r\n"),
	}
}
