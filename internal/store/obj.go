// Package store implements the typed, reference-counted value store spec.md §4.4
// describes: per-database hash tables over Obj values, a shared-object pool of
// never-freed reply singletons, and a free-list of recycled Obj shells.
//
// Go's garbage collector means nothing here actually needs the refcount to reclaim
// memory, but the count itself is part of the observable contract (a value's
// count is exactly its store entries plus the lists and callers holding it), so it
// is tracked explicitly rather than left to the runtime.
package store

import (
	"strconv"

	"github.com/kvdaemon/kvdaemon/internal/bstr"
	"github.com/kvdaemon/kvdaemon/internal/dlist"
)

// Kind identifies which payload an Obj carries. SetKind is reserved per spec.md's
// Non-goals (never constructed) but named so type-error messages can mention it.
type Kind int

const (
	KindString Kind = iota
	KindList
	KindSet
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindSet:
		return "set"
	default:
		return "none"
	}
}

// Obj is the tagged union spec.md §3 calls the value object: exactly one of Str or
// List is populated, selected by Kind. The shared-object pool (shared.go) also uses it
// to hold preformatted reply bytes in Str; client replies themselves are plain []byte.
type Obj struct {
	Kind     Kind
	Str      *bstr.Str
	List     *dlist.List[*Obj]
	refcount int
	shared   bool
}

// shells is the process-wide free-list: Obj pointers whose refcount reached zero,
// ready to be handed back out by newShell instead of allocating.
var shells []*Obj

func newShell() *Obj {
	if n := len(shells); n > 0 {
		o := shells[n-1]
		shells = shells[:n-1]
		*o = Obj{}
		return o
	}
	return &Obj{}
}

func recycle(o *Obj) {
	o.Str = nil
	o.List = nil
	shells = append(shells, o)
}

// NewString creates a string-kind Obj owning s, with refcount 1.
func NewString(s *bstr.Str) *Obj {
	o := newShell()
	o.Kind = KindString
	o.Str = s
	o.refcount = 1
	return o
}

// NewStringFromBytes is a convenience wrapper copying b into a fresh Str.
func NewStringFromBytes(b []byte) *Obj {
	return NewString(bstr.New(b))
}

// NewList creates an empty list-kind Obj with refcount 1.
func NewList() *Obj {
	o := newShell()
	o.Kind = KindList
	o.List = dlist.New[*Obj]()
	o.refcount = 1
	return o
}

// RefCount reports the live reference count, for introspection only.
func (o *Obj) RefCount() int { return o.refcount }

// Retain records a new reference to o and returns o, for chaining at the call site
// that just acquired the reference (e.g. enqueuing into a reply list).
func (o *Obj) Retain() *Obj {
	o.refcount++
	return o
}

// Release drops one reference. When the count reaches zero the payload is released
// (list elements are released recursively, since a list owns its elements) and the
// shell is returned to the free-list. Shared objects are exempt: their count is still
// tracked but they are never actually recycled.
func (o *Obj) Release() {
	if o == nil {
		return
	}
	o.refcount--
	if o.refcount > 0 || o.shared {
		return
	}
	if o.Kind == KindList && o.List != nil {
		o.List.Each(func(n *dlist.Node[*Obj]) bool {
			n.Value.Release()
			return true
		})
	}
	recycle(o)
}

// deepCopy returns an independent Obj holding the same data, with refcount 1 and no
// shared storage with o — used to snapshot a value for a background save.
func (o *Obj) deepCopy() *Obj {
	switch o.Kind {
	case KindList:
		cp := NewList()
		o.List.Each(func(n *dlist.Node[*Obj]) bool {
			cp.List.PushBack(n.Value.deepCopy())
			return true
		})
		return cp
	default:
		return NewString(o.Str.Clone())
	}
}

// IsString/IsList let commands guard against the wrong kind before acting, producing
// spec.md §4.3's "type-error reply" rather than a panic.
func (o *Obj) IsString() bool { return o.Kind == KindString }
func (o *Obj) IsList() bool   { return o.Kind == KindList }

// IntValue parses a string-kind Obj's payload as a base-10 integer for INCR/DECR,
// matching the original's incrDecrCommand: a missing Obj, a non-string Obj (e.g. a
// list), and a string that doesn't parse as an integer all read as 0, exactly as
// strtoll does on a non-numeric C string. There is no error case.
func IntValue(o *Obj) int64 {
	if o == nil || !o.IsString() {
		return 0
	}
	n, _ := strconv.ParseInt(o.Str.String(), 10, 64)
	return n
}
