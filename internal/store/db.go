package store

import (
	"github.com/kvdaemon/kvdaemon/internal/glob"
	"github.com/kvdaemon/kvdaemon/internal/hashtable"
)

// Db is one numbered keyspace: a hash table from key (a plain Go string — the
// binary-safe bstr.Str the wire protocol parses is converted once, at the store
// boundary, since Go strings are already immutable, comparable and hashable without
// the indirection bstr.Str's C-derived API needs at the protocol layer) to an
// Obj-reference the database owns.
type Db struct {
	id    int
	table *hashtable.Table[string, *Obj]
}

func newDb(id int) *Db {
	desc := hashtable.TypeDescriptor[string, *Obj]{
		Hash:      func(k string) uint64 { return hashtable.HashBytes([]byte(k)) },
		Equal:     func(a, b string) bool { return a == b },
		FreeValue: func(v *Obj) { v.Release() },
	}
	return &Db{id: id, table: hashtable.New(desc)}
}

// ID returns the database's 0-based index.
func (d *Db) ID() int { return d.id }

// Len returns the number of keys, for DBSIZE.
func (d *Db) Len() int { return d.table.Len() }

// Get returns the value stored under key, without affecting its refcount.
func (d *Db) Get(key string) (*Obj, bool) {
	return d.table.Get(key)
}

// Exists reports whether key is present.
func (d *Db) Exists(key string) bool {
	return d.table.Has(key)
}

// Set installs val under key, retaining a store reference. If key already held a
// value, the old value is released (per hash table replace semantics).
func (d *Db) Set(key string, val *Obj) {
	val.Retain()
	d.table.Replace(key, val)
}

// SetNX installs val under key only if key is absent, returning whether it did.
func (d *Db) SetNX(key string, val *Obj) bool {
	if d.table.Has(key) {
		return false
	}
	val.Retain()
	return d.table.Insert(key, val)
}

// Delete removes key, releasing the store's reference to its value. Reports whether
// key was present.
func (d *Db) Delete(key string) bool {
	return d.table.Delete(key)
}

// DeleteNoFree unlinks key without releasing its value's reference, for MOVE: the
// single store reference is transferring to another database, not disappearing.
func (d *Db) DeleteNoFree(key string) (*Obj, bool) {
	_, v, ok := d.table.DeleteNoFree(key)
	return v, ok
}

// AdoptInto installs val under key without retaining — the counterpart to
// DeleteNoFree, completing a MOVE's ownership transfer with the refcount unchanged.
// Fails (returns false) if key is already present in this database.
func (d *Db) AdoptInto(key string, val *Obj) bool {
	return d.table.Insert(key, val)
}

// Rename overwrites dst (if any, releasing its old value) with src's value and
// removes src. Fails if src is absent.
func (d *Db) Rename(src, dst string) bool {
	val, ok := d.DeleteNoFree(src)
	if !ok {
		return false
	}
	if old, existed := d.table.DeleteNoFree(dst); existed {
		old.Release()
	}
	d.table.Insert(dst, val)
	return true
}

// RenameNX is Rename but fails (leaving src untouched) if dst already exists.
func (d *Db) RenameNX(src, dst string) (bool, error) {
	if !d.table.Has(src) {
		return false, errSrcMissing
	}
	if d.table.Has(dst) {
		return false, nil
	}
	return d.Rename(src, dst), nil
}

// Keys returns every key matching pattern (spec.md §4.3's glob syntax).
func (d *Db) Keys(pattern string) []string {
	var out []string
	pb := []byte(pattern)
	d.table.Each(func(k string, v *Obj) bool {
		if glob.Match(pb, []byte(k), false) {
			out = append(out, k)
		}
		return true
	})
	return out
}

// RandomKey returns a uniformly-bucket-sampled key (per hashtable.RandomEntry's
// accepted bias), or false if the database is empty.
func (d *Db) RandomKey() (string, bool) {
	k, _, ok := d.table.RandomEntry()
	return k, ok
}

// Flush removes every key, releasing every value's store reference.
func (d *Db) Flush() {
	var keys []string
	d.table.Each(func(k string, v *Obj) bool {
		keys = append(keys, k)
		return true
	})
	for _, k := range keys {
		d.table.Delete(k)
	}
}

// Resize shrinks the underlying hash table's bucket array to fit its current
// population, per the cron's table-shrink housekeeping (spec.md §4.5/§9), but only
// once the sparse-table threshold (hashtable.Table.ShouldShrink) is met.
func (d *Db) Resize() {
	d.table.ShrinkIfSparse()
}

// Each visits every (key, value) pair, for snapshotting.
func (d *Db) Each(yield func(key string, val *Obj) bool) {
	d.table.Each(yield)
}

// clone deep-copies every entry into a freshly allocated Db, for Store.Clone. Each
// deepCopy already starts at refcount 1 owned by the new Db, so it's installed via
// AdoptInto rather than Set, which would retain a second, fictitious reference.
func (d *Db) clone() *Db {
	out := newDb(d.id)
	d.table.Each(func(k string, v *Obj) bool {
		out.AdoptInto(k, v.deepCopy())
		return true
	})
	return out
}

var errSrcMissing = renameError("no such key")

type renameError string

func (e renameError) Error() string { return string(e) }
