package store

import "github.com/kvdaemon/kvdaemon"

// Store is the full keyspace: dbnum independent Dbs plus the shared-object pool,
// mirroring spec.md §3's "server holds dbnum independent databases" and "process-wide
// shared-object pool" as a single owned unit a server binds into its request path.
type Store struct {
	Shared *Shared
	dbs    []*Db
}

// New builds a Store with the given number of databases (spec.md §6's `databases`
// config directive; default 16).
func New(dbnum int) (*Store, error) {
	if dbnum < 1 {
		return nil, kvdaemon.WithStack(errInvalidDbnum)
	}
	s := &Store{Shared: NewShared(), dbs: make([]*Db, dbnum)}
	for i := range s.dbs {
		s.dbs[i] = newDb(i)
	}
	return s, nil
}

// Dbnum returns the configured number of databases.
func (s *Store) Dbnum() int { return len(s.dbs) }

// Db returns database i, or false if out of range.
func (s *Store) Db(i int) (*Db, bool) {
	if i < 0 || i >= len(s.dbs) {
		return nil, false
	}
	return s.dbs[i], true
}

// Each visits every non-empty database, for snapshotting.
func (s *Store) Each(yield func(db *Db) bool) {
	for _, db := range s.dbs {
		if db.Len() == 0 {
			continue
		}
		if !yield(db) {
			return
		}
	}
}

// ResizeAll runs every database's Resize, the cron's table-shrink pass; each table is
// shrunk only if it meets the sparse-table threshold.
func (s *Store) ResizeAll() {
	for _, db := range s.dbs {
		db.Resize()
	}
}

// Clone deep-copies every database and value into an independent Store that shares no
// memory with s. This stands in for the fork-based background save spec.md §4.5/§9
// describes: since Go has no copy-on-write fork, a background save instead takes a
// private, immutable copy of the keyspace on the serializing goroutine before handing
// it to a separate goroutine to write, so the writer never observes (or races with)
// mutations the server makes afterward.
func (s *Store) Clone() *Store {
	clone := &Store{Shared: s.Shared, dbs: make([]*Db, len(s.dbs))}
	for i, db := range s.dbs {
		clone.dbs[i] = db.clone()
	}
	return clone
}

type storeError string

func (e storeError) Error() string { return string(e) }

const errInvalidDbnum = storeError("databases must be >= 1")
