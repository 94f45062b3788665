// Package monitor implements the command-activity monitor SPEC_FULL.md's DOMAIN
// STACK section adds: a bounded, TTL-expiring record of recently executed commands,
// readable through the COMMANDACTIVITY command but never influencing other commands'
// semantics. It is
// grounded on game/jsstats.go's identical use of github.com/go-pkgz/expirable-cache
// for per-script execution statistics.
package monitor

import (
	"strconv"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"
	"github.com/google/uuid"
)

// Record is one logged command execution.
type Record struct {
	Seq      int64
	Command  string
	ClientID uuid.UUID
	DB       int
	Duration time.Duration
	At       time.Time
}

// Monitor stores the last entries executed, evicting by age via the cache's TTL
// rather than by an explicit ring buffer, matching jsstats.go's pattern exactly.
type Monitor struct {
	c    cache.Cache[string, Record]
	next int64
}

// New builds a Monitor holding up to maxEntries records, each expiring after ttl.
func New(maxEntries int, ttl time.Duration) *Monitor {
	return &Monitor{c: cache.NewCache[string, Record]().WithMaxKeys(maxEntries).WithTTL(ttl).WithLRU()}
}

// Record logs one command execution.
func (m *Monitor) Record(command string, clientID uuid.UUID, db int, d time.Duration) {
	m.next++
	r := Record{Seq: m.next, Command: command, ClientID: clientID, DB: db, Duration: d, At: time.Now()}
	m.c.Set(strconv.FormatInt(r.Seq, 10), r, 0)
}

// Snapshot returns every live record, oldest first.
func (m *Monitor) Snapshot() []Record {
	keys := m.c.Keys()
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		if r, ok := m.c.Get(k); ok {
			out = append(out, r)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Seq > out[j].Seq; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
