// Package commands implements the command table and handlers spec.md §4.3
// describes: GET/SET/DEL and friends operating on a *store.Store, each producing
// already-framed reply bytes the caller writes back to the client. It also carries
// the keyspace admin affordances SPEC_FULL.md reinstates from original_source/
// (TYPE, FLUSHDB, FLUSHALL) and the save/shutdown hooks a server wires to its own
// snapshot and lifecycle logic via the Context.Saver/Shutdown callbacks.
package commands

import (
	"strconv"
	"time"

	"github.com/kvdaemon/kvdaemon/internal/bstr"
	"github.com/kvdaemon/kvdaemon/internal/dlist"
	"github.com/kvdaemon/kvdaemon/internal/glob"
	"github.com/kvdaemon/kvdaemon/internal/protocol"
	"github.com/kvdaemon/kvdaemon/internal/store"
)

// Kind distinguishes an inline command from one whose final argument is a bulk
// payload (spec.md §4.3/§6).
type Kind int

const (
	Inline Kind = iota
	Bulk
)

// Context is the state a handler needs beyond its arguments: the store, the issuing
// client's selected database (mutated in place by SELECT), and hooks into the
// server's lifecycle for the admin commands that aren't pure keyspace operations.
type Context struct {
	Store *store.Store
	DB    int

	// Dirty is incremented by every handler that mutates the keyspace, feeding
	// spec.md §4.5's auto-save policy.
	Dirty *int64

	// Save triggers a foreground save (SAVE) and reports any resulting error,
	// supplied by the server (which owns the snapshot path).
	Save func() error
	// BackgroundSave triggers a background save (BGSAVE); returns an error if one is
	// already in progress.
	BackgroundSave func() error
	// LastSave reports the Unix timestamp of the last successful save.
	LastSave func() int64
	// Shutdown requests the server stop accepting connections and exit.
	Shutdown func()
	// RecentActivity renders the command-activity monitor's current contents as a
	// multi-bulk reply (SPEC_FULL.md's DOMAIN STACK addition; not part of spec.md's
	// core command set).
	RecentActivity func() []byte
}

// Handler executes one command against ctx, given its arguments (argv[1:], the
// command name itself stripped), and returns the reply bytes to send.
type Handler func(ctx *Context, args []*bstr.Str) []byte

// Spec describes one command table entry (spec.md §4.3's "(name, handler, arity,
// kind)").
type Spec struct {
	Name    string
	Kind    Kind
	Arity   int // total argument count including the command name itself
	Handler Handler
}

// Table is the full command set, keyed by lowercase name.
var Table = map[string]Spec{}

func register(name string, kind Kind, arity int, h Handler) {
	Table[name] = Spec{Name: name, Kind: kind, Arity: arity, Handler: h}
}

// IsBulk reports whether name (already lowercased) takes a bulk final argument; it is
// the predicate protocol.Reader needs to frame a request correctly, and is also used
// on unknown commands (where it conservatively returns false, treating the line as
// fully inline so dispatch can report "unknown command" instead of hanging for a
// body that will never be declared by a kind it doesn't recognize).
func IsBulk(name string) bool {
	spec, ok := Table[name]
	return ok && spec.Kind == Bulk
}

func init() {
	registerStringCommands()
	registerListCommands()
	registerKeyspaceCommands()
	registerAdminCommands()
}

// --- string commands ---

func registerStringCommands() {
	register("get", Inline, 2, cmdGet)
	register("set", Bulk, 3, cmdSet)
	register("setnx", Bulk, 3, cmdSetNX)
	register("del", Inline, 2, cmdDel)
	register("exists", Inline, 2, cmdExists)
	register("incr", Inline, 2, cmdIncr)
	register("decr", Inline, 2, cmdDecr)
}

func cmdGet(ctx *Context, args []*bstr.Str) []byte {
	db, _ := ctx.Store.Db(ctx.DB)
	val, ok := db.Get(args[0].String())
	if !ok {
		return protocol.NilBulk()
	}
	if !val.IsString() {
		return protocol.BulkTypeError("value is not a string")
	}
	return protocol.Bulk(val.Str.Bytes())
}

func cmdSet(ctx *Context, args []*bstr.Str) []byte {
	db, _ := ctx.Store.Db(ctx.DB)
	db.Set(args[0].String(), store.NewString(args[1]))
	*ctx.Dirty++
	return protocol.Status("OK")
}

func cmdSetNX(ctx *Context, args []*bstr.Str) []byte {
	db, _ := ctx.Store.Db(ctx.DB)
	if db.SetNX(args[0].String(), store.NewString(args[1])) {
		*ctx.Dirty++
		return protocol.Integer(1)
	}
	return protocol.Integer(0)
}

func cmdDel(ctx *Context, args []*bstr.Str) []byte {
	db, _ := ctx.Store.Db(ctx.DB)
	if db.Delete(args[0].String()) {
		*ctx.Dirty++
		return protocol.Integer(1)
	}
	return protocol.Integer(0)
}

func cmdExists(ctx *Context, args []*bstr.Str) []byte {
	db, _ := ctx.Store.Db(ctx.DB)
	if db.Exists(args[0].String()) {
		return protocol.Integer(1)
	}
	return protocol.Integer(0)
}

func cmdIncr(ctx *Context, args []*bstr.Str) []byte { return incrDecr(ctx, args, 1) }
func cmdDecr(ctx *Context, args []*bstr.Str) []byte { return incrDecr(ctx, args, -1) }

// incrDecr treats a missing value, a non-string value, and a non-numeric string all
// as 0 (spec.md §4.3; original_source/redis_beta/redis.c's incrDecrCommand never
// errors here), adds delta, and stores the decimal form as a new string value.
func incrDecr(ctx *Context, args []*bstr.Str, delta int64) []byte {
	db, _ := ctx.Store.Db(ctx.DB)
	key := args[0].String()
	cur, _ := db.Get(key)
	n := store.IntValue(cur) + delta
	db.Set(key, store.NewStringFromBytes([]byte(strconv.FormatInt(n, 10))))
	*ctx.Dirty++
	return protocol.Integer(n)
}

// --- list commands ---

func registerListCommands() {
	register("rpush", Bulk, 3, func(ctx *Context, args []*bstr.Str) []byte { return push(ctx, args, true) })
	register("lpush", Bulk, 3, func(ctx *Context, args []*bstr.Str) []byte { return push(ctx, args, false) })
	register("rpop", Inline, 2, func(ctx *Context, args []*bstr.Str) []byte { return pop(ctx, args, true) })
	register("lpop", Inline, 2, func(ctx *Context, args []*bstr.Str) []byte { return pop(ctx, args, false) })
	register("llen", Inline, 2, cmdLLen)
	register("lindex", Inline, 3, cmdLIndex)
	register("lrange", Inline, 4, cmdLRange)
	register("ltrim", Inline, 4, cmdLTrim)
}

// listAt fetches key's value, creating an empty list on first write (push) or
// reporting "no such key"/type-error otherwise. create is only true for push paths.
func listAt(ctx *Context, key string, create bool) (*store.Obj, bool, []byte) {
	db, _ := ctx.Store.Db(ctx.DB)
	val, ok := db.Get(key)
	if !ok {
		if !create {
			return nil, false, nil
		}
		val = store.NewList()
		db.Set(key, val)
		val.Release() // db.Set retained its own reference
		return val, true, nil
	}
	if !val.IsList() {
		return nil, false, protocol.BulkTypeError("value is not a list")
	}
	return val, true, nil
}

func push(ctx *Context, args []*bstr.Str, back bool) []byte {
	val, _, errReply := listAt(ctx, args[0].String(), true)
	if errReply != nil {
		return errReply
	}
	elem := store.NewString(args[1])
	if back {
		val.List.PushBack(elem)
	} else {
		val.List.PushFront(elem)
	}
	*ctx.Dirty++
	return protocol.Status("OK")
}

func pop(ctx *Context, args []*bstr.Str, back bool) []byte {
	val, ok, errReply := listAt(ctx, args[0].String(), false)
	if errReply != nil {
		return errReply
	}
	if !ok {
		return protocol.NilBulk()
	}
	var elem *store.Obj
	var popped bool
	if back {
		elem, popped = val.List.PopBack()
	} else {
		elem, popped = val.List.PopFront()
	}
	if !popped {
		return protocol.NilBulk()
	}
	*ctx.Dirty++
	out := protocol.Bulk(elem.Str.Bytes())
	elem.Release()
	return out
}

func cmdLLen(ctx *Context, args []*bstr.Str) []byte {
	val, ok, errReply := listAt(ctx, args[0].String(), false)
	if errReply != nil {
		return errReply
	}
	if !ok {
		return protocol.Integer(0)
	}
	return protocol.Integer(int64(val.List.Len()))
}

func cmdLIndex(ctx *Context, args []*bstr.Str) []byte {
	val, ok, errReply := listAt(ctx, args[0].String(), false)
	if errReply != nil {
		return errReply
	}
	if !ok {
		return protocol.NilBulk()
	}
	i, err := strconv.Atoi(args[1].String())
	if err != nil {
		return protocol.Error("index is not an integer")
	}
	n := val.List.At(i)
	if n == nil {
		return protocol.NilBulk()
	}
	return protocol.Bulk(n.Value.Str.Bytes())
}

func cmdLRange(ctx *Context, args []*bstr.Str) []byte {
	val, ok, errReply := listAt(ctx, args[0].String(), false)
	if errReply != nil {
		return errReply
	}
	if !ok {
		return protocol.MultiBulkHeader(0)
	}
	start, err1 := strconv.Atoi(args[1].String())
	end, err2 := strconv.Atoi(args[2].String())
	if err1 != nil || err2 != nil {
		return protocol.Error("index is not an integer")
	}
	elems := val.List.Slice(start, end)
	return encodeMultiBulkObjs(elems)
}

func cmdLTrim(ctx *Context, args []*bstr.Str) []byte {
	val, ok, errReply := listAt(ctx, args[0].String(), false)
	if errReply != nil {
		return errReply
	}
	if !ok {
		return protocol.Status("OK")
	}
	start, err1 := strconv.Atoi(args[1].String())
	end, err2 := strconv.Atoi(args[2].String())
	if err1 != nil || err2 != nil {
		return protocol.Error("index is not an integer")
	}
	kept := val.List.Slice(start, end)
	keepSet := make(map[*store.Obj]bool, len(kept))
	for _, e := range kept {
		keepSet[e] = true
	}
	val.List.Each(func(n *dlist.Node[*store.Obj]) bool {
		if !keepSet[n.Value] {
			val.List.Remove(n)
			n.Value.Release()
		}
		return true
	})
	*ctx.Dirty++
	return protocol.Status("OK")
}

func encodeMultiBulkObjs(elems []*store.Obj) []byte {
	out := protocol.MultiBulkHeader(len(elems))
	for _, e := range elems {
		out = append(out, protocol.Bulk(e.Str.Bytes())...)
	}
	return out
}

// --- keyspace commands ---

func registerKeyspaceCommands() {
	register("select", Inline, 2, cmdSelect)
	register("move", Inline, 3, cmdMove)
	register("rename", Inline, 3, cmdRename)
	register("renamenx", Inline, 3, cmdRenameNX)
	register("keys", Inline, 2, cmdKeys)
	register("dbsize", Inline, 1, cmdDBSize)
	register("randomkey", Inline, 1, cmdRandomKey)
	register("type", Inline, 2, cmdType)
	register("flushdb", Inline, 1, cmdFlushDB)
	register("flushall", Inline, 1, cmdFlushAll)
}

// cmdSelect validates the target index; the server applies it to the client's
// current-db selector since Context.DB is passed by value per call.
func cmdSelect(ctx *Context, args []*bstr.Str) []byte {
	n, err := strconv.Atoi(args[0].String())
	if err != nil || n < 0 || n >= ctx.Store.Dbnum() {
		return protocol.Error("invalid DB index")
	}
	ctx.DB = n
	return protocol.Status("OK")
}

func cmdMove(ctx *Context, args []*bstr.Str) []byte {
	dstIdx, err := strconv.Atoi(args[1].String())
	if err != nil || dstIdx < 0 || dstIdx >= ctx.Store.Dbnum() {
		return protocol.Error("invalid DB index")
	}
	if dstIdx == ctx.DB {
		return protocol.Error("source and destination DB are the same")
	}
	src, _ := ctx.Store.Db(ctx.DB)
	dst, _ := ctx.Store.Db(dstIdx)
	key := args[0].String()
	if dst.Exists(key) {
		return protocol.Integer(0)
	}
	val, ok := src.DeleteNoFree(key)
	if !ok {
		return protocol.Integer(0)
	}
	dst.AdoptInto(key, val)
	*ctx.Dirty++
	return protocol.Integer(1)
}

func cmdRename(ctx *Context, args []*bstr.Str) []byte {
	db, _ := ctx.Store.Db(ctx.DB)
	if !db.Rename(args[0].String(), args[1].String()) {
		return protocol.Error("no such key")
	}
	*ctx.Dirty++
	return protocol.Status("OK")
}

func cmdRenameNX(ctx *Context, args []*bstr.Str) []byte {
	db, _ := ctx.Store.Db(ctx.DB)
	ok, err := db.RenameNX(args[0].String(), args[1].String())
	if err != nil {
		return protocol.Error(err.Error())
	}
	if !ok {
		return protocol.Integer(0)
	}
	*ctx.Dirty++
	return protocol.Integer(1)
}

func cmdKeys(ctx *Context, args []*bstr.Str) []byte {
	db, _ := ctx.Store.Db(ctx.DB)
	keys := db.Keys(args[0].String())
	out := protocol.MultiBulkHeader(len(keys))
	for _, k := range keys {
		out = append(out, protocol.Bulk([]byte(k))...)
	}
	return out
}

func cmdDBSize(ctx *Context, _ []*bstr.Str) []byte {
	db, _ := ctx.Store.Db(ctx.DB)
	return protocol.Integer(int64(db.Len()))
}

func cmdRandomKey(ctx *Context, _ []*bstr.Str) []byte {
	db, _ := ctx.Store.Db(ctx.DB)
	k, ok := db.RandomKey()
	if !ok {
		return protocol.NilBulk()
	}
	return protocol.Bulk([]byte(k))
}

// cmdType reports a key's value kind, reinstated from original_source/ (see
// SPEC_FULL.md's SUPPLEMENTED FEATURES).
func cmdType(ctx *Context, args []*bstr.Str) []byte {
	db, _ := ctx.Store.Db(ctx.DB)
	val, ok := db.Get(args[0].String())
	if !ok {
		return protocol.Status("none")
	}
	return protocol.Status(val.Kind.String())
}

// cmdFlushDB clears the selected database. Reinstated from original_source/.
func cmdFlushDB(ctx *Context, _ []*bstr.Str) []byte {
	db, _ := ctx.Store.Db(ctx.DB)
	db.Flush()
	*ctx.Dirty++
	return protocol.Status("OK")
}

// cmdFlushAll clears every database. Reinstated from original_source/.
func cmdFlushAll(ctx *Context, _ []*bstr.Str) []byte {
	ctx.Store.Each(func(db *store.Db) bool {
		db.Flush()
		return true
	})
	*ctx.Dirty++
	return protocol.Status("OK")
}

// --- admin commands ---

func registerAdminCommands() {
	register("ping", Inline, 1, cmdPing)
	register("echo", Bulk, 2, cmdEcho)
	register("save", Inline, 1, cmdSave)
	register("bgsave", Inline, 1, cmdBGSave)
	register("lastsave", Inline, 1, cmdLastSave)
	register("shutdown", Inline, 1, cmdShutdown)
	register("commandactivity", Inline, 1, cmdCommandActivity)
}

func cmdCommandActivity(ctx *Context, _ []*bstr.Str) []byte {
	return ctx.RecentActivity()
}

func cmdPing(_ *Context, _ []*bstr.Str) []byte {
	return protocol.Status("PONG")
}

func cmdEcho(_ *Context, args []*bstr.Str) []byte {
	return protocol.Bulk(args[0].Bytes())
}

func cmdSave(ctx *Context, _ []*bstr.Str) []byte {
	if err := ctx.Save(); err != nil {
		return protocol.Error(err.Error())
	}
	return protocol.Status("OK")
}

func cmdBGSave(ctx *Context, _ []*bstr.Str) []byte {
	if err := ctx.BackgroundSave(); err != nil {
		return protocol.Error(err.Error())
	}
	return protocol.Status("Background saving started")
}

func cmdLastSave(ctx *Context, _ []*bstr.Str) []byte {
	return protocol.Integer(ctx.LastSave())
}

func cmdShutdown(ctx *Context, _ []*bstr.Str) []byte {
	ctx.Shutdown()
	return nil
}

// Now reports the current Unix time.
func Now() int64 { return time.Now().Unix() }
