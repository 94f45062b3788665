package commands

import (
	"testing"

	"github.com/kvdaemon/kvdaemon/internal/bstr"
	"github.com/kvdaemon/kvdaemon/internal/store"
)

func newCtx(t *testing.T) *Context {
	t.Helper()
	s, err := store.New(4)
	if err != nil {
		t.Fatal(err)
	}
	var dirty int64
	return &Context{
		Store:          s,
		Dirty:          &dirty,
		Save:           func() error { return nil },
		BackgroundSave: func() error { return nil },
		LastSave:       func() int64 { return 0 },
		Shutdown:       func() {},
		RecentActivity: func() []byte { return []byte("0\r\n") },
	}
}

func args(ss ...string) []*bstr.Str {
	out := make([]*bstr.Str, len(ss))
	for i, s := range ss {
		out[i] = bstr.NewFromString(s)
	}
	return out
}

func run(ctx *Context, name string, a ...string) []byte {
	return Table[name].Handler(ctx, args(a...))
}

func TestSetGet(t *testing.T) {
	ctx := newCtx(t)
	if got := string(run(ctx, "set", "foo", "bar")); got != "+OK\r\n" {
		t.Fatalf("SET = %q", got)
	}
	if got := string(run(ctx, "get", "foo")); got != "3\r\nbar\r\n" {
		t.Fatalf("GET = %q", got)
	}
}

func TestGetMissingIsNil(t *testing.T) {
	ctx := newCtx(t)
	if got := string(run(ctx, "get", "nope")); got != "nil\r\n" {
		t.Fatalf("GET missing = %q", got)
	}
}

func TestGetOnListIsTypeError(t *testing.T) {
	ctx := newCtx(t)
	run(ctx, "rpush", "L", "a")
	got := string(run(ctx, "get", "L"))
	if got[0] != '-' {
		t.Fatalf("GET on list = %q, want type-error reply", got)
	}
}

func TestDelExists(t *testing.T) {
	ctx := newCtx(t)
	run(ctx, "set", "k", "v")
	if got := string(run(ctx, "exists", "k")); got != "1\r\n" {
		t.Fatalf("EXISTS = %q", got)
	}
	if got := string(run(ctx, "del", "k")); got != "1\r\n" {
		t.Fatalf("DEL = %q", got)
	}
	if got := string(run(ctx, "exists", "k")); got != "0\r\n" {
		t.Fatalf("EXISTS after DEL = %q", got)
	}
}

func TestIncrDecr(t *testing.T) {
	ctx := newCtx(t)
	for i := 1; i <= 3; i++ {
		run(ctx, "incr", "ctr")
	}
	if got := string(run(ctx, "get", "ctr")); got != "1\r\n3\r\n" {
		t.Fatalf("GET ctr after 3 INCRs = %q", got)
	}
	run(ctx, "del", "ctr")
	for i := 1; i <= 2; i++ {
		run(ctx, "decr", "ctr")
	}
	if got := string(run(ctx, "get", "ctr")); got != "2\r\n-2\r\n" {
		t.Fatalf("GET ctr after 2 DECRs = %q", got)
	}
}

func TestIncrOnListTreatsItAsZero(t *testing.T) {
	ctx := newCtx(t)
	run(ctx, "rpush", "L", "a")
	if got := string(run(ctx, "incr", "L")); got != "1\r\n" {
		t.Fatalf("INCR on a list = %q, want 1 (non-string treated as 0)", got)
	}
	if got := string(run(ctx, "get", "L")); got != "1\r\n1\r\n" {
		t.Fatalf("GET L after INCR = %q, want the overwritten string \"1\"", got)
	}
}

func TestIncrOnNonNumericStringTreatsItAsZero(t *testing.T) {
	ctx := newCtx(t)
	run(ctx, "set", "s", "notanumber")
	if got := string(run(ctx, "incr", "s")); got != "1\r\n" {
		t.Fatalf("INCR on a non-numeric string = %q, want 1", got)
	}
}

func TestRPushLRangeOrder(t *testing.T) {
	ctx := newCtx(t)
	run(ctx, "rpush", "L", "a")
	run(ctx, "rpush", "L", "b")
	got := string(run(ctx, "lrange", "L", "0", "-1"))
	if got != "2\r\n1\r\na\r\n1\r\nb\r\n" {
		t.Fatalf("LRANGE = %q", got)
	}
}

func TestLPushReversesOrder(t *testing.T) {
	ctx := newCtx(t)
	run(ctx, "lpush", "L", "a")
	run(ctx, "lpush", "L", "b")
	got := string(run(ctx, "lrange", "L", "0", "-1"))
	if got != "2\r\n1\r\nb\r\n1\r\na\r\n" {
		t.Fatalf("LRANGE after LPUSH = %q", got)
	}
}

func TestLRangeEmptyRange(t *testing.T) {
	ctx := newCtx(t)
	run(ctx, "rpush", "L", "a")
	got := string(run(ctx, "lrange", "L", "5", "10"))
	if got != "0\r\n" {
		t.Fatalf("LRANGE out of range = %q, want empty multibulk", got)
	}
}

func TestLTrim(t *testing.T) {
	ctx := newCtx(t)
	run(ctx, "rpush", "L", "a")
	run(ctx, "rpush", "L", "b")
	run(ctx, "rpush", "L", "c")
	run(ctx, "ltrim", "L", "1", "-1")
	got := string(run(ctx, "lrange", "L", "0", "-1"))
	if got != "2\r\n1\r\nb\r\n1\r\nc\r\n" {
		t.Fatalf("LRANGE after LTRIM = %q", got)
	}
}

func TestSelectMove(t *testing.T) {
	ctx := newCtx(t)
	run(ctx, "set", "k", "v")
	got := string(run(ctx, "move", "k", "1"))
	if got != "1\r\n" {
		t.Fatalf("MOVE = %q", got)
	}
	if got := string(run(ctx, "exists", "k")); got != "0\r\n" {
		t.Fatalf("EXISTS in source after MOVE = %q", got)
	}
	ctx.DB = 1
	if got := string(run(ctx, "get", "k")); got != "1\r\nv\r\n" {
		t.Fatalf("GET in destination after MOVE = %q", got)
	}
}

func TestMoveSameDBFails(t *testing.T) {
	ctx := newCtx(t)
	run(ctx, "set", "k", "v")
	got := string(run(ctx, "move", "k", "0"))
	if got[0] != '-' {
		t.Fatalf("MOVE to same DB = %q, want error", got)
	}
}

func TestRenameNX(t *testing.T) {
	ctx := newCtx(t)
	run(ctx, "set", "a", "1")
	run(ctx, "set", "b", "2")
	if got := string(run(ctx, "renamenx", "a", "b")); got != "0\r\n" {
		t.Fatalf("RENAMENX onto existing key = %q, want 0", got)
	}
}

func TestKeysGlob(t *testing.T) {
	ctx := newCtx(t)
	run(ctx, "set", "k", "v")
	got := string(run(ctx, "keys", "k*"))
	if got != "1\r\n1\r\nk\r\n" {
		t.Fatalf("KEYS = %q", got)
	}
}

func TestTypeCommand(t *testing.T) {
	ctx := newCtx(t)
	run(ctx, "set", "s", "v")
	run(ctx, "rpush", "l", "v")
	if got := string(run(ctx, "type", "s")); got != "+string\r\n" {
		t.Fatalf("TYPE string = %q", got)
	}
	if got := string(run(ctx, "type", "l")); got != "+list\r\n" {
		t.Fatalf("TYPE list = %q", got)
	}
	if got := string(run(ctx, "type", "missing")); got != "+none\r\n" {
		t.Fatalf("TYPE missing = %q", got)
	}
}

func TestFlushDBAndFlushAll(t *testing.T) {
	ctx := newCtx(t)
	run(ctx, "set", "a", "1")
	ctx.DB = 1
	run(ctx, "set", "b", "2")
	ctx.DB = 0
	run(ctx, "flushdb")
	if got := string(run(ctx, "dbsize")); got != "0\r\n" {
		t.Fatalf("DBSIZE after FLUSHDB = %q", got)
	}
	ctx.DB = 1
	if got := string(run(ctx, "dbsize")); got != "1\r\n" {
		t.Fatalf("other DB untouched by FLUSHDB, DBSIZE = %q", got)
	}
	run(ctx, "flushall")
	if got := string(run(ctx, "dbsize")); got != "0\r\n" {
		t.Fatalf("DBSIZE after FLUSHALL = %q", got)
	}
}

func TestRandomKeyEmpty(t *testing.T) {
	ctx := newCtx(t)
	got := string(run(ctx, "randomkey"))
	if got != "nil\r\n" {
		t.Fatalf("RANDOMKEY on empty db = %q, want nil bulk", got)
	}
}

func TestPingEcho(t *testing.T) {
	ctx := newCtx(t)
	if got := string(run(ctx, "ping")); got != "+PONG\r\n" {
		t.Fatalf("PING = %q", got)
	}
	if got := string(run(ctx, "echo", "hi")); got != "2\r\nhi\r\n" {
		t.Fatalf("ECHO = %q", got)
	}
}

func TestIsBulkReflectsTable(t *testing.T) {
	if !IsBulk("set") || !IsBulk("echo") {
		t.Fatal("expected SET and ECHO to be bulk commands")
	}
	if IsBulk("get") || IsBulk("nosuchcommand") {
		t.Fatal("expected GET and unknown commands to not be bulk")
	}
}
