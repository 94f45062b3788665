package store

import (
	"testing"

	"github.com/bxcodec/faker/v4"
)

func TestSetGetDelete(t *testing.T) {
	s, err := New(4)
	if err != nil {
		t.Fatal(err)
	}
	db, _ := s.Db(0)
	db.Set("k", NewStringFromBytes([]byte("v")))
	got, ok := db.Get("k")
	if !ok || got.Str.String() != "v" {
		t.Fatalf("Get(k) = %v, %v, want v, true", got, ok)
	}
	if !db.Delete("k") {
		t.Fatal("expected delete to succeed")
	}
	if db.Exists("k") {
		t.Fatal("expected key gone")
	}
}

func TestSetNX(t *testing.T) {
	s, _ := New(1)
	db, _ := s.Db(0)
	if !db.SetNX("k", NewStringFromBytes([]byte("a"))) {
		t.Fatal("expected first SetNX to succeed")
	}
	if db.SetNX("k", NewStringFromBytes([]byte("b"))) {
		t.Fatal("expected second SetNX to fail")
	}
	got, _ := db.Get("k")
	if got.Str.String() != "a" {
		t.Fatalf("Get(k) = %q, want a", got.Str.String())
	}
}

func TestRefcountReleaseOnOverwrite(t *testing.T) {
	s, _ := New(1)
	db, _ := s.Db(0)
	v1 := NewStringFromBytes([]byte("first"))
	db.Set("k", v1)
	if v1.RefCount() != 2 {
		t.Fatalf("RefCount = %d, want 2 (caller's + store's)", v1.RefCount())
	}
	db.Set("k", NewStringFromBytes([]byte("second")))
	if v1.RefCount() != 1 {
		t.Fatalf("RefCount after overwrite = %d, want 1 (store reference released)", v1.RefCount())
	}
}

func TestMoveTransfersOwnershipWithoutRefcountChange(t *testing.T) {
	s, _ := New(2)
	src, _ := s.Db(0)
	dst, _ := s.Db(1)
	v := NewStringFromBytes([]byte("v"))
	src.Set("k", v)
	before := v.RefCount()

	moved, ok := src.DeleteNoFree("k")
	if !ok {
		t.Fatal("expected key present in source")
	}
	if !dst.AdoptInto("k", moved) {
		t.Fatal("expected adopt into destination to succeed")
	}
	if v.RefCount() != before {
		t.Fatalf("RefCount changed across MOVE: before=%d after=%d", before, v.RefCount())
	}
	if src.Exists("k") {
		t.Fatal("expected key removed from source")
	}
	got, ok := dst.Get("k")
	if !ok || got != v {
		t.Fatal("expected key present in destination holding the same Obj")
	}
}

func TestRename(t *testing.T) {
	s, _ := New(1)
	db, _ := s.Db(0)
	db.Set("a", NewStringFromBytes([]byte("v")))
	if !db.Rename("a", "b") {
		t.Fatal("expected rename to succeed")
	}
	if db.Exists("a") {
		t.Fatal("expected source gone")
	}
	got, ok := db.Get("b")
	if !ok || got.Str.String() != "v" {
		t.Fatal("expected destination to hold renamed value")
	}
}

func TestRenameNXFailsIfDestExists(t *testing.T) {
	s, _ := New(1)
	db, _ := s.Db(0)
	db.Set("a", NewStringFromBytes([]byte("va")))
	db.Set("b", NewStringFromBytes([]byte("vb")))
	ok, err := db.RenameNX("a", "b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected RenameNX to fail when destination exists")
	}
	if !db.Exists("a") {
		t.Fatal("expected source untouched on failed RenameNX")
	}
}

func TestRenameNXMissingSource(t *testing.T) {
	s, _ := New(1)
	db, _ := s.Db(0)
	_, err := db.RenameNX("missing", "b")
	if err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestKeysGlob(t *testing.T) {
	s, _ := New(1)
	db, _ := s.Db(0)
	for _, k := range []string{"user:1", "user:2", "order:1"} {
		db.Set(k, NewStringFromBytes([]byte("v")))
	}
	got := db.Keys("user:*")
	if len(got) != 2 {
		t.Fatalf("Keys(user:*) = %v, want 2 matches", got)
	}
}

func TestRandomKeyEmptyDb(t *testing.T) {
	s, _ := New(1)
	db, _ := s.Db(0)
	if _, ok := db.RandomKey(); ok {
		t.Fatal("expected RandomKey on empty db to report false")
	}
}

func TestFlush(t *testing.T) {
	s, _ := New(1)
	db, _ := s.Db(0)
	for i := 0; i < 10; i++ {
		db.Set(faker.UUIDHyphenated(), NewStringFromBytes([]byte("v")))
	}
	db.Flush()
	if db.Len() != 0 {
		t.Fatalf("Len() after Flush = %d, want 0", db.Len())
	}
}

func TestIntValue(t *testing.T) {
	if n := IntValue(nil); n != 0 {
		t.Fatalf("IntValue(nil) = %d, want 0", n)
	}
	if n := IntValue(NewStringFromBytes([]byte("42"))); n != 42 {
		t.Fatalf("IntValue(42) = %d, want 42", n)
	}
	if n := IntValue(NewList()); n != 0 {
		t.Fatalf("IntValue(list) = %d, want 0 (non-string treated as 0)", n)
	}
	if n := IntValue(NewStringFromBytes([]byte("notanumber"))); n != 0 {
		t.Fatalf("IntValue(non-numeric string) = %d, want 0", n)
	}
}

func TestListRefcountReleasesElements(t *testing.T) {
	s, _ := New(1)
	db, _ := s.Db(0)
	list := NewList()
	elem := NewStringFromBytes([]byte("x"))
	list.List.PushBack(elem.Retain())
	db.Set("L", list)
	list.Release() // the store now holds the only reference to the list
	if elem.RefCount() != 2 {
		t.Fatalf("elem RefCount = %d, want 2", elem.RefCount())
	}
	db.Delete("L")
	if elem.RefCount() != 1 {
		t.Fatalf("elem RefCount after list release = %d, want 1", elem.RefCount())
	}
}

func TestSharedObjectsNeverRecycled(t *testing.T) {
	sh := NewShared()
	before := sh.OK
	for i := 0; i < 5; i++ {
		sh.OK.Retain()
	}
	for i := 0; i < 10; i++ {
		sh.OK.Release()
	}
	if sh.OK != before || sh.OK.Str.String() != "+OK\r\n" {
		t.Fatal("expected shared OK object to survive refcount reaching zero")
	}
}
