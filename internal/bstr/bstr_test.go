package bstr

import (
	"testing"

	"github.com/bxcodec/faker/v4"
)

func TestSliceClampsNegativeIndices(t *testing.T) {
	s := NewFromString("hello world")
	cases := []struct {
		start, end int
		want       string
	}{
		{0, -1, "hello world"},
		{0, 4, "hello"},
		{-5, -1, "world"},
		{6, -1, "world"},
		{100, -1, ""},
		{5, 2, ""},
	}
	for _, c := range cases {
		if got := s.Slice(c.start, c.end).String(); got != c.want {
			t.Errorf("Slice(%d,%d) = %q, want %q", c.start, c.end, got, c.want)
		}
	}
}

func TestTrim(t *testing.T) {
	s := NewFromString("  hi  ")
	if got := s.Trim([]byte(" ")).String(); got != "hi" {
		t.Errorf("Trim = %q, want %q", got, "hi")
	}
}

func TestSplit(t *testing.T) {
	s := NewFromString("a,b,,c")
	parts := s.Split([]byte(","))
	want := []string{"a", "b", "", "c"}
	if len(parts) != len(want) {
		t.Fatalf("got %d parts, want %d", len(parts), len(want))
	}
	for i, p := range parts {
		if p.String() != want[i] {
			t.Errorf("part %d = %q, want %q", i, p.String(), want[i])
		}
	}
}

func TestToLowerInPlace(t *testing.T) {
	s := NewFromString("SeT")
	if got := s.ToLowerInPlace().String(); got != "set" {
		t.Errorf("ToLowerInPlace = %q, want %q", got, "set")
	}
}

func TestEqualAndCompare(t *testing.T) {
	a := NewFromString("abc")
	b := NewFromString("abc")
	c := NewFromString("abd")
	if !a.Equal(b) {
		t.Error("expected equal")
	}
	if a.Compare(c) >= 0 {
		t.Error("expected a < c")
	}
}

// TestRandomizedRoundTrip exercises New/Bytes/Clone on randomized inputs, the way the
// teacher's tests use faker to fuzz string-shaped inputs.
func TestRandomizedRoundTrip(t *testing.T) {
	for i := 0; i < 50; i++ {
		word := faker.Word()
		s := NewFromString(word)
		if s.String() != word {
			t.Fatalf("round trip failed: got %q, want %q", s.String(), word)
		}
		clone := s.Clone()
		clone.Append([]byte("x"))
		if s.String() == clone.String() {
			t.Fatalf("Clone shared storage with original")
		}
	}
}
