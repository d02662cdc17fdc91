package collection

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/panelbase/comicscan/pkg/protocol"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "collection.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_AddAndHas(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	has, err := s.Has(ctx, "00001234567811")
	if err != nil {
		t.Fatalf("has: %v", err)
	}
	if has {
		t.Error("fresh store should not contain the key")
	}

	err = s.Add(ctx, protocol.Item{UPC: "00001234567811", Extension: "00411", Title: "X-Force #1"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	has, err = s.Has(ctx, "00001234567811")
	if err != nil {
		t.Fatalf("has: %v", err)
	}
	if !has {
		t.Error("key should be present after Add")
	}
}

func TestStore_HasNormalizesKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Stored with punctuation, looked up clean, and the other way round.
	if err := s.Add(ctx, protocol.Item{UPC: "0-000-12345-678-11"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	for _, key := range []string{"00001234567811", "0000 12345 678 11", " 0-000-12345-678-11 "} {
		has, err := s.Has(ctx, key)
		if err != nil {
			t.Fatalf("has %q: %v", key, err)
		}
		if !has {
			t.Errorf("Has(%q) = false, want true", key)
		}
	}
}

func TestStore_AddDuplicateIsNoOp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := protocol.Item{UPC: "75960620237400111", Title: "first"}
	if err := s.Add(ctx, first); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Same identity key with different punctuation.
	if err := s.Add(ctx, protocol.Item{UPC: "7-5960-62023-740-0111", Title: "second"}); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestStore_Count(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, upc := range []string{"1111", "2222", "3333"} {
		if err := s.Add(ctx, protocol.Item{UPC: upc}); err != nil {
			t.Fatalf("add %s: %v", upc, err)
		}
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}

func TestNormalizeKey(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"00001234567811", "00001234567811"},
		{"0-000-12345-678-11", "00001234567811"},
		{" 0000 1234 5678 11 ", "00001234567811"},
		{"upc:00001234567811", "00001234567811"},
		{"no digits", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeKey(c.in); got != c.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
