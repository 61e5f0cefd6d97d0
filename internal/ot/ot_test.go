package ot

import (
	"reflect"
	"testing"

	"noteot/internal/diffengine"
)

func opsFromStrings(a, b string) []Operation {
	return DiffToOps(diffengine.Diff(a, b))
}

func TestApplyEmptyOpsIsIdentity(t *testing.T) {
	got, err := Apply("hello", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello" {
		t.Errorf("Apply(s, []) = %q, want %q", got, "hello")
	}
}

func TestRoundTripCatCart(t *testing.T) {
	ops := opsFromStrings("cat", "cart")
	want := []Operation{
		Retained(1, 0),
		Retained(1, 1),
		Inserted("r", 2),
		Retained(1, 2),
	}
	if !reflect.DeepEqual(ops, want) {
		t.Fatalf("DiffToOps = %+v, want %+v", ops, want)
	}
	got, err := Apply("cat", ops)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "cart" {
		t.Errorf("Apply(cat, ops) = %q, want cart", got)
	}
}

func TestDiffToOpsAnyStringsRoundTrip(t *testing.T) {
	cases := [][2]string{
		{"", "abc"},
		{"abc", ""},
		{"hello world", "hello there world"},
		{"", ""},
		{"same", "same"},
	}
	for _, c := range cases {
		ops := opsFromStrings(c[0], c[1])
		got, err := Apply(c[0], ops)
		if err != nil {
			t.Fatalf("Apply(%q, ops from diff(%q,%q)) error: %v", c[0], c[0], c[1], err)
		}
		if got != c[1] {
			t.Errorf("Apply(%q, ops) = %q, want %q", c[0], got, c[1])
		}
	}
}

func TestApplyInsertAtBoundaries(t *testing.T) {
	got, err := Apply("bc", []Operation{Inserted("a", 0)})
	if err != nil || got != "abc" {
		t.Fatalf("insert at 0: got %q, err %v", got, err)
	}
	got, err = Apply("ab", []Operation{Inserted("c", 2)})
	if err != nil || got != "abc" {
		t.Fatalf("insert at end: got %q, err %v", got, err)
	}
}

func TestApplyDeleteWholeContent(t *testing.T) {
	got, err := Apply("abc", []Operation{Deleted(3, 0)})
	if err != nil || got != "" {
		t.Fatalf("delete all: got %q, err %v", got, err)
	}
}

func TestApplyRetainCrossingEndIsRejected(t *testing.T) {
	_, err := Apply("abc", []Operation{Retained(5, 0)})
	if err == nil {
		t.Fatal("expected error for retain crossing end of content, got nil")
	}
}

func TestApplyDeleteOutOfRangeIsRejected(t *testing.T) {
	_, err := Apply("abc", []Operation{Deleted(5, 0)})
	if err == nil {
		t.Fatal("expected error for delete exceeding content length")
	}
}

// Scenario 3 from spec §8: concurrent inserts at the same position.
func TestTransformConcurrentInsertSamePosition(t *testing.T) {
	serverOps := []Operation{Inserted("X", 1)}
	clientOps := []Operation{Inserted("Y", 1)}
	rebased := Transform(clientOps, serverOps)
	want := []Operation{Inserted("Y", 2)}
	if !reflect.DeepEqual(rebased, want) {
		t.Fatalf("Transform = %+v, want %+v", rebased, want)
	}
	merged, err := Apply("aXb", rebased)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged != "aXYb" {
		t.Errorf("merged = %q, want aXYb", merged)
	}
}

// Scenario 4 from spec §8: concurrent delete + insert, using minimized
// single-operation lists.
func TestTransformConcurrentDeleteInsert(t *testing.T) {
	serverOps := []Operation{Deleted(1, 0)}
	clientOps := []Operation{Inserted("!", 5)}
	rebased := Transform(clientOps, serverOps)
	want := []Operation{Inserted("!", 4)}
	if !reflect.DeepEqual(rebased, want) {
		t.Fatalf("Transform = %+v, want %+v", rebased, want)
	}
	merged, err := Apply("ello", rebased)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged != "ello!" {
		t.Errorf("merged = %q, want ello!", merged)
	}
}

// Same scenario 4, but through the retain-per-character op lists that
// room.merge actually feeds Transform (DiffToOps(diff(base, ...))), not
// the hand-minimized single-op lists above. A server delete to the left
// of a client insert must still shift the client op left by the deleted
// length, even though it collides with a leading client retain at the
// same position on the way there.
func TestTransformConcurrentDeleteInsertViaDiffOps(t *testing.T) {
	base := "hello"
	serverContent := "ello"
	clientContent := "hello!"

	serverOps := opsFromStrings(base, serverContent)
	clientOps := opsFromStrings(base, clientContent)

	rebased := Transform(clientOps, serverOps)
	merged, err := Apply(serverContent, rebased)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged != "ello!" {
		t.Errorf("merged = %q, want ello!", merged)
	}
}

// Scenario 5 from spec §8: duplicate delete at the same position drops
// the client op under server-wins (delete,delete) tie-break.
func TestTransformDuplicateDelete(t *testing.T) {
	serverOps := []Operation{Deleted(1, 0)}
	clientOps := []Operation{Deleted(1, 0)}
	rebased := Transform(clientOps, serverOps)
	if len(rebased) != 0 {
		t.Fatalf("expected empty rebased ops, got %+v", rebased)
	}
}

// Invariant 3 from spec §8: self-consistency of the broadcast delta.
func TestTransformSelfConsistency(t *testing.T) {
	base := "hello world"
	client := "hello there world"
	server := "hi world"

	clientOps := opsFromStrings(base, client)
	serverOps := opsFromStrings(base, server)

	rebased := Transform(clientOps, serverOps)
	merged, err := Apply(server, rebased)
	if err != nil {
		t.Fatalf("Apply(server, rebased) error: %v", err)
	}

	broadcastOps := opsFromStrings(server, merged)
	roundTrip, err := Apply(server, broadcastOps)
	if err != nil {
		t.Fatalf("Apply(server, broadcastOps) error: %v", err)
	}
	if roundTrip != merged {
		t.Errorf("broadcast delta round-trip = %q, want %q", roundTrip, merged)
	}
}

func TestCoalesceRetainsAndInserts(t *testing.T) {
	ops := []Operation{
		Retained(1, 0),
		Retained(1, 1),
		Inserted("a", 2),
		Inserted("b", 2),
		Deleted(1, 2),
		Deleted(1, 3),
	}
	got := Coalesce(ops)
	want := []Operation{
		Retained(2, 0),
		Inserted("ab", 2),
		Deleted(2, 2),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Coalesce = %+v, want %+v", got, want)
	}
}
