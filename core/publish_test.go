package core

import "testing"

func TestComputeThreadHashIsOrderIndependent(t *testing.T) {
	a := []Post{
		{ID: "p2", Body: "second", CreatedAt: "2026-01-01T00:00:01Z"},
		{ID: "p1", Body: "first", CreatedAt: "2026-01-01T00:00:00Z"},
	}
	b := []Post{
		{ID: "p1", Body: "first", CreatedAt: "2026-01-01T00:00:00Z"},
		{ID: "p2", Body: "second", CreatedAt: "2026-01-01T00:00:01Z"},
	}
	if computeThreadHash(a) != computeThreadHash(b) {
		t.Fatalf("expected hash to be independent of input slice order")
	}
}

func TestComputeThreadHashChangesWithContent(t *testing.T) {
	base := []Post{{ID: "p1", Body: "first", CreatedAt: "2026-01-01T00:00:00Z"}}
	edited := []Post{{ID: "p1", Body: "first (edited)", CreatedAt: "2026-01-01T00:00:00Z"}}
	if computeThreadHash(base) == computeThreadHash(edited) {
		t.Fatalf("expected hash to change when a post body changes")
	}
}

func TestComputeThreadHashEmpty(t *testing.T) {
	if computeThreadHash(nil) == "" {
		t.Fatalf("expected a stable hash even for an empty post set")
	}
}
