package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefixAndUniqueness(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewID("deal")
		if !strings.HasPrefix(id, "deal_") {
			t.Fatalf("expected deal_ prefix, got %q", id)
		}
		if len(id) != len("deal_")+32 {
			t.Fatalf("unexpected id length %d for %q", len(id), id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
	if id := NewID(""); strings.Contains(id, "_") {
		t.Fatalf("expected bare id, got %q", id)
	}
}
