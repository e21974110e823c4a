package channel

import (
	"strings"
	"testing"
)

func TestAddFields_IdempotentUnion(t *testing.T) {
	fields := []string{"level", "temp"}
	got := AddFields(fields, []string{"temp", "ph", "ph", "level"})
	want := []string{"level", "temp", "ph"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	// input slice untouched
	if len(fields) != 2 {
		t.Fatalf("input mutated: %v", fields)
	}
}

func TestRemoveFields_IdempotentDifference(t *testing.T) {
	got := RemoveFields([]string{"level", "temp", "ph"}, []string{"temp", "missing"})
	want := []string{"level", "ph"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestDedupeFields_NeverContainsDuplicates(t *testing.T) {
	got := DedupeFields([]string{"a", "b", "a", "", "c", "b"})
	seen := map[string]bool{}
	for _, field := range got {
		if field == "" {
			t.Fatal("empty field survived")
		}
		if seen[field] {
			t.Fatalf("duplicate %q in %v", field, got)
		}
		seen[field] = true
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 fields, got %v", got)
	}
}

func TestHasField(t *testing.T) {
	ch := Channel{Fields: []string{"level", "temp"}}
	if !ch.HasField("level") {
		t.Fatal("expected level to be present")
	}
	if ch.HasField("ph") {
		t.Fatal("expected ph to be absent")
	}
}

func TestNewAPIKey_Format(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		key, err := NewAPIKey()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(key) != apiKeyLength {
			t.Fatalf("expected length %d, got %q", apiKeyLength, key)
		}
		for _, r := range key {
			if !strings.ContainsRune(apiKeyAlphabet, r) {
				t.Fatalf("unexpected rune %q in key %q", r, key)
			}
		}
		seen[key] = true
	}
	if len(seen) < 2 {
		t.Fatal("keys are not random")
	}
}
