package models

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestWorkerHasCapabilities(t *testing.T) {
	w := &Worker{ID: "w1", Capabilities: []string{"backend", "tests"}}

	if !w.HasCapabilities([]string{"backend"}) {
		t.Error("expected backend to match")
	}
	if !w.HasCapabilities([]string{"backend", "tests"}) {
		t.Error("expected exact set to match")
	}
	if w.HasCapabilities([]string{"frontend"}) {
		t.Error("frontend must not match a backend-only worker")
	}
	if w.HasCapabilities([]string{"backend", "frontend"}) {
		t.Error("partial coverage must not match")
	}
	if !w.HasCapabilities(nil) {
		t.Error("empty requirement should match any worker")
	}
}

func TestWorkerCapabilityMatch(t *testing.T) {
	exact := &Worker{Capabilities: []string{"backend"}}
	if !almostEqual(exact.CapabilityMatch([]string{"backend"}), 1.0) {
		t.Errorf("exact match should score 1.0, got %f", exact.CapabilityMatch([]string{"backend"}))
	}

	broad := &Worker{Capabilities: []string{"backend", "frontend", "docs", "tests"}}
	if !almostEqual(broad.CapabilityMatch([]string{"backend"}), 0.25) {
		t.Errorf("broad worker should decay to 0.25, got %f", broad.CapabilityMatch([]string{"backend"}))
	}

	mismatch := &Worker{Capabilities: []string{"backend"}}
	if mismatch.CapabilityMatch([]string{"frontend"}) != 0 {
		t.Error("non-superset worker should score 0")
	}
}

func TestWorkerNormalizedLoad(t *testing.T) {
	w := &Worker{Concurrency: 4, Load: 1}
	if !almostEqual(w.NormalizedLoad(), 0.25) {
		t.Errorf("expected 0.25, got %f", w.NormalizedLoad())
	}

	w.Load = 8
	if !almostEqual(w.NormalizedLoad(), 1.0) {
		t.Errorf("load should clamp at 1.0, got %f", w.NormalizedLoad())
	}

	zero := &Worker{Concurrency: 0}
	if !almostEqual(zero.NormalizedLoad(), 1.0) {
		t.Error("zero concurrency should read as fully loaded")
	}
}

func TestMemoryTierAbove(t *testing.T) {
	if !TierWorking.Above(TierShort) {
		t.Error("working should be above short")
	}
	if !TierLong.Above(TierWorking) {
		t.Error("long should be above working")
	}
	if TierShort.Above(TierLong) {
		t.Error("short must not be above long")
	}
	if TierWorking.Above(TierWorking) {
		t.Error("a tier is not above itself")
	}
}

func TestMemoryItemContentHash(t *testing.T) {
	a := &MemoryItem{Content: "retry with exponential backoff"}
	b := &MemoryItem{Content: "retry with exponential backoff"}
	c := &MemoryItem{Content: "something else"}

	if a.ContentHash() != b.ContentHash() {
		t.Error("identical content should hash identically")
	}
	if a.ContentHash() == c.ContentHash() {
		t.Error("different content should hash differently")
	}
}
