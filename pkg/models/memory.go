package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// MemoryTier is a retention/promotion class governing a memory item's lifecycle.
type MemoryTier string

const (
	// TierShort holds in-flight session context; expires on a fixed TTL.
	TierShort MemoryTier = "short"
	// TierWorking holds project-scoped context; expires unless promoted.
	TierWorking MemoryTier = "working"
	// TierLong holds cross-project knowledge; no TTL, reachable only via
	// promotion or explicit operator insertion.
	TierLong MemoryTier = "long"
)

// Valid returns true if the tier is a known value.
func (t MemoryTier) Valid() bool {
	switch t {
	case TierShort, TierWorking, TierLong:
		return true
	default:
		return false
	}
}

// Above reports whether tier u is a longer-retention class than t.
// Items may only move upward: short -> working -> long.
func (t MemoryTier) Above(u MemoryTier) bool {
	rank := map[MemoryTier]int{TierShort: 0, TierWorking: 1, TierLong: 2}
	return rank[t] > rank[u]
}

// MemoryItem is a stored fragment of context.
type MemoryItem struct {
	// ID is the unique identifier for this item.
	ID string `json:"id"`
	// Tier determines the item's retention policy.
	Tier MemoryTier `json:"tier"`
	// Content is the stored text.
	Content string `json:"content"`
	// Tags is the set of capability/topic tags attached to the item.
	Tags []string `json:"tags,omitempty"`
	// ProjectID is the originating project. Empty for cross-project
	// long-tier items.
	ProjectID string `json:"project_id,omitempty"`
	// Embedding is the numeric embedding of the content, if a similarity
	// backend is configured. Absent otherwise.
	Embedding []float32 `json:"embedding,omitempty"`
	// CreatedAt is when the item was stored.
	CreatedAt time.Time `json:"created_at"`
	// LastAccess is when the item was last returned by a retrieval.
	LastAccess time.Time `json:"last_access"`
	// AccessCount is the number of successful retrievals.
	AccessCount int `json:"access_count"`
	// SuccessWeight is set by the reflection engine to weight items by
	// how often the pattern they describe held up.
	SuccessWeight float64 `json:"success_weight"`
	// Pinned exempts the item from expiry sweeps.
	Pinned bool `json:"pinned,omitempty"`
}

// HasTag reports whether the item carries the given tag.
func (m *MemoryItem) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ContentHash returns the hex SHA-256 of the item's content, used to
// deduplicate retrieval results.
func (m *MemoryItem) ContentHash() string {
	sum := sha256.Sum256([]byte(m.Content))
	return hex.EncodeToString(sum[:])
}
