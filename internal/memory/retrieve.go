package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mgearhart/drover/pkg/models"
)

// ReflectionTag marks items written by the reflection engine. Tagged items
// get a relevance boost during retrieval so failure lessons resurface.
const ReflectionTag = "reflection"

// reflectionBoost is the multiplier applied to reflection-tagged items.
const reflectionBoost = 1.2

// Relevance scoring weights. Semantic similarity dominates; recency,
// access frequency, and project affinity refine the ranking.
const (
	weightSemantic  = 0.4
	weightRecency   = 0.2
	weightFrequency = 0.15
	weightProject   = 0.15
)

// Query describes one retrieval request.
type Query struct {
	// Text is the free-text query, typically the task description.
	Text string
	// ProjectID scopes project affinity. Long-tier items always qualify.
	ProjectID string
	// Tags, when set, adds an exact-tag pass: items carrying any of these
	// tags are candidates even when textually dissimilar.
	Tags []string
	// Limit caps the result count. Zero means no cap.
	Limit int
}

// Scored is a retrieval result with its relevance attached.
type Scored struct {
	Item      *models.MemoryItem
	Relevance float64
}

// Retrieve ranks stored items against the query and returns the top
// results, deduplicated by content hash. Returned items have their access
// count bumped and the querying project recorded, feeding promotion.
//
// The caller bounds the call with its context; on expiry the partial work
// is discarded and the context error returned, the scheduler dispatches
// without memory context rather than waiting.
func (s *Store) Retrieve(ctx context.Context, q Query) ([]Scored, error) {
	var queryVec []float32
	if s.opts.Embedder != nil && q.Text != "" {
		if vec, err := s.opts.Embedder.Embed(ctx, q.Text); err == nil {
			queryVec = vec
		}
	}
	queryTokens := tokenize(q.Text)

	candidates, err := s.loadScoped(ctx, q.ProjectID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var scored []Scored
	for _, item := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		semantic := s.similarity(queryVec, queryTokens, item)
		tagHit := matchesAny(item, q.Tags)
		// Pass 1 (exact tag) and pass 2 (similarity) both admit candidates;
		// anything matching neither is out.
		if semantic == 0 && !tagHit {
			continue
		}

		relevance := weightSemantic*semantic +
			weightRecency*s.recency(now, item) +
			weightFrequency*frequency(item) +
			weightProject*projectMatch(q.ProjectID, item)
		if item.HasTag(ReflectionTag) {
			relevance *= reflectionBoost
		}
		scored = append(scored, Scored{Item: item, Relevance: relevance})
	}

	// Pass 3: weighted re-rank, ties broken by ID for reproducibility.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Relevance != scored[j].Relevance {
			return scored[i].Relevance > scored[j].Relevance
		}
		return scored[i].Item.ID < scored[j].Item.ID
	})

	scored = dedupeByHash(scored)
	if q.Limit > 0 && len(scored) > q.Limit {
		scored = scored[:q.Limit]
	}

	if err := s.recordAccess(ctx, scored, q.ProjectID); err != nil {
		return nil, err
	}
	return scored, nil
}

// loadScoped returns the items visible to a project: its own items,
// unscoped items, and everything in the long tier.
func (s *Store) loadScoped(ctx context.Context, projectID string) ([]*models.MemoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		selectItemCols+` WHERE tier = ? OR project_id = '' OR project_id = ?`,
		string(models.TierLong), projectID)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// similarity scores the item against the query: cosine over embeddings
// when both sides have one, token overlap otherwise.
func (s *Store) similarity(queryVec []float32, queryTokens []string, item *models.MemoryItem) float64 {
	if len(queryVec) > 0 && len(item.Embedding) > 0 {
		return cosine(queryVec, item.Embedding)
	}
	return lexicalSimilarity(queryTokens, item.Content)
}

// recency decays linearly from 1 for a fresh item to 0 at the recency
// window. The clock starts at the later of creation and last access.
func (s *Store) recency(now time.Time, item *models.MemoryItem) float64 {
	ref := item.CreatedAt
	if item.LastAccess.After(ref) {
		ref = item.LastAccess
	}
	age := now.Sub(ref)
	if age <= 0 {
		return 1
	}
	if age >= s.opts.RecencyWindow {
		return 0
	}
	return 1 - float64(age)/float64(s.opts.RecencyWindow)
}

func frequency(item *models.MemoryItem) float64 {
	f := float64(item.AccessCount) / 10
	if f > 1 {
		return 1
	}
	return f
}

func projectMatch(projectID string, item *models.MemoryItem) float64 {
	if projectID != "" && item.ProjectID == projectID {
		return 1
	}
	return 0
}

func matchesAny(item *models.MemoryItem, tags []string) bool {
	for _, t := range tags {
		if item.HasTag(t) {
			return true
		}
	}
	return false
}

// dedupeByHash keeps the highest-ranked item per content hash. Input must
// already be sorted by relevance.
func dedupeByHash(scored []Scored) []Scored {
	seen := make(map[string]bool, len(scored))
	out := scored[:0]
	for _, sc := range scored {
		h := sc.Item.ContentHash()
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, sc)
	}
	return out
}

// recordAccess bumps access counts and records the querying project for
// every returned item.
func (s *Store) recordAccess(ctx context.Context, scored []Scored, projectID string) error {
	if len(scored) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := formatTime(s.now())
	for _, sc := range scored {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE memory_items
			SET access_count = access_count + 1, last_access = ?
			WHERE id = ?
		`, now, sc.Item.ID); err != nil {
			return err
		}
		sc.Item.AccessCount++

		if projectID == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO memory_access_projects (item_id, project_id, first_access)
			VALUES (?, ?, ?)
			ON CONFLICT(item_id, project_id) DO NOTHING
		`, sc.Item.ID, projectID, now); err != nil {
			return err
		}
	}
	return nil
}
