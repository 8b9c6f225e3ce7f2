package memory

import (
	"context"
	"testing"
	"time"

	"github.com/mgearhart/drover/pkg/models"
)

func TestRetrieveLexicalRanking(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	strong := mustSave(t, s, &models.MemoryItem{
		Tier:    models.TierWorking,
		Content: "parse yaml config files with strict schema validation",
	})
	weak := mustSave(t, s, &models.MemoryItem{
		Tier:    models.TierWorking,
		Content: "yaml indentation rules",
	})
	mustSave(t, s, &models.MemoryItem{
		Tier:    models.TierWorking,
		Content: "rotate database credentials monthly",
	})

	results, err := s.Retrieve(ctx, Query{Text: "validate yaml config schema", Limit: 10})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(results))
	}
	if results[0].Item.ID != strong.ID {
		t.Errorf("expected strongest lexical match first, got %s", results[0].Item.ID)
	}
	if results[1].Item.ID != weak.ID {
		t.Errorf("expected weak match second, got %s", results[1].Item.ID)
	}
	if results[0].Relevance <= results[1].Relevance {
		t.Errorf("relevance not monotone: %v vs %v", results[0].Relevance, results[1].Relevance)
	}
}

func TestRetrieveLimit(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		mustSave(t, s, &models.MemoryItem{
			Tier:    models.TierWorking,
			Content: "deploy service " + string(rune('a'+i)),
		})
	}

	results, err := s.Retrieve(ctx, Query{Text: "deploy service", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("expected limit of 2, got %d", len(results))
	}
}

func TestRetrieveReflectionBoost(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	plain := mustSave(t, s, &models.MemoryItem{
		Tier:    models.TierWorking,
		Content: "flaky network tests need retries",
	})
	boosted := mustSave(t, s, &models.MemoryItem{
		Tier:    models.TierWorking,
		Content: "flaky network tests need isolation",
		Tags:    []string{ReflectionTag},
	})

	results, err := s.Retrieve(ctx, Query{Text: "flaky network tests", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Item.ID != boosted.ID {
		t.Errorf("reflection-tagged item must outrank the otherwise-equal plain item")
	}
	if results[1].Item.ID != plain.ID {
		t.Errorf("unexpected second result %s", results[1].Item.ID)
	}
}

func TestRetrieveTagPassAdmitsDissimilarItems(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	tagged := mustSave(t, s, &models.MemoryItem{
		Tier:    models.TierWorking,
		Content: "prefer squash merges on release branches",
		Tags:    []string{"git"},
	})

	// Query text shares no tokens with the content; the tag pass still
	// admits it.
	results, err := s.Retrieve(ctx, Query{Text: "zzzz qqqq", Tags: []string{"git"}, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Item.ID != tagged.ID {
		t.Fatalf("expected tag pass to admit the item, got %v", results)
	}
}

func TestRetrieveDeduplicatesByContentHash(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	mustSave(t, s, &models.MemoryItem{
		Tier: models.TierWorking, Content: "identical advice", AccessCount: 9,
	})
	mustSave(t, s, &models.MemoryItem{
		Tier: models.TierShort, Content: "identical advice",
	})

	results, err := s.Retrieve(ctx, Query{Text: "identical advice", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected duplicate content collapsed to one result, got %d", len(results))
	}
	if results[0].Item.AccessCount < 9 {
		t.Error("dedup must keep the higher-ranked copy")
	}
}

func TestRetrieveProjectScoping(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	mine := mustSave(t, s, &models.MemoryItem{
		Tier: models.TierWorking, Content: "project alpha build flags", ProjectID: "alpha",
	})
	other := mustSave(t, s, &models.MemoryItem{
		Tier: models.TierWorking, Content: "project alpha build flags beta variant", ProjectID: "beta",
	})
	shared := mustSave(t, s, &models.MemoryItem{
		Tier: models.TierLong, Content: "project alpha build flags everywhere", ProjectID: "",
	})

	results, err := s.Retrieve(ctx, Query{Text: "project alpha build flags", ProjectID: "alpha", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}

	got := make(map[string]bool)
	for _, r := range results {
		got[r.Item.ID] = true
	}
	if !got[mine.ID] {
		t.Error("own-project item must be visible")
	}
	if !got[shared.ID] {
		t.Error("long-tier item must be visible to every project")
	}
	if got[other.ID] {
		t.Error("another project's working-tier item must not leak")
	}
}

func TestRetrieveBumpsAccessAndRecordsProject(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	item := mustSave(t, s, &models.MemoryItem{
		Tier: models.TierWorking, Content: "shared formatting conventions",
	})

	if _, err := s.Retrieve(ctx, Query{Text: "formatting conventions", ProjectID: "alpha", Limit: 5}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Retrieve(ctx, Query{Text: "formatting conventions", ProjectID: "beta", Limit: 5}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AccessCount != 2 {
		t.Errorf("expected 2 accesses recorded, got %d", got.AccessCount)
	}
	if got.LastAccess.IsZero() {
		t.Error("last access must be stamped")
	}

	projects, err := s.AccessProjects(ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 2 || projects[0] != "alpha" || projects[1] != "beta" {
		t.Errorf("expected both querying projects recorded, got %v", projects)
	}
}

func TestRetrieveHonorsContextCancellation(t *testing.T) {
	s := newTestStore(t, Options{})

	mustSave(t, s, &models.MemoryItem{Tier: models.TierWorking, Content: "anything at all"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Retrieve(ctx, Query{Text: "anything", Limit: 5}); err == nil {
		t.Error("expected a context error from a cancelled retrieval")
	}
}

type fixedEmbedder struct {
	vectors map[string][]float32
}

func (f *fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func TestRetrieveUsesEmbedderWhenConfigured(t *testing.T) {
	emb := &fixedEmbedder{vectors: map[string][]float32{
		"close content":  {1, 0, 0},
		"far content":    {0, 1, 0},
		"the query text": {0.9, 0.1, 0},
	}}
	s := newTestStore(t, Options{Embedder: emb})
	ctx := context.Background()

	near := mustSave(t, s, &models.MemoryItem{Tier: models.TierWorking, Content: "close content"})
	mustSave(t, s, &models.MemoryItem{Tier: models.TierWorking, Content: "far content"})

	results, err := s.Retrieve(ctx, Query{Text: "the query text", Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Item.ID != near.ID {
		t.Fatalf("expected cosine ranking to pick the close vector, got %v", results)
	}
}

func TestRecencyDecay(t *testing.T) {
	s := newTestStore(t, Options{RecencyWindow: 10 * 24 * time.Hour})
	now := time.Now()

	fresh := &models.MemoryItem{CreatedAt: now}
	if r := s.recency(now, fresh); r != 1 {
		t.Errorf("fresh item should score 1, got %v", r)
	}

	halfway := &models.MemoryItem{CreatedAt: now.Add(-5 * 24 * time.Hour)}
	if r := s.recency(now, halfway); r < 0.49 || r > 0.51 {
		t.Errorf("halfway item should score ~0.5, got %v", r)
	}

	ancient := &models.MemoryItem{CreatedAt: now.Add(-20 * 24 * time.Hour)}
	if r := s.recency(now, ancient); r != 0 {
		t.Errorf("item past the window should score 0, got %v", r)
	}

	// Recent access resets the clock even for an old item.
	revived := &models.MemoryItem{
		CreatedAt:  now.Add(-20 * 24 * time.Hour),
		LastAccess: now,
	}
	if r := s.recency(now, revived); r != 1 {
		t.Errorf("recently accessed item should score 1, got %v", r)
	}
}
