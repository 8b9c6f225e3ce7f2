package memory

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/mgearhart/drover/pkg/models"
)

// ErrNotFound indicates no memory item exists with the given ID.
var ErrNotFound = errors.New("memory item not found")

// Save stores an item, assigning an ID and creation time if absent.
// When an Embedder is configured and the item carries no embedding yet,
// one is computed before insert; an embedding failure is not fatal, the
// item is stored without one and the lexical fallback serves it.
func (s *Store) Save(ctx context.Context, item *models.MemoryItem) error {
	if !item.Tier.Valid() {
		return fmt.Errorf("invalid tier %q", item.Tier)
	}
	if item.ID == "" {
		item.ID = uuid.New().String()[:8]
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
	if len(item.Embedding) == 0 && s.opts.Embedder != nil {
		if vec, err := s.opts.Embedder.Embed(ctx, item.Content); err == nil {
			item.Embedding = vec
		}
	}

	tags, err := json.Marshal(item.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_items
			(id, tier, content, content_hash, tags, project_id, embedding,
			 created_at, last_access, access_count, success_weight, pinned)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.ID, string(item.Tier), item.Content, item.ContentHash(),
		string(tags), item.ProjectID, encodeEmbedding(item.Embedding),
		formatTime(item.CreatedAt), nullableTime(item.LastAccess),
		item.AccessCount, item.SuccessWeight, boolToInt(item.Pinned),
	)
	if err != nil {
		return fmt.Errorf("insert memory item: %w", err)
	}
	return nil
}

// Get returns the item with the given ID, searching all tiers.
func (s *Store) Get(ctx context.Context, id string) (*models.MemoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectItemCols+" WHERE id = ?", id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return item, err
}

// Pin exempts an item from expiry sweeps.
func (s *Store) Pin(ctx context.Context, id string) error {
	return s.setPinned(ctx, id, true)
}

// Unpin re-enables expiry for an item.
func (s *Store) Unpin(ctx context.Context, id string) error {
	return s.setPinned(ctx, id, false)
}

func (s *Store) setPinned(ctx context.Context, id string, pinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE memory_items SET pinned = ? WHERE id = ?", boolToInt(pinned), id)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// Invalidate removes an item from any tier, regardless of pin state.
// This is the operator path for stale or wrong knowledge; expiry sweeps
// never touch pinned items, but invalidation always wins.
func (s *Store) Invalidate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM memory_items WHERE id = ?", id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM memory_access_projects WHERE item_id = ?", id); err != nil {
		return err
	}
	return requireRow(res, id)
}

// SetSuccessWeight updates an item's success weight. The reflection
// engine adjusts weights as patterns hold up or fail in later tasks.
func (s *Store) SetSuccessWeight(ctx context.Context, id string, weight float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE memory_items SET success_weight = ? WHERE id = ?", weight, id)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// TierCounts returns the number of stored items per tier.
func (s *Store) TierCounts(ctx context.Context) (map[models.MemoryTier]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT tier, COUNT(*) FROM memory_items GROUP BY tier")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.MemoryTier]int)
	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, err
		}
		counts[models.MemoryTier(tier)] = n
	}
	return counts, rows.Err()
}

// List returns every item in a tier, newest first. Operator inspection path.
func (s *Store) List(ctx context.Context, tier models.MemoryTier) ([]*models.MemoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		selectItemCols+" WHERE tier = ? ORDER BY created_at DESC, id", string(tier))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

const selectItemCols = `
	SELECT id, tier, content, tags, project_id, embedding,
	       created_at, last_access, access_count, success_weight, pinned
	FROM memory_items`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*models.MemoryItem, error) {
	var (
		item       models.MemoryItem
		tier       string
		tags       sql.NullString
		embedding  []byte
		createdAt  string
		lastAccess sql.NullString
		pinned     int
	)
	err := row.Scan(&item.ID, &tier, &item.Content, &tags, &item.ProjectID,
		&embedding, &createdAt, &lastAccess, &item.AccessCount,
		&item.SuccessWeight, &pinned)
	if err != nil {
		return nil, err
	}

	item.Tier = models.MemoryTier(tier)
	item.Pinned = pinned != 0
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &item.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	item.Embedding = decodeEmbedding(embedding)
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if lastAccess.Valid {
		if item.LastAccess, err = parseTime(lastAccess.String); err != nil {
			return nil, fmt.Errorf("parse last_access: %w", err)
		}
	}
	return &item, nil
}

func scanItems(rows *sql.Rows) ([]*models.MemoryItem, error) {
	var items []*models.MemoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// encodeEmbedding packs a float32 vector into a little-endian blob.
// Nil slices map to a NULL column.
func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := bytes.NewBuffer(make([]byte, 0, len(vec)*4))
	for _, v := range vec {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
		buf.Write(b[:])
	}
	return buf.Bytes()
}

func decodeEmbedding(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return nil
}
