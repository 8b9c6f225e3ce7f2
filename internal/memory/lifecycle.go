package memory

import (
	"context"
	"fmt"

	"github.com/mgearhart/drover/pkg/models"
)

// ErrInvalidPromotion indicates a promotion request that would move an
// item sideways or downward.
var ErrInvalidPromotion = fmt.Errorf("promotion must move an item to a longer-retention tier")

// Expire removes items past their tier's retention window. Short-tier
// items age from creation; working-tier items age from last access so
// items still being used stay alive. Pinned items and the long tier are
// never touched. Returns the number of items removed.
func (s *Store) Expire(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM memory_items
		WHERE tier = ? AND pinned = 0 AND created_at < ?
	`, string(models.TierShort), formatTime(now.Add(-s.opts.ShortTTL)))
	if err != nil {
		return 0, fmt.Errorf("expire short tier: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += int(n)
	}

	res, err = s.db.ExecContext(ctx, `
		DELETE FROM memory_items
		WHERE tier = ? AND pinned = 0
		  AND COALESCE(last_access, created_at) < ?
	`, string(models.TierWorking), formatTime(now.Add(-s.opts.WorkingTTL)))
	if err != nil {
		return 0, fmt.Errorf("expire working tier: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += int(n)
	}

	// Orphaned access rows are harmless but pointless; sweep them too.
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM memory_access_projects
		WHERE item_id NOT IN (SELECT id FROM memory_items)
	`); err != nil {
		return removed, fmt.Errorf("sweep access rows: %w", err)
	}

	return removed, nil
}

// Promote moves an item to a longer-retention tier. Promotion to the long
// tier clears the project scope, the item becomes cross-project knowledge.
// Downward or sideways moves are rejected.
func (s *Store) Promote(ctx context.Context, id string, to models.MemoryTier) error {
	if !to.Valid() {
		return fmt.Errorf("invalid tier %q", to)
	}

	item, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !to.Above(item.Tier) {
		return fmt.Errorf("%s -> %s: %w", item.Tier, to, ErrInvalidPromotion)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	projectID := item.ProjectID
	if to == models.TierLong {
		projectID = ""
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE memory_items SET tier = ?, project_id = ? WHERE id = ?",
		string(to), projectID, id)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// PromoteEligible sweeps the working tier and promotes every item meeting
// all promotion criteria: enough accesses, a high enough success weight,
// old enough, and used from enough distinct projects. Returns the IDs of
// the promoted items.
func (s *Store) PromoteEligible(ctx context.Context) ([]string, error) {
	ids, err := s.eligibleForPromotion(ctx)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		if err := s.Promote(ctx, id, models.TierLong); err != nil {
			return nil, fmt.Errorf("promote %s: %w", id, err)
		}
	}
	return ids, nil
}

func (s *Store) eligibleForPromotion(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id
		FROM memory_items i
		WHERE i.tier = ?
		  AND i.access_count >= ?
		  AND i.success_weight >= ?
		  AND i.created_at <= ?
		  AND (SELECT COUNT(DISTINCT p.project_id)
		       FROM memory_access_projects p
		       WHERE p.item_id = i.id) >= ?
		ORDER BY i.id
	`,
		string(models.TierWorking),
		s.opts.PromoteMinAccess,
		s.opts.PromoteMinWeight,
		formatTime(s.now().Add(-s.opts.PromoteMinAge)),
		s.opts.PromoteMinProjects,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AccessProjects returns the distinct projects that have retrieved an item.
func (s *Store) AccessProjects(ctx context.Context, id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id FROM memory_access_projects
		WHERE item_id = ? ORDER BY project_id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}
