// Package memory provides the tiered context store: short, working, and
// long retention classes behind one interface, with relevance-ranked
// retrieval, usage-based promotion, and per-tier expiry.
package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Defaults for tier retention and promotion criteria.
const (
	// DefaultShortTTL is the fixed lifetime of short-tier items.
	DefaultShortTTL = time.Hour
	// DefaultWorkingTTL is the lifetime of working-tier items unless promoted.
	DefaultWorkingTTL = 30 * 24 * time.Hour
	// DefaultRecencyWindow is the window over which recency decays to zero
	// during retrieval ranking.
	DefaultRecencyWindow = 30 * 24 * time.Hour
	// DefaultPromoteMinAccess is the access count required for promotion.
	DefaultPromoteMinAccess = 5
	// DefaultPromoteMinWeight is the success weight required for promotion.
	DefaultPromoteMinWeight = 0.8
	// DefaultPromoteMinAge is the minimum item age required for promotion.
	DefaultPromoteMinAge = 7 * 24 * time.Hour
	// DefaultPromoteMinProjects is the number of distinct projects an item
	// must have served before promotion to the long tier.
	DefaultPromoteMinProjects = 2
)

// Options tunes the store's retention and promotion policy. Zero values
// fall back to the defaults above.
type Options struct {
	ShortTTL           time.Duration
	WorkingTTL         time.Duration
	RecencyWindow      time.Duration
	PromoteMinAccess   int
	PromoteMinWeight   float64
	PromoteMinAge      time.Duration
	PromoteMinProjects int
	// Embedder enables similarity search. Nil selects the lexical fallback.
	Embedder Embedder
}

func (o Options) withDefaults() Options {
	if o.ShortTTL == 0 {
		o.ShortTTL = DefaultShortTTL
	}
	if o.WorkingTTL == 0 {
		o.WorkingTTL = DefaultWorkingTTL
	}
	if o.RecencyWindow == 0 {
		o.RecencyWindow = DefaultRecencyWindow
	}
	if o.PromoteMinAccess == 0 {
		o.PromoteMinAccess = DefaultPromoteMinAccess
	}
	if o.PromoteMinWeight == 0 {
		o.PromoteMinWeight = DefaultPromoteMinWeight
	}
	if o.PromoteMinAge == 0 {
		o.PromoteMinAge = DefaultPromoteMinAge
	}
	if o.PromoteMinProjects == 0 {
		o.PromoteMinProjects = DefaultPromoteMinProjects
	}
	return o
}

// Store is the SQLite-backed tiered memory store.
type Store struct {
	db     *sql.DB
	dbPath string
	opts   Options
	mu     sync.RWMutex
	// now is the clock, swappable in tests.
	now func() time.Time
}

// DBPath returns the default location of the memory database under a
// drover data directory.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, "memory.db")
}

// Open opens (or creates) the memory store at the given path and applies
// pending schema migrations. WAL mode is enabled for concurrent reads.
func Open(dbPath string, opts Options) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{
		db:     conn,
		dbPath: dbPath,
		opts:   opts.withDefaults(),
		now:    time.Now,
	}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.dbPath
}

// migrate creates the necessary tables and indexes if they don't exist.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memory_schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM memory_schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Items},
		{2, migrationV2AccessProjects},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec("INSERT INTO memory_schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

const migrationV1Items = `
CREATE TABLE IF NOT EXISTS memory_items (
	id TEXT NOT NULL,
	tier TEXT NOT NULL,
	content TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	tags TEXT,
	project_id TEXT NOT NULL DEFAULT '',
	embedding BLOB,
	created_at DATETIME NOT NULL,
	last_access DATETIME,
	access_count INTEGER NOT NULL DEFAULT 0,
	success_weight REAL NOT NULL DEFAULT 0.0,
	pinned INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (tier, id)
);

CREATE INDEX IF NOT EXISTS idx_memory_items_tier ON memory_items(tier);
CREATE INDEX IF NOT EXISTS idx_memory_items_project ON memory_items(project_id);
CREATE INDEX IF NOT EXISTS idx_memory_items_hash ON memory_items(content_hash);
CREATE INDEX IF NOT EXISTS idx_memory_items_created_at ON memory_items(created_at);
`

const migrationV2AccessProjects = `
CREATE TABLE IF NOT EXISTS memory_access_projects (
	item_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	first_access DATETIME NOT NULL,
	PRIMARY KEY (item_id, project_id)
);

CREATE INDEX IF NOT EXISTS idx_memory_access_item ON memory_access_projects(item_id);
`

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
