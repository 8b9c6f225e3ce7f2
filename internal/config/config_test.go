package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	if cfg.Scheduler.MaxRetries != 5 {
		t.Errorf("expected 5 max retries, got %d", cfg.Scheduler.MaxRetries)
	}
	if cfg.Scheduler.MemoryTimeout != 500*time.Millisecond {
		t.Errorf("expected 500ms memory timeout, got %v", cfg.Scheduler.MemoryTimeout)
	}
	if cfg.Health.StuckAfter != 15*time.Minute {
		t.Errorf("expected 15m stuck threshold, got %v", cfg.Health.StuckAfter)
	}
	if cfg.Memory.PromoteMinProjects != 2 {
		t.Errorf("expected 2 promote projects, got %d", cfg.Memory.PromoteMinProjects)
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
data_dir: /tmp/drover-test
scheduler:
  max_retries: 3
  poll_interval: 100ms
health:
  stuck_after: 5m
workers:
  - id: w1
    capabilities: [golang, testing]
    concurrency: 2
    capacity_tokens: 100000
    cost_tier: standard
    budget_ceiling: 50000
    command: ["/usr/local/bin/worker", "--mode=task"]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.DataDir != "/tmp/drover-test" {
		t.Errorf("data_dir = %q", cfg.DataDir)
	}
	if cfg.Scheduler.MaxRetries != 3 {
		t.Errorf("max_retries = %d", cfg.Scheduler.MaxRetries)
	}
	if cfg.Scheduler.PollInterval != 100*time.Millisecond {
		t.Errorf("poll_interval = %v", cfg.Scheduler.PollInterval)
	}
	if cfg.Health.StuckAfter != 5*time.Minute {
		t.Errorf("stuck_after = %v", cfg.Health.StuckAfter)
	}
	// Unset keys keep their defaults.
	if cfg.Scheduler.MemoryLimit != 5 {
		t.Errorf("memory_limit default lost: %d", cfg.Scheduler.MemoryLimit)
	}

	if len(cfg.Workers) != 1 {
		t.Fatalf("expected 1 worker, got %d", len(cfg.Workers))
	}
	w := cfg.Workers[0]
	if w.ID != "w1" || w.Concurrency != 2 || w.CapacityTokens != 100000 {
		t.Errorf("unexpected worker: %+v", w)
	}
	if len(w.Capabilities) != 2 || w.Capabilities[0] != "golang" {
		t.Errorf("capabilities = %v", w.Capabilities)
	}
	if len(w.Command) != 2 || w.Command[0] != "/usr/local/bin/worker" {
		t.Errorf("command = %v", w.Command)
	}
}

func TestLoadFromMissingPath(t *testing.T) {
	if _, err := LoadFromPath("/nonexistent/config.yaml"); err == nil {
		t.Error("expected an error for a missing config file")
	}
}
