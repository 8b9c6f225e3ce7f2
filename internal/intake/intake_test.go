package intake

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestParseGraphFile(t *testing.T) {
	data := []byte(`
project: proj-a
tasks:
  - id: a
    title: scaffold the service
    capabilities: [golang]
    priority: 1
    estimated_tokens: 2000
  - id: b
    title: add tests
    project: proj-b
    capabilities: [golang, testing]
    depends_on: [a]
edges:
  - from: a
    to: b
`)
	tasks, edges, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].ID != "a" || tasks[0].ProjectID != "proj-a" || tasks[0].EstimatedTokens != 2000 {
		t.Errorf("unexpected first task: %+v", tasks[0])
	}
	// Per-task project overrides the file-level one.
	if tasks[1].ProjectID != "proj-b" {
		t.Errorf("expected project override, got %q", tasks[1].ProjectID)
	}
	if len(tasks[1].DependsOn) != 1 || tasks[1].DependsOn[0] != "a" {
		t.Errorf("depends_on lost: %v", tasks[1].DependsOn)
	}

	if len(edges) != 1 || edges[0].From != "a" || edges[0].To != "b" {
		t.Errorf("unexpected edges: %v", edges)
	}
}

func TestParseRejectsEmptyAndMalformed(t *testing.T) {
	if _, _, err := Parse([]byte("project: x\n")); err == nil {
		t.Error("expected an error for a file with no tasks")
	}
	if _, _, err := Parse([]byte("tasks:\n  - title: missing id\n")); err == nil {
		t.Error("expected an error for a task without an id")
	}
	if _, _, err := Parse([]byte("{{not yaml")); err == nil {
		t.Error("expected an error for malformed yaml")
	}
	if _, _, err := Parse([]byte("tasks:\n  - id: a\nedges:\n  - from: a\n")); err == nil {
		t.Error("expected an error for a half-specified edge")
	}
}

func TestWatchPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	go Watch(ctx, dir, func(path string, err error) {
		if err != nil {
			t.Errorf("watch error: %v", err)
			return
		}
		mu.Lock()
		got = append(got, filepath.Base(path))
		mu.Unlock()
		close(done)
	})

	// Give the watcher a beat to register before writing.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "graph.yaml"), []byte("tasks:\n  - id: a\n"), 0644); err != nil {
		t.Fatal(err)
	}
	// A non-yaml file must be ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("timed out waiting for the watcher")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "graph.yaml" {
		t.Errorf("expected only graph.yaml picked up, got %v", got)
	}
}
