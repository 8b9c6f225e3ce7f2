package graph

import (
	"errors"
	"testing"
	"time"

	"github.com/mgearhart/drover/pkg/models"
)

func task(id string, deps ...string) *models.Task {
	return &models.Task{ID: id, Title: "Task " + id, DependsOn: deps}
}

func readyIDs(t *testing.T, m *Manager, graphID string) []string {
	t.Helper()
	ready, err := m.ReadyTasks(graphID)
	if err != nil {
		t.Fatalf("ReadyTasks: %v", err)
	}
	ids := make([]string, 0, len(ready))
	for _, r := range ready {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestSubmitGraphSimple(t *testing.T) {
	m := NewManager()
	graphID, err := m.SubmitGraph([]*models.Task{task("A"), task("B"), task("C")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if graphID == "" {
		t.Fatal("expected non-empty graph ID")
	}

	tasks, err := m.Tasks(graphID)
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(tasks) != 3 {
		t.Errorf("expected 3 tasks, got %d", len(tasks))
	}
	for _, tk := range tasks {
		if tk.State != models.TaskStatePending {
			t.Errorf("task %s: expected pending, got %s", tk.ID, tk.State)
		}
		if tk.GraphID != graphID {
			t.Errorf("task %s: graph ID not set", tk.ID)
		}
	}
}

func TestSubmitGraphCycleRejectedNothingPersisted(t *testing.T) {
	m := NewManager()
	_, err := m.SubmitGraph([]*models.Task{task("A", "B"), task("B", "C"), task("C", "A")}, nil)
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}

	// Nothing from the rejected submission may be visible.
	if _, err := m.Task("A"); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("expected ErrUnknownTask for task from rejected graph, got %v", err)
	}
	if len(m.Graphs()) != 0 {
		t.Errorf("expected no graphs, got %v", m.Graphs())
	}
}

func TestSubmitGraphSelfLoop(t *testing.T) {
	m := NewManager()
	_, err := m.SubmitGraph([]*models.Task{task("A", "A")}, nil)
	if !errors.Is(err, ErrCycleDetected) {
		t.Errorf("expected ErrCycleDetected for self-loop, got %v", err)
	}
}

func TestSubmitGraphEdgeListMerged(t *testing.T) {
	m := NewManager()
	// C depends on A via DependsOn and on B via the edge list.
	graphID, err := m.SubmitGraph(
		[]*models.Task{task("A"), task("B"), task("C", "A")},
		[]models.Edge{{From: "B", To: "C"}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, err := m.Task("C")
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if len(c.DependsOn) != 2 {
		t.Errorf("expected C to have 2 deps, got %v", c.DependsOn)
	}

	ids := readyIDs(t, m, graphID)
	if len(ids) != 2 {
		t.Errorf("expected A and B ready, got %v", ids)
	}
}

func TestSubmitGraphUnknownDependency(t *testing.T) {
	m := NewManager()
	if _, err := m.SubmitGraph([]*models.Task{task("A", "ghost")}, nil); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("expected ErrUnknownTask, got %v", err)
	}
	if _, err := m.SubmitGraph([]*models.Task{task("A")}, []models.Edge{{From: "A", To: "ghost"}}); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("expected ErrUnknownTask for edge target, got %v", err)
	}
}

func TestReadyTasksDiamondScenario(t *testing.T) {
	// A (no deps), B (no deps), C depends on A and B.
	m := NewManager()
	graphID, err := m.SubmitGraph([]*models.Task{task("A"), task("B"), task("C", "A", "B")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ids := readyIDs(t, m, graphID)
	if len(ids) != 2 || ids[0] != "A" || ids[1] != "B" {
		t.Fatalf("expected ready set {A, B}, got %v", ids)
	}

	completeTask(t, m, "A")
	if ids := readyIDs(t, m, graphID); len(ids) != 1 || ids[0] != "B" {
		t.Fatalf("expected only B ready after A completed, got %v", ids)
	}

	completeTask(t, m, "B")
	if ids := readyIDs(t, m, graphID); len(ids) != 1 || ids[0] != "C" {
		t.Fatalf("expected C ready after A and B completed, got %v", ids)
	}
}

// completeTask drives a task through the full happy path.
func completeTask(t *testing.T, m *Manager, id string) {
	t.Helper()
	for _, state := range []models.TaskState{models.TaskStateReady, models.TaskStateRunning, models.TaskStateCompleted} {
		if err := m.Mark(id, state, &models.Result{Output: "ok"}, ""); err != nil {
			t.Fatalf("mark %s %s: %v", id, state, err)
		}
	}
}

func TestReadyTasksOrdering(t *testing.T) {
	m := NewManager()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tasks := []*models.Task{
		{ID: "late-low", Priority: 1, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "early-high", Priority: 3, CreatedAt: base},
		{ID: "early-low", Priority: 1, CreatedAt: base},
		{ID: "tie", Priority: 1, CreatedAt: base},
	}
	graphID, err := m.SubmitGraph(tasks, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ids := readyIDs(t, m, graphID)
	want := []string{"early-low", "tie", "late-low", "early-high"}
	if len(ids) != len(want) {
		t.Fatalf("expected %d ready tasks, got %v", len(want), ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s (full order %v)", i, want[i], ids[i], ids)
		}
	}
}

func TestGraphDrainsEveryTaskExactlyOnce(t *testing.T) {
	//       A
	//      / \
	//     B   C
	//      \ / \
	//       D   E
	m := NewManager()
	graphID, err := m.SubmitGraph([]*models.Task{
		task("A"), task("B", "A"), task("C", "A"), task("D", "B", "C"), task("E", "C"),
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := make(map[string]int)
	position := make(map[string]int)
	step := 0
	for !m.Done(graphID) {
		ready, err := m.ReadyTasks(graphID)
		if err != nil {
			t.Fatalf("ReadyTasks: %v", err)
		}
		if len(ready) == 0 {
			t.Fatal("graph stalled with no ready tasks")
		}
		for _, r := range ready {
			seen[r.ID]++
			position[r.ID] = step
			step++
			completeTask(t, m, r.ID)
		}
	}

	for _, id := range []string{"A", "B", "C", "D", "E"} {
		if seen[id] != 1 {
			t.Errorf("task %s surfaced %d times, expected exactly once", id, seen[id])
		}
	}
	// Dependency order must hold.
	deps := map[string][]string{"B": {"A"}, "C": {"A"}, "D": {"B", "C"}, "E": {"C"}}
	for id, blockedBy := range deps {
		for _, dep := range blockedBy {
			if position[dep] > position[id] {
				t.Errorf("%s surfaced before its dependency %s", id, dep)
			}
		}
	}
}

func TestMarkInvalidTransition(t *testing.T) {
	m := NewManager()
	if _, err := m.SubmitGraph([]*models.Task{task("A")}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// pending -> completed skips ready/running.
	if err := m.Mark("A", models.TaskStateCompleted, nil, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	completeTask(t, m, "A")

	// completed -> pending is illegal.
	if err := m.Mark("A", models.TaskStatePending, nil, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for completed->pending, got %v", err)
	}
}

func TestMarkCompletedTwiceIsNotSilent(t *testing.T) {
	m := NewManager()
	if _, err := m.SubmitGraph([]*models.Task{task("A")}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	completeTask(t, m, "A")

	before, _ := m.Task("A")
	err := m.Mark("A", models.TaskStateCompleted, &models.Result{Output: "duplicate"}, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second completion must surface ErrInvalidTransition, got %v", err)
	}

	after, _ := m.Task("A")
	if after.Result.Output != before.Result.Output {
		t.Error("duplicate completion must not overwrite the stored result")
	}
	if !after.CompletedAt.Equal(*before.CompletedAt) {
		t.Error("duplicate completion must not move the completion timestamp")
	}
}

func TestMarkReadyRequiresCompletedPredecessors(t *testing.T) {
	m := NewManager()
	if _, err := m.SubmitGraph([]*models.Task{task("A"), task("B", "A")}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.Mark("B", models.TaskStateReady, nil, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition while A incomplete, got %v", err)
	}

	completeTask(t, m, "A")
	if err := m.Mark("B", models.TaskStateReady, nil, ""); err != nil {
		t.Errorf("expected B ready after A completed, got %v", err)
	}
}

func TestMarkRunningIncrementsAttempts(t *testing.T) {
	m := NewManager()
	if _, err := m.SubmitGraph([]*models.Task{task("A")}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		if err := m.Mark("A", models.TaskStateReady, nil, ""); err != nil {
			t.Fatalf("mark ready: %v", err)
		}
		if err := m.Mark("A", models.TaskStateRunning, nil, ""); err != nil {
			t.Fatalf("mark running: %v", err)
		}
		tk, _ := m.Task("A")
		if tk.Attempts != attempt {
			t.Errorf("expected %d attempts, got %d", attempt, tk.Attempts)
		}
		if err := m.Mark("A", models.TaskStateFailedRetryable, nil, "boom"); err != nil {
			t.Fatalf("mark failed_retryable: %v", err)
		}
		if err := m.Mark("A", models.TaskStatePending, nil, ""); err != nil {
			t.Fatalf("mark pending: %v", err)
		}
	}
}

func TestCancelFromAnyNonTerminalState(t *testing.T) {
	m := NewManager()
	if _, err := m.SubmitGraph([]*models.Task{task("A"), task("B"), task("C")}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// pending -> cancelled
	if err := m.Mark("A", models.TaskStateCancelled, nil, "operator cancel"); err != nil {
		t.Errorf("cancel pending: %v", err)
	}

	// running -> cancelled
	if err := m.Mark("B", models.TaskStateReady, nil, ""); err != nil {
		t.Fatal(err)
	}
	if err := m.Mark("B", models.TaskStateRunning, nil, ""); err != nil {
		t.Fatal(err)
	}
	if err := m.Mark("B", models.TaskStateCancelled, nil, "operator cancel"); err != nil {
		t.Errorf("cancel running: %v", err)
	}

	// terminal states cannot be cancelled
	completeTask(t, m, "C")
	if err := m.Mark("C", models.TaskStateCancelled, nil, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition cancelling completed task, got %v", err)
	}
}

func TestReflectionsHistory(t *testing.T) {
	m := NewManager()
	if _, err := m.SubmitGraph([]*models.Task{task("A")}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 1; i <= 3; i++ {
		if err := m.AddReflection("A", &models.Reflection{TaskID: "A", Attempt: i, RootCause: "cause"}); err != nil {
			t.Fatalf("AddReflection: %v", err)
		}
	}

	refs, err := m.Reflections("A")
	if err != nil {
		t.Fatalf("Reflections: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("expected 3 reflections, got %d", len(refs))
	}
	for i, r := range refs {
		if r.Attempt != i+1 {
			t.Errorf("reflection %d: expected attempt %d, got %d", i, i+1, r.Attempt)
		}
	}
}

func TestRunningSnapshot(t *testing.T) {
	m := NewManager()
	if _, err := m.SubmitGraph([]*models.Task{task("A"), task("B")}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.Mark("A", models.TaskStateReady, nil, ""); err != nil {
		t.Fatal(err)
	}
	if err := m.Assign("A", "w1"); err != nil {
		t.Fatal(err)
	}
	if err := m.Mark("A", models.TaskStateRunning, nil, ""); err != nil {
		t.Fatal(err)
	}

	running := m.Running()
	if len(running) != 1 {
		t.Fatalf("expected 1 running task, got %d", len(running))
	}
	if running[0].TaskID != "A" || running[0].WorkerID != "w1" {
		t.Errorf("unexpected snapshot entry: %+v", running[0])
	}
	if running[0].LastTransition.IsZero() {
		t.Error("expected non-zero last transition timestamp")
	}
}

func TestTopologicalOrder(t *testing.T) {
	m := NewManager()
	graphID, err := m.SubmitGraph([]*models.Task{task("A"), task("B", "A"), task("C", "B")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	order, err := m.TopologicalOrder(graphID)
	if err != nil {
		t.Fatalf("TopologicalOrder: %v", err)
	}
	if len(order) != 3 || order[0] != "A" || order[1] != "B" || order[2] != "C" {
		t.Errorf("expected [A B C], got %v", order)
	}
}

func TestDuplicateTaskIDRejected(t *testing.T) {
	m := NewManager()
	if _, err := m.SubmitGraph([]*models.Task{task("A"), task("A")}, nil); !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("expected ErrDuplicateTask within one submission, got %v", err)
	}

	if _, err := m.SubmitGraph([]*models.Task{task("A")}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.SubmitGraph([]*models.Task{task("A")}, nil); !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("expected ErrDuplicateTask across submissions, got %v", err)
	}
}
