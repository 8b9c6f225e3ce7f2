package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mgearhart/drover/pkg/models"
)

// SaveGraph upserts a graph and its tasks. Called at submission time;
// the orchestrator satisfies its StateStore interface with this.
func (db *DB) SaveGraph(graphID string, tasks []*models.Task, edges []models.Edge) error {
	edgesJSON, err := json.Marshal(edges)
	if err != nil {
		return fmt.Errorf("marshal edges: %w", err)
	}

	if _, err := db.Exec(`
		INSERT INTO graphs (id, edges, submitted_at, status)
		VALUES (?, ?, ?, 'active')
		ON CONFLICT(id) DO UPDATE SET edges = excluded.edges
	`, graphID, string(edgesJSON), formatTime(time.Now())); err != nil {
		return fmt.Errorf("save graph %s: %w", graphID, err)
	}

	for _, t := range tasks {
		if err := db.SaveTask(t); err != nil {
			return err
		}
	}
	return nil
}

// SaveTask upserts one task's full state.
func (db *DB) SaveTask(t *models.Task) error {
	caps, err := json.Marshal(t.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	deps, err := json.Marshal(t.DependsOn)
	if err != nil {
		return fmt.Errorf("marshal depends_on: %w", err)
	}
	var result any
	if t.Result != nil {
		b, err := json.Marshal(t.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		result = string(b)
	}
	var completedAt any
	if t.CompletedAt != nil {
		completedAt = formatTime(*t.CompletedAt)
	}

	_, err = db.Exec(`
		INSERT INTO tasks
			(id, graph_id, project_id, title, description, capabilities,
			 depends_on, priority, state, assigned_to, attempts,
			 estimated_tokens, error, result, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			assigned_to = excluded.assigned_to,
			attempts = excluded.attempts,
			error = excluded.error,
			result = excluded.result,
			completed_at = excluded.completed_at
	`,
		t.ID, t.GraphID, t.ProjectID, t.Title, t.Description, string(caps),
		string(deps), t.Priority, string(t.State), t.AssignedTo, t.Attempts,
		t.EstimatedTokens, t.Error, result, formatTime(t.CreatedAt), completedAt,
	)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// MarkGraphDone flips a graph's status once every task is terminal.
func (db *DB) MarkGraphDone(graphID string) error {
	_, err := db.Exec("UPDATE graphs SET status = 'done' WHERE id = ?", graphID)
	return err
}

// ActiveGraphs returns the IDs of graphs not yet marked done.
func (db *DB) ActiveGraphs() ([]string, error) {
	rows, err := db.Query("SELECT id FROM graphs WHERE status = 'active' ORDER BY submitted_at, id")
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

// GraphEdges returns the persisted edge list for a graph.
func (db *DB) GraphEdges(graphID string) ([]models.Edge, error) {
	var edgesJSON sql.NullString
	row := db.QueryRow("SELECT edges FROM graphs WHERE id = ?", graphID)
	if err := row.Scan(&edgesJSON); err != nil {
		return nil, fmt.Errorf("graph %s: %w", graphID, err)
	}

	var edges []models.Edge
	if edgesJSON.Valid && edgesJSON.String != "" {
		if err := json.Unmarshal([]byte(edgesJSON.String), &edges); err != nil {
			return nil, fmt.Errorf("unmarshal edges: %w", err)
		}
	}
	return edges, nil
}

// GraphTasks returns every persisted task of a graph, in creation order.
func (db *DB) GraphTasks(graphID string) ([]*models.Task, error) {
	rows, err := db.Query(`
		SELECT id, graph_id, project_id, title, description, capabilities,
		       depends_on, priority, state, assigned_to, attempts,
		       estimated_tokens, error, result, created_at, completed_at
		FROM tasks WHERE graph_id = ? ORDER BY created_at, id
	`, graphID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(rows *sql.Rows) (*models.Task, error) {
	var (
		t           models.Task
		projectID   sql.NullString
		title       sql.NullString
		description sql.NullString
		caps        sql.NullString
		deps        sql.NullString
		state       string
		assignedTo  sql.NullString
		errMsg      sql.NullString
		result      sql.NullString
		createdAt   string
		completedAt sql.NullString
	)
	err := rows.Scan(&t.ID, &t.GraphID, &projectID, &title, &description,
		&caps, &deps, &t.Priority, &state, &assignedTo, &t.Attempts,
		&t.EstimatedTokens, &errMsg, &result, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}

	t.ProjectID = projectID.String
	t.Title = title.String
	t.Description = description.String
	t.State = models.TaskState(state)
	t.AssignedTo = assignedTo.String
	t.Error = errMsg.String
	if caps.Valid && caps.String != "" {
		if err := json.Unmarshal([]byte(caps.String), &t.Capabilities); err != nil {
			return nil, fmt.Errorf("unmarshal capabilities: %w", err)
		}
	}
	if deps.Valid && deps.String != "" {
		if err := json.Unmarshal([]byte(deps.String), &t.DependsOn); err != nil {
			return nil, fmt.Errorf("unmarshal depends_on: %w", err)
		}
	}
	if result.Valid && result.String != "" {
		var r models.Result
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		t.Result = &r
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	t.CompletedAt = parseNullableTime(completedAt)
	return &t, nil
}
