// Package intake parses task graph files and watches intake directories
// for new submissions.
package intake

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mgearhart/drover/pkg/models"
)

// GraphFile is the YAML document describing one task graph submission.
type GraphFile struct {
	// Project scopes every task in the file unless a task overrides it.
	Project string      `yaml:"project"`
	Tasks   []TaskEntry `yaml:"tasks"`
	Edges   []EdgeEntry `yaml:"edges"`
}

// TaskEntry is one task in a graph file.
type TaskEntry struct {
	ID              string   `yaml:"id"`
	Title           string   `yaml:"title"`
	Description     string   `yaml:"description"`
	Project         string   `yaml:"project"`
	Capabilities    []string `yaml:"capabilities"`
	DependsOn       []string `yaml:"depends_on"`
	Priority        int      `yaml:"priority"`
	EstimatedTokens int64    `yaml:"estimated_tokens"`
}

// EdgeEntry is one explicit dependency edge: to depends on from.
type EdgeEntry struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Parse reads a graph file into tasks and edges ready for submission.
func Parse(data []byte) ([]*models.Task, []models.Edge, error) {
	var gf GraphFile
	if err := yaml.Unmarshal(data, &gf); err != nil {
		return nil, nil, fmt.Errorf("parse graph file: %w", err)
	}
	if len(gf.Tasks) == 0 {
		return nil, nil, fmt.Errorf("graph file declares no tasks")
	}

	tasks := make([]*models.Task, 0, len(gf.Tasks))
	for i, e := range gf.Tasks {
		if e.ID == "" {
			return nil, nil, fmt.Errorf("task %d: id required", i)
		}
		project := e.Project
		if project == "" {
			project = gf.Project
		}
		tasks = append(tasks, &models.Task{
			ID:              e.ID,
			ProjectID:       project,
			Title:           e.Title,
			Description:     e.Description,
			Capabilities:    e.Capabilities,
			DependsOn:       e.DependsOn,
			Priority:        e.Priority,
			EstimatedTokens: e.EstimatedTokens,
		})
	}

	edges := make([]models.Edge, 0, len(gf.Edges))
	for i, e := range gf.Edges {
		if e.From == "" || e.To == "" {
			return nil, nil, fmt.Errorf("edge %d: from and to required", i)
		}
		edges = append(edges, models.Edge{From: e.From, To: e.To})
	}
	return tasks, edges, nil
}

// ParseFile reads and parses a graph file from disk.
func ParseFile(path string) ([]*models.Task, []models.Edge, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(data)
}
