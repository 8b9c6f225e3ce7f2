package models

import "time"

// Reflection is a structured post-failure analysis used to inform retries.
type Reflection struct {
	// TaskID is the identifier of the failing task.
	TaskID string `json:"task_id"`
	// Attempt is the attempt number that produced this reflection.
	Attempt int `json:"attempt"`
	// RootCause summarizes why the attempt failed.
	RootCause string `json:"root_cause"`
	// InvalidatedAssumptions lists assumptions the failure disproved.
	InvalidatedAssumptions []string `json:"invalidated_assumptions,omitempty"`
	// RevisedApproach proposes how the next attempt should differ.
	RevisedApproach string `json:"revised_approach,omitempty"`
	// Generalizable indicates the analysis captures a pattern worth
	// promoting beyond this task.
	Generalizable bool `json:"generalizable"`
	// CreatedAt is when the reflection was produced.
	CreatedAt time.Time `json:"created_at"`
}
