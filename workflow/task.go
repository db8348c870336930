package workflow

import "fmt"

// Task is one stage-execution job. The engine enqueues tasks on a Runner and
// the runner calls back into the engine to execute them. Payload carries the
// stage input artifact: the user prompt for Plan, the outline for Draft, and
// the current content for the gate stages.
type Task struct {
	ID         string   `json:"id"`
	DocumentID string   `json:"document_id"`
	Stage      NodeType `json:"stage"`
	// Attempt counts deliveries of this task, starting at 1. Infrastructure
	// retries re-deliver with the attempt incremented.
	Attempt int `json:"attempt"`
	// Generation is the document's start generation at enqueue time. Stop
	// and restart bump the generation, so stale tasks from a cancelled run
	// are recognized and dropped.
	Generation int    `json:"generation"`
	Payload    string `json:"payload"`
	// RetryCount is the gate-failure retry count to stamp on the stage's
	// node. Zero for first executions, incremented by rollbacks.
	RetryCount int `json:"retry_count"`
}

// Key identifies the task for logging and deduplication.
func (t Task) Key() string {
	return fmt.Sprintf("%s/%s/%d", t.DocumentID, t.Stage, t.Attempt)
}

// Runner schedules stage tasks for execution. Implementations guarantee
// at-least-once delivery and per-document serialization: at any instant at
// most one task per document is executing.
type Runner interface {
	// Submit schedules a task. It returns once the task is durably queued,
	// not once it has run.
	Submit(task Task) error
}
