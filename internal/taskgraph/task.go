// Package taskgraph implements the Task Graph Builder (C5) and the Task
// Graph (C6): expansion of a (target, project set) request into a task
// DAG, dependency reference resolution, cycle detection, layering, and
// subgraph extraction.
package taskgraph

import (
	"github.com/jbadeau/forge/internal/project"
)

// State is a Task's lifecycle state, mutated only by the Scheduler.
type State string

const (
	Pending   State = "PENDING"
	Ready     State = "READY"
	Running   State = "RUNNING"
	Completed State = "COMPLETED"
	Failed    State = "FAILED"
	Skipped   State = "SKIPPED"
	Cached    State = "CACHED"
)

// ID is a stable "<project>:<target>" identifier.
type ID = string

// Task is one resolved unit of work.
type Task struct {
	ID          ID
	Project     string
	ProjectRoot string
	TargetName  string
	Target     project.Target
	DependsOn  []ID
	Inputs     []string
	Outputs    []string
	Cacheable  bool
	State      State
}
