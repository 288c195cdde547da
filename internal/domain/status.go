package domain

// ExecutionStatus is the lifecycle state of a JobExecution.
type ExecutionStatus string

const (
	ExecutionQueued     ExecutionStatus = "queued"
	ExecutionRunning    ExecutionStatus = "running"
	ExecutionSuccess    ExecutionStatus = "success"
	ExecutionFailure    ExecutionStatus = "failure"
	ExecutionTimedOut   ExecutionStatus = "timed_out"
	ExecutionDeadLetter ExecutionStatus = "dead_letter"
)

// IsTerminal reports whether the status admits no further transition.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionSuccess, ExecutionFailure, ExecutionTimedOut, ExecutionDeadLetter:
		return true
	}
	return false
}

// RunStatus is the lifecycle state of a CollectionRun.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the run reached a final state.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}
