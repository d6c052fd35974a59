package domain

import (
	"fmt"
	"time"
)

// State is a run's position in the stage state machine.
type State string

const (
	StatePending    State = "pending"
	StateExtracting State = "extracting"
	StateStaging    State = "staging"
	StateLoading    State = "loading"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Stage names an independently retried unit of work.
type Stage string

const (
	StageExtracting Stage = "extracting"
	StageStaging    Stage = "staging"
	StageLoading    Stage = "loading"
)

// Stages lists the stages in execution order.
var Stages = []Stage{StageExtracting, StageStaging, StageLoading}

// State returns the in-progress state for the stage.
func (s Stage) State() State {
	return State(s)
}

// transitions enumerates the legal forward moves. Failed is reachable from
// every non-terminal state and has no outgoing edges; failing from pending
// means the run never started a stage.
var transitions = map[State][]State{
	StatePending:    {StateExtracting, StateFailed},
	StateExtracting: {StateStaging, StateFailed},
	StateStaging:    {StateLoading, StateFailed},
	StateLoading:    {StateSucceeded, StateFailed},
}

// CanTransition reports whether a run may move from s to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// RunStatus is the externally reported outcome of one run.
type RunStatus struct {
	RunID       string        `json:"run_id"`
	Key         PartitionKey  `json:"partition_key"`
	State       State         `json:"state"`
	FailedStage Stage         `json:"failed_stage,omitempty"`
	Attempts    map[Stage]int `json:"attempts,omitempty"`
	Skipped     bool          `json:"skipped,omitempty"`
	Staged      *StagedObject `json:"staged,omitempty"`
	Result      *LoadResult   `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// Succeeded reports whether the run completed its load (or was already loaded).
func (s RunStatus) Succeeded() bool {
	return s.State == StateSucceeded
}

// Label renders the status as "succeeded" or "failed(stage)".
func (s RunStatus) Label() string {
	if s.State == StateFailed && s.FailedStage == "" {
		return "failed(not started)"
	}
	if s.State == StateFailed {
		return fmt.Sprintf("failed(%s)", s.FailedStage)
	}
	return string(s.State)
}
