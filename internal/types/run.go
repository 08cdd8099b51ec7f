package types

import (
	"strings"
	"time"
)

type RunKind string

const (
	RunKindProject  RunKind = "project"
	RunKindDocument RunKind = "document"
)

type RunStatus string

const (
	RunStatusCreating  RunStatus = "creating"
	RunStatusPlanning  RunStatus = "planning"
	RunStatusWriting   RunStatus = "writing"
	RunStatusReviewing RunStatus = "reviewing"
	RunStatusCompiling RunStatus = "compiling"
	RunStatusRunning   RunStatus = "running"
	RunStatusDone      RunStatus = "done"
	RunStatusFailed    RunStatus = "failed"
	RunStatusStopped   RunStatus = "stopped"
)

// Terminal reports whether the status is one of the absorbing states.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusDone, RunStatusFailed, RunStatusStopped:
		return true
	}
	return false
}

// statusRank orders the forward progression. Terminal states share the top rank
// so exactly one of them can absorb a run.
var statusRank = map[RunStatus]int{
	RunStatusCreating:  0,
	RunStatusPlanning:  1,
	RunStatusWriting:   2,
	RunStatusReviewing: 3,
	RunStatusCompiling: 4,
	RunStatusRunning:   5,
	RunStatusDone:      6,
	RunStatusFailed:    6,
	RunStatusStopped:   6,
}

// Rank returns the position of the status in the forward progression, or -1
// for an unknown status.
func (s RunStatus) Rank() int {
	rank, ok := statusRank[s]
	if !ok {
		return -1
	}
	return rank
}

// AgentSelection is the polymorphic agent choice supplied at run creation.
// At most one field is set; all empty selects the default configuration.
type AgentSelection struct {
	Preset  string `json:"preset,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
	TeamID  string `json:"team_id,omitempty"`
}

func (s AgentSelection) IsZero() bool {
	return strings.TrimSpace(s.Preset) == "" &&
		strings.TrimSpace(s.AgentID) == "" &&
		strings.TrimSpace(s.TeamID) == ""
}

// Run is the metadata record for one orchestrated execution.
type Run struct {
	ID          string         `json:"id"`
	Kind        RunKind        `json:"kind"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Target      string         `json:"target,omitempty"`
	DocType     string         `json:"doc_type,omitempty"`
	Agents      AgentSelection `json:"agents,omitzero"`
	Status      RunStatus      `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
}

type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusRunning StepStatus = "running"
	StepStatusDone    StepStatus = "done"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
)

// Step is one unit of work in a run's graph. Topology (ID, DependsOn) is fixed
// at run creation; only status fields mutate afterwards.
type Step struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Role        string     `json:"role"`
	Stage       RunStatus  `json:"stage"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	Status      StepStatus `json:"status"`
	Attempts    int        `json:"attempts,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RunSnapshot is a point-in-time view of a run and its steps.
type RunSnapshot struct {
	Run   Run    `json:"run"`
	Steps []Step `json:"steps"`
}

// RunRecord is the persisted form of a run: its metadata, step states, and the
// retained tail of its event log.
type RunRecord struct {
	Run    Run     `json:"run"`
	Steps  []Step  `json:"steps"`
	Events []Event `json:"events,omitempty"`
}
