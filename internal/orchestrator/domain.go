// Package orchestrator owns the run lifecycle: it builds the step graph at
// creation, drives it through the agent executor one step at a time, is the
// single writer of run and step status, and multiplexes progress onto the
// event bus.
package orchestrator

import (
	"errors"

	"forge/internal/types"
)

var (
	ErrRunNotFound   = errors.New("orchestrator: run not found")
	ErrRunActive     = errors.New("orchestrator: run is still active")
	ErrInvalidSpec   = errors.New("orchestrator: invalid run spec")
	ErrInvalidGraph  = errors.New("orchestrator: invalid step graph")
	ErrStepFailed    = errors.New("orchestrator: step failed")
	ErrNoReviewFiles = errors.New("orchestrator: no reviewable files")
)

// StepSpec declares one node of a run's graph. Dependencies must reference
// steps declared earlier, which keeps the graph acyclic by construction and
// makes the scheduling order deterministic.
type StepSpec struct {
	ID        string
	Name      string
	Role      string
	Stage     types.RunStatus
	DependsOn []string
}

// Blueprint returns the step graph for a run kind. Documents use the shorter
// chain; the step names double as the executor's dispatch key.
func Blueprint(kind types.RunKind) []StepSpec {
	if kind == types.RunKindDocument {
		return []StepSpec{
			{ID: "outline", Name: "outline", Role: "editor", Stage: types.RunStatusPlanning},
			{ID: "draft", Name: "draft", Role: "writer", Stage: types.RunStatusWriting, DependsOn: []string{"outline"}},
			{ID: "compile", Name: "compile", Role: "system", Stage: types.RunStatusCompiling, DependsOn: []string{"draft"}},
		}
	}
	return []StepSpec{
		{ID: "plan", Name: "plan", Role: "ceo", Stage: types.RunStatusPlanning},
		{ID: "write", Name: "write", Role: "developer", Stage: types.RunStatusWriting, DependsOn: []string{"plan"}},
		{ID: "review", Name: "review", Role: "reviewer", Stage: types.RunStatusReviewing, DependsOn: []string{"write"}},
		{ID: "fix", Name: "fix", Role: "developer", Stage: types.RunStatusReviewing, DependsOn: []string{"review"}},
		{ID: "package", Name: "package", Role: "system", Stage: types.RunStatusCompiling, DependsOn: []string{"fix"}},
		{ID: "smoke", Name: "smoke", Role: "tester", Stage: types.RunStatusRunning, DependsOn: []string{"package"}},
	}
}
