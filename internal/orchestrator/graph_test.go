package orchestrator

import (
	"errors"
	"testing"

	"forge/internal/types"
)

func TestNewGraphRejectsBadTopology(t *testing.T) {
	cases := []struct {
		name  string
		specs []StepSpec
	}{
		{"empty", nil},
		{"missing id", []StepSpec{{Name: "plan"}}},
		{"duplicate id", []StepSpec{{ID: "a"}, {ID: "a"}}},
		{"unknown dep", []StepSpec{{ID: "a", DependsOn: []string{"zzz"}}}},
		{"forward dep", []StepSpec{{ID: "a", DependsOn: []string{"b"}}, {ID: "b"}}},
		{"self dep", []StepSpec{{ID: "a", DependsOn: []string{"a"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := newGraph(tc.specs); !errors.Is(err, ErrInvalidGraph) {
				t.Fatalf("err = %v, want ErrInvalidGraph", err)
			}
		})
	}
}

func TestNextEligibleRespectsDependencies(t *testing.T) {
	g, err := newGraph(Blueprint(types.RunKindProject))
	if err != nil {
		t.Fatalf("newGraph: %v", err)
	}

	step := g.nextEligible()
	if step == nil || step.ID != "plan" {
		t.Fatalf("first eligible = %v, want plan", step)
	}
	// write stays blocked until plan is done.
	step.Status = types.StepStatusRunning
	if next := g.nextEligible(); next != nil {
		t.Fatalf("eligible while plan running = %s, want none", next.ID)
	}
	step.Status = types.StepStatusDone
	if next := g.nextEligible(); next == nil || next.ID != "write" {
		t.Fatalf("eligible after plan = %v, want write", next)
	}
}

func TestSkipPendingLeavesFinishedStepsAlone(t *testing.T) {
	g, err := newGraph(Blueprint(types.RunKindProject))
	if err != nil {
		t.Fatalf("newGraph: %v", err)
	}
	g.step("plan").Status = types.StepStatusDone
	g.step("write").Status = types.StepStatusFailed

	skipped := g.skipPending()
	if len(skipped) != 4 {
		t.Fatalf("skipped %d steps, want 4", len(skipped))
	}
	if g.step("plan").Status != types.StepStatusDone {
		t.Fatal("done step was rewritten")
	}
	if g.step("write").Status != types.StepStatusFailed {
		t.Fatal("failed step was rewritten")
	}
	if g.allDone() {
		t.Fatal("allDone on a failed graph")
	}
}

func TestSnapshotIsdetached(t *testing.T) {
	g, err := newGraph(Blueprint(types.RunKindDocument))
	if err != nil {
		t.Fatalf("newGraph: %v", err)
	}
	snapshot := g.snapshot()
	snapshot[0].Status = types.StepStatusFailed
	if g.steps[0].Status != types.StepStatusPending {
		t.Fatal("snapshot mutation leaked into graph")
	}
}
