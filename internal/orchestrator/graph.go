package orchestrator

import (
	"fmt"

	"forge/internal/types"
)

// graph holds a run's steps in declaration order. Topology never changes after
// construction; only per-step status fields do, and only the owning controller
// mutates them.
type graph struct {
	steps []types.Step
	index map[string]int
}

func newGraph(specs []StepSpec) (*graph, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no steps", ErrInvalidGraph)
	}
	g := &graph{
		steps: make([]types.Step, 0, len(specs)),
		index: make(map[string]int, len(specs)),
	}
	for i, spec := range specs {
		if spec.ID == "" {
			return nil, fmt.Errorf("%w: step %d has no id", ErrInvalidGraph, i)
		}
		if _, dup := g.index[spec.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate step id %q", ErrInvalidGraph, spec.ID)
		}
		for _, dep := range spec.DependsOn {
			at, ok := g.index[dep]
			if !ok || at >= i {
				return nil, fmt.Errorf("%w: step %q depends on undeclared step %q", ErrInvalidGraph, spec.ID, dep)
			}
		}
		g.index[spec.ID] = i
		g.steps = append(g.steps, types.Step{
			ID:        spec.ID,
			Name:      spec.Name,
			Role:      spec.Role,
			Stage:     spec.Stage,
			DependsOn: append([]string{}, spec.DependsOn...),
			Status:    types.StepStatusPending,
		})
	}
	return g, nil
}

func (g *graph) step(id string) *types.Step {
	return &g.steps[g.index[id]]
}

// nextEligible returns the first pending step, in declaration order, whose
// dependencies are all done.
func (g *graph) nextEligible() *types.Step {
	for i := range g.steps {
		step := &g.steps[i]
		if step.Status != types.StepStatusPending {
			continue
		}
		ready := true
		for _, dep := range step.DependsOn {
			if g.steps[g.index[dep]].Status != types.StepStatusDone {
				ready = false
				break
			}
		}
		if ready {
			return step
		}
	}
	return nil
}

func (g *graph) allDone() bool {
	for i := range g.steps {
		if g.steps[i].Status != types.StepStatusDone {
			return false
		}
	}
	return true
}

// skipPending marks every pending step skipped and returns their ids.
func (g *graph) skipPending() []string {
	var skipped []string
	for i := range g.steps {
		if g.steps[i].Status == types.StepStatusPending {
			g.steps[i].Status = types.StepStatusSkipped
			skipped = append(skipped, g.steps[i].ID)
		}
	}
	return skipped
}

func (g *graph) snapshot() []types.Step {
	out := make([]types.Step, len(g.steps))
	copy(out, g.steps)
	for i := range out {
		out[i].DependsOn = append([]string{}, g.steps[i].DependsOn...)
	}
	return out
}
