package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"forge/internal/bus"
	"forge/internal/logging"
	"forge/internal/types"
)

// Controller drives a single run from creating to a terminal state. It is the
// only writer of the run's status and step states; everything else observes
// through Snapshot or the event bus.
type Controller struct {
	mu      sync.Mutex
	run     types.Run
	graph   *graph
	outputs map[string]string
	persona string
	tail    []types.Event

	bus  *bus.Bus
	exec *Executor
	log  logging.Logger
	save func(types.RunRecord)
	now  func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newController(run types.Run, specs []StepSpec, persona string, eventBus *bus.Bus, exec *Executor, log logging.Logger, save func(types.RunRecord)) (*Controller, error) {
	g, err := newGraph(specs)
	if err != nil {
		return nil, err
	}
	if save == nil {
		save = func(types.RunRecord) {}
	}
	return &Controller{
		run:     run,
		graph:   g,
		outputs: make(map[string]string),
		persona: persona,
		bus:     eventBus,
		exec:    exec,
		log:     log,
		save:    save,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Snapshot returns a point-in-time copy of the run and its steps.
func (c *Controller) Snapshot() types.RunSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.RunSnapshot{Run: c.run, Steps: c.graph.snapshot()}
}

func (c *Controller) record() types.RunRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := append(c.bus.Recent(c.run.ID), c.tail...)
	if overflow := len(events) - bus.DefaultRetention; overflow > 0 {
		events = events[overflow:]
	}
	return types.RunRecord{Run: c.run, Steps: c.graph.snapshot(), Events: events}
}

// Done is closed once the run reaches a terminal state.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Cancel requests a cooperative stop. The in-flight step finishes; the run
// transitions to stopped at the next step boundary. Safe to call repeatedly
// and after the run has already terminated.
func (c *Controller) Cancel() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.mu.Lock()
		terminal := c.run.Status.Terminal()
		c.mu.Unlock()
		if !terminal {
			c.emit(types.EventTypeEvent, "system", types.EventLevelInfo, "Stop requested", "", "")
		}
	})
}

func (c *Controller) stopRequested() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// Loop runs the step graph to completion. It must be called exactly once, on
// its own goroutine.
func (c *Controller) Loop(ctx context.Context) {
	defer close(c.done)
	for {
		if c.stopRequested() || ctx.Err() != nil {
			c.finishStopped()
			return
		}

		c.mu.Lock()
		step := c.graph.nextEligible()
		if step == nil {
			allDone := c.graph.allDone()
			c.mu.Unlock()
			if allDone {
				c.finishDone()
			} else {
				c.finishFailed("", fmt.Errorf("%w: no eligible step", ErrInvalidGraph))
			}
			return
		}
		started := c.now()
		step.Status = types.StepStatusRunning
		step.StartedAt = &started
		c.advanceStageLocked(step.Stage)
		req := execRequest{
			Run:     c.run,
			Step:    *step,
			Persona: c.persona,
			Outputs: copyOutputs(c.outputs),
			Emit:    c.stepSink(step.ID),
		}
		c.mu.Unlock()

		c.emit(types.EventTypeEvent, req.Step.Role, types.EventLevelInfo,
			fmt.Sprintf("Step %s started", req.Step.Name), req.Step.ID, "")
		c.persist()

		text, attempts, err := c.exec.Execute(ctx, req)

		c.mu.Lock()
		step = c.graph.step(req.Step.ID)
		completed := c.now()
		step.Attempts = attempts
		step.CompletedAt = &completed
		if err != nil {
			step.Status = types.StepStatusFailed
			step.Error = err.Error()
			c.mu.Unlock()
			if c.stopRequested() || errors.Is(err, context.Canceled) {
				c.finishStopped()
				return
			}
			c.finishFailed(req.Step.ID, err)
			return
		}
		step.Status = types.StepStatusDone
		c.outputs[req.Step.Name] = text
		c.mu.Unlock()

		c.emit(types.EventTypeEvent, req.Step.Role, types.EventLevelInfo,
			fmt.Sprintf("Step %s completed", req.Step.Name), req.Step.ID, "")
		c.persist()
	}
}

// NoteUserWrite records a manual file save in the run's event log. It
// persists the record so saves against a finished run survive the closed
// live stream.
func (c *Controller) NoteUserWrite(path string) {
	c.emit(types.EventTypeEvent, "user", types.EventLevelInfo, "File "+path+" written", "", path)
	c.persist()
}

// stepSink routes executor progress onto the bus, tagged with the step id.
func (c *Controller) stepSink(stepID string) EventSink {
	return func(agent string, level types.EventLevel, message, artifactPath string) {
		c.emit(types.EventTypeEvent, agent, level, message, stepID, artifactPath)
	}
}

// advanceStageLocked raises the run status to the step's stage. Status only
// moves forward, so a fix step at the reviewing stage never rewinds a run.
func (c *Controller) advanceStageLocked(stage types.RunStatus) {
	if stage.Rank() <= c.run.Status.Rank() || c.run.Status.Terminal() {
		return
	}
	c.run.Status = stage
	c.bus.Append(c.run.ID, types.Event{
		Type:      types.EventTypeStatus,
		Timestamp: c.now(),
		RunID:     c.run.ID,
		Agent:     "system",
		Level:     types.EventLevelInfo,
		Message:   string(stage),
	})
}

func (c *Controller) finishDone() {
	c.mu.Lock()
	completed := c.now()
	c.run.Status = types.RunStatusDone
	c.run.CompletedAt = &completed
	c.mu.Unlock()
	c.emit(types.EventTypeStatus, "system", types.EventLevelInfo, string(types.RunStatusDone), "", "")
	c.emit(types.EventTypeEvent, "system", types.EventLevelInfo, "Run completed", "", "")
	c.finalize()
}

func (c *Controller) finishFailed(stepID string, err error) {
	c.mu.Lock()
	skipped := c.graph.skipPending()
	completed := c.now()
	c.run.Status = types.RunStatusFailed
	c.run.CompletedAt = &completed
	c.run.LastError = err.Error()
	c.mu.Unlock()
	for _, id := range skipped {
		c.emit(types.EventTypeEvent, "system", types.EventLevelWarn, "Step skipped", id, "")
	}
	c.emit(types.EventTypeStatus, "system", types.EventLevelError, string(types.RunStatusFailed), "", "")
	c.emit(types.EventTypeEvent, "system", types.EventLevelError, fmt.Sprintf("Run failed: %v", err), stepID, "")
	if c.log != nil {
		c.log.Error("run_failed", logging.F("run_id", c.run.ID), logging.F("step", stepID), logging.F("error", err))
	}
	c.finalize()
}

func (c *Controller) finishStopped() {
	c.mu.Lock()
	if c.run.Status.Terminal() {
		c.mu.Unlock()
		return
	}
	skipped := c.graph.skipPending()
	completed := c.now()
	c.run.Status = types.RunStatusStopped
	c.run.CompletedAt = &completed
	c.mu.Unlock()
	for _, id := range skipped {
		c.emit(types.EventTypeEvent, "system", types.EventLevelInfo, "Step skipped", id, "")
	}
	c.emit(types.EventTypeStatus, "system", types.EventLevelInfo, string(types.RunStatusStopped), "", "")
	c.emit(types.EventTypeEvent, "system", types.EventLevelInfo, "Run stopped", "", "")
	c.finalize()
}

// finalize persists the terminal record and closes the run's event log so
// stream subscribers see end-of-stream.
func (c *Controller) finalize() {
	c.persist()
	c.bus.Close(c.run.ID)
}

func (c *Controller) persist() {
	c.save(c.record())
}

func (c *Controller) emit(eventType, agent string, level types.EventLevel, message, stepID, artifactPath string) {
	event := types.Event{
		Type:         eventType,
		Timestamp:    c.now(),
		RunID:        c.run.ID,
		Agent:        agent,
		Level:        level,
		Message:      message,
		StepID:       stepID,
		ArtifactPath: artifactPath,
	}
	if c.bus.Append(c.run.ID, event) {
		return
	}
	// The live log is closed; keep post-run activity in the persisted record.
	c.mu.Lock()
	c.tail = append(c.tail, event)
	if overflow := len(c.tail) - bus.DefaultRetention; overflow > 0 {
		c.tail = c.tail[overflow:]
	}
	c.mu.Unlock()
}

func copyOutputs(outputs map[string]string) map[string]string {
	out := make(map[string]string, len(outputs))
	for k, v := range outputs {
		out[k] = v
	}
	return out
}
