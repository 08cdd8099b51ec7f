package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"forge/internal/artifact"
	"forge/internal/bus"
	"forge/internal/capability"
	"forge/internal/catalog"
	"forge/internal/logging"
	"forge/internal/types"
)

// RunStore persists run records across daemon restarts.
type RunStore interface {
	SaveRun(record types.RunRecord) error
	GetRun(id string) (types.RunRecord, bool, error)
	DeleteRun(id string) error
	ListRuns() ([]types.RunRecord, error)
}

// CreateRunRequest carries the user-supplied inputs for a new run.
type CreateRunRequest struct {
	Kind        types.RunKind        `json:"kind,omitempty"`
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Target      string               `json:"target,omitempty"`
	DocType     string               `json:"doc_type,omitempty"`
	Agents      types.AgentSelection `json:"agents,omitzero"`
}

// Engine owns every live run controller plus the shared artifact store, event
// bus, capability, and persistence.
type Engine struct {
	mu          sync.Mutex
	controllers map[string]*Controller

	bus     *bus.Bus
	store   *artifact.Store
	runs    RunStore
	catalog *catalog.Catalog
	gen     capability.Generator

	log         logging.Logger
	maxAttempts int
	retry       RetryPolicy
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(log logging.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithMaxStepAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(e *Engine) {
		if policy != nil {
			e.retry = policy
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(eventBus *bus.Bus, artifacts *artifact.Store, runs RunStore, agents *catalog.Catalog, gen capability.Generator, opts ...Option) *Engine {
	e := &Engine{
		controllers: make(map[string]*Controller),
		bus:         eventBus,
		store:       artifacts,
		runs:        runs,
		catalog:     agents,
		gen:         gen,
		log:         logging.Nop(),
		maxAttempts: 3,
		retry:       defaultRetryPolicy(),
		now:         time.Now,
	}
	if e.catalog == nil {
		e.catalog = catalog.Empty()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) executor() *Executor {
	return &Executor{
		Gen:         e.gen,
		Store:       e.store,
		MaxAttempts: e.maxAttempts,
		Retry:       e.retry,
		Log:         e.log,
	}
}

// CreateRun validates the request, provisions the run's artifact space and
// step graph, and starts the controller loop.
func (e *Engine) CreateRun(ctx context.Context, req CreateRunRequest) (types.RunSnapshot, error) {
	if strings.TrimSpace(req.Title) == "" {
		return types.RunSnapshot{}, fmt.Errorf("%w: title is required", ErrInvalidSpec)
	}
	if strings.TrimSpace(req.Description) == "" {
		return types.RunSnapshot{}, fmt.Errorf("%w: description is required", ErrInvalidSpec)
	}
	kind := req.Kind
	if kind == "" {
		kind = types.RunKindProject
	}
	if kind != types.RunKindProject && kind != types.RunKindDocument {
		return types.RunSnapshot{}, fmt.Errorf("%w: unknown run kind %q", ErrInvalidSpec, req.Kind)
	}
	resolved, err := e.catalog.Resolve(req.Agents)
	if err != nil {
		return types.RunSnapshot{}, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	run := types.Run{
		ID:          uuid.NewString(),
		Kind:        kind,
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Target:      strings.TrimSpace(req.Target),
		DocType:     strings.TrimSpace(req.DocType),
		Agents:      req.Agents,
		Status:      types.RunStatusCreating,
		CreatedAt:   e.now(),
	}
	if err := e.store.EnsureRun(run.ID, run); err != nil {
		return types.RunSnapshot{}, err
	}

	ctrl, err := newController(run, Blueprint(kind), resolved.Persona, e.bus, e.executor(), e.log, e.saveRecord)
	if err != nil {
		return types.RunSnapshot{}, err
	}
	ctrl.now = e.now

	e.mu.Lock()
	e.controllers[run.ID] = ctrl
	e.mu.Unlock()

	ctrl.emit(types.EventTypeEvent, "system", types.EventLevelInfo,
		fmt.Sprintf("Run created: %s", run.Title), "", "")
	ctrl.persist()
	e.log.Info("run_created",
		logging.F("run_id", run.ID),
		logging.F("kind", string(kind)),
		logging.F("agents", resolved.Label),
	)

	go ctrl.Loop(context.WithoutCancel(ctx))
	return ctrl.Snapshot(), nil
}

func (e *Engine) saveRecord(record types.RunRecord) {
	if e.runs == nil {
		return
	}
	if err := e.runs.SaveRun(record); err != nil {
		e.log.Warn("run_persist_failed", logging.F("run_id", record.Run.ID), logging.F("error", err))
	}
}

// Controller returns the live controller for an active run.
func (e *Engine) Controller(id string) (*Controller, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctrl, ok := e.controllers[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return ctrl, nil
}

// Snapshot returns the current state of a run, live or persisted.
func (e *Engine) Snapshot(id string) (types.RunSnapshot, error) {
	e.mu.Lock()
	ctrl, ok := e.controllers[id]
	e.mu.Unlock()
	if ok {
		return ctrl.Snapshot(), nil
	}
	if e.runs != nil {
		record, found, err := e.runs.GetRun(id)
		if err != nil {
			return types.RunSnapshot{}, err
		}
		if found {
			return types.RunSnapshot{Run: record.Run, Steps: record.Steps}, nil
		}
	}
	return types.RunSnapshot{}, ErrRunNotFound
}

// List returns every known run, live first by recency.
func (e *Engine) List() ([]types.RunSnapshot, error) {
	seen := make(map[string]bool)
	var out []types.RunSnapshot

	e.mu.Lock()
	for id, ctrl := range e.controllers {
		seen[id] = true
		out = append(out, ctrl.Snapshot())
	}
	e.mu.Unlock()

	if e.runs != nil {
		records, err := e.runs.ListRuns()
		if err != nil {
			return nil, err
		}
		for _, record := range records {
			if seen[record.Run.ID] {
				continue
			}
			out = append(out, types.RunSnapshot{Run: record.Run, Steps: record.Steps})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Run.CreatedAt.After(out[j].Run.CreatedAt)
	})
	return out, nil
}

// Cancel requests a cooperative stop. Cancelling a run that already terminated
// is a no-op.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	ctrl, ok := e.controllers[id]
	e.mu.Unlock()
	if ok {
		ctrl.Cancel()
		return nil
	}
	snapshot, err := e.Snapshot(id)
	if err != nil {
		return err
	}
	if !snapshot.Run.Status.Terminal() {
		return fmt.Errorf("run %s has no live controller", id)
	}
	return nil
}

// Delete removes a terminated run, its artifacts, and its event log.
func (e *Engine) Delete(id string) error {
	snapshot, err := e.Snapshot(id)
	if err != nil {
		return err
	}
	if !snapshot.Run.Status.Terminal() {
		return ErrRunActive
	}

	e.mu.Lock()
	delete(e.controllers, id)
	e.mu.Unlock()

	e.bus.Drop(id)
	if err := e.store.DeleteRun(id); err != nil {
		return err
	}
	if e.runs != nil {
		if err := e.runs.DeleteRun(id); err != nil {
			return err
		}
	}
	e.log.Info("run_deleted", logging.F("run_id", id))
	return nil
}

// ReloadRuns reconciles persisted state after a restart. Runs that were still
// in flight when the previous process exited cannot be resumed; they are
// marked failed so clients never see a phantom active run.
func (e *Engine) ReloadRuns() error {
	if e.runs == nil {
		return nil
	}
	records, err := e.runs.ListRuns()
	if err != nil {
		return err
	}
	for _, record := range records {
		if record.Run.Status.Terminal() {
			continue
		}
		completed := e.now()
		record.Run.Status = types.RunStatusFailed
		record.Run.CompletedAt = &completed
		record.Run.LastError = "daemon restarted while run was active"
		for i := range record.Steps {
			switch record.Steps[i].Status {
			case types.StepStatusPending:
				record.Steps[i].Status = types.StepStatusSkipped
			case types.StepStatusRunning:
				record.Steps[i].Status = types.StepStatusFailed
				record.Steps[i].Error = "daemon restarted"
			}
		}
		if err := e.runs.SaveRun(record); err != nil {
			return err
		}
		e.log.Warn("run_marked_failed_on_reload", logging.F("run_id", record.Run.ID))
	}
	return nil
}

// Shutdown cancels every live run and waits for their loops to finish.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	controllers := make([]*Controller, 0, len(e.controllers))
	for _, ctrl := range e.controllers {
		controllers = append(controllers, ctrl)
	}
	e.mu.Unlock()

	for _, ctrl := range controllers {
		ctrl.Cancel()
	}
	for _, ctrl := range controllers {
		select {
		case <-ctrl.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
