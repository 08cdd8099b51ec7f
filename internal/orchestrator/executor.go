package orchestrator

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"forge/internal/artifact"
	"forge/internal/capability"
	"forge/internal/logging"
	"forge/internal/types"
)

// EventSink receives progress emitted while a step executes.
type EventSink func(agent string, level types.EventLevel, message, artifactPath string)

// Executor runs one step at a time against the current artifact state. It
// produces zero or more file writes and exactly one terminal outcome per step;
// partial writes before a failure are retained.
type Executor struct {
	Gen         capability.Generator
	Store       *artifact.Store
	MaxAttempts int
	Retry       RetryPolicy
	Sleep       func(ctx context.Context, d time.Duration) error
	Log         logging.Logger
}

func (e *Executor) maxAttempts() int {
	if e.MaxAttempts <= 0 {
		return 3
	}
	return e.MaxAttempts
}

func (e *Executor) retryPolicy() RetryPolicy {
	if e.Retry == nil {
		return defaultRetryPolicy()
	}
	return e.Retry
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type execRequest struct {
	Run     types.Run
	Step    types.Step
	Persona string
	Outputs map[string]string
	Emit    EventSink
}

// Execute runs the step to its terminal outcome. The returned attempt count
// includes the final one; a non-nil error is fatal to the run.
func (e *Executor) Execute(ctx context.Context, req execRequest) (string, int, error) {
	switch req.Step.Name {
	case "package":
		return e.packageStep(req)
	case "compile":
		return e.compileStep(req)
	case "smoke":
		return e.smokeStep(ctx, req)
	case "fix":
		verdict := parseReviewVerdict(req.Outputs["review"])
		if verdict.Approved && len(verdict.BlockingIssues) == 0 {
			req.Emit(req.Step.Role, types.EventLevelInfo, "Review approved; nothing to fix", "")
			return "No blocking issues reported.", 0, nil
		}
	}
	return e.generateStep(ctx, req)
}

// maxCorrectionRounds bounds the test-then-fix loop a failing smoke verdict
// triggers before the step turns fatal.
const maxCorrectionRounds = 2

// smokeStep runs the tester and, on a failing verdict, hands the reported
// issues to the fix role and re-tests, up to maxCorrectionRounds times.
func (e *Executor) smokeStep(ctx context.Context, req execRequest) (string, int, error) {
	text, attempts, err := e.generateStep(ctx, req)
	if err != nil {
		return "", attempts, err
	}
	verdict := parseSmokeVerdict(text)
	for round := 1; !verdict.Passed; round++ {
		if round > maxCorrectionRounds {
			return "", attempts, fmt.Errorf("smoke test failing after %d correction rounds: %s",
				maxCorrectionRounds, strings.Join(verdict.Issues, "; "))
		}
		req.Emit(req.Step.Role, types.EventLevelWarn,
			fmt.Sprintf("Smoke test failed, correcting (round %d/%d): %s",
				round, maxCorrectionRounds, strings.Join(verdict.Issues, "; ")), "")
		if err := e.correctIssues(ctx, req, verdict.Issues); err != nil {
			return "", attempts, err
		}
		if text, _, err = e.generateStep(ctx, req); err != nil {
			return "", attempts, err
		}
		verdict = parseSmokeVerdict(text)
	}
	return text, attempts, nil
}

// correctIssues re-invokes the fix role against the failing checks.
func (e *Executor) correctIssues(ctx context.Context, req execRequest, issues []string) error {
	fix := req
	fix.Step.Name = "fix"
	fix.Step.Role = "developer"
	fix.Outputs = map[string]string{
		"smoke": "Failing checks:\n- " + strings.Join(issues, "\n- "),
	}
	_, _, err := e.generateStep(ctx, fix)
	return err
}

func (e *Executor) generateStep(ctx context.Context, req execRequest) (string, int, error) {
	prompt := stepPrompt(req.Run, &req.Step, req.Persona, req.Outputs)
	files, err := e.contextFiles(req.Run.ID, req.Step.Name)
	if err != nil {
		return "", 0, err
	}

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts(); attempt++ {
		result, err := e.Gen.Generate(ctx, capability.Request{
			Role:    req.Step.Role,
			Prompt:  prompt,
			Context: files,
		})
		if err != nil {
			lastErr = err
			if !capability.IsTransient(err) || attempt == e.maxAttempts() {
				return "", attempt, err
			}
			delay := e.retryPolicy().NextDelay(attempt)
			req.Emit(req.Step.Role, types.EventLevelWarn,
				fmt.Sprintf("Step %s attempt %d failed, retrying in %s: %v", req.Step.Name, attempt, delay, err), "")
			if e.Log != nil {
				e.Log.Warn("step_retry",
					logging.F("run_id", req.Run.ID),
					logging.F("step", req.Step.ID),
					logging.F("attempt", attempt),
					logging.F("error", err),
				)
			}
			if err := e.sleep(ctx, delay); err != nil {
				return "", attempt, err
			}
			continue
		}
		if err := e.applyFileOps(req, result.FileOps); err != nil {
			return "", attempt, err
		}
		return result.Text, attempt, nil
	}
	return "", e.maxAttempts(), lastErr
}

// contextFiles loads the artifact snapshot for steps that read existing files.
func (e *Executor) contextFiles(runID, stepName string) ([]capability.ContextFile, error) {
	switch stepName {
	case "plan", "outline":
		return nil, nil
	}
	snapshot, err := e.Store.Snapshot(runID)
	if err != nil {
		return nil, err
	}
	scored := scoreContextFiles(snapshot, "")
	files := make([]capability.ContextFile, 0, len(scored))
	for _, file := range scored {
		files = append(files, capability.ContextFile{Path: file.path, Content: file.content})
	}
	return files, nil
}

func (e *Executor) applyFileOps(req execRequest, ops []capability.FileOp) error {
	for _, op := range ops {
		version, err := e.Store.Write(req.Run.ID, op.Path, []byte(op.Content), types.ActorAgent)
		if err != nil {
			return fmt.Errorf("write %s: %w", op.Path, err)
		}
		req.Emit(req.Step.Role, types.EventLevelInfo,
			fmt.Sprintf("File %s written (v%d)", op.Path, version), op.Path)
	}
	return nil
}

// packageStep snapshots the artifact tree into the downloadable bundle.
func (e *Executor) packageStep(req execRequest) (string, int, error) {
	bundle, err := e.Store.Export(req.Run.ID)
	if err != nil {
		return "", 0, fmt.Errorf("package: %w", err)
	}
	req.Emit("system", types.EventLevelInfo, "Bundle packaged", "")
	return path.Base(bundle), 0, nil
}

// compileStep assembles the document sources into a single build output, then
// refreshes the bundle. Rendering to richer formats is a downstream concern.
func (e *Executor) compileStep(req execRequest) (string, int, error) {
	var sections []string
	for _, source := range []string{"main.md", "OUTLINE.md"} {
		data, err := e.Store.Read(req.Run.ID, source, 0)
		if err != nil {
			continue
		}
		sections = append(sections, strings.TrimSpace(string(data)))
	}
	if len(sections) == 0 {
		return "", 0, fmt.Errorf("compile: no document sources present")
	}
	out := "build/document.md"
	version, err := e.Store.Write(req.Run.ID, out, []byte(strings.Join(sections, "\n\n")+"\n"), types.ActorAgent)
	if err != nil {
		return "", 0, fmt.Errorf("compile: %w", err)
	}
	req.Emit("system", types.EventLevelInfo, fmt.Sprintf("Document compiled to %s (v%d)", out, version), out)
	if _, err := e.Store.Export(req.Run.ID); err != nil {
		return "", 0, fmt.Errorf("compile: %w", err)
	}
	return out, 0, nil
}
