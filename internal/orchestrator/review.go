package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"forge/internal/capability"
	"forge/internal/types"
)

// ReviewReport is the merged outcome of reviewing the requested files.
type ReviewReport struct {
	Approved bool                     `json:"approved"`
	Comments []string                 `json:"comments"`
	Files    map[string]ReviewVerdict `json:"files"`
	Score    int                      `json:"score"`
}

// Review runs the reviewer over the named files concurrently and merges the
// per-file verdicts; with no paths it covers every reviewable file in the run.
// It reads artifact state only and never touches the step graph. The merged
// report approves only when every file does and nothing blocking was raised.
func (c *Controller) Review(ctx context.Context, paths []string) (ReviewReport, error) {
	c.mu.Lock()
	run := c.run
	c.mu.Unlock()

	snapshot, err := c.exec.Store.Snapshot(run.ID)
	if err != nil {
		return ReviewReport{}, err
	}
	selected := make([]string, 0, len(snapshot))
	if len(paths) == 0 {
		for path := range snapshot {
			if reviewable(path) {
				selected = append(selected, path)
			}
		}
	} else {
		for _, path := range paths {
			if _, ok := snapshot[path]; ok {
				selected = append(selected, path)
			}
		}
	}
	if len(selected) == 0 {
		return ReviewReport{}, ErrNoReviewFiles
	}
	sort.Strings(selected)

	c.emit(types.EventTypeEvent, "reviewer", types.EventLevelInfo,
		fmt.Sprintf("Review started over %d files", len(selected)), "", "")

	var mu sync.Mutex
	report := ReviewReport{
		Approved: true,
		Comments: []string{},
		Files:    make(map[string]ReviewVerdict, len(selected)),
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, path := range selected {
		g.Go(func() error {
			result, err := c.exec.Gen.Generate(ctx, capability.Request{
				Role:   "reviewer",
				Prompt: reviewPrompt(path, snapshot[path]),
			})
			if err != nil {
				return fmt.Errorf("review %s: %w", path, err)
			}
			verdict := parseReviewVerdict(result.Text)
			mu.Lock()
			report.Files[path] = verdict
			if !verdict.Approved || len(verdict.BlockingIssues) > 0 {
				report.Approved = false
			}
			for _, comment := range verdict.Comments {
				report.Comments = append(report.Comments, path+": "+comment)
			}
			for _, issue := range verdict.BlockingIssues {
				report.Comments = append(report.Comments, path+" [blocking]: "+issue)
			}
			report.Score += verdict.Score
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.emit(types.EventTypeEvent, "reviewer", types.EventLevelError, fmt.Sprintf("Review failed: %v", err), "", "")
		c.persist()
		return ReviewReport{}, err
	}
	report.Score /= len(selected)
	sort.Strings(report.Comments)

	outcome := "approved"
	if !report.Approved {
		outcome = "changes requested"
	}
	c.emit(types.EventTypeEvent, "reviewer", types.EventLevelInfo,
		fmt.Sprintf("Review completed: %s", outcome), "", "")
	c.persist()
	return report, nil
}

// reviewable filters out generated bundles and non-source artifacts.
func reviewable(path string) bool {
	if strings.HasPrefix(path, "build/") {
		return false
	}
	switch {
	case strings.HasSuffix(path, ".zip"), strings.HasSuffix(path, ".png"), strings.HasSuffix(path, ".pdf"):
		return false
	}
	return true
}
