package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"forge/internal/capability"
	"forge/internal/types"
)

// Chat sends a user message to the refactor agent. Turn history is owned by
// the caller and supplied per invocation. The agent sees the files most
// relevant to the message and may write files as a side effect; the run's
// status and step graph are untouched.
func (c *Controller) Chat(ctx context.Context, message string, history []types.ChatTurn) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", fmt.Errorf("%w: empty chat message", ErrInvalidSpec)
	}

	c.mu.Lock()
	run := c.run
	c.mu.Unlock()

	intent := detectIntent(message)
	snapshot, err := c.exec.Store.Snapshot(run.ID)
	if err != nil {
		return "", err
	}
	var files []capability.ContextFile
	for _, file := range scoreContextFiles(snapshot, message) {
		files = append(files, capability.ContextFile{Path: file.path, Content: file.content})
	}

	c.emit(types.EventTypeEvent, "user", types.EventLevelInfo, message, "", "")
	result, err := c.exec.Gen.Generate(ctx, capability.Request{
		Role:    "refactor",
		Prompt:  chatPrompt(run, message, history, intent),
		Context: files,
	})
	if err != nil {
		c.emit(types.EventTypeEvent, "refactor", types.EventLevelError, fmt.Sprintf("Chat failed: %v", err), "", "")
		c.persist()
		return "", err
	}
	for _, op := range result.FileOps {
		version, err := c.exec.Store.Write(run.ID, op.Path, []byte(op.Content), types.ActorAgent)
		if err != nil {
			return "", fmt.Errorf("write %s: %w", op.Path, err)
		}
		c.emit(types.EventTypeEvent, "refactor", types.EventLevelInfo,
			fmt.Sprintf("File %s written (v%d)", op.Path, version), "", op.Path)
	}
	c.emit(types.EventTypeEvent, "refactor", types.EventLevelInfo, result.Text, "", "")
	c.persist()
	return result.Text, nil
}
