// Package capability defines the upstream generation boundary the engine
// consumes: given a role, a prompt and artifact context, produce text and zero
// or more file operations. Concrete model adapters live behind Generator and
// are opaque to the rest of the system.
package capability

import (
	"context"
	"errors"
	"fmt"
)

// ContextFile is one artifact supplied to a generation call.
type ContextFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FileOp is a file write requested by the capability.
type FileOp struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type Request struct {
	Role    string
	Prompt  string
	Context []ContextFile
}

type Result struct {
	Text    string
	FileOps []FileOp
}

type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// ErrTransient marks failures worth retrying (timeouts, throttling). Anything
// else is fatal to the step that issued the call.
var ErrTransient = errors.New("transient capability failure")

// Transient wraps err so IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request) (*Result, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
