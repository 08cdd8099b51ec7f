package capability

import (
	"context"
	"fmt"
	"strings"
)

// NewMock returns a deterministic offline generator. It mirrors the shape of
// real provider output per role so the full pipeline can run without network
// access.
func NewMock() Generator {
	return GeneratorFunc(func(ctx context.Context, req Request) (*Result, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch strings.ToLower(strings.TrimSpace(req.Role)) {
		case "ceo":
			return &Result{
				Text: `[{"name": "scaffold", "files": ["main.py"]}, {"name": "polish", "files": ["README.md"]}]`,
				FileOps: []FileOp{
					{Path: "PLAN.md", Content: "# Plan\n\n1. Scaffold the application\n2. Polish and document\n"},
				},
			}, nil
		case "developer":
			return &Result{
				Text: "Generated application scaffold.",
				FileOps: []FileOp{
					{Path: "main.py", Content: "def main():\n    print(\"hello\")\n\n\nif __name__ == \"__main__\":\n    main()\n"},
					{Path: "README.md", Content: "# Generated project\n\nRun `python main.py`.\n"},
				},
			}, nil
		case "reviewer":
			return &Result{
				Text: `{"approved": true, "comments": [], "score": 85, "blocking_issues": []}`,
			}, nil
		case "tester":
			return &Result{
				Text: `{"passed": true, "issues": []}`,
			}, nil
		case "editor":
			return &Result{
				Text: "Outline drafted.",
				FileOps: []FileOp{
					{Path: "OUTLINE.md", Content: "# Outline\n\n- Introduction\n- Body\n- Conclusion\n"},
				},
			}, nil
		case "writer":
			return &Result{
				Text: "Draft written.",
				FileOps: []FileOp{
					{Path: "main.md", Content: "# Document\n\n## Introduction\n\nDraft content.\n"},
				},
			}, nil
		case "refactor":
			return &Result{
				Text: fmt.Sprintf("Acknowledged: %s", firstLine(req.Prompt)),
			}, nil
		default:
			return &Result{Text: "ok"}, nil
		}
	})
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}
