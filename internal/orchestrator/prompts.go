package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"forge/internal/types"
)

const maxContextBytes = 48 * 1024

func promptHeader(run types.Run, persona string) string {
	var b strings.Builder
	if persona != "" {
		b.WriteString(persona)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Project: %s\n", run.Title)
	fmt.Fprintf(&b, "Brief: %s\n", run.Description)
	if run.Target != "" {
		fmt.Fprintf(&b, "Target: %s\n", run.Target)
	}
	if run.DocType != "" {
		fmt.Fprintf(&b, "Document type: %s\n", run.DocType)
	}
	return b.String()
}

// stepPrompt builds the instruction for one graph step. Outputs from completed
// upstream steps are appended so later roles see earlier decisions.
func stepPrompt(run types.Run, step *types.Step, persona string, outputs map[string]string) string {
	var b strings.Builder
	b.WriteString(promptHeader(run, persona))
	b.WriteString("\n")

	switch step.Name {
	case "plan":
		b.WriteString("Break this brief into a short ordered plan of concrete build steps.\n")
		b.WriteString("Reply with a JSON array of {name, files} objects and write PLAN.md.\n")
	case "write":
		b.WriteString("Implement the planned application. Emit complete file contents for every file.\n")
	case "review":
		b.WriteString("Review the current files against the brief.\n")
		b.WriteString(`Reply with JSON: {"approved": bool, "comments": [], "blocking_issues": []}.` + "\n")
	case "fix":
		b.WriteString("Address every blocking issue from the review below. Re-emit only changed files.\n")
	case "smoke":
		b.WriteString("Inspect the final files for obvious runtime breakage.\n")
		b.WriteString(`Reply with JSON: {"passed": bool, "issues": []}.` + "\n")
	case "outline":
		b.WriteString("Draft a section outline for this document and write it to OUTLINE.md.\n")
	case "draft":
		b.WriteString("Write the full document following the outline. Emit main.md.\n")
	default:
		fmt.Fprintf(&b, "Perform the %s step for this brief.\n", step.Name)
	}

	if len(outputs) > 0 {
		ids := make([]string, 0, len(outputs))
		for id := range outputs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		b.WriteString("\nEarlier step output:\n")
		for _, id := range ids {
			if out := strings.TrimSpace(outputs[id]); out != "" {
				fmt.Fprintf(&b, "--- %s ---\n%s\n", id, out)
			}
		}
	}
	return b.String()
}

func chatPrompt(run types.Run, message string, history []types.ChatTurn, intent string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You maintain the files of %q. The user wants to %s.\n", run.Title, intent)
	b.WriteString("If file changes are needed, emit complete new file contents; otherwise just answer.\n")
	if len(history) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Text)
		}
	}
	fmt.Fprintf(&b, "\nuser: %s\n", message)
	return b.String()
}

func reviewPrompt(path, content string) string {
	var b strings.Builder
	b.WriteString("You are an exacting code reviewer. Review the file below for correctness,\n")
	b.WriteString("security and maintainability.\n")
	b.WriteString(`Reply with JSON: {"approved": bool, "comments": [], "blocking_issues": []}.` + "\n\n")
	fmt.Fprintf(&b, "--- FILE: %s ---\n%s\n", path, truncate(content, 10000))
	return b.String()
}

// detectIntent is a cheap keyword classifier used to steer the chat prompt.
func detectIntent(message string) string {
	lower := strings.ToLower(message)
	switch {
	case containsAny(lower, "add", "create", "new feature", "implement"):
		return "add a feature"
	case containsAny(lower, "fix", "bug", "broken", "error", "crash"):
		return "fix a bug"
	case containsAny(lower, "why", "how", "what", "explain", "?"):
		return "understand the code"
	default:
		return "modify the code"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n...[truncated]..."
}

// scoreContextFiles picks the snapshot files most relevant to the message,
// preferring explicit path mentions and small source files, bounded by a total
// byte budget.
func scoreContextFiles(snapshot map[string]string, message string) []scoredFile {
	lower := strings.ToLower(message)
	files := make([]scoredFile, 0, len(snapshot))
	for path, content := range snapshot {
		score := 0
		if strings.Contains(lower, strings.ToLower(path)) {
			score += 100
		}
		base := path
		if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
			base = base[idx+1:]
		}
		if strings.Contains(lower, strings.ToLower(base)) {
			score += 50
		}
		if strings.HasSuffix(path, ".md") {
			score += 5
		}
		if len(content) < 4096 {
			score += 10
		}
		files = append(files, scoredFile{path: path, content: content, score: score})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].score != files[j].score {
			return files[i].score > files[j].score
		}
		return files[i].path < files[j].path
	})

	var picked []scoredFile
	budget := maxContextBytes
	for _, file := range files {
		if len(file.content) > budget {
			continue
		}
		picked = append(picked, file)
		budget -= len(file.content)
	}
	return picked
}

type scoredFile struct {
	path    string
	content string
	score   int
}
