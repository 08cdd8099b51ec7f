package orchestrator

import (
	"encoding/json"
	"strings"
)

// ReviewVerdict is the structured portion of a reviewer's reply.
type ReviewVerdict struct {
	Approved       bool     `json:"approved"`
	Comments       []string `json:"comments"`
	Score          int      `json:"score,omitempty"`
	BlockingIssues []string `json:"blocking_issues,omitempty"`
}

// parseReviewVerdict extracts a verdict from free-form capability output.
// Providers wrap JSON in prose or code fences often enough that a strict parse
// would block the pipeline, so an unparseable reply approves by default.
func parseReviewVerdict(text string) ReviewVerdict {
	verdict := ReviewVerdict{Approved: true, Comments: []string{}}
	raw := extractJSONObject(text)
	if raw == "" {
		return verdict
	}
	var parsed struct {
		Approved       *bool    `json:"approved"`
		Comments       []string `json:"comments"`
		Score          int      `json:"score"`
		BlockingIssues []string `json:"blocking_issues"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return verdict
	}
	if parsed.Approved != nil {
		verdict.Approved = *parsed.Approved
	}
	if parsed.Comments != nil {
		verdict.Comments = parsed.Comments
	}
	verdict.Score = parsed.Score
	verdict.BlockingIssues = parsed.BlockingIssues
	return verdict
}

// SmokeVerdict is the structured portion of a tester's reply.
type SmokeVerdict struct {
	Passed bool     `json:"passed"`
	Issues []string `json:"issues"`
}

// parseSmokeVerdict follows the same leniency as parseReviewVerdict: a reply
// without a recognizable verdict passes by default.
func parseSmokeVerdict(text string) SmokeVerdict {
	verdict := SmokeVerdict{Passed: true, Issues: []string{}}
	raw := extractJSONObject(text)
	if raw == "" {
		return verdict
	}
	var parsed struct {
		Passed *bool    `json:"passed"`
		Issues []string `json:"issues"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return verdict
	}
	if parsed.Passed != nil {
		verdict.Passed = *parsed.Passed
	}
	if parsed.Issues != nil {
		verdict.Issues = parsed.Issues
	}
	return verdict
}

// extractJSONObject returns the first balanced {...} block in text, with any
// markdown code fences stripped first.
func extractJSONObject(text string) string {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}
	start := strings.IndexByte(cleaned, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(cleaned); i++ {
		c := cleaned[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return cleaned[start : i+1]
			}
		}
	}
	return ""
}
