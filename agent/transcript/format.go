// Package transcript renders session turns as a markdown document.
package transcript

import (
	"fmt"
	"sort"
	"strings"

	statex "github.com/tanpawarit/ticker-agent/agent/state"
)

const (
	Title = "# Agent Transcript"

	// MaxResultLines bounds how much of a tool result is shown.
	MaxResultLines = 12
	truncatedLine  = "... (truncated)"
)

// Format renders turns in order. It never fails; unknown kinds are skipped.
func Format(turns []statex.Turn) string {
	blocks := make([]string, 0, len(turns)+1)
	blocks = append(blocks, Title)

	for _, t := range turns {
		if b := formatTurn(t); b != "" {
			blocks = append(blocks, b)
		}
	}
	return strings.Join(blocks, "\n\n")
}

func formatTurn(t statex.Turn) string {
	switch t.Kind {
	case statex.TurnUserQuery:
		return "**User:** " + t.Content
	case statex.TurnToolCall:
		return fmt.Sprintf("**Tool `%s` Call:** `%s`", t.ToolName, callLine(t))
	case statex.TurnToolResult:
		body := t.Content
		if !t.Succeeded() {
			body = "error: " + t.Error
		}
		return fmt.Sprintf("**Tool `%s` Result:**\n\n```\n%s\n```", t.ToolName, clip(body))
	case statex.TurnFinalAnswer:
		return "**Assistant:** " + t.Content
	default:
		return ""
	}
}

func callLine(t statex.Turn) string {
	keys := make([]string, 0, len(t.Args))
	for k := range t.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(t.ToolName)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, t.Args[k])
	}
	return b.String()
}

func clip(body string) string {
	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	if len(lines) <= MaxResultLines {
		return strings.Join(lines, "\n")
	}
	return strings.Join(append(lines[:MaxResultLines], truncatedLine), "\n")
}
