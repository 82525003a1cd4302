package decision

import (
	"fmt"
	"sort"
	"strings"

	statex "github.com/tanpawarit/ticker-agent/agent/state"
)

const (
	// Turns at the tail of the transcript that are never shortened.
	recentTurns = 2

	// First pass keeps this many characters of an old tool result payload;
	// the second pass drops the payload entirely.
	shortPayload = 200

	truncatedMark = "... [truncated]"
)

func renderTurn(t statex.Turn, payload string) string {
	switch t.Kind {
	case statex.TurnUserQuery:
		return "USER: " + t.Content
	case statex.TurnToolCall:
		return "TOOL_CALL: " + toolLine(t)
	case statex.TurnToolResult:
		if t.Succeeded() {
			return fmt.Sprintf("TOOL_RESULT %s (ok):\n%s", t.ToolName, payload)
		}
		return fmt.Sprintf("TOOL_RESULT %s (error): %s", t.ToolName, payload)
	case statex.TurnFinalAnswer:
		return "ASSISTANT: " + t.Content
	default:
		return ""
	}
}

func toolLine(t statex.Turn) string {
	keys := make([]string, 0, len(t.Args))
	for k := range t.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := []string{t.ToolName}
	for _, k := range keys {
		parts = append(parts, k+"="+t.Args[k])
	}
	return strings.Join(parts, "|")
}

func resultPayload(t statex.Turn) string {
	if t.Succeeded() {
		return t.Content
	}
	return t.Error
}

func shorten(s string, keep int) string {
	r := []rune(s)
	if len(r) <= keep {
		return s
	}
	if keep <= 0 {
		return truncatedMark
	}
	return string(r[:keep]) + truncatedMark
}

// renderHistory serializes turns for the prompt. When the result exceeds
// budget characters, old tool_result payloads are shortened oldest first.
// User queries, final answers and the latest turns are always kept whole.
func renderHistory(turns []statex.Turn, budget int) string {
	if len(turns) == 0 {
		return "(no previous turns)"
	}

	blocks := make([]string, len(turns))
	for i, t := range turns {
		if t.Kind == statex.TurnToolResult {
			blocks[i] = renderTurn(t, resultPayload(t))
			continue
		}
		blocks[i] = renderTurn(t, t.Content)
	}
	if budget <= 0 {
		return strings.Join(blocks, "\n")
	}

	protected := len(turns) - recentTurns
	for _, keep := range []int{shortPayload, 0} {
		for i := 0; i < protected && historySize(blocks) > budget; i++ {
			if turns[i].Kind != statex.TurnToolResult {
				continue
			}
			blocks[i] = renderTurn(turns[i], shorten(resultPayload(turns[i]), keep))
		}
	}
	return strings.Join(blocks, "\n")
}

func historySize(blocks []string) int {
	n := 0
	for _, b := range blocks {
		n += len(b) + 1
	}
	return n
}

// toolCounts summarizes tool_call turns issued since the latest user query.
func toolCounts(turns []statex.Turn) string {
	counts := map[string]int{}
	for _, t := range turns[latestQueryIndex(turns)+1:] {
		if t.Kind == statex.TurnToolCall {
			counts[t.ToolName]++
		}
	}
	if len(counts) == 0 {
		return "none"
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", name, counts[name]))
	}
	return strings.Join(parts, ", ")
}

// latestQueryIndex returns the index of the last user_query turn, or -1.
func latestQueryIndex(turns []statex.Turn) int {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Kind == statex.TurnUserQuery {
			return i
		}
	}
	return -1
}

func latestQuery(turns []statex.Turn) string {
	if i := latestQueryIndex(turns); i >= 0 {
		return turns[i].Content
	}
	return "(continue the previous analysis)"
}

func preferenceList(p statex.Preferences) string {
	if len(p.Tickers) == 0 {
		return "none"
	}
	return strings.Join(p.Tickers, ", ")
}
