// Package protocol parses the line protocol the planner model answers with:
//
//	FUNCTION_CALL: <tool_name>|<key>=<value>|...
//	FINAL_ANSWER: <free text>
package protocol

import (
	"fmt"
	"regexp"
	"strings"

	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
)

const (
	FunctionCallMarker = "FUNCTION_CALL:"
	FinalAnswerMarker  = "FINAL_ANSWER:"
)

type Kind int

const (
	KindMalformed Kind = iota
	KindToolCall
	KindFinalAnswer
)

func (k Kind) String() string {
	switch k {
	case KindToolCall:
		return "tool_call"
	case KindFinalAnswer:
		return "final_answer"
	default:
		return "malformed"
	}
}

// Result is the tagged outcome of Parse. Exactly one of Invocation, Answer or
// Reason is meaningful, selected by Kind.
type Result struct {
	Kind       Kind
	Invocation contractx.ToolInvocation
	Answer     string
	Reason     string
}

func malformed(format string, args ...any) Result {
	return Result{Kind: KindMalformed, Reason: fmt.Sprintf(format, args...)}
}

var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Parse scans raw model output for the first command line. Code fences and
// chatter around the command are ignored. A FINAL_ANSWER keeps every line
// that follows its marker.
func Parse(raw string) Result {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	for i, line := range lines {
		s := strings.TrimSpace(line)
		if strings.HasPrefix(s, "```") {
			continue
		}
		s = strings.Trim(s, "`")

		switch {
		case strings.HasPrefix(s, FunctionCallMarker):
			return parseFunctionCall(strings.TrimSpace(strings.TrimPrefix(s, FunctionCallMarker)))
		case strings.HasPrefix(s, FinalAnswerMarker):
			return parseFinalAnswer(strings.TrimPrefix(s, FinalAnswerMarker), lines[i+1:])
		}
	}

	if strings.TrimSpace(raw) == "" {
		return malformed("empty output")
	}
	return malformed("no %s or %s line", FunctionCallMarker, FinalAnswerMarker)
}

func parseFinalAnswer(first string, rest []string) Result {
	parts := []string{strings.TrimSpace(first)}
	for _, line := range rest {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		parts = append(parts, line)
	}

	answer := strings.TrimSpace(strings.Join(parts, "\n"))
	if answer == "" {
		return malformed("empty final answer")
	}
	return Result{Kind: KindFinalAnswer, Answer: answer}
}

func parseFunctionCall(payload string) Result {
	if payload == "" {
		return malformed("function call without tool name")
	}

	segments := strings.Split(payload, "|")
	name := strings.TrimSpace(segments[0])
	if !identPattern.MatchString(name) {
		return malformed("invalid tool name %q", name)
	}

	args := make(map[string]string, len(segments)-1)
	for _, seg := range segments[1:] {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		key, value, ok := strings.Cut(seg, "=")
		if !ok {
			return malformed("argument %q is not key=value", seg)
		}
		key = strings.TrimSpace(key)
		if !identPattern.MatchString(key) {
			return malformed("invalid argument name %q", key)
		}
		if _, dup := args[key]; dup {
			return malformed("duplicate argument %q", key)
		}
		args[key] = unquote(strings.TrimSpace(value))
	}

	return Result{
		Kind:       KindToolCall,
		Invocation: contractx.ToolInvocation{Tool: name, Args: args},
	}
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return strings.TrimSpace(v[1 : len(v)-1])
		}
	}
	return v
}

// FormatToolCall renders inv as a FUNCTION_CALL line.
func FormatToolCall(inv contractx.ToolInvocation) string {
	return FunctionCallMarker + " " + inv.String()
}

// FormatFinalAnswer renders text as a FINAL_ANSWER line.
func FormatFinalAnswer(text string) string {
	return FinalAnswerMarker + " " + text
}
