package prompt

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
)

var (
	//go:embed template/planner.txt
	plannerRaw string

	//go:embed template/finalize.txt
	finalizeRaw string

	//go:embed template/reformat.txt
	reformatRaw string

	//go:embed template/summarize.txt
	summarizeRaw string
)

// PromptSet holds loaded prompt templates.
type PromptSet struct {
	Planner   string
	Finalize  string
	Reformat  string
	Summarize string
}

// LoadPromptSet returns a PromptSet with trimmed template strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Planner:   strings.TrimSpace(plannerRaw),
		Finalize:  strings.TrimSpace(finalizeRaw),
		Reformat:  strings.TrimSpace(reformatRaw),
		Summarize: strings.TrimSpace(summarizeRaw),
	}
}

func (p PromptSet) Validate() error {
	for name, body := range map[string]string{
		"planner":   p.Planner,
		"finalize":  p.Finalize,
		"reformat":  p.Reformat,
		"summarize": p.Summarize,
	} {
		if strings.TrimSpace(body) == "" {
			return fmt.Errorf("%w: %s", contractx.ErrPromptMissing, name)
		}
	}
	return nil
}

// Render fills a Go template prompt with vars through an eino chat template
// and returns the resulting text.
func Render(ctx context.Context, tpl string, vars map[string]any) (string, error) {
	if strings.TrimSpace(tpl) == "" {
		return "", contractx.ErrPromptMissing
	}

	template := einoprompt.FromMessages(schema.GoTemplate, schema.UserMessage(tpl))
	msgs, err := template.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}

	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m != nil {
			parts = append(parts, m.Content)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), nil
}
