package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
	promptx "github.com/tanpawarit/ticker-agent/agent/prompt"
	retryx "github.com/tanpawarit/ticker-agent/pkg/retry"
)

var errSummarizerUnavailable = errors.New("summarizer is not configured")

func (r *Registry) summarizeNews(ctx context.Context, inv contractx.ToolInvocation) (string, error) {
	if r.summarizer == nil {
		return "", errSummarizerUnavailable
	}

	headline := strings.Trim(inv.Arg(ArgHeadline), `"'`)
	prompt, err := promptx.Render(ctx, r.prompts.Summarize, map[string]any{
		"Headline": headline,
	})
	if err != nil {
		return "", err
	}

	summary, err := retryx.Do(ctx, r.modelPolicy, func(ctx context.Context) (string, error) {
		return r.summarizer.Complete(ctx, prompt)
	})
	if err != nil {
		return "", fmt.Errorf("summarize headline: %w", err)
	}
	return fmt.Sprintf("Summary: %s", strings.TrimSpace(summary)), nil
}
