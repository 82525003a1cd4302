package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
	llmx "github.com/tanpawarit/ticker-agent/agent/llm"
	promptx "github.com/tanpawarit/ticker-agent/agent/prompt"
	marketx "github.com/tanpawarit/ticker-agent/pkg/market"
	retryx "github.com/tanpawarit/ticker-agent/pkg/retry"
)

type PriceSource interface {
	Series(ctx context.Context, ticker string, days int) ([]marketx.PricePoint, error)
}

type NewsSource interface {
	Headlines(ctx context.Context, ticker string, days int) ([]marketx.Headline, error)
}

// Registry runs the fixed tool catalogue against market data and a
// summarizer model.
type Registry struct {
	prices     PriceSource
	news       NewsSource
	summarizer contractx.Completer
	prompts    promptx.PromptSet

	dataPolicy  retryx.Policy
	modelPolicy retryx.Policy
}

var _ contractx.ToolRegistry = (*Registry)(nil)

type Option func(*Registry)

func WithDataRetry(cfg retryx.Config) Option {
	return func(r *Registry) {
		r.dataPolicy = retryx.New("market_data", cfg, marketx.IsTransient)
	}
}

func WithModelRetry(cfg retryx.Config) Option {
	return func(r *Registry) {
		r.modelPolicy = retryx.New("summarize_news", cfg, llmx.IsTransient)
	}
}

func WithPrompts(set promptx.PromptSet) Option {
	return func(r *Registry) {
		r.prompts = set
	}
}

// NewRegistry wires the tool catalogue. summarizer may be nil, in which case
// summarize_news reports a failure result.
func NewRegistry(prices PriceSource, news NewsSource, summarizer contractx.Completer, opts ...Option) (*Registry, error) {
	if prices == nil || news == nil {
		return nil, fmt.Errorf("%w: price and news sources are required", contractx.ErrValidation)
	}

	r := &Registry{
		prices:      prices,
		news:        news,
		summarizer:  summarizer,
		prompts:     promptx.LoadPromptSet(),
		dataPolicy:  retryx.New("market_data", retryx.DefaultConfig, marketx.IsTransient),
		modelPolicy: retryx.New("summarize_news", retryx.DefaultConfig, llmx.IsTransient),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.prompts.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Describe lists tool signatures for the planner prompt.
func (r *Registry) Describe() []string {
	specs := Specs()
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.Signature())
	}
	return out
}

func (r *Registry) Schema(name string) ([]string, []string, error) {
	return Schema(name)
}

func (r *Registry) Validate(inv contractx.ToolInvocation) error {
	return Validate(inv)
}

// Dispatch executes one invocation. Every failure, including a panic inside a
// tool, comes back as an unsuccessful ToolResult.
func (r *Registry) Dispatch(ctx context.Context, inv contractx.ToolInvocation) (result contractx.ToolResult) {
	started := time.Now()
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Str("tool", inv.Tool).Msg("tool panicked")
			result = contractx.ToolFailure(inv.Tool, fmt.Errorf("internal error in %s", inv.Tool))
		}
		log.Debug().
			Str("tool", inv.Tool).
			Bool("success", result.Success).
			Dur("elapsed", time.Since(started)).
			Msg("tool dispatched")
	}()

	if err := Validate(inv); err != nil {
		return contractx.ToolFailure(inv.Tool, err)
	}

	var (
		out string
		err error
	)
	switch inv.Tool {
	case ToolTickerInfo:
		out, err = r.tickerInfo(ctx, inv)
	case ToolNewsVsPrice:
		out, err = r.newsVsPrice(ctx, inv)
	case ToolSummarizeNews:
		out, err = r.summarizeNews(ctx, inv)
	default:
		err = fmt.Errorf("%w: %q", contractx.ErrUnknownTool, inv.Tool)
	}
	if err != nil {
		return contractx.ToolFailure(inv.Tool, err)
	}
	return contractx.ToolResult{Tool: inv.Tool, Success: true, Output: out}
}

func (r *Registry) series(ctx context.Context, ticker string, days int) ([]marketx.PricePoint, error) {
	return retryx.Do(ctx, r.dataPolicy, func(ctx context.Context) ([]marketx.PricePoint, error) {
		return r.prices.Series(ctx, ticker, days)
	})
}

func (r *Registry) headlines(ctx context.Context, ticker string, days int) ([]marketx.Headline, error) {
	return retryx.Do(ctx, r.dataPolicy, func(ctx context.Context) ([]marketx.Headline, error) {
		return r.news.Headlines(ctx, ticker, days)
	})
}

func tickerAndDays(inv contractx.ToolInvocation) (string, int, error) {
	ticker, err := parseTicker(inv.Arg(ArgTicker))
	if err != nil {
		return "", 0, err
	}
	days, err := parseDays(inv.Arg(ArgDays))
	if err != nil {
		return "", 0, err
	}
	return ticker, days, nil
}
