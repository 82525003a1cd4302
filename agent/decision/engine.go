package decision

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
	llmx "github.com/tanpawarit/ticker-agent/agent/llm"
	promptx "github.com/tanpawarit/ticker-agent/agent/prompt"
	protocolx "github.com/tanpawarit/ticker-agent/agent/protocol"
	retryx "github.com/tanpawarit/ticker-agent/pkg/retry"
)

const (
	UnavailableAnswer = "The analysis service is temporarily unavailable, so no further analysis could be produced. Please try again shortly."
	MalformedAnswer   = "I could not produce a well-formed answer for this request. Please rephrase the question or try again."
)

type Config struct {
	PromptCharBudget int `split_words:"true" default:"12000"`
}

// Engine turns a transcript into the next loop action with one model call,
// plus at most one reformat call when the reply breaks the line protocol.
type Engine struct {
	llm        contractx.Completer
	prompts    promptx.PromptSet
	tools      []string
	policy     retryx.Policy
	charBudget int
}

var _ contractx.DecisionEngine = (*Engine)(nil)

type Option func(*Engine)

func WithRetry(cfg retryx.Config) Option {
	return func(e *Engine) {
		e.policy = retryx.New("decide", cfg, llmx.IsTransient)
	}
}

func WithPrompts(set promptx.PromptSet) Option {
	return func(e *Engine) {
		e.prompts = set
	}
}

// New builds an Engine. tools are the signature lines listed in the planner
// prompt.
func New(llm contractx.Completer, tools []string, cfg Config, opts ...Option) (*Engine, error) {
	if llm == nil {
		return nil, fmt.Errorf("%w: decision model is nil", contractx.ErrValidation)
	}

	e := &Engine{
		llm:        llm,
		prompts:    promptx.LoadPromptSet(),
		tools:      append([]string(nil), tools...),
		policy:     retryx.New("decide", retryx.DefaultConfig, llmx.IsTransient),
		charBudget: cfg.PromptCharBudget,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.prompts.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

type completion struct {
	text   string
	failed bool
}

func (e *Engine) Decide(ctx context.Context, req contractx.DecisionRequest) (contractx.Decision, error) {
	if err := ctx.Err(); err != nil {
		return contractx.Decision{}, err
	}

	prompt, err := e.buildPrompt(ctx, req)
	if err != nil {
		log.Error().Err(err).Msg("render decision prompt")
		return degraded(MalformedAnswer), nil
	}

	first, err := e.complete(ctx, prompt)
	if err != nil {
		return contractx.Decision{}, err
	}
	if first.failed {
		return degraded(UnavailableAnswer), nil
	}

	parsed := parse(first.text, req.AllowTools)
	if parsed.Kind != protocolx.KindMalformed {
		return toDecision(parsed), nil
	}

	log.Debug().Str("reason", parsed.Reason).Msg("malformed decision, asking for reformat")

	retryPrompt, err := promptx.Render(ctx, e.prompts.Reformat, map[string]any{
		"Reason":     parsed.Reason,
		"Previous":   first.text,
		"AllowTools": req.AllowTools,
		"Original":   prompt,
	})
	if err != nil {
		log.Error().Err(err).Msg("render reformat prompt")
		return degraded(MalformedAnswer), nil
	}

	second, err := e.complete(ctx, retryPrompt)
	if err != nil {
		return contractx.Decision{}, err
	}
	if second.failed {
		return degraded(UnavailableAnswer), nil
	}

	parsed = parse(second.text, req.AllowTools)
	if parsed.Kind == protocolx.KindMalformed {
		log.Warn().Str("reason", parsed.Reason).Msg("decision still malformed after reformat")
		return degraded(MalformedAnswer), nil
	}
	return toDecision(parsed), nil
}

func (e *Engine) buildPrompt(ctx context.Context, req contractx.DecisionRequest) (string, error) {
	vars := map[string]any{
		"Ticker":      req.Ticker,
		"Days":        req.Days,
		"Preferences": preferenceList(req.Preferences),
		"ToolCounts":  toolCounts(req.Transcript),
		"History":     renderHistory(req.Transcript, e.charBudget),
	}
	if !req.AllowTools {
		vars["LatestQuery"] = latestQuery(req.Transcript)
		return promptx.Render(ctx, e.prompts.Finalize, vars)
	}

	vars["Tools"] = e.tools
	vars["StepsLeft"] = req.StepsLeft
	vars["ToolCallsLeft"] = req.ToolCallsLeft
	return promptx.Render(ctx, e.prompts.Planner, vars)
}

// complete calls the model under the retry policy. Exhausted or permanent
// failures come back as failed; only ctx errors are returned.
func (e *Engine) complete(ctx context.Context, prompt string) (completion, error) {
	return retryx.DoOrDegrade(ctx, e.policy,
		func(ctx context.Context) (completion, error) {
			text, err := e.llm.Complete(ctx, prompt)
			if err != nil {
				return completion{}, err
			}
			return completion{text: text}, nil
		},
		func(error) completion {
			return completion{failed: true}
		},
	)
}

func parse(raw string, allowTools bool) protocolx.Result {
	res := protocolx.Parse(raw)
	if res.Kind == protocolx.KindToolCall && !allowTools {
		return protocolx.Result{Kind: protocolx.KindMalformed, Reason: contractx.ErrToolsDisabled.Error()}
	}
	return res
}

func toDecision(res protocolx.Result) contractx.Decision {
	if res.Kind == protocolx.KindToolCall {
		return contractx.CallTool(res.Invocation)
	}
	return contractx.Answer(res.Answer)
}

func degraded(text string) contractx.Decision {
	d := contractx.Answer(text)
	d.Degraded = true
	return d
}
