package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
	openrouterx "github.com/tanpawarit/ticker-agent/pkg/openrouter"
)

// NewClient builds the completion client for one role using the configured
// provider.
func NewClient(ctx context.Context, cfg Config, agentType contractx.AgentType) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	modelName, temp := cfg.ModelFor(agentType)
	logger := log.With().
		Str("provider", cfg.provider()).
		Str("role", string(agentType)).
		Str("model", modelName).
		Logger()

	switch cfg.provider() {
	case ProviderOpenRouter:
		orCfg := cfg.OpenRouterFor(agentType)
		chatModel, err := orCfg.New(ctx)
		if err != nil {
			return nil, err
		}
		logger.Debug().Msg("llm client ready")
		return NewChatModelClient(chatModel)

	case ProviderOpenAI:
		sdk := openrouterx.NewClient(cfg.OpenRouterFor(agentType))
		if sdk == nil {
			return nil, fmt.Errorf("%w: openai client could not be created", contractx.ErrValidation)
		}
		logger.Debug().Msg("llm client ready")
		return NewOpenAIClient(sdk, modelName, temp, cfg.MaxCompletionToken)

	case ProviderAnthropic:
		opts := []option.RequestOption{
			option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
			option.WithMaxRetries(0),
		}
		if base := overrideBaseURL(cfg.BaseURL); base != "" {
			opts = append(opts, option.WithBaseURL(base))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
		}
		sdk := anthropic.NewClient(opts...)
		logger.Debug().Msg("llm client ready")
		return NewAnthropicClient(&sdk, modelName, temp, cfg.MaxCompletionToken)

	default:
		return nil, fmt.Errorf("%w: unsupported llm provider=%q", contractx.ErrValidation, cfg.Provider)
	}
}
