package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// AnthropicClient calls the Messages API.
type AnthropicClient struct {
	client      *anthropic.Client
	model       string
	temperature float64
	maxTokens   int64
}

var _ Client = (*AnthropicClient)(nil)

func NewAnthropicClient(client *anthropic.Client, model string, temperature float32, maxTokens int) (*AnthropicClient, error) {
	if client == nil {
		return nil, errors.New("anthropic client is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("anthropic model is required")
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicClient{
		client:      client,
		model:       strings.TrimSpace(model),
		temperature: float64(temperature),
		maxTokens:   int64(maxTokens),
	}, nil
}

func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", wrapInvokeError("anthropic", err)
	}
	if resp == nil {
		return "", emptyCompletion("anthropic")
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type != "text" {
			continue
		}
		b.WriteString(block.AsText().Text)
	}

	content := strings.TrimSpace(b.String())
	if content == "" {
		return "", emptyCompletion("anthropic")
	}
	return content, nil
}
