package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
)

// OpenAIClient calls the chat completions endpoint of any OpenAI compatible
// API through the official SDK.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float64
	maxTokens   int64
}

var _ Client = (*OpenAIClient)(nil)

func NewOpenAIClient(client *openai.Client, model string, temperature float32, maxTokens int) (*OpenAIClient, error) {
	if client == nil {
		return nil, errors.New("openai client is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("openai model is required")
	}
	return &OpenAIClient{
		client:      client,
		model:       strings.TrimSpace(model),
		temperature: float64(temperature),
		maxTokens:   int64(maxTokens),
	}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxTokens)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", wrapInvokeError("openai", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", emptyCompletion("openai")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", emptyCompletion("openai")
	}
	return content, nil
}
