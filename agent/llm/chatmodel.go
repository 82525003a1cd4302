package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatModelClient adapts an eino chat model to Client.
type ChatModelClient struct {
	model model.BaseChatModel
}

var _ Client = (*ChatModelClient)(nil)

func NewChatModelClient(m model.BaseChatModel) (*ChatModelClient, error) {
	if m == nil {
		return nil, errors.New("chat model is required")
	}
	return &ChatModelClient{model: m}, nil
}

func (c *ChatModelClient) Complete(ctx context.Context, prompt string) (string, error) {
	msg, err := c.model.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", wrapInvokeError("chat model", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", emptyCompletion("chat model")
	}
	return strings.TrimSpace(msg.Content), nil
}
