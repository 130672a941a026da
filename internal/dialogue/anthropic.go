package dialogue

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicModel completes chats with the Anthropic Messages API.
type AnthropicModel struct {
	client anthropic.Client
	model  string
}

func NewAnthropicModel(apiKey, model string, opts ...option.RequestOption) *AnthropicModel {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &AnthropicModel{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

func (m *AnthropicModel) Complete(ctx context.Context, system string, messages []Message, maxTokens int) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.model),
		MaxTokens: int64(maxTokens),
		Messages:  toAnthropicMessages(messages),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(params.Messages) == 0 {
		return "", errors.New("dialogue: no user message")
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

// toAnthropicMessages enforces the API's shape: the first message is from the user and
// roles alternate. Leading assistant lines are dropped and consecutive lines from the
// same side are merged.
func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	merged := make([]Message, 0, len(messages))
	for _, m := range messages {
		if len(merged) == 0 && m.Role != "user" {
			continue
		}
		if n := len(merged); n > 0 && merged[n-1].Role == m.Role {
			merged[n-1].Content += "\n" + m.Content
			continue
		}
		merged = append(merged, m)
	}

	out := make([]anthropic.MessageParam, 0, len(merged))
	for _, m := range merged {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}
