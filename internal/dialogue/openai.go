package dialogue

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIModel completes chats with the OpenAI Chat Completions API.
type OpenAIModel struct {
	client openai.Client
	model  string
}

func NewOpenAIModel(apiKey, model string, opts ...option.RequestOption) *OpenAIModel {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &OpenAIModel{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (m *OpenAIModel) Complete(ctx context.Context, system string, messages []Message, maxTokens int) (string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	for _, msg := range messages {
		if msg.Role == "assistant" {
			msgs = append(msgs, openai.AssistantMessage(msg.Content))
		} else {
			msgs = append(msgs, openai.UserMessage(msg.Content))
		}
	}

	resp, err := m.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(m.model),
		Messages:  msgs,
		MaxTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("dialogue: openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
