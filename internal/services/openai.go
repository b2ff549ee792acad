package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/xuedaobian/chatgpt-like/internal/models"
)

// OpenAI provides an implementation of the LLM interface for any service
// speaking the OpenAI chat-completions protocol. Pointing BaseURL at a
// compatible endpoint (DeepSeek, OpenRouter, a local proxy) selects the
// upstream without changing the streaming path.
type OpenAI struct {
	model        string
	systemPrompt string

	client *goopenai.Client

	logger *slog.Logger
}

// NewOpenAI creates a new OpenAI instance with the specified API key, model
// name, and system prompt. An empty baseURL targets the official OpenAI API.
func NewOpenAI(apiKey, baseURL, model, systemPrompt string, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return OpenAI{
		model:        model,
		systemPrompt: systemPrompt,
		client:       goopenai.NewClientWithConfig(cfg),
		logger:       logger.With(slog.String("module", "openai")),
	}
}

func (o OpenAI) chatMessages(messages []models.Message) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		msgs[i] = goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}
	if o.systemPrompt != "" {
		msgs = slices.Insert(msgs, 0, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: o.systemPrompt,
		})
	}
	return msgs
}

// Chat streams a completion for the given ordered history. The returned
// iterator yields content deltas in arrival order and terminates with a
// fragment carrying the upstream finish reason. A yielded error means the
// stream broke before a finish signal arrived.
func (o OpenAI) Chat(ctx context.Context, messages []models.Message) iter.Seq2[models.Fragment, error] {
	return func(yield func(models.Fragment, error) bool) {
		req := goopenai.ChatCompletionRequest{
			Model:    o.model,
			Messages: o.chatMessages(messages),
			Stream:   true,
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := o.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(models.Fragment{}, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				if errors.Is(err, io.EOF) {
					// The upstream closed without a finish reason.
					yield(models.Fragment{}, errors.New("stream ended without finish signal"))
					return
				}
				yield(models.Fragment{}, fmt.Errorf("error receiving response: %w", err))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}
			choice := response.Choices[0]

			if choice.Delta.Content != "" {
				if !yield(models.Fragment{Content: choice.Delta.Content}, nil) {
					return
				}
			}
			if choice.FinishReason != "" {
				o.logger.Debug("Stream finished", slog.String("reason", string(choice.FinishReason)))
				yield(models.Fragment{FinishReason: string(choice.FinishReason)}, nil)
				return
			}
		}
	}
}

// GenerateTitle asks the model for a short title summarizing the given first
// message of a session. The instance's system prompt steers the shape of the
// title.
func (o OpenAI) GenerateTitle(ctx context.Context, message string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: o.model,
		Messages: []goopenai.ChatCompletionMessage{
			{
				Role:    goopenai.ChatMessageRoleSystem,
				Content: o.systemPrompt,
			},
			{
				Role:    goopenai.ChatMessageRoleUser,
				Content: message,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no choices found")
	}
	return resp.Choices[0].Message.Content, nil
}
