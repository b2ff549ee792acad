package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"slices"

	"github.com/tmaxmax/go-sse"

	"github.com/xuedaobian/chatgpt-like/internal/models"
)

// DeepSeek provides an implementation of the LLM interface for DeepSeek's
// chat-completions API, reading the upstream SSE stream directly.
type DeepSeek struct {
	apiKey       string
	baseURL      string
	model        string
	systemPrompt string

	client *http.Client

	logger *slog.Logger
}

type deepSeekChatRequest struct {
	Model    string            `json:"model"`
	Messages []deepSeekMessage `json:"messages"`
	Stream   bool              `json:"stream"`
}

type deepSeekMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type deepSeekStreamingResponse struct {
	Choices []deepSeekStreamingChoice `json:"choices"`
}

type deepSeekStreamingChoice struct {
	Delta        deepSeekMessage `json:"delta"`
	FinishReason string          `json:"finish_reason"`
}

type deepSeekResponse struct {
	Choices []deepSeekChoice `json:"choices"`
}

type deepSeekChoice struct {
	Message deepSeekMessage `json:"message"`
}

const deepSeekAPIEndpoint = "https://api.deepseek.com/v1"

// NewDeepSeek creates a new DeepSeek instance with the specified API key,
// model name, and system prompt. An empty baseURL targets the official
// DeepSeek API.
func NewDeepSeek(apiKey, baseURL, model, systemPrompt string, logger *slog.Logger) DeepSeek {
	if baseURL == "" {
		baseURL = deepSeekAPIEndpoint
	}
	return DeepSeek{
		apiKey:       apiKey,
		baseURL:      baseURL,
		model:        model,
		systemPrompt: systemPrompt,
		client:       &http.Client{},
		logger:       logger.With(slog.String("module", "deepseek")),
	}
}

// Chat streams a completion for the given ordered history. Deltas are yielded
// in arrival order; the terminating fragment carries the upstream finish
// reason. A yielded error means the call failed or the stream broke before a
// finish signal.
func (d DeepSeek) Chat(ctx context.Context, messages []models.Message) iter.Seq2[models.Fragment, error] {
	return func(yield func(models.Fragment, error) bool) {
		resp, err := d.doRequest(ctx, messages, true)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(models.Fragment{}, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield(models.Fragment{}, fmt.Errorf("error reading response: %w", err))
				return
			}

			if ev.Data == "[DONE]" {
				break
			}

			var res deepSeekStreamingResponse
			if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
				yield(models.Fragment{}, fmt.Errorf("error unmarshaling response: %w", err))
				return
			}

			if len(res.Choices) == 0 {
				continue
			}
			choice := res.Choices[0]

			if choice.Delta.Content != "" {
				if !yield(models.Fragment{Content: choice.Delta.Content}, nil) {
					return
				}
			}
			if choice.FinishReason != "" {
				d.logger.Debug("Stream finished", slog.String("reason", choice.FinishReason))
				yield(models.Fragment{FinishReason: choice.FinishReason}, nil)
				return
			}
		}

		yield(models.Fragment{}, errors.New("stream ended without finish signal"))
	}
}

// GenerateTitle asks the model for a short title summarizing the given first
// message of a session.
func (d DeepSeek) GenerateTitle(ctx context.Context, message string) (string, error) {
	msgs := []models.Message{
		{
			Role:    models.RoleUser,
			Content: message,
		},
	}

	resp, err := d.doRequest(ctx, msgs, false)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	var res deepSeekResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("error decoding response: %w", err)
	}

	if len(res.Choices) == 0 {
		return "", errors.New("no choices found")
	}
	return res.Choices[0].Message.Content, nil
}

func (d DeepSeek) doRequest(ctx context.Context, messages []models.Message, stream bool) (*http.Response, error) {
	msgs := make([]deepSeekMessage, len(messages))
	for i, msg := range messages {
		msgs[i] = deepSeekMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}
	if d.systemPrompt != "" {
		msgs = slices.Insert(msgs, 0, deepSeekMessage{
			Role:    "system",
			Content: d.systemPrompt,
		})
	}

	reqBody := deepSeekChatRequest{
		Model:    d.model,
		Messages: msgs,
		Stream:   stream,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	d.logger.Debug("Request Body", slog.String("body", string(jsonBody)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.baseURL+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	return resp, nil
}
