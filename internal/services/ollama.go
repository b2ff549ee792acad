package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"slices"

	"github.com/ollama/ollama/api"

	"github.com/xuedaobian/chatgpt-like/internal/models"
)

// Ollama provides an implementation of the LLM interface for a local Ollama
// server instance, streaming chat completions over its native API.
type Ollama struct {
	host         string
	model        string
	systemPrompt string

	client *api.Client
}

// NewOllama creates a new Ollama instance with the specified host URL and
// model name. The host parameter should be a valid URL pointing to an Ollama
// server. If the provided host URL is invalid, the function will panic.
func NewOllama(host, model, systemPrompt string) Ollama {
	u, err := url.Parse(host)
	if err != nil {
		panic(err)
	}

	return Ollama{
		host:         host,
		model:        model,
		systemPrompt: systemPrompt,
		client:       api.NewClient(u, &http.Client{}),
	}
}

// Chat streams a completion from the Ollama model for the given ordered
// history. Deltas arrive via the callback-based Ollama client and are
// re-yielded in order; the final response carries the done reason.
func (o Ollama) Chat(ctx context.Context, messages []models.Message) iter.Seq2[models.Fragment, error] {
	return func(yield func(models.Fragment, error) bool) {
		msgs := make([]api.Message, len(messages))
		for i, msg := range messages {
			msgs[i] = api.Message{
				Role:    string(msg.Role),
				Content: msg.Content,
			}
		}
		if o.systemPrompt != "" {
			msgs = slices.Insert(msgs, 0, api.Message{
				Role:    "system",
				Content: o.systemPrompt,
			})
		}

		t := true
		req := api.ChatRequest{
			Model:    o.model,
			Messages: msgs,
			Stream:   &t,
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		// The callback can fire again after cancellation, before the client
		// notices the dead context; stopped guards against yielding then.
		finished, stopped := false, false
		if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if stopped {
				return nil
			}
			if res.Message.Content != "" {
				if !yield(models.Fragment{Content: res.Message.Content}, nil) {
					stopped = true
					cancel()
					return nil
				}
			}
			if res.Done {
				reason := res.DoneReason
				if reason == "" {
					reason = "stop"
				}
				finished = true
				yield(models.Fragment{FinishReason: reason}, nil)
				stopped = true
				cancel()
			}
			return nil
		}); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(models.Fragment{}, fmt.Errorf("error sending request: %w", err))
			return
		}

		if !finished {
			yield(models.Fragment{}, errors.New("stream ended without finish signal"))
		}
	}
}

// GenerateTitle asks the model for a short title summarizing the given first
// message of a session.
func (o Ollama) GenerateTitle(ctx context.Context, message string) (string, error) {
	f := false
	req := api.ChatRequest{
		Model: o.model,
		Messages: []api.Message{
			{
				Role:    "system",
				Content: o.systemPrompt,
			},
			{
				Role:    "user",
				Content: message,
			},
		},
		Stream: &f,
	}

	var title string
	if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
		title = res.Message.Content
		return nil
	}); err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}

	return title, nil
}
