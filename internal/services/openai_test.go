package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xuedaobian/chatgpt-like/internal/models"
)

// openAIServer serves a canned streamed completion on /chat/completions.
func openAIServer(t *testing.T, chunks []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
	}))
}

func TestOpenAIChat(t *testing.T) {
	ts := openAIServer(t, []string{
		`{"choices": [{"delta": {"content": "Hel"}}]}`,
		`{"choices": [{"delta": {"content": "lo!"}}]}`,
		`{"choices": [{"delta": {}, "finish_reason": "stop"}]}`,
		`[DONE]`,
	})
	defer ts.Close()

	o := NewOpenAI("test-key", ts.URL, "gpt-4o-mini", "Be helpful.", discardLogger())

	history := []models.Message{{Role: models.RoleUser, Content: "hi"}}
	fragments, err := collectFragments(t, o.Chat(context.Background(), history))
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	want := []models.Fragment{
		{Content: "Hel"},
		{Content: "lo!"},
		{FinishReason: "stop"},
	}
	if len(fragments) != len(want) {
		t.Fatalf("got %d fragments, want %d: %+v", len(fragments), len(want), fragments)
	}
	for i, fragment := range fragments {
		if fragment != want[i] {
			t.Errorf("fragment %d = %+v, want %+v", i, fragment, want[i])
		}
	}
}

func TestOpenAIChatStreamEndsWithoutFinish(t *testing.T) {
	ts := openAIServer(t, []string{
		`{"choices": [{"delta": {"content": "partial"}}]}`,
		`[DONE]`,
	})
	defer ts.Close()

	o := NewOpenAI("test-key", ts.URL, "gpt-4o-mini", "", discardLogger())

	fragments, err := collectFragments(t, o.Chat(context.Background(), nil))
	if err == nil {
		t.Fatal("Chat() should yield an error when the stream ends without a finish signal")
	}
	if !strings.Contains(err.Error(), "without finish signal") {
		t.Errorf("Chat() error = %v, want a missing-finish-signal error", err)
	}
	if len(fragments) != 1 || fragments[0].Content != "partial" {
		t.Errorf("fragments before the error = %+v, want the partial delta", fragments)
	}
}

func TestOpenAIChatUpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "invalid api key", "type": "invalid_request_error"},
		})
	}))
	defer ts.Close()

	o := NewOpenAI("bad-key", ts.URL, "gpt-4o-mini", "", discardLogger())

	if _, err := collectFragments(t, o.Chat(context.Background(), nil)); err == nil {
		t.Fatal("Chat() should yield an error on a non-200 upstream response")
	}
}

func TestOpenAIChatCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := NewOpenAI("test-key", "http://127.0.0.1:0", "gpt-4o-mini", "", discardLogger())

	fragments, err := collectFragments(t, o.Chat(ctx, nil))
	if err != nil {
		t.Errorf("Chat() on a cancelled context yielded %v, want a silent end", err)
	}
	if len(fragments) != 0 {
		t.Errorf("fragments = %+v, want none", fragments)
	}
}

func TestOpenAIGenerateTitle(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stream   bool `json:"stream"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if req.Stream {
			t.Error("title generation must not stream")
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("messages = %+v, want system prompt then user message", req.Messages)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "Greetings"}},
			},
		})
	}))
	defer ts.Close()

	o := NewOpenAI("test-key", ts.URL, "gpt-4o-mini", "Summarize in a short title.", discardLogger())

	title, err := o.GenerateTitle(context.Background(), "hi there")
	if err != nil {
		t.Fatalf("GenerateTitle() error = %v", err)
	}
	if title != "Greetings" {
		t.Errorf("GenerateTitle() = %q, want Greetings", title)
	}
}
