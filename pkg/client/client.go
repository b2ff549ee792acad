// Package client consumes the chat relay's HTTP surface: it opens the SSE
// streams produced by new-message and retry requests, parses the wire events,
// and maintains a local transcript mirroring the server-side history.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"time"

	"github.com/tmaxmax/go-sse"
)

// EventType discriminates the wire events of one streamed exchange.
type EventType string

const (
	// EventSession binds the server-minted session identifier; sent once,
	// before any content, on new-message requests only.
	EventSession EventType = "session"
	// EventMessage carries one content delta, in fragment order.
	EventMessage EventType = "message"
	// EventError reports an in-stream failure; at most one, terminal.
	EventError EventType = "error"
)

// Event is one parsed wire event. Which fields are set depends on Type:
// SessionID for session events, Content for message events, Message and
// Details for error events.
type Event struct {
	Type      EventType
	SessionID string
	Content   string
	Message   string
	Details   string
}

// Message mirrors one server-side history entry.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionSummary mirrors one entry of the session listing.
type SessionSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// APIError is a structured rejection the server produced before opening the
// event stream.
type APIError struct {
	Status  int
	Message string
	Details string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("server returned %d: %s: %s", e.Status, e.Message, e.Details)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// ParseError reports a malformed frame on an otherwise healthy stream. The
// stream keeps going after one; callers decide whether to log or bail.
type ParseError struct {
	Data string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed stream event %q: %v", e.Data, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Client talks to one chat relay server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the server at baseURL (e.g. "http://localhost:3001").
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
}

type chatRequest struct {
	SessionID         string `json:"sessionId,omitempty"`
	NewMessageContent string `json:"newMessageContent"`
}

type retryRequest struct {
	SessionID string `json:"sessionId"`
}

type sessionEventData struct {
	SessionID string `json:"sessionId"`
}

type messageEventData struct {
	Content string `json:"content"`
}

type errorEventData struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

type historyResponse struct {
	SessionID string    `json:"sessionId"`
	History   []Message `json:"history"`
}

type sessionsResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// Send posts a new user message and streams the exchange back as parsed
// events. An empty sessionID asks the server to mint a new session, announced
// by the leading session event. Cancelling the context aborts the stream;
// the iteration then simply ends.
func (c *Client) Send(ctx context.Context, sessionID, content string) iter.Seq2[Event, error] {
	return c.stream(ctx, "/api/chat", chatRequest{
		SessionID:         sessionID,
		NewMessageContent: content,
	})
}

// Retry re-issues the last turn of a known session. No session event is
// expected on the resulting stream.
func (c *Client) Retry(ctx context.Context, sessionID string) iter.Seq2[Event, error] {
	return c.stream(ctx, "/api/chat/retry", retryRequest{SessionID: sessionID})
}

func (c *Client) stream(ctx context.Context, path string, body any) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			yield(Event{}, fmt.Errorf("error marshaling request: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+path, bytes.NewBuffer(jsonBody))
		if err != nil {
			yield(Event{}, fmt.Errorf("error creating request: %w", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(Event{}, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			yield(Event{}, decodeAPIError(resp))
			return
		}

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				yield(Event{}, fmt.Errorf("error reading stream: %w", err))
				return
			}

			event, perr := parseEvent(ev)
			if perr != nil {
				// A malformed frame doesn't abort a healthy stream.
				if !yield(Event{}, perr) {
					return
				}
				continue
			}
			if event.Type == "" {
				continue
			}
			if !yield(event, nil) {
				return
			}
		}
	}
}

func parseEvent(ev sse.Event) (Event, error) {
	switch EventType(ev.Type) {
	case EventSession:
		var data sessionEventData
		if err := json.Unmarshal([]byte(ev.Data), &data); err != nil {
			return Event{}, &ParseError{Data: ev.Data, Err: err}
		}
		return Event{Type: EventSession, SessionID: data.SessionID}, nil
	case EventMessage:
		var data messageEventData
		if err := json.Unmarshal([]byte(ev.Data), &data); err != nil {
			return Event{}, &ParseError{Data: ev.Data, Err: err}
		}
		return Event{Type: EventMessage, Content: data.Content}, nil
	case EventError:
		var data errorEventData
		if err := json.Unmarshal([]byte(ev.Data), &data); err != nil {
			return Event{}, &ParseError{Data: ev.Data, Err: err}
		}
		return Event{Type: EventError, Message: data.Error, Details: data.Details}, nil
	default:
		// Unknown event types are ignored for forward compatibility.
		return Event{}, nil
	}
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		apiErr.Message = resp.Status
		return apiErr
	}
	apiErr.Message = body.Error
	apiErr.Details = body.Details
	return apiErr
}

// History fetches the stored history of a session.
func (c *Client) History(ctx context.Context, sessionID string) ([]Message, error) {
	var res historyResponse
	if err := c.getJSON(ctx, "/api/chat/history/"+sessionID, &res); err != nil {
		return nil, err
	}
	return res.History, nil
}

// Sessions lists summaries of all sessions stored on the server.
func (c *Client) Sessions(ctx context.Context) ([]SessionSummary, error) {
	var res sessionsResponse
	if err := c.getJSON(ctx, "/api/chat/sessions", &res); err != nil {
		return nil, err
	}
	return res.Sessions, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}
