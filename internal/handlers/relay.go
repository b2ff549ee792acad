package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/tmaxmax/go-sse"

	"github.com/xuedaobian/chatgpt-like/internal/models"
)

type sessionEvent struct {
	SessionID string `json:"sessionId"`
}

type messageEvent struct {
	Content string `json:"content"`
}

type errorEvent struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func sendEvent(sess *sse.Session, typ sse.EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	e := &sse.Message{Type: typ}
	e.AppendData(string(data))
	if err := sess.Send(e); err != nil {
		return err
	}
	return sess.Flush()
}

// streamCompletion drives the completion source against the given history and
// relays the fragments to the client, one message event per non-empty delta,
// in arrival order. On a finish signal the accumulated reply is committed as
// a single assistant message, unless it is empty after trimming. On a
// provider failure one error event is emitted (if the stream is still
// writable) and nothing is committed; a client disconnect likewise commits
// nothing. The relay never retries by itself.
func (m Main) streamCompletion(
	ctx context.Context,
	sess *sse.Session,
	sessionID string,
	history []models.Message,
) {
	logger := m.logger.With(slog.String("sessionID", sessionID))

	var (
		reply    strings.Builder
		finished bool
	)

	for fragment, err := range m.llm.Chat(ctx, history) {
		if err != nil {
			logger.Error("Error from llm provider", slog.String(errLoggerKey, err.Error()))
			if sendErr := sendEvent(sess, errorSSEType, errorEvent{
				Error:   "error while processing the completion stream",
				Details: err.Error(),
			}); sendErr != nil {
				logger.Error("Failed to send error event", slog.String(errLoggerKey, sendErr.Error()))
			}
			return
		}

		if fragment.FinishReason != "" {
			logger.Debug("Completion finished", slog.String("reason", fragment.FinishReason))
			finished = true
			break
		}
		if fragment.Content == "" {
			continue
		}

		if err := sendEvent(sess, messageSSEType, messageEvent{Content: fragment.Content}); err != nil {
			// The client is gone; stop relaying and leave history untouched.
			logger.Warn("Failed to forward fragment", slog.String(errLoggerKey, err.Error()))
			return
		}
		reply.WriteString(fragment.Content)
	}

	if !finished {
		if ctx.Err() != nil {
			logger.Debug("Stream cancelled by client")
			return
		}
		logger.Error("Completion stream ended without finish signal")
		if err := sendEvent(sess, errorSSEType, errorEvent{
			Error: "completion stream ended unexpectedly",
		}); err != nil {
			logger.Error("Failed to send error event", slog.String(errLoggerKey, err.Error()))
		}
		return
	}

	if strings.TrimSpace(reply.String()) == "" {
		logger.Info("Assistant returned no content, nothing recorded")
		return
	}

	assistantMessage := models.Message{
		Role:      models.RoleAssistant,
		Content:   reply.String(),
		Timestamp: time.Now(),
	}
	// A disconnect after the finish signal must not lose the completed reply.
	if err := m.store.AppendMessage(context.WithoutCancel(ctx), sessionID, assistantMessage); err != nil {
		logger.Error("Failed to record assistant message", slog.String(errLoggerKey, err.Error()))
		if sendErr := sendEvent(sess, errorSSEType, errorEvent{
			Error:   "failed to record assistant message",
			Details: err.Error(),
		}); sendErr != nil {
			logger.Error("Failed to send error event", slog.String(errLoggerKey, sendErr.Error()))
		}
	}
}
