package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"

	"github.com/xuedaobian/chatgpt-like/internal/models"
)

type chatRequest struct {
	SessionID         string `json:"sessionId"`
	NewMessageContent string `json:"newMessageContent"`
}

type retryRequest struct {
	SessionID string `json:"sessionId"`
}

type historyResponse struct {
	SessionID string           `json:"sessionId"`
	History   []models.Message `json:"history"`
}

type sessionsResponse struct {
	Sessions []models.SessionSummary `json:"sessions"`
}

// HandleChat processes a new user message and streams the assistant reply
// back over SSE. The request body carries the message text and an optional
// session identifier; a known identifier continues that session, anything
// else mints a fresh one. For fresh sessions a session event carrying the new
// identifier is emitted before any content, and title generation is kicked
// off in the background.
//
// Validation failures are rejected with a structured JSON 400 before the
// stream opens; once the stream is open, failures can only surface as error
// events.
func (m Main) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		m.logger.Error("Failed to decode chat request", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.NewMessageContent) == "" {
		writeError(w, http.StatusBadRequest, `a non-empty "newMessageContent" is required`, "")
		return
	}

	sessionID := req.SessionID
	isNewSession := true
	if sessionID != "" {
		exists, err := m.store.Exists(r.Context(), sessionID)
		if err != nil {
			m.logger.Error("Failed to look up session", slog.String(errLoggerKey, err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to look up session", err.Error())
			return
		}
		isNewSession = !exists
	}
	if isNewSession {
		sessionID = uuid.New().String()
		m.logger.Info("Starting new session", slog.String("sessionID", sessionID))
	} else {
		m.logger.Info("Continuing session", slog.String("sessionID", sessionID))
	}

	if !m.locks.tryAcquire(sessionID) {
		writeError(w, http.StatusConflict, "another request is already streaming on this session", "")
		return
	}
	defer m.locks.release(sessionID)

	userMessage := models.Message{
		Role:      models.RoleUser,
		Content:   req.NewMessageContent,
		Timestamp: time.Now(),
	}
	if err := m.store.AppendMessage(r.Context(), sessionID, userMessage); err != nil {
		m.logger.Error("Failed to add user message", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to record user message", err.Error())
		return
	}

	if isNewSession {
		go m.generateSessionTitle(sessionID, req.NewMessageContent)
	}

	history, err := m.store.Messages(r.Context(), sessionID)
	if err != nil {
		m.logger.Error("Failed to get messages", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load history", err.Error())
		return
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		m.logger.Error("Failed to upgrade to event stream", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to open event stream", err.Error())
		return
	}

	if isNewSession {
		if err := sendEvent(sess, sessionSSEType, sessionEvent{SessionID: sessionID}); err != nil {
			m.logger.Error("Failed to send session event", slog.String(errLoggerKey, err.Error()))
			return
		}
	}

	m.streamCompletion(r.Context(), sess, sessionID, history)
}

// HandleRetry re-issues the last turn of a known session. A trailing
// assistant message is removed first, so the completion source sees the
// history as it was before the previous attempt; a trailing user message
// means the previous attempt produced nothing and the history is replayed
// as is. No session event is emitted, the client already holds the
// identifier.
func (m Main) HandleRetry(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		m.logger.Error("Failed to decode retry request", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, `a non-empty "sessionId" is required`, "")
		return
	}

	exists, err := m.store.Exists(r.Context(), req.SessionID)
	if err != nil {
		m.logger.Error("Failed to look up session", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to look up session", err.Error())
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %q not found", req.SessionID), "")
		return
	}

	if !m.locks.tryAcquire(req.SessionID) {
		writeError(w, http.StatusConflict, "another request is already streaming on this session", "")
		return
	}
	defer m.locks.release(req.SessionID)

	lastMessage, ok, err := m.store.LastMessage(r.Context(), req.SessionID)
	if err != nil {
		m.logger.Error("Failed to get last message", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load history", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, "cannot retry an empty session", "")
		return
	}

	switch lastMessage.Role {
	case models.RoleAssistant:
		removed, err := m.store.RemoveLastIfAssistant(r.Context(), req.SessionID)
		if err != nil {
			m.logger.Error("Failed to remove assistant message", slog.String(errLoggerKey, err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to adjust history", err.Error())
			return
		}
		if removed {
			m.logger.Info("Removed previous assistant message for retry",
				slog.String("sessionID", req.SessionID))

			newTail, ok, err := m.store.LastMessage(r.Context(), req.SessionID)
			if err != nil {
				m.logger.Error("Failed to get last message", slog.String(errLoggerKey, err.Error()))
				writeError(w, http.StatusInternalServerError, "failed to load history", err.Error())
				return
			}
			if !ok || newTail.Role != models.RoleUser {
				m.logger.Error("Inconsistent history after removal",
					slog.String("sessionID", req.SessionID))
				writeError(w, http.StatusConflict, "history is in an inconsistent state, cannot retry", "")
				return
			}
		}
	case models.RoleUser:
		// The previous attempt never produced content; replay as is.
	default:
		writeError(w, http.StatusBadRequest, "cannot retry, the last message is neither a user nor an assistant message", "")
		return
	}

	history, err := m.store.Messages(r.Context(), req.SessionID)
	if err != nil {
		m.logger.Error("Failed to get messages", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load history", err.Error())
		return
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		m.logger.Error("Failed to upgrade to event stream", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to open event stream", err.Error())
		return
	}

	m.streamCompletion(r.Context(), sess, req.SessionID, history)
}

// HandleHistory returns the stored history of a session, or a 404 when the
// session is unknown.
func (m Main) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, `a "sessionId" path parameter is required`, "")
		return
	}

	exists, err := m.store.Exists(r.Context(), sessionID)
	if err != nil {
		m.logger.Error("Failed to look up session", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to look up session", err.Error())
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %q not found", sessionID), "")
		return
	}

	history, err := m.store.Messages(r.Context(), sessionID)
	if err != nil {
		m.logger.Error("Failed to get messages", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load history", err.Error())
		return
	}
	if history == nil {
		history = []models.Message{}
	}

	writeJSON(w, historyResponse{SessionID: sessionID, History: history})
}

// HandleSessions lists summaries of all stored sessions.
func (m Main) HandleSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := m.store.Sessions(r.Context())
	if err != nil {
		m.logger.Error("Failed to list sessions", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list sessions", err.Error())
		return
	}
	if summaries == nil {
		summaries = []models.SessionSummary{}
	}

	writeJSON(w, sessionsResponse{Sessions: summaries})
}

func (m Main) generateSessionTitle(sessionID, message string) {
	if m.titleGen == nil {
		return
	}

	title, err := m.titleGen.GenerateTitle(context.Background(), message)
	if err != nil {
		m.logger.Error("Error generating session title",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return
	}

	if err := m.store.UpdateTitle(context.Background(), sessionID, title); err != nil {
		m.logger.Error("Failed to update session title",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
	}
}
