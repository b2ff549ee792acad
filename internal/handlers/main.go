package handlers

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"net/http"

	"github.com/tmaxmax/go-sse"

	"github.com/xuedaobian/chatgpt-like/internal/models"
)

// LLM represents a language model interface that provides streaming chat
// completions. It accepts a context and the full ordered history, returning
// an iterator that yields fragments and potential errors. The sequence is
// single-pass: it ends with a fragment carrying a finish reason, or with an
// error when the upstream stream breaks first.
type LLM interface {
	Chat(ctx context.Context, messages []models.Message) iter.Seq2[models.Fragment, error]
}

// TitleGenerator produces a short session title from the first user message.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, message string) (string, error)
}

// Store defines the interface for session history persistence. Append creates
// the session implicitly when absent; RemoveLastIfAssistant atomically pops
// the tail only when it is an assistant message. Unknown sessions read as
// empty histories, never as errors.
type Store interface {
	Exists(ctx context.Context, sessionID string) (bool, error)
	Messages(ctx context.Context, sessionID string) ([]models.Message, error)
	AppendMessage(ctx context.Context, sessionID string, message models.Message) error
	LastMessage(ctx context.Context, sessionID string) (models.Message, bool, error)
	RemoveLastIfAssistant(ctx context.Context, sessionID string) (bool, error)
	Sessions(ctx context.Context) ([]models.SessionSummary, error)
	UpdateTitle(ctx context.Context, sessionID, title string) error
}

// Main handles the core functionality of the chat relay, wiring the LLM and
// Store components to the HTTP surface and the per-request SSE streams.
type Main struct {
	llm      LLM
	titleGen TitleGenerator
	store    Store

	locks *sessionLocks

	logger *slog.Logger
}

const errLoggerKey = "err"

// SSE event types of the wire protocol.
var (
	sessionSSEType = sse.Type("session")
	messageSSEType = sse.Type("message")
	errorSSEType   = sse.Type("error")
)

// NewMain creates a new Main instance with the provided LLM, title generator,
// and Store implementations. The title generator may be nil, in which case
// sessions keep their default title.
func NewMain(llm LLM, titleGen TitleGenerator, store Store, logger *slog.Logger) Main {
	return Main{
		llm:      llm,
		titleGen: titleGen,
		store:    store,
		locks:    newSessionLocks(),
		logger:   logger.With(slog.String("module", "handlers")),
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// writeError sends a structured JSON rejection. Only valid before the
// response has been upgraded to an event stream.
func writeError(w http.ResponseWriter, status int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message, Details: details})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
