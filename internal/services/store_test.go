package services

import (
	"context"
	"testing"
	"time"

	"github.com/xuedaobian/chatgpt-like/internal/models"
)

// store is the subset of behavior shared by all backends; each backend's test
// file runs the same contract against its own instance.
type store interface {
	Exists(ctx context.Context, sessionID string) (bool, error)
	Messages(ctx context.Context, sessionID string) ([]models.Message, error)
	AppendMessage(ctx context.Context, sessionID string, message models.Message) error
	LastMessage(ctx context.Context, sessionID string) (models.Message, bool, error)
	RemoveLastIfAssistant(ctx context.Context, sessionID string) (bool, error)
	Sessions(ctx context.Context) ([]models.SessionSummary, error)
	UpdateTitle(ctx context.Context, sessionID, title string) error
}

func message(role models.Role, content string) models.Message {
	return models.Message{Role: role, Content: content, Timestamp: time.Now().UTC().Truncate(time.Second)}
}

func testStoreContract(t *testing.T, s store) {
	t.Helper()
	ctx := context.Background()

	t.Run("Unknown session reads as empty", func(t *testing.T) {
		exists, err := s.Exists(ctx, "nope")
		if err != nil {
			t.Fatal(err)
		}
		if exists {
			t.Error("Exists() = true for an unknown session")
		}

		history, err := s.Messages(ctx, "nope")
		if err != nil {
			t.Fatal(err)
		}
		if len(history) != 0 {
			t.Errorf("Messages() = %+v, want empty", history)
		}

		if _, ok, err := s.LastMessage(ctx, "nope"); err != nil {
			t.Fatal(err)
		} else if ok {
			t.Error("LastMessage() reports a tail for an unknown session")
		}

		if removed, err := s.RemoveLastIfAssistant(ctx, "nope"); err != nil {
			t.Fatal(err)
		} else if removed {
			t.Error("RemoveLastIfAssistant() removed from an unknown session")
		}
	})

	t.Run("Append creates and orders", func(t *testing.T) {
		messages := []models.Message{
			message(models.RoleUser, "hi"),
			message(models.RoleAssistant, "Hello!"),
			message(models.RoleUser, "who are you?"),
		}
		for _, msg := range messages {
			if err := s.AppendMessage(ctx, "s1", msg); err != nil {
				t.Fatal(err)
			}
		}

		exists, err := s.Exists(ctx, "s1")
		if err != nil {
			t.Fatal(err)
		}
		if !exists {
			t.Error("Exists() = false after AppendMessage")
		}

		history, err := s.Messages(ctx, "s1")
		if err != nil {
			t.Fatal(err)
		}
		if len(history) != len(messages) {
			t.Fatalf("Messages() length = %d, want %d", len(history), len(messages))
		}
		for i, want := range messages {
			if history[i].Role != want.Role || history[i].Content != want.Content {
				t.Errorf("Messages()[%d] = %+v, want %+v", i, history[i], want)
			}
		}

		tail, ok, err := s.LastMessage(ctx, "s1")
		if err != nil {
			t.Fatal(err)
		}
		if !ok || tail.Content != "who are you?" {
			t.Errorf("LastMessage() = %+v, %v, want the third message", tail, ok)
		}
	})

	t.Run("RemoveLastIfAssistant", func(t *testing.T) {
		// Tail is a user message after the previous subtest; no removal.
		removed, err := s.RemoveLastIfAssistant(ctx, "s1")
		if err != nil {
			t.Fatal(err)
		}
		if removed {
			t.Error("RemoveLastIfAssistant() removed a user tail")
		}

		if err := s.AppendMessage(ctx, "s1", message(models.RoleAssistant, "A model.")); err != nil {
			t.Fatal(err)
		}
		removed, err = s.RemoveLastIfAssistant(ctx, "s1")
		if err != nil {
			t.Fatal(err)
		}
		if !removed {
			t.Error("RemoveLastIfAssistant() did not remove an assistant tail")
		}

		tail, ok, err := s.LastMessage(ctx, "s1")
		if err != nil {
			t.Fatal(err)
		}
		if !ok || tail.Role != models.RoleUser || tail.Content != "who are you?" {
			t.Errorf("tail after removal = %+v, %v, want the prior user message", tail, ok)
		}

		history, err := s.Messages(ctx, "s1")
		if err != nil {
			t.Fatal(err)
		}
		if len(history) != 3 {
			t.Errorf("history length after removal = %d, want 3", len(history))
		}
	})

	t.Run("Sessions and titles", func(t *testing.T) {
		if err := s.AppendMessage(ctx, "s2", message(models.RoleUser, "second session")); err != nil {
			t.Fatal(err)
		}

		summaries, err := s.Sessions(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(summaries) != 2 {
			t.Fatalf("Sessions() length = %d, want 2", len(summaries))
		}
		// Most recently updated first.
		if summaries[0].ID != "s2" {
			t.Errorf("Sessions()[0].ID = %q, want s2", summaries[0].ID)
		}
		for _, summary := range summaries {
			if summary.Title != models.DefaultSessionTitle {
				t.Errorf("session %q title = %q, want %q", summary.ID, summary.Title, models.DefaultSessionTitle)
			}
		}

		if err := s.UpdateTitle(ctx, "s1", "Introductions"); err != nil {
			t.Fatal(err)
		}
		if err := s.UpdateTitle(ctx, "ghost", "Boo"); err != nil {
			t.Errorf("UpdateTitle() on an unknown session = %v, want nil", err)
		}

		summaries, err = s.Sessions(ctx)
		if err != nil {
			t.Fatal(err)
		}
		var found bool
		for _, summary := range summaries {
			if summary.ID == "s1" {
				found = true
				if summary.Title != "Introductions" {
					t.Errorf("s1 title = %q, want Introductions", summary.Title)
				}
			}
			if summary.ID == "ghost" {
				t.Error("UpdateTitle() on an unknown session must not create it")
			}
		}
		if !found {
			t.Error("Sessions() no longer lists s1")
		}
	})
}
