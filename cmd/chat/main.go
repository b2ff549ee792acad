// Command chat is a terminal client for the chat relay server. It streams
// assistant replies as they arrive, keeps a local transcript, and supports
// retrying the last turn. Ctrl-C cancels an in-flight reply without quitting.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/xuedaobian/chatgpt-like/pkg/client"
)

func main() {
	serverURL := flag.String("server", "http://localhost:3001", "base URL of the chat relay server")
	flag.Parse()

	c := client.New(*serverURL)
	transcript := client.NewTranscript()

	fmt.Println("Connected to", *serverURL)
	fmt.Println("Commands: /retry, /history, /sessions, /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit":
			return
		case "/retry":
			retry(c, transcript)
		case "/history":
			showHistory(c, transcript)
		case "/sessions":
			showSessions(c)
		default:
			send(c, transcript, line)
		}
	}
}

// streamCtx returns a context cancelled by Ctrl-C, so a long reply can be
// aborted without quitting the program.
func streamCtx() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func send(c *client.Client, transcript *client.Transcript, content string) {
	transcript.AppendUser(content)
	transcript.BeginAssistant()

	ctx, cancel := streamCtx()
	defer cancel()

	consume(ctx, transcript, c.Send(ctx, transcript.SessionID(), content))
}

func retry(c *client.Client, transcript *client.Transcript) {
	if transcript.SessionID() == "" {
		fmt.Println("nothing to retry yet")
		return
	}

	// Drop the previous assistant turn (or error entry) locally; the server
	// applies the same rule to the stored history.
	messages := transcript.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != client.RoleUser {
			transcript.TruncateForRetry(messages[i].ID)
			break
		}
	}
	transcript.BeginAssistant()

	ctx, cancel := streamCtx()
	defer cancel()

	consume(ctx, transcript, c.Retry(ctx, transcript.SessionID()))
}

func consume(ctx context.Context, transcript *client.Transcript, events func(func(client.Event, error) bool)) {
	for event, err := range events {
		if err != nil {
			var parseErr *client.ParseError
			if errors.As(err, &parseErr) {
				fmt.Fprintln(os.Stderr, "\nwarning:", parseErr)
				continue
			}
			fmt.Fprintln(os.Stderr, "\nstream failed:", err)
			transcript.Fail(err.Error())
			return
		}

		transcript.Apply(event)
		switch event.Type {
		case client.EventSession:
			fmt.Println("[session", event.SessionID+"]")
		case client.EventMessage:
			fmt.Print(event.Content)
		case client.EventError:
			fmt.Fprintln(os.Stderr, "\nerror:", event.Message)
		}
	}

	if ctx.Err() != nil {
		// Cancelled by the user; drop the incomplete turn.
		transcript.Discard()
		fmt.Println("\n[cancelled]")
		return
	}
	transcript.End()
	fmt.Println()
}

func showHistory(c *client.Client, transcript *client.Transcript) {
	if transcript.SessionID() == "" {
		fmt.Println("no session yet")
		return
	}

	history, err := c.History(context.Background(), transcript.SessionID())
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to fetch history:", err)
		return
	}
	for _, msg := range history {
		fmt.Printf("%s: %s\n", msg.Role, msg.Content)
	}
}

func showSessions(c *client.Client) {
	sessions, err := c.Sessions(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to fetch sessions:", err)
		return
	}
	for _, s := range sessions {
		fmt.Printf("%s  %s  (updated %s)\n", s.ID, s.Title, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
}
