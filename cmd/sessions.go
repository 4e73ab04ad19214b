package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Greyisheep/database-session-demo/internal/config"
	"github.com/Greyisheep/database-session-demo/internal/session"
)

var (
	sessionsUser       string
	sessionsShowEvents int32
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's sessions, most recently updated first",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session's state and recent events",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and release its artifact references",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsCmd.PersistentFlags().StringVar(&sessionsUser, "user", "demo_user", "user whose sessions to operate on")
	sessionsShowCmd.Flags().Int32Var(&sessionsShowEvents, "events", 20, "number of recent events to show (0 = none)")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, cfg *config.Config, store *session.Store) error {
		summaries, err := store.ListSessions(ctx, cfg.AppName, sessionsUser)
		if err != nil {
			return fmt.Errorf("listing sessions: %w", err)
		}
		if len(summaries) == 0 {
			fmt.Printf("No sessions for user %s\n", sessionsUser)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tEVENTS\tCREATED\tUPDATED")
		for _, s := range summaries {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
				s.Key.ID, s.EventCount, formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flushing output: %w", err)
		}
		return nil
	})
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, cfg *config.Config, store *session.Store) error {
		key := session.Key{AppName: cfg.AppName, UserID: sessionsUser, ID: args[0]}

		sess, err := store.GetSession(ctx, key, session.WithRecentEvents(sessionsShowEvents))
		if err != nil {
			return fmt.Errorf("getting session: %w", err)
		}

		fmt.Printf("Session: %s\n", sess.Key.ID)
		fmt.Printf("User: %s\n", sess.Key.UserID)
		fmt.Printf("Events: %d\n", sess.EventCount)
		fmt.Printf("Created: %s\n", formatTime(sess.CreatedAt))
		fmt.Printf("Updated: %s\n", formatTime(sess.UpdatedAt))

		if len(sess.State) > 0 {
			state, err := json.MarshalIndent(sess.State, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding state: %w", err)
			}
			fmt.Printf("State: %s\n", state)
		}

		if len(sess.Events) == 0 {
			return nil
		}
		fmt.Println()
		for _, ev := range sess.Events {
			fmt.Printf("[%d] %s\n", ev.Seq, renderEvent(ev))
		}
		return nil
	})
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, cfg *config.Config, store *session.Store) error {
		key := session.Key{AppName: cfg.AppName, UserID: sessionsUser, ID: args[0]}

		deleted, err := store.DeleteSession(ctx, key)
		if err != nil {
			return fmt.Errorf("deleting session: %w", err)
		}
		if !deleted {
			fmt.Printf("Session %s not found\n", key.ID)
			return nil
		}

		// Drop the chat bookmark if it pointed at the deleted session.
		if dir, dirErr := config.Dir(); dirErr == nil {
			if cur, curErr := session.LoadCurrent(dir); curErr == nil && cur != nil && cur.SessionID == key.ID {
				_ = session.ClearCurrent(dir)
			}
		}

		fmt.Printf("Session %s deleted\n", key.ID)
		return nil
	})
}

// renderEvent flattens an event into one line: author, text, attachments.
func renderEvent(ev session.Event) string {
	var b strings.Builder
	b.WriteString(string(ev.Author))
	b.WriteString("> ")

	for i, p := range ev.Parts {
		if i > 0 {
			b.WriteString(" ")
		}
		switch p.Kind {
		case session.PartText:
			b.WriteString(p.Text)
		case session.PartFile:
			fmt.Fprintf(&b, "[file: %s (%s, %d bytes)]", p.FileName, p.MIME, p.Size)
		case session.PartToolResult:
			fmt.Fprintf(&b, "[tool: %s]", p.ToolName)
		}
	}
	return b.String()
}

// formatTime formats time in a human-readable relative format.
func formatTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%d days ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02 15:04")
	}
}
