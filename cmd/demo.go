package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Greyisheep/database-session-demo/internal/app"
	"github.com/Greyisheep/database-session-demo/internal/chat"
	"github.com/Greyisheep/database-session-demo/internal/config"
	"github.com/Greyisheep/database-session-demo/internal/session"
)

const demoUser = "demo_user"

var demoKeep bool

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Walk through session persistence end to end",
	Long: `demo drives a scripted conversation against the store and proves
that everything survives process boundaries: it sends turns with an
attachment, then reopens the session through a fresh store instance and
replays what it finds. No model API key is needed.`,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().BoolVar(&demoKeep, "keep", false, "keep the demo session instead of deleting it")
	rootCmd.AddCommand(demoCmd)
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// The walkthrough is deterministic and offline; it also sweeps
	// explicitly at the end instead of running the background ticker.
	cfg.Responder = config.ResponderScripted
	cfg.SweepInterval = 0

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	st := defaultStyles()
	fmt.Println(st.Title.Render("sessiond persistence walkthrough"))
	fmt.Println(st.System.Render("every step below is durable the moment it returns"))

	printStep(st, 1, "Create a session and send the first turn")
	first, err := a.Runner.Turn(ctx, demoUser, "", "Hello! I am checking that you remember things.", nil)
	if err != nil {
		return fmt.Errorf("first turn: %w", err)
	}
	key := first.Key
	fmt.Printf("session %s created for %s\n", st.Accent.Render(key.ID), key.UserID)
	fmt.Println(st.Agent.Render("Agent> ") + first.Reply)

	printStep(st, 2, "Send a turn with a file attachment")
	upload := chat.Upload{
		Name: "notes.txt",
		MIME: "text/plain",
		Data: []byte("This file travels through the artifact registry."),
	}
	second, err := a.Runner.Turn(ctx, demoUser, key.ID, "Please keep these notes.", []chat.Upload{upload})
	if err != nil {
		return fmt.Errorf("second turn: %w", err)
	}
	fmt.Println(st.Agent.Render("Agent> ") + second.Reply)
	fmt.Printf("message_count=%d has_files=%v\n", second.MessageCount, second.HasFiles)

	printStep(st, 3, "Reopen the conversation through a fresh store instance")
	// A second store over the same pool stands in for a process restart:
	// nothing below touches the instance that wrote the data.
	reopened := session.New(a.Pool, logger.With("component", "session2"))
	runner2, err := chat.New(chat.Config{
		Store:     reopened,
		Responder: chat.NewScriptedResponder(),
		Logger:    logger.With("component", "chat2"),
		AppName:   cfg.AppName,
	})
	if err != nil {
		return fmt.Errorf("creating second runner: %w", err)
	}

	sess, err := reopened.GetSession(ctx, key)
	if err != nil {
		return fmt.Errorf("reopening session: %w", err)
	}
	fmt.Printf("found %d events, state %v\n", sess.EventCount, sess.State)
	for _, ev := range sess.Events {
		fmt.Println("  " + renderEvent(ev))
	}

	if hash := firstFileHash(sess.Events); hash != "" {
		info, statErr := reopened.Artifacts().Stat(ctx, hash)
		if statErr == nil {
			fmt.Printf("attachment %s... (%s, %d bytes, %d reference)\n",
				hash[:12], info.MIME, info.Size, info.RefCount)
		}
	}

	third, err := runner2.Turn(ctx, demoUser, key.ID, "Do you still have my notes?", nil)
	if err != nil {
		return fmt.Errorf("third turn: %w", err)
	}
	fmt.Println(st.Agent.Render("Agent> ") + third.Reply)
	fmt.Printf("message_count=%d (carried across instances)\n", third.MessageCount)

	printStep(st, 4, "List the user's sessions")
	summaries, err := reopened.ListSessions(ctx, cfg.AppName, demoUser)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	for _, s := range summaries {
		fmt.Printf("%s  %d events  updated %s\n", s.Key.ID, s.EventCount, formatTime(s.UpdatedAt))
	}

	if demoKeep {
		fmt.Println()
		fmt.Println(st.System.Render("session kept; inspect it with: sessiond sessions show " + key.ID))
		return nil
	}

	printStep(st, 5, "Delete the session and sweep its artifacts")
	deleted, err := reopened.DeleteSession(ctx, key)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	swept, err := reopened.Artifacts().Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweeping artifacts: %w", err)
	}
	fmt.Printf("deleted=%v, reclaimed %d artifact blob(s)\n", deleted, swept)

	fmt.Println()
	fmt.Println(st.Title.Render("done"))
	return nil
}

// printStep prints a numbered section header.
func printStep(st cliStyles, n int, title string) {
	fmt.Println()
	fmt.Println(st.Title.Render(fmt.Sprintf("%d. %s", n, title)))
}

// firstFileHash returns the hash of the first file part in events, or "".
func firstFileHash(events []session.Event) string {
	for _, ev := range events {
		for _, p := range ev.Parts {
			if p.Kind == session.PartFile {
				return p.Hash
			}
		}
	}
	return ""
}
