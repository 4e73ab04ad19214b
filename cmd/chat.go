package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Greyisheep/database-session-demo/internal/app"
	"github.com/Greyisheep/database-session-demo/internal/chat"
	"github.com/Greyisheep/database-session-demo/internal/config"
	"github.com/Greyisheep/database-session-demo/internal/session"
)

var (
	chatUser    string
	chatSession string
	chatNew     bool
	chatFile    string
	chatDataURI string
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the agent; the conversation survives restarts",
	Long: `chat sends a single turn when a message or attachment is given, and
starts an interactive conversation otherwise.

The session in use is remembered in a pointer file under the config
directory, so consecutive invocations continue the same conversation.
Pass --new to start over, or --session to continue a specific one.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", "demo_user", "user the conversation belongs to")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "session ID to continue (default: the remembered session)")
	chatCmd.Flags().BoolVar(&chatNew, "new", false, "start a fresh session")
	chatCmd.Flags().StringVar(&chatFile, "file", "", "attach a file to the turn")
	chatCmd.Flags().StringVar(&chatDataURI, "data-uri", "", "attach a base64 data URI to the turn")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
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

	configDir, err := config.Dir()
	if err != nil {
		return err
	}

	sessionID, err := resolveChatSession(configDir, cfg.AppName)
	if err != nil {
		return err
	}

	if len(args) > 0 || chatFile != "" || chatDataURI != "" {
		return oneTurn(ctx, a, configDir, sessionID, strings.Join(args, " "))
	}
	return chatLoop(ctx, a, configDir, sessionID)
}

// resolveChatSession decides which session the turn continues: the --session
// flag wins, then the remembered session when it belongs to the same app and
// user, and an empty result creates a new one.
func resolveChatSession(configDir, appName string) (string, error) {
	if chatNew {
		return "", nil
	}
	if chatSession != "" {
		return chatSession, nil
	}

	cur, err := session.LoadCurrent(configDir)
	if err != nil {
		return "", fmt.Errorf("loading remembered session: %w", err)
	}
	if cur != nil && cur.AppName == appName && cur.UserID == chatUser {
		return cur.SessionID, nil
	}
	return "", nil
}

// rememberSession saves the bookmark so the next invocation continues here.
// Failure to save is a warning, not an error: the turn itself is durable.
func rememberSession(configDir string, key session.Key) {
	err := session.SaveCurrent(configDir, session.Current{
		AppName:   key.AppName,
		UserID:    key.UserID,
		SessionID: key.ID,
	})
	if err != nil {
		slog.Warn("failed to remember session", "error", err)
	}
}

// buildUploads turns the --file and --data-uri flags into uploads.
func buildUploads() ([]chat.Upload, error) {
	var uploads []chat.Upload

	if chatFile != "" {
		data, err := os.ReadFile(chatFile)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", chatFile, err)
		}
		mimeType := mime.TypeByExtension(filepath.Ext(chatFile))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		uploads = append(uploads, chat.Upload{
			Name: filepath.Base(chatFile),
			MIME: mimeType,
			Data: data,
		})
	}

	if chatDataURI != "" {
		data, mimeType, name, err := chat.ParseDataURI(chatDataURI)
		if err != nil {
			return nil, fmt.Errorf("invalid data URI: %w", err)
		}
		uploads = append(uploads, chat.Upload{Name: name, MIME: mimeType, Data: data})
	}

	return uploads, nil
}

// oneTurn sends a single turn and prints the reply.
func oneTurn(ctx context.Context, a *app.App, configDir, sessionID, input string) error {
	uploads, err := buildUploads()
	if err != nil {
		return err
	}

	result, err := a.Runner.Turn(ctx, chatUser, sessionID, input, uploads)
	if err != nil {
		return fmt.Errorf("sending turn: %w", err)
	}
	rememberSession(configDir, result.Key)

	st := defaultStyles()
	if result.Created {
		fmt.Println(st.System.Render("started session " + result.Key.ID))
	}
	fmt.Println(result.Reply)
	return nil
}

// chatLoop runs the interactive conversation until EOF or /exit.
func chatLoop(ctx context.Context, a *app.App, configDir, sessionID string) error {
	st := defaultStyles()

	fmt.Println(st.Title.Render("sessiond chat"))
	if sessionID != "" {
		fmt.Println(st.System.Render("continuing session " + sessionID))
	} else {
		fmt.Println(st.System.Render("starting a new session"))
	}
	fmt.Println(st.System.Render("/help for commands, Ctrl+D to exit"))
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(st.Prompt.Render("You> "))

		if !scanner.Scan() {
			// EOF (Ctrl+D)
			fmt.Println()
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			exit, err := handleChatCommand(ctx, a, configDir, &sessionID, input, st)
			if err != nil {
				fmt.Println(st.Error.Render(err.Error()))
			}
			if exit {
				break
			}
			continue
		}

		result, err := a.Runner.Turn(ctx, chatUser, sessionID, input, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Println(st.Error.Render("error: " + err.Error()))
			continue
		}
		sessionID = result.Key.ID
		rememberSession(configDir, result.Key)

		fmt.Println(st.Agent.Render("Agent> ") + result.Reply)
		fmt.Println()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}

// handleChatCommand executes a /command. Returns true when the loop should
// exit.
func handleChatCommand(ctx context.Context, a *app.App, configDir string, sessionID *string, input string, st cliStyles) (bool, error) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/help":
		fmt.Println("  /help       Show available commands")
		fmt.Println("  /session    Show the current session ID")
		fmt.Println("  /sessions   List this user's sessions")
		fmt.Println("  /new        Start a fresh session on the next message")
		fmt.Println("  /exit       Leave the chat (also /quit, Ctrl+D)")
		fmt.Println()

	case "/session":
		if *sessionID == "" {
			fmt.Println(st.System.Render("no session yet, the next message creates one"))
		} else {
			fmt.Println(st.System.Render("session " + *sessionID))
		}
		fmt.Println()

	case "/sessions":
		summaries, err := a.Sessions.ListSessions(ctx, a.Config.AppName, chatUser)
		if err != nil {
			return false, fmt.Errorf("listing sessions: %w", err)
		}
		if len(summaries) == 0 {
			fmt.Println(st.System.Render("no sessions for " + chatUser))
		}
		for _, s := range summaries {
			marker := "  "
			if s.Key.ID == *sessionID {
				marker = st.Accent.Render("* ")
			}
			fmt.Printf("%s%s  %d events  updated %s\n",
				marker, s.Key.ID, s.EventCount, formatTime(s.UpdatedAt))
		}
		fmt.Println()

	case "/new":
		*sessionID = ""
		if err := session.ClearCurrent(configDir); err != nil {
			slog.Warn("failed to clear remembered session", "error", err)
		}
		fmt.Println(st.System.Render("the next message starts a fresh session"))
		fmt.Println()

	case "/exit", "/quit":
		fmt.Println(st.System.Render("goodbye"))
		return true, nil

	default:
		fmt.Printf("Unknown command: %s\n", parts[0])
		fmt.Println("Type /help to see available commands")
		fmt.Println()
	}

	return false, nil
}
