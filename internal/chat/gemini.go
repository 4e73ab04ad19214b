package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/Greyisheep/database-session-demo/internal/session"
)

const (
	// DefaultModel is the Gemini model used when none is configured.
	DefaultModel = "gemini-2.5-pro"

	// fallbackReply is returned when the model produces no text at all.
	fallbackReply = "I could not come up with a response. Please try rephrasing your question."

	// systemInstruction frames the assistant for every request.
	systemInstruction = "You are a helpful multimodal assistant. " +
		"Earlier file uploads appear in the conversation as bracketed markers " +
		"with their file names; refer to them by name. Keep replies concise."
)

// GeminiConfig configures a GeminiResponder.
type GeminiConfig struct {
	APIKey string // required
	Model  string // defaults to DefaultModel

	Logger  *slog.Logger  // nil = slog.Default()
	Limiter *rate.Limiter // proactive client-side limit, nil = 10 rps, burst 30
	Retry   RetryConfig   // zero value = DefaultRetryConfig()
}

// GeminiResponder produces replies by calling the Gemini API.
//
// Each attempt waits on the client-side rate limiter; transient failures
// are retried with exponential backoff.
type GeminiResponder struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
	retry   RetryConfig
	logger  *slog.Logger
}

// NewGeminiResponder creates a responder backed by the Gemini API.
func NewGeminiResponder(ctx context.Context, cfg GeminiConfig) (*GeminiResponder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	return &GeminiResponder{
		client:  client,
		model:   model,
		limiter: limiter,
		retry:   retry,
		logger:  logger,
	}, nil
}

// Respond implements Responder.
func (g *GeminiResponder) Respond(ctx context.Context, turn Turn) (string, error) {
	contents := buildContents(turn)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
	}

	result, err := g.generateWithRetry(ctx, contents, config)
	if err != nil {
		return "", err
	}

	reply := collectText(result)
	if strings.TrimSpace(reply) == "" {
		g.logger.Warn("model returned empty response", "model", g.model)
		return fallbackReply, nil
	}
	return reply, nil
}

// generateWithRetry calls the model with exponential backoff on transient
// failures. Every attempt, including the first, waits on the rate limiter.
func (g *GeminiResponder) generateWithRetry(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var lastErr error
	delay := g.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= g.retry.MaxRetries; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
		if err == nil {
			g.logger.Debug("gemini request succeeded",
				"model", g.model,
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			return result, nil
		}
		lastErr = err

		if !retryableError(err) {
			return nil, fmt.Errorf("gemini request failed: %w", err)
		}
		if attempt == g.retry.MaxRetries {
			break
		}

		g.logger.Debug("retrying gemini request",
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, g.retry.MaxInterval)
		}
	}

	return nil, fmt.Errorf("gemini request failed after %d retries (elapsed: %v): %w",
		g.retry.MaxRetries, time.Since(start), lastErr)
}

// buildContents converts a turn into the Gemini conversation format.
//
// History events map to one content each: user and tool events get the user
// role, agent events the model role. File and tool parts are rendered as
// bracketed text markers; only the current turn's attachments are sent as
// inline bytes.
func buildContents(turn Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turn.History)+1)

	for _, ev := range turn.History {
		text := renderEventText(ev)
		if text == "" {
			continue
		}
		// Gemini knows only the user and model roles; tool events are
		// inputs to the model, so they ride along as user content.
		role := "user"
		if ev.Author == session.AuthorAgent {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: text}},
		})
	}

	parts := make([]*genai.Part, 0, len(turn.Attachments)+1)
	if turn.Input != "" {
		parts = append(parts, &genai.Part{Text: turn.Input})
	}
	for _, a := range turn.Attachments {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{MIMEType: a.Ref.MIME, Data: a.Data},
		})
	}
	if len(parts) == 0 {
		parts = append(parts, &genai.Part{Text: ""})
	}
	contents = append(contents, &genai.Content{Role: "user", Parts: parts})

	return contents
}

// renderEventText flattens an event's parts into one prompt line per part.
func renderEventText(ev session.Event) string {
	var b strings.Builder
	for _, p := range ev.Parts {
		var line string
		switch p.Kind {
		case session.PartText:
			line = p.Text
		case session.PartFile:
			line = fmt.Sprintf("[attached file: %s (%s, %d bytes)]", p.FileName, p.MIME, p.Size)
		case session.PartToolResult:
			line = fmt.Sprintf("[tool %s result: %s]", p.ToolName, string(p.Result))
		}
		if line == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(line)
	}
	return b.String()
}

// collectText joins the text parts of the first candidate, skipping
// thinking output.
func collectText(result *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text == "" || part.Thought {
				continue
			}
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
