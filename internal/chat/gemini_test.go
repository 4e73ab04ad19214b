package chat

import (
	"encoding/json"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/Greyisheep/database-session-demo/internal/artifact"
	"github.com/Greyisheep/database-session-demo/internal/session"
)

func TestBuildContents_RoleMapping(t *testing.T) {
	t.Parallel()

	turn := Turn{
		History: []session.Event{
			{Seq: 1, Author: session.AuthorUser, Parts: []session.Part{session.TextPart("question")}},
			{Seq: 2, Author: session.AuthorAgent, Parts: []session.Part{session.TextPart("answer")}},
			{Seq: 3, Author: session.AuthorTool, Parts: []session.Part{
				session.ToolResultPart("clock", json.RawMessage(`{"time":"10:00"}`)),
			}},
		},
		Input: "follow-up",
	}

	contents := buildContents(turn)
	if len(contents) != 4 {
		t.Fatalf("buildContents() returned %d contents, want 4", len(contents))
	}

	wantRoles := []string{"user", "model", "user", "user"}
	for i, want := range wantRoles {
		if contents[i].Role != want {
			t.Errorf("contents[%d].Role = %q, want %q", i, contents[i].Role, want)
		}
	}

	if contents[0].Parts[0].Text != "question" {
		t.Errorf("history text = %q, want %q", contents[0].Parts[0].Text, "question")
	}
	if !strings.Contains(contents[2].Parts[0].Text, "clock") {
		t.Errorf("tool event should render the tool name, got %q", contents[2].Parts[0].Text)
	}
	if contents[3].Parts[0].Text != "follow-up" {
		t.Errorf("current input = %q, want %q", contents[3].Parts[0].Text, "follow-up")
	}
}

func TestBuildContents_HistoricalFilesAreMarkers(t *testing.T) {
	t.Parallel()

	data := []byte("png bytes")
	ref := artifact.Ref{Hash: artifact.Digest(data), MIME: "image/png", Size: int64(len(data))}

	turn := Turn{
		History: []session.Event{
			{Seq: 1, Author: session.AuthorUser, Parts: []session.Part{
				session.TextPart("look"),
				session.FilePart("cat.png", ref),
			}},
		},
		Input: "and now?",
	}

	contents := buildContents(turn)
	if len(contents) != 2 {
		t.Fatalf("buildContents() returned %d contents, want 2", len(contents))
	}

	text := contents[0].Parts[0].Text
	if !strings.Contains(text, "cat.png") || !strings.Contains(text, "image/png") {
		t.Errorf("historical file should render as a marker with name and MIME, got %q", text)
	}
	if contents[0].Parts[0].InlineData != nil {
		t.Error("historical files must not be sent as inline bytes")
	}
}

func TestBuildContents_CurrentAttachmentsInline(t *testing.T) {
	t.Parallel()

	data := []byte("pdf bytes")
	turn := Turn{
		Input: "summarize this",
		Attachments: []Attachment{{
			Name: "doc.pdf",
			Ref:  artifact.Ref{Hash: artifact.Digest(data), MIME: "application/pdf", Size: int64(len(data))},
			Data: data,
		}},
	}

	contents := buildContents(turn)
	if len(contents) != 1 {
		t.Fatalf("buildContents() returned %d contents, want 1", len(contents))
	}

	parts := contents[0].Parts
	if len(parts) != 2 {
		t.Fatalf("current turn has %d parts, want 2", len(parts))
	}
	if parts[0].Text != "summarize this" {
		t.Errorf("parts[0].Text = %q, want the input", parts[0].Text)
	}
	if parts[1].InlineData == nil {
		t.Fatal("attachment should be sent as inline data")
	}
	if parts[1].InlineData.MIMEType != "application/pdf" {
		t.Errorf("inline MIME = %q, want application/pdf", parts[1].InlineData.MIMEType)
	}
	if string(parts[1].InlineData.Data) != string(data) {
		t.Error("inline data should carry the upload bytes")
	}
}

func TestBuildContents_EmptyTurnStillHasOnePart(t *testing.T) {
	t.Parallel()

	contents := buildContents(Turn{})
	if len(contents) != 1 {
		t.Fatalf("buildContents() returned %d contents, want 1", len(contents))
	}
	if len(contents[0].Parts) != 1 {
		t.Fatalf("empty turn has %d parts, want 1 placeholder", len(contents[0].Parts))
	}
}

func TestRenderEventText_SkipsEmpty(t *testing.T) {
	t.Parallel()

	if got := renderEventText(session.Event{Author: session.AuthorUser}); got != "" {
		t.Errorf("renderEventText(no parts) = %q, want empty", got)
	}
}

func TestCollectText(t *testing.T) {
	t.Parallel()

	result := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Parts: []*genai.Part{
					{Text: "internal reasoning", Thought: true},
					{Text: "Hello, "},
					{Text: "world."},
					{Text: ""},
				},
			},
		}},
	}

	if got, want := collectText(result), "Hello, world."; got != want {
		t.Errorf("collectText() = %q, want %q", got, want)
	}
}
