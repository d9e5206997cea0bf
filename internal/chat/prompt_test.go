package chat

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/dukerupert/earmark/internal/model"
)

func TestBuildPromptKeepsLastTenMessages(t *testing.T) {
	var history []model.ChatMessage
	for i := 1; i <= 15; i++ {
		history = append(history, model.ChatMessage{Role: model.RoleUser, Content: fmt.Sprintf("msg-%02d", i)})
	}

	p := BuildPrompt(PromptInput{History: history, Question: "now?"})

	if strings.Contains(p, "msg-05") {
		t.Error("expected msg-05 to be dropped")
	}
	for i := 6; i <= 15; i++ {
		if !strings.Contains(p, fmt.Sprintf("msg-%02d", i)) {
			t.Errorf("expected msg-%02d in prompt", i)
		}
	}
	if !strings.HasSuffix(p, "User: now?\nAssistant:") {
		t.Errorf("prompt does not end with question: %q", p[len(p)-40:])
	}
}

func TestBuildPromptPlaceholderItem(t *testing.T) {
	item := &Item{Type: model.ItemTypeDocument, Title: "scan.pdf", Content: "[No text could be extracted from scan.pdf.]"}

	p := BuildPrompt(PromptInput{Item: item, Question: "what is it?"})

	if !strings.Contains(p, "could not be read") {
		t.Error("expected placeholder guidance in prompt")
	}
	if strings.Contains(p, "[No text could be extracted") {
		t.Error("placeholder text must not be presented as content")
	}
}

func TestBuildPromptTruncatesContent(t *testing.T) {
	item := &Item{Type: model.ItemTypeRecording, Title: "long", Content: strings.Repeat("a", maxContentChars+500)}

	p := BuildPrompt(PromptInput{Item: item, Question: "q"})

	if !strings.Contains(p, "[truncated]") {
		t.Error("expected truncation marker")
	}
	if strings.Contains(p, strings.Repeat("a", maxContentChars+1)) {
		t.Error("content was not truncated")
	}
}

func TestTruncateKeepsMultiByteCharacters(t *testing.T) {
	// The leading byte puts the cut inside a two-byte character.
	content := "a" + strings.Repeat("é", 7000)
	item := Item{Type: model.ItemTypeRecording, Title: "notes", Content: content}

	p := BuildPrompt(PromptInput{Item: &item, Question: "q"})
	if !utf8.ValidString(p) {
		t.Error("chat prompt is not valid UTF-8")
	}
	if !strings.Contains(p, "[truncated]") {
		t.Error("expected truncation marker")
	}
	if s := SummaryPrompt(item); !utf8.ValidString(s) {
		t.Error("summary prompt is not valid UTF-8")
	}

	got := truncate(content, maxContentChars)
	if len(got) != maxContentChars-1 {
		t.Errorf("truncated length = %d, want %d", len(got), maxContentChars-1)
	}
	if got := truncate("short", maxContentChars); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
}

func TestBuildPromptRoles(t *testing.T) {
	history := []model.ChatMessage{
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "hello"},
	}

	p := BuildPrompt(PromptInput{History: history, Question: "next"})

	if !strings.Contains(p, "User: hi\nAssistant: hello\n") {
		t.Errorf("unexpected history rendering: %q", p)
	}
}
