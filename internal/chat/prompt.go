package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dukerupert/earmark/internal/extract"
	"github.com/dukerupert/earmark/internal/model"
)

const (
	// historyLimit is how many earlier messages are flattened into a prompt.
	historyLimit = 10
	// maxContentChars caps item content included in a prompt.
	maxContentChars = 12000
)

const systemPrompt = "You are a helpful assistant inside a voice notes app. " +
	"Answer concisely and use plain text."

// Item is a recording or document as seen by the chat layer.
type Item struct {
	ID      string
	Type    model.ItemType
	Title   string
	Content string
}

// Placeholder reports whether the item has no usable content to discuss.
func (i Item) Placeholder() bool {
	return extract.IsPlaceholder(i.Content)
}

type PromptInput struct {
	Item     *Item
	History  []model.ChatMessage
	Question string
}

// BuildPrompt flattens the item context, recent history and the question
// into a single-turn prompt.
func BuildPrompt(in PromptInput) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n")

	if in.Item != nil {
		if in.Item.Placeholder() {
			fmt.Fprintf(&b, "The user is asking about the %s %q, but its content could not be read. "+
				"Help with general questions and say clearly when you cannot know what it contains. "+
				"Do not invent details about it.\n\n", in.Item.Type, in.Item.Title)
		} else {
			content := in.Item.Content
			if cut := truncate(content, maxContentChars); len(cut) < len(content) {
				content = cut + "\n[truncated]"
			}
			fmt.Fprintf(&b, "The user is asking about the %s %q. Its content:\n\"\"\"\n%s\n\"\"\"\n\n",
				in.Item.Type, in.Item.Title, content)
		}
	}

	history := in.History
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", speaker(m.Role), m.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "User: %s\nAssistant:", in.Question)
	return b.String()
}

func speaker(r model.Role) string {
	if r == model.RoleAssistant {
		return "Assistant"
	}
	return "User"
}

// SummaryPrompt asks for a short summary of the item's content.
func SummaryPrompt(item Item) string {
	content := truncate(item.Content, maxContentChars)
	return fmt.Sprintf("Summarize the following %s titled %q in a few sentences, "+
		"followed by a short bullet list of key points or action items.\n\n\"\"\"\n%s\n\"\"\"",
		item.Type, item.Title, content)
}

// guidanceMessage seeds a new session when the item has nothing to discuss.
func guidanceMessage(item Item) string {
	if item.Type == model.ItemTypeRecording {
		return fmt.Sprintf("I don't have a usable transcript for %q yet. "+
			"You can still ask general questions, or tell me what the recording covers and I'll help from there.", item.Title)
	}
	return fmt.Sprintf("I couldn't read much from %q. "+
		"Paste the passages you care about and I'll help you work through them, or ask a general question.", item.Title)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
