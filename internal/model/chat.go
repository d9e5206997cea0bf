package model

import "time"

// GeneralSessionID is reserved for the conversation not bound to any item.
const GeneralSessionID = "general-chat"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ItemType string

const (
	ItemTypeRecording ItemType = "recording"
	ItemTypeDocument  ItemType = "document"
)

func (t ItemType) Valid() bool {
	return t == ItemTypeRecording || t == ItemTypeDocument
}

type ChatMessage struct {
	ID            string    `json:"id"`
	Role          Role      `json:"role"`
	Content       string    `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
	RelatedItemID string    `json:"related_item_id,omitempty"`
}

type ChatSession struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Messages        []ChatMessage `json:"messages"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	RelatedItemID   string        `json:"related_item_id,omitempty"`
	RelatedItemType ItemType      `json:"related_item_type,omitempty"`
}

// Clone returns a copy whose message slice does not alias the original.
func (s ChatSession) Clone() ChatSession {
	c := s
	c.Messages = append([]ChatMessage(nil), s.Messages...)
	return c
}
