package chat

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Attachment is a transport-ready inline file representation. Immutable once
// created; the data URL requires no follow-up fetch.
type Attachment struct {
	Kind     string `json:"kind"` // "image" or "document"
	MimeType string `json:"mime_type"`
	DataURL  string `json:"data_url"`
	FileName string `json:"file_name"`
}

// Message is one turn of a conversation. Content is what goes to the
// completion API and is never mutated after the message is finalized;
// only the in-progress assistant message is appended to during streaming.
// DisplayContent is the human-facing variant, e.g. with embedded file text
// replaced by a short annotation.
type Message struct {
	ID             string       `json:"id"`
	Role           string       `json:"role"`
	Content        string       `json:"content"`
	DisplayContent string       `json:"display_content,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	// Streaming marks the single assistant message currently being filled.
	Streaming bool `json:"-"`
}

func NewUserMessage(content, displayContent string, attachments []Attachment) *Message {
	return &Message{
		ID:             uuid.NewString(),
		Role:           RoleUser,
		Content:        content,
		DisplayContent: displayContent,
		Attachments:    attachments,
		CreatedAt:      time.Now(),
	}
}

// NewAssistantMessage creates the empty streaming placeholder that the
// session controller fills incrementally.
func NewAssistantMessage() *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		CreatedAt: time.Now(),
		Streaming: true,
	}
}

// Conversation is the client-side authoritative view of one chat.
// ResponseID is the continuation handle for stateful chaining; empty while
// the conversation is Fresh.
type Conversation struct {
	ID         string     `json:"id"`
	UserID     int64      `json:"user_id"`
	Title      string     `json:"title"`
	ResponseID string     `json:"response_id,omitempty"`
	Messages   []*Message `json:"messages"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func NewConversation(userID int64) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]*Message, 0),
	}
}

func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}
