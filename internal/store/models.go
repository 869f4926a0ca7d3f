package store

import "time"

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Do not expose this in JSON responses
	DisplayName  string    `json:"display_name"`
	CreatedAt    time.Time `json:"created_at"`
}

type RefreshToken struct {
	TokenHash string    `json:"-"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Conversation struct {
	ID         string    `json:"id"` // Using UUID for external ID
	UserID     int64     `json:"user_id"`
	Title      *string   `json:"title"`                 // Nullable until auto-generated
	ResponseID string    `json:"response_id,omitempty"` // Continuation handle for stateful chaining
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Message struct {
	ID               string       `json:"id"` // Using UUID for external ID
	ConversationID   string       `json:"conversation_id"`
	Role             string       `json:"role"` // "user", "assistant" or "system"
	Content          string       `json:"content"`
	DisplayContent   string       `json:"display_content,omitempty"`
	Attachments      []Attachment `json:"attachments,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	NegativeFeedback bool         `json:"negative_feedback"`
}

type Attachment struct {
	ID        int64  `json:"id"`
	MessageID string `json:"message_id"`
	Kind      string `json:"kind"` // "image" or "document"
	MimeType  string `json:"mime_type"`
	DataURL   string `json:"data_url"`
	FileName  string `json:"file_name"`
}
