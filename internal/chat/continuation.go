package chat

import (
	"strings"

	"github.com/nimbuslabs/azurechat/internal/llm"
)

// ContinuationManager decides per request whether a conversation chains to a
// server-held context (previous_response_id) or replays a bounded trailing
// window of local history.
//
// A conversation is Fresh until the first generation completes with a
// captured continuation id, then Chained; every later success replaces the
// handle. The mode is picked per request from current state only: if a
// stateful request fails, the error surfaces and the stored handle is left
// untouched; we never mix chaining and history replay in one request.
type ContinuationManager struct {
	maxWindow         int
	chainingSupported bool
}

func NewContinuationManager(maxWindow int, chainingSupported bool) *ContinuationManager {
	if maxWindow <= 0 {
		maxWindow = 15
	}
	return &ContinuationManager{maxWindow: maxWindow, chainingSupported: chainingSupported}
}

// BuildRequest assembles the outbound payload for a new user turn. The turn
// is expected to already be the last message of the conversation.
//
// Chained: only the new turn plus the stored handle — never the history.
// Fresh (or chaining unsupported): at most the trailing maxWindow messages,
// never the unbounded history.
func (m *ContinuationManager) BuildRequest(conv *Conversation, turn *Message) llm.Request {
	if m.chainingSupported && conv.ResponseID != "" {
		return llm.Request{
			Stateful:           true,
			Messages:           []llm.ChatMessage{buildChatMessage(turn)},
			PreviousResponseID: conv.ResponseID,
		}
	}

	window := conv.Messages
	if len(window) > m.maxWindow {
		window = window[len(window)-m.maxWindow:]
	}

	messages := make([]llm.ChatMessage, 0, len(window))
	for _, msg := range window {
		messages = append(messages, buildChatMessage(msg))
	}

	return llm.Request{Stateful: m.chainingSupported, Messages: messages}
}

// buildChatMessage maps a message onto the wire format, expanding user
// attachments into multi-part content.
func buildChatMessage(msg *Message) llm.ChatMessage {
	if msg.Role != RoleUser || len(msg.Attachments) == 0 {
		return llm.ChatMessage{Role: msg.Role, Content: msg.Content}
	}

	parts := make([]llm.ContentPart, 0, len(msg.Attachments)+1)
	if trimmed := strings.TrimSpace(msg.Content); trimmed != "" {
		parts = append(parts, llm.ContentPart{Type: "text", Text: trimmed})
	}
	for _, att := range msg.Attachments {
		part := llm.ContentPart{Type: "image_url", ImageURL: &llm.ImageURL{URL: att.DataURL}}
		if att.Kind == KindImage {
			part.ImageURL.Detail = "auto"
		}
		parts = append(parts, part)
	}
	return llm.ChatMessage{Role: msg.Role, Content: parts}
}
