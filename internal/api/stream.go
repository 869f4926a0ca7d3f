package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nimbuslabs/azurechat/internal/chat"
	"github.com/nimbuslabs/azurechat/internal/config"
)

type ChatRequest struct {
	Content     string            `json:"content"`
	Attachments []AttachmentInput `json:"attachments"`
}

type streamEvent struct {
	Content    string        `json:"content,omitempty"`
	Done       bool          `json:"done,omitempty"`
	Message    *chat.Message `json:"message,omitempty"`
	ResponseID string        `json:"response_id,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// StreamChatHandler runs one generation and relays the throttled updates to
// the browser as SSE. Client disconnect cancels the generation cooperatively;
// the partial text is kept as the message's final content.
func (h *APIHandler) StreamChatHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)
	conversationID := chi.URLParam(r, "conversationID")

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Content == "" && len(req.Attachments) == 0 {
		http.Error(w, "Message content cannot be empty", http.StatusBadRequest)
		return
	}
	if max := config.AppConfig.MaxInputChars; max > 0 && len([]rune(req.Content)) > max {
		http.Error(w, fmt.Sprintf("Message exceeds the %d character limit", max), http.StatusBadRequest)
		return
	}

	attachments, err := h.encodeAttachments(req.Attachments)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	displayContent := chat.AnnotateDisplayContent(req.Content, attachments)
	userMsg := chat.NewUserMessage(req.Content, displayContent, attachments)

	token := chat.NewCancelToken()
	go func() {
		// A dropped SSE connection is a user cancellation.
		<-r.Context().Done()
		token.Cancel()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeEvent := func(ev streamEvent) {
		payload, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	assistant, err := h.chatService.StreamReply(r.Context(), conversationID, userID, userMsg, token,
		func(text string) {
			writeEvent(streamEvent{Content: text})
		})
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrCooldown), errors.Is(err, chat.ErrRateLimited):
			// Rejected before any stream started; plain error response.
			http.Error(w, err.Error(), http.StatusTooManyRequests)
		case errors.Is(err, chat.ErrGenerationInFlight):
			http.Error(w, err.Error(), http.StatusConflict)
		case isNotFound(err):
			http.Error(w, "Conversation not found", http.StatusNotFound)
		default:
			// The stream already started; surface a generic notice only.
			log.Printf("Generation failed for conversation %s: %v", conversationID, err)
			writeEvent(streamEvent{Error: chat.GenericFailureNotice, Done: true, Message: assistant})
		}
		return
	}

	conv := h.chatService.GetConversationState(conversationID)
	final := streamEvent{Done: true, Message: assistant}
	if conv != nil {
		final.ResponseID = conv.ResponseID
	}
	writeEvent(final)
}

// CancelChatHandler cancels the in-flight generation for a conversation, for
// clients that keep the SSE connection open while cancelling from another
// control.
func (h *APIHandler) CancelChatHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)
	conversationID := chi.URLParam(r, "conversationID")
	if !h.chatService.Cancel(conversationID, userID) {
		http.Error(w, "No generation in flight", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
