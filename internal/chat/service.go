package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/nimbuslabs/azurechat/internal/store"
)

// GenericFailureNotice replaces the in-progress assistant content when a
// generation fails. Raw transport errors are never shown to the user.
const GenericFailureNotice = "Sorry, I encountered an error processing your request. Please try again."

var ErrGenerationInFlight = errors.New("a generation is already in flight for this conversation")

// hydrateBatchSize is the page size for loading mirrored history; hydration
// pages until the mirror is drained so long conversations are never
// truncated.
const hydrateBatchSize = 500

// CompletionClient is the slice of the LLM client the chat service needs.
type CompletionClient interface {
	StreamOpener
	SupportsChaining() bool
	GenerateTitle(ctx context.Context, basis string) (string, error)
}

// Service coordinates the streaming core: local state first, remote mirror
// asynchronously. Exactly one generation may be in flight per conversation.
type Service struct {
	state   *StateStore
	db      *store.SQLiteStore
	client  CompletionClient
	contin  *ContinuationManager
	limiter *RateLimiter

	inflightMu sync.Mutex
	inflight   map[string]*CancelToken
}

func NewService(state *StateStore, db *store.SQLiteStore, client CompletionClient, contin *ContinuationManager, limiter *RateLimiter) *Service {
	return &Service{
		state:    state,
		db:       db,
		client:   client,
		contin:   contin,
		limiter:  limiter,
		inflight: make(map[string]*CancelToken),
	}
}

// mirror runs a remote write off the streaming path. Local state is already
// updated when this is called; a mirror failure is logged, never propagated
// into the UI path.
func (s *Service) mirror(what string, op func() error) {
	go func() {
		if err := op(); err != nil {
			log.Printf("Mirror write failed (%s): %v", what, err)
		}
	}()
}

// hydrate returns the authoritative in-session conversation, loading it from
// the mirror on first touch.
func (s *Service) hydrate(conversationID string, userID int64) (*Conversation, error) {
	if conv := s.state.Get(conversationID); conv != nil {
		if conv.UserID != userID {
			return nil, fmt.Errorf("conversation not found")
		}
		return conv, nil
	}

	stored, err := s.db.GetConversationByID(conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if stored == nil {
		return nil, fmt.Errorf("conversation not found")
	}

	var messages []store.Message
	for offset := 0; ; offset += hydrateBatchSize {
		batch, err := s.db.GetMessagesByConversationID(conversationID, hydrateBatchSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to load messages: %w", err)
		}
		messages = append(messages, batch...)
		if len(batch) < hydrateBatchSize {
			break
		}
	}

	conv := &Conversation{
		ID:         stored.ID,
		UserID:     stored.UserID,
		ResponseID: stored.ResponseID,
		CreatedAt:  stored.CreatedAt,
		UpdatedAt:  stored.UpdatedAt,
		Messages:   make([]*Message, 0, len(messages)),
	}
	if stored.Title != nil {
		conv.Title = *stored.Title
	}
	for i := range messages {
		conv.Messages = append(conv.Messages, fromStoredMessage(&messages[i]))
	}

	s.state.Add(conv)
	return conv, nil
}

func (s *Service) CreateConversation(userID int64) (*Conversation, error) {
	conv := NewConversation(userID)
	s.state.Add(conv)

	if _, err := s.db.CreateConversation(conv.ID, userID, nil); err != nil {
		// Creation must be durable before the client can address it.
		s.state.RemoveConversation(conv.ID)
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *Service) ListConversations(userID int64) ([]store.Conversation, error) {
	return s.db.GetConversationsByUserID(userID)
}

// GetConversation returns a snapshot of the conversation, hydrating it from
// the mirror on first touch. Snapshots are detached from live state so they
// can be serialized while a stream is flushing into the original.
func (s *Service) GetConversation(conversationID string, userID int64) (*Conversation, error) {
	if _, err := s.hydrate(conversationID, userID); err != nil {
		return nil, err
	}
	return s.state.Snapshot(conversationID), nil
}

// GetConversationState returns a snapshot of the in-session view without
// touching the mirror. Nil when the conversation has not been hydrated.
func (s *Service) GetConversationState(conversationID string) *Conversation {
	return s.state.Snapshot(conversationID)
}

func (s *Service) RenameConversation(conversationID string, userID int64, title string) error {
	if _, err := s.hydrate(conversationID, userID); err != nil {
		return err
	}
	s.state.SetTitle(conversationID, title)
	s.mirror("rename", func() error {
		return s.db.UpdateConversationTitle(conversationID, userID, title)
	})
	return nil
}

// SetContinuationHandle lets a client explicitly overwrite the stored handle
// (PATCH .../response). Normal updates happen via StreamReply on completion.
func (s *Service) SetContinuationHandle(conversationID string, userID int64, responseID string) error {
	if _, err := s.hydrate(conversationID, userID); err != nil {
		return err
	}
	s.state.SetContinuationHandle(conversationID, responseID)
	s.mirror("continuation handle", func() error {
		return s.db.UpdateConversationResponseID(conversationID, userID, responseID)
	})
	return nil
}

func (s *Service) DeleteConversation(conversationID string, userID int64) error {
	if _, err := s.hydrate(conversationID, userID); err != nil {
		return err
	}
	s.state.RemoveConversation(conversationID)
	// Deletion is synchronous: the row must be gone when the list reloads.
	return s.db.DeleteConversation(conversationID, userID)
}

// AppendMessage persists a message without triggering a generation. The
// store keeps its own copy; the caller's message stays private and safe to
// serialize.
func (s *Service) AppendMessage(conversationID string, userID int64, msg *Message) error {
	if _, err := s.hydrate(conversationID, userID); err != nil {
		return err
	}
	s.state.AppendMessage(conversationID, copyMessage(msg))
	stored := toStoredMessage(conversationID, msg)
	s.mirror("append message", func() error {
		return s.db.CreateMessage(stored)
	})
	return nil
}

// DeleteLastMessage removes exactly the most recent message, locally and in
// the mirror (the regenerate flow calls this before resending).
func (s *Service) DeleteLastMessage(conversationID string, userID int64) (*Message, error) {
	if _, err := s.hydrate(conversationID, userID); err != nil {
		return nil, err
	}
	removed := s.state.RemoveLastMessage(conversationID)
	if removed == nil {
		return nil, fmt.Errorf("no messages to delete")
	}
	// Delete the exact row the local state removed: re-selecting "last" in
	// the mirror could race a still-pending async append.
	s.mirror("delete message", func() error {
		return s.db.DeleteMessage(removed.ID)
	})
	return removed, nil
}

func (s *Service) SetMessageFeedback(messageID string, negative bool) error {
	return s.db.UpdateMessageFeedback(messageID, negative)
}

// StreamReply runs one generation: it appends the user turn, creates the
// assistant placeholder, streams the completion with throttled flushes, and
// finalizes. The continuation handle is advanced only on successful
// completion; cancellation keeps the partial text as final content.
func (s *Service) StreamReply(ctx context.Context, conversationID string, userID int64, userMsg *Message, token *CancelToken, flush FlushFunc) (*Message, error) {
	if err := s.limiter.Allow(userID); err != nil {
		return nil, err
	}

	if _, err := s.hydrate(conversationID, userID); err != nil {
		return nil, err
	}

	if err := s.acquire(conversationID, token); err != nil {
		return nil, err
	}
	defer s.release(conversationID)

	s.state.AppendMessage(conversationID, copyMessage(userMsg))
	storedUser := toStoredMessage(conversationID, userMsg)
	s.mirror("append user message", func() error {
		return s.db.CreateMessage(storedUser)
	})

	// Snapshot after the user turn and before the assistant placeholder: the
	// history window must include the new turn and never the empty streaming
	// message, and the request must not read live state while other requests
	// mutate it.
	snap := s.state.Snapshot(conversationID)
	req := s.contin.BuildRequest(snap, userMsg)

	assistant := NewAssistantMessage()
	s.state.AppendMessage(conversationID, assistant)

	result, err := RunSession(ctx, s.client, req, token, func(text string) {
		s.state.ReplaceLastMessageContent(conversationID, text)
		if flush != nil {
			flush(text)
		}
	})
	// The shared placeholder is only ever written through store transforms;
	// the caller gets a private copy that is safe to serialize.
	if err != nil {
		s.state.FinalizeLastMessage(conversationID, GenericFailureNotice)
		final := copyMessage(assistant)
		final.Content = GenericFailureNotice
		final.Streaming = false
		storedAssistant := toStoredMessage(conversationID, final)
		s.mirror("append failure notice", func() error {
			return s.db.CreateMessage(storedAssistant)
		})
		return final, err
	}

	s.state.FinalizeLastMessage(conversationID, result.Text)
	final := copyMessage(assistant)
	final.Content = result.Text
	final.Streaming = false
	storedAssistant := toStoredMessage(conversationID, final)
	s.mirror("append assistant message", func() error {
		return s.db.CreateMessage(storedAssistant)
	})
	if !result.Cancelled && result.ResponseID != "" {
		s.state.SetContinuationHandle(conversationID, result.ResponseID)
		s.mirror("continuation handle", func() error {
			return s.db.UpdateConversationResponseID(conversationID, userID, result.ResponseID)
		})
	}

	if snap.Title == "" {
		basis := userMsg.Content
		if userMsg.DisplayContent != "" {
			basis = userMsg.DisplayContent
		}
		go s.generateAndSaveTitle(conversationID, userID, basis)
	}

	return final, nil
}

// Cancel requests cooperative cancellation of the in-flight generation, if
// any. Only the conversation's owner may cancel; reports whether a
// generation was found.
func (s *Service) Cancel(conversationID string, userID int64) bool {
	conv := s.state.Get(conversationID)
	if conv == nil || conv.UserID != userID {
		return false
	}

	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	token, ok := s.inflight[conversationID]
	if !ok {
		return false
	}
	token.Cancel()
	return true
}

func (s *Service) acquire(conversationID string, token *CancelToken) error {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, busy := s.inflight[conversationID]; busy {
		return ErrGenerationInFlight
	}
	s.inflight[conversationID] = token
	return nil
}

func (s *Service) release(conversationID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, conversationID)
}

func (s *Service) generateAndSaveTitle(conversationID string, userID int64, basis string) {
	title, err := s.client.GenerateTitle(context.Background(), basis)
	if err != nil {
		log.Printf("Failed to generate title for conversation %s: %v", conversationID, err)
		return
	}
	title = strings.Trim(title, "\"'\n\r\t .")
	if title == "" {
		return
	}

	s.state.SetTitle(conversationID, title)
	if err := s.db.UpdateConversationTitle(conversationID, userID, title); err != nil {
		log.Printf("Failed to save title for conversation %s: %v", conversationID, err)
	}
}

func toStoredMessage(conversationID string, msg *Message) *store.Message {
	stored := &store.Message{
		ID:             msg.ID,
		ConversationID: conversationID,
		Role:           msg.Role,
		Content:        msg.Content,
		DisplayContent: msg.DisplayContent,
		CreatedAt:      msg.CreatedAt,
	}
	for _, att := range msg.Attachments {
		stored.Attachments = append(stored.Attachments, store.Attachment{
			Kind:     att.Kind,
			MimeType: att.MimeType,
			DataURL:  att.DataURL,
			FileName: att.FileName,
		})
	}
	return stored
}

func fromStoredMessage(msg *store.Message) *Message {
	out := &Message{
		ID:             msg.ID,
		Role:           msg.Role,
		Content:        msg.Content,
		DisplayContent: msg.DisplayContent,
		CreatedAt:      msg.CreatedAt,
	}
	for _, att := range msg.Attachments {
		out.Attachments = append(out.Attachments, Attachment{
			Kind:     att.Kind,
			MimeType: att.MimeType,
			DataURL:  att.DataURL,
			FileName: att.FileName,
		})
	}
	return out
}
