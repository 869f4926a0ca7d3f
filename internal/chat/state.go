package chat

import (
	"sync"
	"time"
)

// StateStore holds the authoritative in-session view of all conversations,
// most-recently-active first. Every mutating transform refreshes the
// conversation's UpdatedAt and moves it to the front of the list; the remote
// database only ever mirrors this state. The store performs no I/O.
//
// Generations are serialized per conversation by the service layer; the
// mutex here covers concurrent HTTP requests touching different
// conversations.
type StateStore struct {
	mu            sync.RWMutex
	conversations []*Conversation
	index         map[string]*Conversation
}

func NewStateStore() *StateStore {
	return &StateStore{index: make(map[string]*Conversation)}
}

// Add inserts a conversation at the front. Hydrating an already-present
// conversation is a no-op so a remote reload never clobbers live state.
func (s *StateStore) Add(conv *Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.index[conv.ID]; exists {
		return
	}
	s.index[conv.ID] = conv
	s.conversations = append([]*Conversation{conv}, s.conversations...)
}

// Get returns the live conversation. Only the service layer may hold it, and
// must not read message contents outside the store's transforms while a
// stream is active; anything handed to an encoder goes through Snapshot.
func (s *StateStore) Get(id string) *Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index[id]
}

// Snapshot returns a deep copy taken under the lock, safe to serialize while
// a streaming flush mutates the original. Nil for an unknown conversation.
func (s *StateStore) Snapshot(id string) *Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyConversation(s.index[id])
}

// List returns deep copies of the conversations in most-recently-active
// order.
func (s *StateStore) List() []*Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Conversation, len(s.conversations))
	for i, conv := range s.conversations {
		out[i] = copyConversation(conv)
	}
	return out
}

func copyConversation(conv *Conversation) *Conversation {
	if conv == nil {
		return nil
	}
	out := *conv
	out.Messages = make([]*Message, len(conv.Messages))
	for i, msg := range conv.Messages {
		out.Messages[i] = copyMessage(msg)
	}
	return &out
}

func copyMessage(msg *Message) *Message {
	out := *msg
	out.Attachments = append([]Attachment(nil), msg.Attachments...)
	return &out
}

func (s *StateStore) AppendMessage(conversationID string, msg *Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.index[conversationID]
	if conv == nil {
		return false
	}
	conv.Messages = append(conv.Messages, msg)
	s.touchLocked(conv)
	return true
}

// ReplaceLastMessageContent overwrites the content of the most recent
// message. This is the streaming-update path: the in-progress assistant
// message is the only message ever mutated after creation.
func (s *StateStore) ReplaceLastMessageContent(conversationID, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.index[conversationID]
	if conv == nil || len(conv.Messages) == 0 {
		return false
	}
	conv.Messages[len(conv.Messages)-1].Content = content
	s.touchLocked(conv)
	return true
}

// FinalizeLastMessage makes the streaming assistant message immutable.
func (s *StateStore) FinalizeLastMessage(conversationID, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.index[conversationID]
	if conv == nil || len(conv.Messages) == 0 {
		return false
	}
	last := conv.Messages[len(conv.Messages)-1]
	last.Content = content
	last.Streaming = false
	s.touchLocked(conv)
	return true
}

// RemoveLastMessage drops the most recent message (delete-last / regenerate).
func (s *StateStore) RemoveLastMessage(conversationID string) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.index[conversationID]
	if conv == nil || len(conv.Messages) == 0 {
		return nil
	}
	last := conv.Messages[len(conv.Messages)-1]
	conv.Messages = conv.Messages[:len(conv.Messages)-1]
	s.touchLocked(conv)
	return last
}

func (s *StateStore) SetTitle(conversationID, title string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.index[conversationID]
	if conv == nil {
		return false
	}
	conv.Title = title
	s.touchLocked(conv)
	return true
}

// SetContinuationHandle replaces (never accumulates) the stored handle,
// moving the conversation from Fresh to Chained.
func (s *StateStore) SetContinuationHandle(conversationID, responseID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.index[conversationID]
	if conv == nil {
		return false
	}
	conv.ResponseID = responseID
	s.touchLocked(conv)
	return true
}

func (s *StateStore) RemoveConversation(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.index[conversationID]
	if conv == nil {
		return false
	}
	delete(s.index, conversationID)
	for i, c := range s.conversations {
		if c.ID == conversationID {
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			break
		}
	}
	return true
}

// touchLocked refreshes UpdatedAt and reorders the conversation to the front.
// Callers must hold the write lock.
func (s *StateStore) touchLocked(conv *Conversation) {
	conv.UpdatedAt = time.Now()
	if len(s.conversations) > 0 && s.conversations[0] == conv {
		return
	}
	for i, c := range s.conversations {
		if c == conv {
			copy(s.conversations[1:i+1], s.conversations[:i])
			s.conversations[0] = conv
			return
		}
	}
}
