package chat

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoreWithConversations(t *testing.T, n int) (*StateStore, []*Conversation) {
	t.Helper()
	s := NewStateStore()
	convs := make([]*Conversation, n)
	for i := 0; i < n; i++ {
		convs[i] = NewConversation(1)
		s.Add(convs[i])
	}
	return s, convs
}

func ids(convs []*Conversation) []string {
	out := make([]string, len(convs))
	for i, c := range convs {
		out[i] = c.ID
	}
	return out
}

func TestStateStoreAddPutsNewestFirst(t *testing.T) {
	s, convs := newStoreWithConversations(t, 3)
	assert.Equal(t, []string{convs[2].ID, convs[1].ID, convs[0].ID}, ids(s.List()))
}

func TestStateStoreAddIsIdempotent(t *testing.T) {
	s := NewStateStore()
	conv := NewConversation(1)
	s.Add(conv)
	s.Add(conv)
	assert.Len(t, s.List(), 1)
}

func TestMutationsMoveConversationToFront(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *StateStore, id string)
	}{
		{"AppendMessage", func(s *StateStore, id string) {
			s.AppendMessage(id, NewUserMessage("hi", "", nil))
		}},
		{"ReplaceLastMessageContent", func(s *StateStore, id string) {
			s.AppendMessage(id, NewAssistantMessage())
			s.ReplaceLastMessageContent(id, "partial")
		}},
		{"SetTitle", func(s *StateStore, id string) {
			s.SetTitle(id, "renamed")
		}},
		{"SetContinuationHandle", func(s *StateStore, id string) {
			s.SetContinuationHandle(id, "resp_1")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, convs := newStoreWithConversations(t, 3)
			oldest := convs[0]
			before := oldest.UpdatedAt

			tt.mutate(s, oldest.ID)

			assert.Equal(t, oldest.ID, s.List()[0].ID, "mutated conversation must move to the front")
			assert.False(t, oldest.UpdatedAt.Before(before), "UpdatedAt must be refreshed")
		})
	}
}

func TestReplaceLastMessageContent(t *testing.T) {
	s, convs := newStoreWithConversations(t, 1)
	conv := convs[0]

	s.AppendMessage(conv.ID, NewUserMessage("question", "", nil))
	s.AppendMessage(conv.ID, NewAssistantMessage())

	require.True(t, s.ReplaceLastMessageContent(conv.ID, "streaming so far"))
	assert.Equal(t, "streaming so far", conv.LastMessage().Content)
	assert.Equal(t, "question", conv.Messages[0].Content, "earlier messages stay untouched")
}

func TestFinalizeLastMessage(t *testing.T) {
	s, convs := newStoreWithConversations(t, 1)
	conv := convs[0]
	s.AppendMessage(conv.ID, NewAssistantMessage())

	require.True(t, s.FinalizeLastMessage(conv.ID, "done"))
	last := conv.LastMessage()
	assert.Equal(t, "done", last.Content)
	assert.False(t, last.Streaming)
}

func TestSetContinuationHandleReplaces(t *testing.T) {
	s, convs := newStoreWithConversations(t, 1)
	conv := convs[0]

	s.SetContinuationHandle(conv.ID, "resp_1")
	s.SetContinuationHandle(conv.ID, "resp_2")
	assert.Equal(t, "resp_2", conv.ResponseID)
}

func TestRemoveLastMessage(t *testing.T) {
	s, convs := newStoreWithConversations(t, 1)
	conv := convs[0]
	s.AppendMessage(conv.ID, NewUserMessage("q", "", nil))
	assistant := NewAssistantMessage()
	s.AppendMessage(conv.ID, assistant)

	removed := s.RemoveLastMessage(conv.ID)
	require.NotNil(t, removed)
	assert.Equal(t, assistant.ID, removed.ID)
	assert.Len(t, conv.Messages, 1)
}

func TestRemoveConversation(t *testing.T) {
	s, convs := newStoreWithConversations(t, 2)

	require.True(t, s.RemoveConversation(convs[0].ID))
	assert.Nil(t, s.Get(convs[0].ID))
	assert.Len(t, s.List(), 1)
	assert.False(t, s.RemoveConversation(convs[0].ID))
}

func TestSnapshotIsDetachedFromLiveState(t *testing.T) {
	s, convs := newStoreWithConversations(t, 1)
	conv := convs[0]
	s.AppendMessage(conv.ID, NewUserMessage("q", "", []Attachment{{Kind: KindImage, FileName: "pic.png"}}))
	s.AppendMessage(conv.ID, NewAssistantMessage())
	s.ReplaceLastMessageContent(conv.ID, "before")

	snap := s.Snapshot(conv.ID)
	s.ReplaceLastMessageContent(conv.ID, "after")
	s.SetContinuationHandle(conv.ID, "resp_1")

	assert.Equal(t, "before", snap.LastMessage().Content)
	assert.Empty(t, snap.ResponseID)
	assert.Equal(t, "after", conv.LastMessage().Content)

	// Mutating the snapshot never reaches live state.
	snap.Messages[0].Content = "scribbled"
	snap.Messages[0].Attachments[0].FileName = "other.png"
	assert.Equal(t, "q", conv.Messages[0].Content)
	assert.Equal(t, "pic.png", conv.Messages[0].Attachments[0].FileName)

	assert.Nil(t, s.Snapshot("missing"))
}

func TestSnapshotSerializesSafelyDuringStreaming(t *testing.T) {
	s, convs := newStoreWithConversations(t, 1)
	conv := convs[0]
	s.AppendMessage(conv.ID, NewAssistantMessage())

	// One writer streams into the last message while readers serialize
	// snapshots; the race detector verifies the isolation.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			s.ReplaceLastMessageContent(conv.ID, strings.Repeat("x", i%64+1))
		}
	}()
	for i := 0; i < 500; i++ {
		if _, err := json.Marshal(s.Snapshot(conv.ID)); err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
	}
	<-done
}

func TestListReturnsDetachedCopies(t *testing.T) {
	s, convs := newStoreWithConversations(t, 2)
	s.AppendMessage(convs[0].ID, NewUserMessage("hello", "", nil))

	listed := s.List()
	for _, c := range listed {
		if c.ID == convs[0].ID {
			c.Messages[0].Content = "scribbled"
		}
	}
	assert.Equal(t, "hello", convs[0].Messages[0].Content)
}

func TestTransformsOnUnknownConversation(t *testing.T) {
	s := NewStateStore()
	assert.False(t, s.AppendMessage("missing", NewUserMessage("x", "", nil)))
	assert.False(t, s.ReplaceLastMessageContent("missing", "x"))
	assert.False(t, s.SetTitle("missing", "x"))
	assert.False(t, s.SetContinuationHandle("missing", "x"))
}
