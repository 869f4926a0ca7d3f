package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s *SQLiteStore) *User {
	t.Helper()
	user, err := s.CreateUser("alice@example.com", "hashed", "Alice")
	require.NoError(t, err)
	return user
}

func TestUserLifecycle(t *testing.T) {
	s := newTestStore(t)

	user := createTestUser(t, s)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, "Alice", user.DisplayName)

	found, err := s.GetUserByEmail("alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, user.ID, found.ID)

	missing, err := s.GetUserByEmail("nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRefreshTokenLifecycle(t *testing.T) {
	s := newTestStore(t)
	user := createTestUser(t, s)

	expires := time.Now().Add(time.Hour)
	require.NoError(t, s.SaveRefreshToken("hash-1", user.ID, expires))

	rt, err := s.LookupRefreshToken("hash-1")
	require.NoError(t, err)
	require.NotNil(t, rt)
	assert.Equal(t, user.ID, rt.UserID)

	require.NoError(t, s.DeleteRefreshToken("hash-1"))
	rt, err = s.LookupRefreshToken("hash-1")
	require.NoError(t, err)
	assert.Nil(t, rt)
}

func TestConversationLifecycle(t *testing.T) {
	s := newTestStore(t)
	user := createTestUser(t, s)

	conv, err := s.CreateConversation("", user.ID, nil)
	require.NoError(t, err)
	require.NotEmpty(t, conv.ID)
	assert.Nil(t, conv.Title)

	// Scoped to the owning user.
	other, err := s.GetConversationByID(conv.ID, user.ID+1)
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, s.UpdateConversationTitle(conv.ID, user.ID, "First chat"))
	require.NoError(t, s.UpdateConversationResponseID(conv.ID, user.ID, "resp_1"))

	loaded, err := s.GetConversationByID(conv.ID, user.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.NotNil(t, loaded.Title)
	assert.Equal(t, "First chat", *loaded.Title)
	assert.Equal(t, "resp_1", loaded.ResponseID)

	require.NoError(t, s.DeleteConversation(conv.ID, user.ID))
	gone, err := s.GetConversationByID(conv.ID, user.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestConversationListOrderedByActivity(t *testing.T) {
	s := newTestStore(t)
	user := createTestUser(t, s)

	first, err := s.CreateConversation("", user.ID, nil)
	require.NoError(t, err)
	second, err := s.CreateConversation("", user.ID, nil)
	require.NoError(t, err)

	// Touch the older conversation via a message append.
	require.NoError(t, s.CreateMessage(&Message{
		ConversationID: first.ID,
		Role:           "user",
		Content:        "hello again",
		CreatedAt:      time.Now().Add(time.Second),
	}))

	conversations, err := s.GetConversationsByUserID(user.ID)
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, first.ID, conversations[0].ID)
	assert.Equal(t, second.ID, conversations[1].ID)
}

func TestMessageWithAttachments(t *testing.T) {
	s := newTestStore(t)
	user := createTestUser(t, s)
	conv, err := s.CreateConversation("", user.ID, nil)
	require.NoError(t, err)

	msg := &Message{
		ConversationID: conv.ID,
		Role:           "user",
		Content:        "see attached",
		DisplayContent: "see attached\n\nImage attached: pic.png",
		Attachments: []Attachment{
			{Kind: "image", MimeType: "image/png", DataURL: "data:image/png;base64,AAAA", FileName: "pic.png"},
		},
	}
	require.NoError(t, s.CreateMessage(msg))
	require.NotEmpty(t, msg.ID)

	messages, err := s.GetMessagesByConversationID(conv.ID, 100, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Len(t, messages[0].Attachments, 1)
	assert.Equal(t, "pic.png", messages[0].Attachments[0].FileName)
}

func TestDeleteMessage(t *testing.T) {
	s := newTestStore(t)
	user := createTestUser(t, s)
	conv, err := s.CreateConversation("", user.ID, nil)
	require.NoError(t, err)

	base := time.Now()
	userMsg := &Message{ConversationID: conv.ID, Role: "user", Content: "q", CreatedAt: base}
	assistantMsg := &Message{
		ConversationID: conv.ID,
		Role:           "assistant",
		Content:        "a",
		CreatedAt:      base.Add(time.Second),
		Attachments: []Attachment{
			{Kind: "image", MimeType: "image/png", DataURL: "data:image/png;base64,AAAA", FileName: "pic.png"},
		},
	}
	require.NoError(t, s.CreateMessage(userMsg))
	require.NoError(t, s.CreateMessage(assistantMsg))

	// Deleting by id removes exactly the named row plus its attachments,
	// regardless of insertion order.
	require.NoError(t, s.DeleteMessage(assistantMsg.ID))

	messages, err := s.GetMessagesByConversationID(conv.ID, 100, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, userMsg.ID, messages[0].ID)

	attachments, err := s.getAttachmentsByMessageID(assistantMsg.ID)
	require.NoError(t, err)
	assert.Empty(t, attachments)

	assert.Error(t, s.DeleteMessage(assistantMsg.ID))
}

func TestMessageFeedback(t *testing.T) {
	s := newTestStore(t)
	user := createTestUser(t, s)
	conv, err := s.CreateConversation("", user.ID, nil)
	require.NoError(t, err)

	msg := &Message{ConversationID: conv.ID, Role: "assistant", Content: "a"}
	require.NoError(t, s.CreateMessage(msg))

	require.NoError(t, s.UpdateMessageFeedback(msg.ID, true))
	messages, err := s.GetMessagesByConversationID(conv.ID, 100, 0)
	require.NoError(t, err)
	assert.True(t, messages[0].NegativeFeedback)

	assert.Error(t, s.UpdateMessageFeedback("missing", true))
}
