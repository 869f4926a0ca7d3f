package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	// SQLite allows one writer at a time, and a :memory: database exists per
	// connection; keep the pool at a single connection.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        email TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        display_name TEXT NOT NULL DEFAULT '',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS refresh_tokens (
        token_hash TEXT PRIMARY KEY,
        user_id INTEGER NOT NULL,
        expires_at DATETIME NOT NULL,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        title TEXT,
        response_id TEXT NOT NULL DEFAULT '',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        conversation_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
        content TEXT NOT NULL,
        display_content TEXT NOT NULL DEFAULT '',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        negative_feedback BOOLEAN DEFAULT FALSE,
        FOREIGN KEY (conversation_id) REFERENCES conversations (id)
    );

    CREATE TABLE IF NOT EXISTS attachments (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        message_id TEXT NOT NULL,
        kind TEXT NOT NULL CHECK (kind IN ('image', 'document')),
        mime_type TEXT NOT NULL,
        data_url TEXT NOT NULL,
        file_name TEXT NOT NULL,
        FOREIGN KEY (message_id) REFERENCES messages (id)
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods

func (s *SQLiteStore) GetUserByEmail(email string) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, email, password_hash, display_name, created_at FROM users WHERE email = ?", email).
		Scan(&user.ID, &user.Email, &user.PasswordHash, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) GetUserByID(id int64) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, email, password_hash, display_name, created_at FROM users WHERE id = ?", id).
		Scan(&user.ID, &user.Email, &user.PasswordHash, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) CreateUser(email, passwordHash, displayName string) (*User, error) {
	res, err := s.db.Exec("INSERT INTO users (email, password_hash, display_name) VALUES (?, ?, ?)",
		email, passwordHash, displayName)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.GetUserByID(id)
}

// Refresh token methods

func (s *SQLiteStore) SaveRefreshToken(tokenHash string, userID int64, expiresAt time.Time) error {
	_, err := s.db.Exec("INSERT INTO refresh_tokens (token_hash, user_id, expires_at) VALUES (?, ?, ?)",
		tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LookupRefreshToken(tokenHash string) (*RefreshToken, error) {
	var rt RefreshToken
	err := s.db.QueryRow("SELECT token_hash, user_id, expires_at FROM refresh_tokens WHERE token_hash = ?", tokenHash).
		Scan(&rt.TokenHash, &rt.UserID, &rt.ExpiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query refresh token: %w", err)
	}
	return &rt, nil
}

func (s *SQLiteStore) DeleteRefreshToken(tokenHash string) error {
	_, err := s.db.Exec("DELETE FROM refresh_tokens WHERE token_hash = ?", tokenHash)
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// Conversation methods

func (s *SQLiteStore) CreateConversation(id string, userID int64, title *string) (*Conversation, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	_, err := s.db.Exec("INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		id, userID, title, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}
	return &Conversation{ID: id, UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLiteStore) GetConversationsByUserID(userID int64) ([]Conversation, error) {
	rows, err := s.db.Query(
		"SELECT id, user_id, title, response_id, created_at, updated_at FROM conversations WHERE user_id = ? ORDER BY updated_at DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.ResponseID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

func (s *SQLiteStore) GetConversationByID(id string, userID int64) (*Conversation, error) {
	var c Conversation
	err := s.db.QueryRow(
		"SELECT id, user_id, title, response_id, created_at, updated_at FROM conversations WHERE id = ? AND user_id = ?",
		id, userID).
		Scan(&c.ID, &c.UserID, &c.Title, &c.ResponseID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) UpdateConversationTitle(id string, userID int64, title string) error {
	res, err := s.db.Exec("UPDATE conversations SET title = ?, updated_at = ? WHERE id = ? AND user_id = ?",
		title, time.Now(), id, userID)
	if err != nil {
		return fmt.Errorf("failed to update conversation title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation not found")
	}
	return nil
}

// UpdateConversationResponseID stores the continuation handle captured from a
// completed generation. It is only called after a successful completion, so a
// cancelled or failed generation never clobbers the previous handle.
func (s *SQLiteStore) UpdateConversationResponseID(id string, userID int64, responseID string) error {
	res, err := s.db.Exec("UPDATE conversations SET response_id = ?, updated_at = ? WHERE id = ? AND user_id = ?",
		responseID, time.Now(), id, userID)
	if err != nil {
		return fmt.Errorf("failed to update conversation response id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation not found")
	}
	return nil
}

func (s *SQLiteStore) DeleteConversation(id string, userID int64) error {
	conv, err := s.GetConversationByID(id, userID)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("conversation not found")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM attachments WHERE message_id IN (SELECT id FROM messages WHERE conversation_id = ?)", id); err != nil {
		return fmt.Errorf("failed to delete attachments: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM conversations WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return tx.Commit()
}

// Message methods

func (s *SQLiteStore) CreateMessage(msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO messages (id, conversation_id, role, content, display_content, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.DisplayContent, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	for i := range msg.Attachments {
		a := &msg.Attachments[i]
		a.MessageID = msg.ID
		res, err := tx.Exec(
			"INSERT INTO attachments (message_id, kind, mime_type, data_url, file_name) VALUES (?, ?, ?, ?, ?)",
			a.MessageID, a.Kind, a.MimeType, a.DataURL, a.FileName)
		if err != nil {
			return fmt.Errorf("failed to insert attachment: %w", err)
		}
		a.ID, _ = res.LastInsertId()
	}

	if _, err := tx.Exec("UPDATE conversations SET updated_at = ? WHERE id = ?", msg.CreatedAt, msg.ConversationID); err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetMessagesByConversationID(conversationID string, limit, offset int) ([]Message, error) {
	rows, err := s.db.Query(
		"SELECT id, conversation_id, role, content, display_content, created_at, negative_feedback FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, rowid ASC LIMIT ? OFFSET ?",
		conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.DisplayContent, &m.CreatedAt, &m.NegativeFeedback); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range messages {
		attachments, err := s.getAttachmentsByMessageID(messages[i].ID)
		if err != nil {
			return nil, err
		}
		messages[i].Attachments = attachments
	}
	return messages, nil
}

func (s *SQLiteStore) getAttachmentsByMessageID(messageID string) ([]Attachment, error) {
	rows, err := s.db.Query(
		"SELECT id, message_id, kind, mime_type, data_url, file_name FROM attachments WHERE message_id = ? ORDER BY id ASC",
		messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()

	var attachments []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Kind, &a.MimeType, &a.DataURL, &a.FileName); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}

// DeleteMessage removes one message and its attachments by id. Callers name
// the exact row so an async mirror delete can never race a pending append
// and drop the wrong message. Used by the delete-last and regenerate flows.
func (s *SQLiteStore) DeleteMessage(messageID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM attachments WHERE message_id = ?", messageID); err != nil {
		return fmt.Errorf("failed to delete attachments: %w", err)
	}
	res, err := tx.Exec("DELETE FROM messages WHERE id = ?", messageID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message not found")
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpdateMessageFeedback(messageID string, negative bool) error {
	res, err := s.db.Exec("UPDATE messages SET negative_feedback = ? WHERE id = ?", negative, messageID)
	if err != nil {
		return fmt.Errorf("failed to update message feedback: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message not found for feedback")
	}
	return nil
}
