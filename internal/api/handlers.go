package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nimbuslabs/azurechat/internal/auth"
	"github.com/nimbuslabs/azurechat/internal/chat"
	"github.com/nimbuslabs/azurechat/internal/config"
	"github.com/nimbuslabs/azurechat/internal/store"
)

const refreshTokenTTL = 7 * 24 * time.Hour

type APIHandler struct {
	chatService *chat.Service
	db          *store.SQLiteStore
}

func NewAPIHandler(cs *chat.Service, db *store.SQLiteStore) *APIHandler {
	return &APIHandler{chatService: cs, db: db}
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		subject, err := auth.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		userID, err := strconv.ParseInt(subject, 10, 64)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, err := h.db.GetUserByID(userID)
		if err != nil {
			log.Printf("Error in JWTAuthMiddleware for user %d: %v", userID, err)
			http.Error(w, "Failed to process user identity", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "User not found", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), "userID", user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Auth handlers

type SignupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type TokenResponse struct {
	Token        string      `json:"token"`
	RefreshToken string      `json:"refresh_token"`
	User         *store.User `json:"user"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	existing, err := h.db.GetUserByEmail(req.Email)
	if err != nil {
		log.Printf("Error checking existing user %s: %v", req.Email, err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "An account with this email already exists", http.StatusConflict)
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("Error hashing password for user %s: %v", req.Email, err)
		http.Error(w, "Failed to process password", http.StatusInternalServerError)
		return
	}

	user, err := h.db.CreateUser(req.Email, hashedPassword, req.DisplayName)
	if err != nil {
		log.Printf("Error creating user %s: %v", req.Email, err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	resp, err := h.issueTokens(user)
	if err != nil {
		log.Printf("Error issuing tokens for user %s: %v", req.Email, err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.db.GetUserByEmail(req.Email)
	if err != nil {
		log.Printf("Error getting user %s: %v", req.Email, err)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	resp, err := h.issueTokens(user)
	if err != nil {
		log.Printf("Error issuing tokens for user %s: %v", req.Email, err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(resp)
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *APIHandler) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.RefreshToken == "" {
		http.Error(w, "Refresh token is required", http.StatusBadRequest)
		return
	}

	hash := auth.HashRefreshToken(req.RefreshToken)
	stored, err := h.db.LookupRefreshToken(hash)
	if err != nil {
		log.Printf("Error looking up refresh token: %v", err)
		http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}
	if stored == nil || time.Now().After(stored.ExpiresAt) {
		http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	user, err := h.db.GetUserByID(stored.UserID)
	if err != nil || user == nil {
		http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	// Rotate: the presented token is single-use.
	if err := h.db.DeleteRefreshToken(hash); err != nil {
		log.Printf("Error rotating refresh token: %v", err)
	}

	resp, err := h.issueTokens(user)
	if err != nil {
		log.Printf("Error issuing tokens for user %d: %v", user.ID, err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(resp)
}

func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.RefreshToken != "" {
		if err := h.db.DeleteRefreshToken(auth.HashRefreshToken(req.RefreshToken)); err != nil {
			log.Printf("Error revoking refresh token: %v", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) MeHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)
	user, err := h.db.GetUserByID(userID)
	if err != nil || user == nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(user)
}

func (h *APIHandler) issueTokens(user *store.User) (*TokenResponse, error) {
	token, err := auth.GenerateJWT(strconv.FormatInt(user.ID, 10))
	if err != nil {
		return nil, err
	}
	refresh, refreshHash, err := auth.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	if err := h.db.SaveRefreshToken(refreshHash, user.ID, time.Now().Add(refreshTokenTTL)); err != nil {
		return nil, err
	}
	return &TokenResponse{Token: token, RefreshToken: refresh, User: user}, nil
}

// Conversation handlers

func (h *APIHandler) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	conv, err := h.chatService.CreateConversation(userID)
	if err != nil {
		log.Printf("Error creating conversation for user %d: %v", userID, err)
		http.Error(w, "Failed to create conversation", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(conv)
}

func (h *APIHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	conversations, err := h.chatService.ListConversations(userID)
	if err != nil {
		log.Printf("Error listing conversations for user %d: %v", userID, err)
		http.Error(w, "Failed to list conversations", http.StatusInternalServerError)
		return
	}
	if conversations == nil {
		conversations = []store.Conversation{}
	}
	json.NewEncoder(w).Encode(conversations)
}

func (h *APIHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)
	conversationID := chi.URLParam(r, "conversationID")

	conv, err := h.chatService.GetConversation(conversationID, userID)
	if err != nil {
		if isNotFound(err) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		log.Printf("Error getting conversation %s for user %d: %v", conversationID, userID, err)
		http.Error(w, "Failed to get conversation", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(conv)
}

type RenameConversationRequest struct {
	Title string `json:"title"`
}

func (h *APIHandler) RenameConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)
	conversationID := chi.URLParam(r, "conversationID")

	var req RenameConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		http.Error(w, "Title cannot be empty", http.StatusBadRequest)
		return
	}

	if err := h.chatService.RenameConversation(conversationID, userID, req.Title); err != nil {
		if isNotFound(err) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		log.Printf("Error renaming conversation %s: %v", conversationID, err)
		http.Error(w, "Failed to rename conversation", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type UpdateResponseIDRequest struct {
	ResponseID string `json:"response_id"`
}

func (h *APIHandler) UpdateResponseIDHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)
	conversationID := chi.URLParam(r, "conversationID")

	var req UpdateResponseIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.chatService.SetContinuationHandle(conversationID, userID, req.ResponseID); err != nil {
		if isNotFound(err) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		log.Printf("Error updating response id for conversation %s: %v", conversationID, err)
		http.Error(w, "Failed to update response id", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)
	conversationID := chi.URLParam(r, "conversationID")

	if err := h.chatService.DeleteConversation(conversationID, userID); err != nil {
		if isNotFound(err) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		log.Printf("Error deleting conversation %s: %v", conversationID, err)
		http.Error(w, "Failed to delete conversation", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Message handlers

type AttachmentInput struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // base64-encoded file bytes
}

type PostMessageRequest struct {
	Role           string            `json:"role"`
	Content        string            `json:"content"`
	DisplayContent string            `json:"display_content"`
	Attachments    []AttachmentInput `json:"attachments"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)
	conversationID := chi.URLParam(r, "conversationID")

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, "Message content cannot be empty", http.StatusBadRequest)
		return
	}
	if max := config.AppConfig.MaxInputChars; max > 0 && len([]rune(req.Content)) > max {
		http.Error(w, fmt.Sprintf("Message exceeds the %d character limit", max), http.StatusBadRequest)
		return
	}
	if req.Role == "" {
		req.Role = chat.RoleUser
	}
	if req.Role != chat.RoleUser && req.Role != chat.RoleAssistant && req.Role != chat.RoleSystem {
		http.Error(w, "Invalid message role", http.StatusBadRequest)
		return
	}

	attachments, err := h.encodeAttachments(req.Attachments)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	msg := chat.NewUserMessage(req.Content, req.DisplayContent, attachments)
	msg.Role = req.Role

	if err := h.chatService.AppendMessage(conversationID, userID, msg); err != nil {
		if isNotFound(err) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		log.Printf("Error appending message to conversation %s: %v", conversationID, err)
		http.Error(w, "Failed to append message", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(msg)
}

func (h *APIHandler) DeleteLastMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)
	conversationID := chi.URLParam(r, "conversationID")

	removed, err := h.chatService.DeleteLastMessage(conversationID, userID)
	if err != nil {
		if isNotFound(err) || err.Error() == "no messages to delete" {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		log.Printf("Error deleting last message of conversation %s: %v", conversationID, err)
		http.Error(w, "Failed to delete message", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(removed)
}

type FeedbackRequest struct {
	Negative bool `json:"negative"`
}

func (h *APIHandler) MessageFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.chatService.SetMessageFeedback(messageID, req.Negative); err != nil {
		if err.Error() == "message not found for feedback" {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			log.Printf("Error setting feedback for message %s: %v", messageID, err)
			http.Error(w, "Failed to set feedback", http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) encodeAttachments(inputs []AttachmentInput) ([]chat.Attachment, error) {
	var attachments []chat.Attachment
	for _, in := range inputs {
		data, err := base64.StdEncoding.DecodeString(in.Data)
		if err != nil {
			return nil, errors.New("attachment data must be base64 encoded")
		}
		att, err := chat.EncodeAttachment(in.FileName, in.MimeType, data, config.AppConfig.MaxAttachmentSize)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, att)
	}
	return attachments, nil
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}
