package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/auth/signup", apiHandler.SignupHandler)
		r.Post("/auth/login", apiHandler.LoginHandler)
		r.Post("/auth/refresh", apiHandler.RefreshHandler)

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Post("/auth/logout", apiHandler.LogoutHandler)
			r.Get("/auth/me", apiHandler.MeHandler)

			// Conversation routes
			r.Post("/conversations", apiHandler.CreateConversationHandler)
			r.Get("/conversations", apiHandler.ListConversationsHandler)
			r.Get("/conversations/{conversationID}", apiHandler.GetConversationHandler)
			r.Patch("/conversations/{conversationID}/title", apiHandler.RenameConversationHandler)
			r.Patch("/conversations/{conversationID}/response", apiHandler.UpdateResponseIDHandler)
			r.Delete("/conversations/{conversationID}", apiHandler.DeleteConversationHandler)

			// Message routes
			r.Post("/conversations/{conversationID}/messages", apiHandler.PostMessageHandler)
			r.Delete("/conversations/{conversationID}/messages/last", apiHandler.DeleteLastMessageHandler)
			r.Post("/messages/{messageID}/feedback", apiHandler.MessageFeedbackHandler)

			// Streaming generation
			r.Post("/conversations/{conversationID}/chat", apiHandler.StreamChatHandler)
			r.Post("/conversations/{conversationID}/chat/cancel", apiHandler.CancelChatHandler)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return r
}
