package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimbuslabs/azurechat/internal/api"
	"github.com/nimbuslabs/azurechat/internal/chat"
	"github.com/nimbuslabs/azurechat/internal/config"
	"github.com/nimbuslabs/azurechat/internal/llm"
	"github.com/nimbuslabs/azurechat/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if config.AppConfig.LogLevel == "DEBUG" {
		log.Println("Service starting in DEBUG mode")
	}

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	// Initialize completion client
	client := llm.NewClient()
	if client.SupportsChaining() {
		log.Println("Responses API enabled: conversations chain server-side context")
	} else {
		log.Println("Responses API disabled: falling back to bounded history replay")
	}

	// Initialize chat service
	stateStore := chat.NewStateStore()
	continuation := chat.NewContinuationManager(config.AppConfig.MaxHistoryWindow, client.SupportsChaining())
	limiter := chat.NewRateLimiter(
		config.AppConfig.RequestsPerMinute,
		time.Duration(config.AppConfig.CooldownSeconds)*time.Second,
		nil,
	)
	chatService := chat.NewService(stateStore, dbStore, client, continuation, limiter)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(chatService, dbStore)
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No write timeout: SSE generations run until the remote side closes
		// the stream; clients cancel by disconnecting.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give active connections time to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting gracefully")
}
