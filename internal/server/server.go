//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package server provides the HTTP server for the chat API.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pgEdge/pgedge-chat-server/internal/auth"
	"github.com/pgEdge/pgedge-chat-server/internal/chat"
	"github.com/pgEdge/pgedge-chat-server/internal/config"
	"github.com/pgEdge/pgedge-chat-server/internal/store"
)

// Answerer generates answers to chat questions.
type Answerer interface {
	GenerateAnswer(ctx context.Context, userID uuid.UUID, q chat.Question) (*chat.Answer, error)
	GenerateAnswerStream(ctx context.Context, userID uuid.UUID, q chat.Question) (*chat.Stream, error)
}

// ChatManager manages chats and their history on behalf of a user.
type ChatManager interface {
	ListChats(ctx context.Context, userID uuid.UUID) ([]store.Chat, error)
	CreateChat(ctx context.Context, userID uuid.UUID, name string) (*store.Chat, error)
	DeleteChat(ctx context.Context, userID, chatID uuid.UUID) error
	RenameChat(ctx context.Context, userID, chatID uuid.UUID, name string) (*store.Chat, error)
	UpdateMessage(ctx context.Context, userID, chatID, messageID uuid.UUID, upd store.MessageUpdate) (*store.Turn, error)
	History(ctx context.Context, userID, chatID uuid.UUID) ([]chat.HistoryItem, error)
	AddQuestionAndAnswer(ctx context.Context, userID, chatID uuid.UUID, question, answer string) (*store.Chat, error)
}

// Dependencies holds the services the HTTP layer delegates to.
type Dependencies struct {
	Answers  Answerer
	Chats    ChatManager
	Verifier auth.Verifier
}

// Server is the HTTP server for the chat API.
type Server struct {
	config   *config.Config
	answers  Answerer
	chats    ChatManager
	verifier auth.Verifier
	logger   *slog.Logger
	router   chi.Router

	mu     sync.Mutex
	server *http.Server
}

// New creates a new HTTP server.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:   cfg,
		answers:  deps.Answers,
		chats:    deps.Chats,
		verifier: deps.Verifier,
		logger:   logger.With("component", "server"),
	}

	s.router = s.setupRoutes()

	return s
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.ListenAddress, s.config.Server.Port)

	// No WriteTimeout: streamed answers can outlive any fixed deadline.
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("starting server",
		"address", addr,
		"tls", s.config.Server.TLS.Enabled)

	if s.config.Server.TLS.Enabled {
		return s.serveTLS(srv)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	return srv.Serve(listener)
}

// serveTLS starts the server with TLS.
func (s *Server) serveTLS(srv *http.Server) error {
	srv.TLSConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	return srv.ListenAndServeTLS(
		s.config.Server.TLS.CertFile,
		s.config.Server.TLS.KeyFile,
	)
}

func (s *Server) httpServer() *http.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server
}

// Shutdown stops accepting connections and waits for in-flight requests,
// open streams included, to finish until ctx expires. It does not cancel
// their request contexts; use Close for that.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if srv := s.httpServer(); srv != nil {
		return srv.Shutdown(ctx)
	}

	return nil
}

// Close closes all listeners and connections immediately. Requests still
// running see their context cancelled.
func (s *Server) Close() error {
	if srv := s.httpServer(); srv != nil {
		return srv.Close()
	}

	return nil
}

// Addr returns the server's address. Returns empty string if not started.
func (s *Server) Addr() string {
	if srv := s.httpServer(); srv != nil {
		return srv.Addr
	}
	return ""
}
