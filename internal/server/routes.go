//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.config.Server.CORS.Enabled {
		r.Use(s.corsMiddleware)
	}
	r.Use(s.recoveryMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.StripSlashes)

	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleMethodNotAllowed)

	r.Get("/openapi.json", s.handleOpenAPI)
	r.Get("/chat/healthz", s.handleHealth)

	r.Route("/chat", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/", s.handleListChats)
		r.Post("/", s.handleCreateChat)

		r.Route("/{chatId}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteChat)
			r.Put("/metadata", s.handleRenameChat)
			r.Put("/{messageId}", s.handleUpdateMessage)
			r.Get("/history", s.handleHistory)
			r.Post("/question", s.handleQuestion)
			r.Post("/question/stream", s.handleQuestionStream)
			r.Post("/question/answer", s.handleAddQuestionAndAnswer)
		})
	})

	return r
}
