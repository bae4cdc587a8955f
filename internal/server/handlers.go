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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pgEdge/pgedge-chat-server/internal/auth"
	"github.com/pgEdge/pgedge-chat-server/internal/chat"
	"github.com/pgEdge/pgedge-chat-server/internal/retrieval"
	"github.com/pgEdge/pgedge-chat-server/internal/store"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// SSE event types.
const (
	EventChunk = "chunk"
	EventDone  = "done"
	EventError = "error"
)

// HealthResponse is the response for the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// ChatsResponse is the response for the list chats endpoint.
type ChatsResponse struct {
	Chats []store.Chat `json:"chats"`
}

// HistoryResponse is the response for the chat history endpoint.
type HistoryResponse struct {
	History []chat.HistoryItem `json:"history"`
}

// MessageResponse carries a plain confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// CreateChatRequest is the body of POST /chat.
type CreateChatRequest struct {
	Name string `json:"name"`
}

// RenameChatRequest is the body of PUT /chat/{chatId}/metadata.
type RenameChatRequest struct {
	ChatName string `json:"chat_name"`
}

// UpdateMessageRequest is the body of PUT /chat/{chatId}/{messageId}.
// Omitted fields are left unchanged.
type UpdateMessageRequest struct {
	Assistant *string         `json:"assistant,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// QuestionRequest is the body of the question endpoints. BrainID is used
// only when the brain_id query parameter is absent.
type QuestionRequest struct {
	Question string     `json:"question"`
	BrainID  *uuid.UUID `json:"brain_id,omitempty"`
}

// QuestionAnswerRequest is the body of POST /chat/{chatId}/question/answer.
type QuestionAnswerRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// StreamEvent is one Server-Sent Event of a streamed answer.
type StreamEvent struct {
	Type      string               `json:"type"`
	Data      *chat.AnswerFragment `json:"data,omitempty"`
	MessageID *uuid.UUID           `json:"message_id,omitempty"`
	Error     *ErrorDetail         `json:"error,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleHealth handles the GET /chat/healthz endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleListChats handles the GET /chat endpoint.
func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}

	chats, err := s.chats.ListChats(r.Context(), userID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if chats == nil {
		chats = []store.Chat{}
	}

	s.respondJSON(w, http.StatusOK, ChatsResponse{Chats: chats})
}

// handleCreateChat handles the POST /chat endpoint.
func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}

	var req CreateChatRequest
	if r.ContentLength != 0 {
		if !s.decodeJSON(w, r, &req) {
			return
		}
	}

	c, err := s.chats.CreateChat(r.Context(), userID, req.Name)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusOK, c)
}

// handleDeleteChat handles the DELETE /chat/{chatId} endpoint.
func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	chatID, ok := s.pathID(w, r, "chatId")
	if !ok {
		return
	}

	if err := s.chats.DeleteChat(r.Context(), userID, chatID); err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("%s has been deleted", chatID),
	})
}

// handleRenameChat handles the PUT /chat/{chatId}/metadata endpoint.
func (s *Server) handleRenameChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	chatID, ok := s.pathID(w, r, "chatId")
	if !ok {
		return
	}

	var req RenameChatRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	c, err := s.chats.RenameChat(r.Context(), userID, chatID, req.ChatName)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusOK, c)
}

// handleUpdateMessage handles the PUT /chat/{chatId}/{messageId} endpoint.
func (s *Server) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	chatID, ok := s.pathID(w, r, "chatId")
	if !ok {
		return
	}
	messageID, ok := s.pathID(w, r, "messageId")
	if !ok {
		return
	}

	var req UpdateMessageRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	turn, err := s.chats.UpdateMessage(r.Context(), userID, chatID, messageID, store.MessageUpdate{
		Assistant: req.Assistant,
		Metadata:  req.Metadata,
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusOK, turn)
}

// handleHistory handles the GET /chat/{chatId}/history endpoint.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	chatID, ok := s.pathID(w, r, "chatId")
	if !ok {
		return
	}

	items, err := s.chats.History(r.Context(), userID, chatID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []chat.HistoryItem{}
	}

	s.respondJSON(w, http.StatusOK, HistoryResponse{History: items})
}

// handleAddQuestionAndAnswer handles the POST
// /chat/{chatId}/question/answer endpoint.
func (s *Server) handleAddQuestionAndAnswer(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	chatID, ok := s.pathID(w, r, "chatId")
	if !ok {
		return
	}

	var req QuestionAnswerRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	c, err := s.chats.AddQuestionAndAnswer(r.Context(), userID, chatID, req.Question, req.Answer)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusOK, c)
}

// handleQuestion handles the POST /chat/{chatId}/question endpoint.
func (s *Server) handleQuestion(w http.ResponseWriter, r *http.Request) {
	userID, q, ok := s.questionFromRequest(w, r)
	if !ok {
		return
	}

	answer, err := s.answers.GenerateAnswer(r.Context(), userID, q)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusOK, answer)
}

// handleQuestionStream handles the POST /chat/{chatId}/question/stream
// endpoint using Server-Sent Events. Setup failures are reported as plain
// JSON errors since nothing has been streamed yet.
func (s *Server) handleQuestionStream(w http.ResponseWriter, r *http.Request) {
	userID, q, ok := s.questionFromRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "STREAMING_ERROR",
			"streaming not supported")
		return
	}

	stream, err := s.answers.GenerateAnswerStream(r.Context(), userID, q)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case frag, ok := <-stream.Fragments:
			if !ok {
				if err := <-stream.Err; err != nil {
					_, detail := s.describeError(r, err)
					s.sendSSE(w, flusher, StreamEvent{Type: EventError, Error: &detail})
					return
				}
				s.sendSSE(w, flusher, StreamEvent{Type: EventDone, MessageID: &stream.MessageID})
				return
			}
			s.sendSSE(w, flusher, StreamEvent{Type: EventChunk, Data: &frag})

		case <-r.Context().Done():
			s.logger.Debug("client disconnected during streaming",
				"message_id", stream.MessageID)
			return
		}
	}
}

// questionFromRequest extracts the caller, chat id, and question from a
// question request.
func (s *Server) questionFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, chat.Question, bool) {
	userID, ok := s.caller(w, r)
	if !ok {
		return uuid.Nil, chat.Question{}, false
	}
	chatID, ok := s.pathID(w, r, "chatId")
	if !ok {
		return uuid.Nil, chat.Question{}, false
	}

	var req QuestionRequest
	if !s.decodeJSON(w, r, &req) {
		return uuid.Nil, chat.Question{}, false
	}

	q := chat.Question{ChatID: chatID, Text: req.Question, BrainID: req.BrainID}
	raw := r.URL.Query().Get("brain_id")
	if raw == "" {
		raw = r.URL.Query().Get("brainId")
	}
	if raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.respondError(w, http.StatusUnprocessableEntity, "UNPROCESSABLE",
				"brain_id is not a valid id")
			return uuid.Nil, chat.Question{}, false
		}
		q.BrainID = &id
	}

	return userID, q, true
}

// caller returns the authenticated user id.
func (s *Server) caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := auth.FromContext(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "not authenticated")
		return uuid.Nil, false
	}
	return userID, true
}

// pathID parses a UUID URL parameter.
func (s *Server) pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_REQUEST",
			name+" is not a valid id")
		return uuid.Nil, false
	}
	return id, true
}

// decodeJSON decodes the request body into v.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_REQUEST",
			"invalid request body: "+err.Error())
		return false
	}
	return true
}

// sendSSE sends a Server-Sent Event.
func (s *Server) sendSSE(w http.ResponseWriter, flusher http.Flusher, event StreamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to marshal SSE event", "error", err)
		return
	}

	// SSE format: data: {json}\n\n
	if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
		s.logger.Debug("failed to write SSE event", "error", err)
		return
	}
	flusher.Flush()
}

// handleNotFound responds to unknown routes.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.respondError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
}

// handleMethodNotAllowed responds to known routes called with the wrong
// method. chi sets the Allow header.
func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
		"method not allowed")
}

// respondJSON sends a JSON response with RFC 8631 Link header for API discovery.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	// RFC 8631: Link header for API documentation discovery
	w.Header().Set("Link", `</openapi.json>; rel="service-desc"`)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// respondError sends an error response.
func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// respondServiceError maps a service error onto a status and error body.
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := s.describeError(r, err)
	s.respondError(w, status, detail.Code, detail.Message)
}

// errorMapping ties a sentinel error to its HTTP representation. Messages
// are fixed so that resolution details never reach the client.
type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var errorMappings = []errorMapping{
	{chat.ErrUnprocessable, http.StatusUnprocessableEntity, "UNPROCESSABLE", "the request could not be processed"},
	{chat.ErrModelNotFound, http.StatusUnprocessableEntity, "UNPROCESSABLE", "the request could not be processed"},
	{chat.ErrForbidden, http.StatusForbidden, "FORBIDDEN", "access denied"},
	{chat.ErrChatNotFound, http.StatusNotFound, "CHAT_NOT_FOUND", "chat not found"},
	{chat.ErrMessageNotFound, http.StatusNotFound, "MESSAGE_NOT_FOUND", "message not found"},
	{chat.ErrQuotaExceeded, http.StatusTooManyRequests, "QUOTA_EXCEEDED", "usage quota exceeded"},
	{retrieval.ErrConfigurationMissing, http.StatusInternalServerError, "CONFIGURATION_ERROR", "server configuration error"},
	{retrieval.ErrConfigurationInvalid, http.StatusInternalServerError, "CONFIGURATION_ERROR", "server configuration error"},
	{chat.ErrGeneration, http.StatusBadGateway, "GENERATION_FAILED", "answer generation failed"},
}

// describeError returns the status and body for err and logs it.
func (s *Server) describeError(r *http.Request, err error) (int, ErrorDetail) {
	status := http.StatusInternalServerError
	detail := ErrorDetail{Code: "INTERNAL_ERROR", Message: "internal server error"}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			status = m.status
			detail = ErrorDetail{Code: m.code, Message: m.message}
			break
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"code", detail.Code,
			"error", err)
	} else {
		s.logger.Debug("request rejected",
			"path", r.URL.Path,
			"code", detail.Code,
			"error", err)
	}

	return status, detail
}
