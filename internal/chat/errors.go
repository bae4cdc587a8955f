//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package chat

import "errors"

// Errors returned by the orchestrator, the gates and the chat service.
// Callers match them with errors.Is; the wrapped message is for logs only.
var (
	// ErrUnprocessable means the request names no usable brain or model.
	ErrUnprocessable = errors.New("unprocessable request")

	// ErrForbidden means the caller does not own the chat or has no role
	// on the brain.
	ErrForbidden = errors.New("forbidden")

	// ErrChatNotFound means the chat does not exist.
	ErrChatNotFound = errors.New("chat not found")

	// ErrMessageNotFound means the message does not exist in the chat.
	ErrMessageNotFound = errors.New("message not found")

	// ErrQuotaExceeded means the user is not entitled to the model or has
	// used up the period's credit.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrModelNotFound means the selected model name is unknown.
	ErrModelNotFound = errors.New("model not found")

	// ErrGeneration wraps failures of the generation subsystem.
	ErrGeneration = errors.New("generation failed")
)
