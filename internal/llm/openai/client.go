//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package openai provides completion and embedding providers for OpenAI and
// OpenAI-compatible endpoints such as Ollama.
package openai

import (
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pgEdge/pgedge-chat-server/internal/llm"
)

const (
	defaultEmbeddingModel = "text-embedding-3-small"

	// DefaultOllamaURL is the OpenAI-compatible endpoint of a local Ollama.
	DefaultOllamaURL = "http://localhost:11434/v1"
)

// NewClient creates an API client. An empty baseURL uses the OpenAI API.
func NewClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// wrapError converts client errors into llm.Error values.
func wrapError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return llm.NewHTTPError(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return llm.NewHTTPError(reqErr.HTTPStatusCode, reqErr.Error())
	}
	return fmt.Errorf("%s: %w", op, err)
}
