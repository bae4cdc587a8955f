//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package factory creates LLM providers for a model's supplier.
package factory

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgEdge/pgedge-chat-server/internal/llm"
	"github.com/pgEdge/pgedge-chat-server/internal/llm/anthropic"
	"github.com/pgEdge/pgedge-chat-server/internal/llm/gemini"
	"github.com/pgEdge/pgedge-chat-server/internal/llm/openai"
)

// Supplier constants for matching model records and configuration.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

// KeyLoader resolves API keys for a supplier.
type KeyLoader interface {
	LoadForSupplier(supplier, envVar string) (string, error)
}

// Spec describes the provider to build.
type Spec struct {
	Supplier        string
	Model           string
	EndpointURL     string
	EnvVariableName string
	MaxTokens       int
	Temperature     float64
}

// Factory builds providers on demand.
type Factory struct {
	keys KeyLoader
}

// New creates a factory.
func New(keys KeyLoader) *Factory {
	return &Factory{keys: keys}
}

// normalizeSupplier returns the lower-cased supplier name, defaulting to OpenAI.
func normalizeSupplier(spec Spec) string {
	s := strings.ToLower(spec.Supplier)
	if s == "" {
		return ProviderOpenAI
	}
	return s
}

func (f *Factory) key(supplier string, spec Spec) (string, error) {
	key, err := f.keys.LoadForSupplier(supplier, spec.EnvVariableName)
	if err != nil {
		return "", fmt.Errorf("failed to load API key for %s: %w", spec.Model, err)
	}
	return key, nil
}

// NewCompletionProvider creates a completion provider. Providers that hold
// connections implement io.Closer and must be closed after use.
func (f *Factory) NewCompletionProvider(ctx context.Context, spec Spec) (llm.CompletionProvider, error) {
	if spec.Model == "" {
		return nil, fmt.Errorf("no model specified")
	}

	supplier := normalizeSupplier(spec)
	switch supplier {
	case ProviderOpenAI:
		key, err := f.key(supplier, spec)
		if err != nil {
			return nil, err
		}
		client := openai.NewClient(key, spec.EndpointURL)
		return openai.NewCompletionProvider(client, spec.Model, spec.MaxTokens, spec.Temperature), nil

	case ProviderOllama:
		endpoint := spec.EndpointURL
		if endpoint == "" {
			endpoint = openai.DefaultOllamaURL
		}
		client := openai.NewClient("ollama", endpoint)
		return openai.NewCompletionProvider(client, spec.Model, spec.MaxTokens, spec.Temperature), nil

	case ProviderAnthropic:
		key, err := f.key(supplier, spec)
		if err != nil {
			return nil, err
		}
		client := anthropic.NewClient(key, anthropic.WithBaseURL(spec.EndpointURL))
		return anthropic.NewCompletionProvider(client, spec.Model, spec.MaxTokens, spec.Temperature), nil

	case ProviderGemini:
		key, err := f.key(supplier, spec)
		if err != nil {
			return nil, err
		}
		client, err := gemini.NewClient(ctx, key, spec.EndpointURL)
		if err != nil {
			return nil, err
		}
		return gemini.NewCompletionProvider(client, spec.Model, spec.MaxTokens, spec.Temperature), nil

	default:
		return nil, fmt.Errorf("unknown completion provider: %s", spec.Supplier)
	}
}

// NewEmbeddingProvider creates an embedding provider.
func (f *Factory) NewEmbeddingProvider(ctx context.Context, spec Spec) (llm.EmbeddingProvider, error) {
	supplier := normalizeSupplier(spec)
	switch supplier {
	case ProviderOpenAI:
		key, err := f.key(supplier, spec)
		if err != nil {
			return nil, err
		}
		return openai.NewEmbeddingProvider(openai.NewClient(key, spec.EndpointURL), spec.Model), nil

	case ProviderOllama:
		endpoint := spec.EndpointURL
		if endpoint == "" {
			endpoint = openai.DefaultOllamaURL
		}
		return openai.NewEmbeddingProvider(openai.NewClient("ollama", endpoint), spec.Model), nil

	case ProviderGemini:
		key, err := f.key(supplier, spec)
		if err != nil {
			return nil, err
		}
		client, err := gemini.NewClient(ctx, key, spec.EndpointURL)
		if err != nil {
			return nil, err
		}
		return gemini.NewEmbeddingProvider(client, spec.Model), nil

	case ProviderAnthropic:
		return nil, fmt.Errorf("Anthropic does not provide an embedding API")

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", spec.Supplier)
	}
}
