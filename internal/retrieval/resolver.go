//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package retrieval

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/pgEdge/pgedge-chat-server/internal/store"
)

// Resolver builds effective configurations.
type Resolver struct {
	source Source
	logger *slog.Logger
}

// NewResolver creates a resolver reading base documents from source.
func NewResolver(source Source, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		source: source,
		logger: logger.With("component", "retrieval"),
	}
}

// Build loads the base document for mode and merges the model's settings
// over it. The document is read on every call.
func (r *Resolver) Build(ctx context.Context, mode Mode, model *store.Model) (*Config, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: no model selected", ErrConfigurationInvalid)
	}

	data, err := r.source.Load(ctx, mode)
	if err != nil {
		return nil, err
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode

	merge(cfg, model)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r.logger.Debug("configuration built",
		"mode", mode,
		"model", cfg.LLM.Model,
		"temperature", cfg.LLM.Temperature,
		"max_context_tokens", cfg.LLM.MaxContextTokens)
	return cfg, nil
}

// parse decodes a base document, rejecting unknown fields.
func parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrConfigurationInvalid, err)
	}
	return &cfg, nil
}

// merge applies model overrides. Token limits are capped at the model's
// limits, and used as the value when the base document leaves them unset.
// Temperature is clamped to the model's ceiling.
func merge(cfg *Config, m *store.Model) {
	cfg.LLM.Model = m.Name
	if m.Supplier != "" {
		cfg.LLM.Supplier = m.Supplier
	}
	if m.EndpointURL != "" {
		cfg.LLM.EndpointURL = m.EndpointURL
	}
	if m.EnvVariableName != "" {
		cfg.LLM.EnvVariableName = m.EnvVariableName
	}

	cfg.LLM.MaxContextTokens = capLimit(cfg.LLM.MaxContextTokens, m.MaxInput)
	cfg.LLM.MaxOutputTokens = capLimit(cfg.LLM.MaxOutputTokens, m.MaxOutput)

	if m.MaxTemperature > 0 && cfg.LLM.Temperature > m.MaxTemperature {
		cfg.LLM.Temperature = m.MaxTemperature
	}
}

func capLimit(base, limit int) int {
	if limit <= 0 {
		return base
	}
	if base == 0 || base > limit {
		return limit
	}
	return base
}
