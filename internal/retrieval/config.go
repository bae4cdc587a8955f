//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package retrieval builds the per-request generation configuration from a
// mode-specific base document and the selected model.
package retrieval

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects which base configuration document applies.
type Mode string

// Retrieval modes.
const (
	// ModeRAG answers from a brain's knowledge.
	ModeRAG Mode = "rag"
	// ModeDirectChat talks to a model without retrieval.
	ModeDirectChat Mode = "chat_with_llm"
)

// Errors returned when building a configuration.
var (
	// ErrConfigurationMissing means the base document path is unset or the
	// file cannot be read.
	ErrConfigurationMissing = errors.New("retrieval configuration missing")

	// ErrConfigurationInvalid means the base document cannot be parsed or
	// the merged result is not usable.
	ErrConfigurationInvalid = errors.New("retrieval configuration invalid")
)

// LLMSettings are the generation parameters of a configuration.
type LLMSettings struct {
	Supplier         string  `yaml:"supplier" json:"supplier"`
	Model            string  `yaml:"model" json:"model"`
	Temperature      float64 `yaml:"temperature" json:"temperature"`
	MaxContextTokens int     `yaml:"max_context_tokens" json:"max_context_tokens"`
	MaxOutputTokens  int     `yaml:"max_output_tokens" json:"max_output_tokens"`
	EndpointURL      string  `yaml:"endpoint_url" json:"endpoint_url,omitempty"`
	EnvVariableName  string  `yaml:"env_variable_name" json:"env_variable_name,omitempty"`
}

// Config is the effective configuration consumed by generation. It is
// built for a single request and never cached.
type Config struct {
	Mode       Mode        `yaml:"-" json:"mode"`
	MaxHistory int         `yaml:"max_history" json:"max_history"`
	MaxFiles   int         `yaml:"max_files" json:"max_files"`
	K          int         `yaml:"k" json:"k"`
	Prompt     string      `yaml:"prompt" json:"prompt,omitempty"`
	LLM        LLMSettings `yaml:"llm_config" json:"llm_config"`
}

// Validate checks a merged configuration.
func (c *Config) Validate() error {
	var problems []string

	if c.LLM.Model == "" {
		problems = append(problems, "llm_config.model is required")
	}
	if c.MaxHistory < 0 {
		problems = append(problems, "max_history must be non-negative")
	}
	if c.K < 0 {
		problems = append(problems, "k must be non-negative")
	}
	if c.MaxFiles < 0 {
		problems = append(problems, "max_files must be non-negative")
	}
	if c.LLM.Temperature < 0 {
		problems = append(problems, "llm_config.temperature must be non-negative")
	}
	if c.LLM.MaxContextTokens < 0 || c.LLM.MaxOutputTokens < 0 {
		problems = append(problems, "token limits must be non-negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigurationInvalid, strings.Join(problems, "; "))
	}
	return nil
}
