//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variable names for API keys.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGeminiAPIKey    = "GEMINI_API_KEY"
)

// Default API key file paths (relative to home directory).
const (
	DefaultAnthropicKeyFile = ".anthropic-api-key"
	DefaultOpenAIKeyFile    = ".openai-api-key"
	DefaultGeminiKeyFile    = ".gemini-api-key"
)

// keySource describes where a supplier's key is looked up.
type keySource struct {
	configPath  string
	envVar      string
	defaultFile string
	name        string
}

// APIKeyLoader handles loading API keys from configured paths, environment
// variables, or default file locations.
type APIKeyLoader struct {
	config APIKeysConfig
	getenv func(string) string
	home   func() (string, error)
}

// NewAPIKeyLoader creates a new API key loader with the given configuration.
func NewAPIKeyLoader(cfg APIKeysConfig) *APIKeyLoader {
	return &APIKeyLoader{
		config: cfg,
		getenv: os.Getenv,
		home:   os.UserHomeDir,
	}
}

// LoadForSupplier loads the key for a model supplier. A model record may name
// its own environment variable, which then takes the place of the supplier's
// default variable. Ollama needs no key and yields an empty string.
func (l *APIKeyLoader) LoadForSupplier(supplier, envVar string) (string, error) {
	var src keySource
	switch strings.ToLower(supplier) {
	case "anthropic":
		src = keySource{l.config.Anthropic, EnvAnthropicAPIKey, DefaultAnthropicKeyFile, "Anthropic"}
	case "openai", "":
		src = keySource{l.config.OpenAI, EnvOpenAIAPIKey, DefaultOpenAIKeyFile, "OpenAI"}
	case "gemini":
		src = keySource{l.config.Gemini, EnvGeminiAPIKey, DefaultGeminiKeyFile, "Gemini"}
	case "ollama":
		return "", nil
	default:
		return "", fmt.Errorf("unsupported supplier: %s", supplier)
	}

	if envVar != "" {
		if key := l.getenv(envVar); key != "" {
			return key, nil
		}
	}

	return l.loadKey(src)
}

// loadKey loads an API key with the following priority:
// 1. Configured file path (if specified in config)
// 2. Environment variable
// 3. Default file location (~/.provider-api-key)
func (l *APIKeyLoader) loadKey(src keySource) (string, error) {
	if src.configPath != "" {
		return readKeyFile(expandPath(src.configPath), src.name)
	}

	if key := l.getenv(src.envVar); key != "" {
		return key, nil
	}

	homeDir, err := l.home()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	path := filepath.Join(homeDir, src.defaultFile)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", fmt.Errorf(
			"%s API key not found: set %s environment variable or create %s",
			src.name, src.envVar, path)
	}

	return readKeyFile(path, src.name)
}

// readKeyFile reads an API key from a file.
func readKeyFile(path, providerName string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s API key file not found: %s", providerName, path)
		}
		return "", fmt.Errorf("failed to read %s API key: %w", providerName, err)
	}

	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("%s API key file is empty: %s", providerName, path)
	}

	return key, nil
}
