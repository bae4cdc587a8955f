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
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables naming the base document for each mode.
const (
	EnvRAGConfigPath     = "RAG_CONFIG_PATH"
	EnvChatLLMConfigPath = "CHAT_LLM_CONFIG_PATH"
)

// Source supplies the raw base document for a mode.
type Source interface {
	Load(ctx context.Context, mode Mode) ([]byte, error)
}

// EnvSource reads base documents from files whose paths come from the
// environment, resolved against a base directory.
type EnvSource struct {
	baseDir   string
	lookupEnv func(string) (string, bool)
	readFile  func(string) ([]byte, error)
}

// NewEnvSource creates a source rooted at baseDir. An empty baseDir means
// the working directory.
func NewEnvSource(baseDir string) *EnvSource {
	return &EnvSource{
		baseDir:   baseDir,
		lookupEnv: os.LookupEnv,
		readFile:  os.ReadFile,
	}
}

// envVarFor returns the variable naming the document for mode.
func envVarFor(mode Mode) (string, error) {
	switch mode {
	case ModeRAG:
		return EnvRAGConfigPath, nil
	case ModeDirectChat:
		return EnvChatLLMConfigPath, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrConfigurationInvalid, mode)
}

// Path returns the resolved document path for mode.
func (s *EnvSource) Path(mode Mode) (string, error) {
	name, err := envVarFor(mode)
	if err != nil {
		return "", err
	}

	rel, ok := s.lookupEnv(name)
	if !ok || rel == "" {
		return "", fmt.Errorf("%w: %s not set", ErrConfigurationMissing, name)
	}

	if filepath.IsAbs(rel) || s.baseDir == "" {
		return rel, nil
	}
	return filepath.Join(s.baseDir, rel), nil
}

// Load reads the document for mode.
func (s *EnvSource) Load(_ context.Context, mode Mode) ([]byte, error) {
	path, err := s.Path(mode)
	if err != nil {
		return nil, err
	}

	data, err := s.readFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigurationMissing, err)
	}
	return data, nil
}

// StaticSource serves documents from memory.
type StaticSource map[Mode][]byte

// Load returns the document for mode.
func (s StaticSource) Load(_ context.Context, mode Mode) ([]byte, error) {
	data, ok := s[mode]
	if !ok {
		return nil, fmt.Errorf("%w: no document for mode %q", ErrConfigurationMissing, mode)
	}
	return data, nil
}
