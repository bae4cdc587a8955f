//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package factory

import (
	"context"
	"errors"
	"testing"
)

// MockKeyLoader returns fixed keys per supplier.
type MockKeyLoader struct {
	Keys      map[string]string
	Suppliers []string
	EnvVars   []string
}

func (m *MockKeyLoader) LoadForSupplier(supplier, envVar string) (string, error) {
	m.Suppliers = append(m.Suppliers, supplier)
	m.EnvVars = append(m.EnvVars, envVar)
	if key, ok := m.Keys[supplier]; ok {
		return key, nil
	}
	return "", errors.New("key not found")
}

func TestNewCompletionProvider(t *testing.T) {
	keys := &MockKeyLoader{Keys: map[string]string{
		ProviderOpenAI:    "sk-test",
		ProviderAnthropic: "ant-test",
	}}
	f := New(keys)
	ctx := context.Background()

	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{name: "openai", spec: Spec{Supplier: "openai", Model: "gpt-x"}},
		{name: "default supplier", spec: Spec{Model: "gpt-x"}},
		{name: "anthropic uppercase", spec: Spec{Supplier: "Anthropic", Model: "claude-y"}},
		{name: "ollama without key", spec: Spec{Supplier: "ollama", Model: "llama3"}},
		{name: "missing key", spec: Spec{Supplier: "gemini", Model: "gemini-pro"}, wantErr: true},
		{name: "unknown supplier", spec: Spec{Supplier: "voyage", Model: "v"}, wantErr: true},
		{name: "no model", spec: Spec{Supplier: "openai"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := f.NewCompletionProvider(ctx, tt.spec)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.ModelName() != tt.spec.Model {
				t.Errorf("model name = %q, want %q", p.ModelName(), tt.spec.Model)
			}
		})
	}
}

func TestNewCompletionProvider_PassesEnvVariable(t *testing.T) {
	keys := &MockKeyLoader{Keys: map[string]string{ProviderOpenAI: "k"}}
	_, err := New(keys).NewCompletionProvider(context.Background(), Spec{
		Supplier:        "openai",
		Model:           "gpt-x",
		EnvVariableName: "TEAM_OPENAI_KEY",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(keys.EnvVars) != 1 || keys.EnvVars[0] != "TEAM_OPENAI_KEY" {
		t.Errorf("expected env variable to reach the key loader, got %v", keys.EnvVars)
	}
}

func TestNewCompletionProvider_NormalizesSupplier(t *testing.T) {
	keys := &MockKeyLoader{Keys: map[string]string{
		ProviderOpenAI:    "sk-test",
		ProviderAnthropic: "ant-test",
	}}
	f := New(keys)
	ctx := context.Background()

	for _, supplier := range []string{"", "OpenAI", "ANTHROPIC"} {
		if _, err := f.NewCompletionProvider(ctx, Spec{Supplier: supplier, Model: "m"}); err != nil {
			t.Fatalf("supplier %q: %v", supplier, err)
		}
	}
	if _, err := f.NewEmbeddingProvider(ctx, Spec{Supplier: "OPENAI"}); err != nil {
		t.Fatalf("openai embeddings: %v", err)
	}

	want := []string{ProviderOpenAI, ProviderOpenAI, ProviderAnthropic, ProviderOpenAI}
	if len(keys.Suppliers) != len(want) {
		t.Fatalf("key loader saw %v, want %v", keys.Suppliers, want)
	}
	for i := range want {
		if keys.Suppliers[i] != want[i] {
			t.Errorf("key loader call %d got supplier %q, want %q", i, keys.Suppliers[i], want[i])
		}
	}
}

func TestNewEmbeddingProvider(t *testing.T) {
	f := New(&MockKeyLoader{Keys: map[string]string{ProviderOpenAI: "k"}})
	ctx := context.Background()

	if _, err := f.NewEmbeddingProvider(ctx, Spec{Supplier: "openai"}); err != nil {
		t.Errorf("openai: %v", err)
	}
	if _, err := f.NewEmbeddingProvider(ctx, Spec{Supplier: "ollama", Model: "nomic-embed-text"}); err != nil {
		t.Errorf("ollama: %v", err)
	}
	if _, err := f.NewEmbeddingProvider(ctx, Spec{Supplier: "anthropic"}); err == nil {
		t.Error("expected error for anthropic embeddings")
	}
}
