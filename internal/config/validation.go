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
	"slices"
	"strings"

	"github.com/google/uuid"
)

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// ValidationError represents a single configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}

	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// embeddingProviders lists the providers able to produce embeddings.
var embeddingProviders = []string{"openai", "gemini", "ollama"}

// validLogLevels lists the accepted server.log_level values.
var validLogLevels = []string{"debug", "info", "warn", "error"}

// Validate checks the configuration for errors and returns all validation
// errors found.
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateDatabase("database", c.Database)...)
	errs = append(errs, c.validateAuth()...)
	errs = append(errs, c.validateKnowledge()...)
	errs = append(errs, c.validateUsage()...)
	errs = append(errs, c.validateTelemetry()...)
	errs = append(errs, c.validateCatalog()...)

	if c.Defaults.Model == "" {
		errs = append(errs, ValidationError{
			Field:   "defaults.model",
			Message: "required",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// validateServer validates server configuration.
func (c *Config) validateServer() ValidationErrors {
	var errs ValidationErrors

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: "must be between 1 and 65535",
		})
	}

	if !slices.Contains(validLogLevels, strings.ToLower(c.Server.LogLevel)) {
		errs = append(errs, ValidationError{
			Field:   "server.log_level",
			Message: "must be one of: " + strings.Join(validLogLevels, ", "),
		})
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			errs = append(errs, ValidationError{
				Field:   "server.tls.cert_file",
				Message: "required when TLS is enabled",
			})
		} else if _, err := os.Stat(expandPath(c.Server.TLS.CertFile)); err != nil {
			errs = append(errs, ValidationError{
				Field:   "server.tls.cert_file",
				Message: fmt.Sprintf("file not found: %s", c.Server.TLS.CertFile),
			})
		}

		if c.Server.TLS.KeyFile == "" {
			errs = append(errs, ValidationError{
				Field:   "server.tls.key_file",
				Message: "required when TLS is enabled",
			})
		} else if _, err := os.Stat(expandPath(c.Server.TLS.KeyFile)); err != nil {
			errs = append(errs, ValidationError{
				Field:   "server.tls.key_file",
				Message: fmt.Sprintf("file not found: %s", c.Server.TLS.KeyFile),
			})
		}
	}

	return errs
}

// validateDatabase validates a database configuration.
func (c *Config) validateDatabase(prefix string, db DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	switch db.Driver {
	case DriverSQLite:
		if db.Path == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".path",
				Message: "required for the sqlite driver",
			})
		}
		return errs
	case DriverPostgres:
	default:
		errs = append(errs, ValidationError{
			Field:   prefix + ".driver",
			Message: "must be one of: sqlite, postgres",
		})
		return errs
	}

	if db.Host == "" {
		errs = append(errs, ValidationError{
			Field:   prefix + ".host",
			Message: "required",
		})
	}

	if db.Database == "" {
		errs = append(errs, ValidationError{
			Field:   prefix + ".database",
			Message: "required",
		})
	}

	if db.Port < 1 || db.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   prefix + ".port",
			Message: "must be between 1 and 65535",
		})
	}

	validSSLModes := map[string]bool{
		"disable":     true,
		"allow":       true,
		"prefer":      true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
	if db.SSLMode != "" && !validSSLModes[db.SSLMode] {
		errs = append(errs, ValidationError{
			Field:   prefix + ".ssl_mode",
			Message: "must be one of: disable, allow, prefer, require, verify-ca, verify-full",
		})
	}

	return errs
}

// validateAuth validates the bearer token settings.
func (c *Config) validateAuth() ValidationErrors {
	var errs ValidationErrors

	if c.Auth.JWTSecret == "" {
		errs = append(errs, ValidationError{
			Field:   "auth.jwt_secret",
			Message: "required (or set " + EnvJWTSecret + ")",
		})
	} else if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, ValidationError{
			Field:   "auth.jwt_secret",
			Message: "must be at least 16 characters",
		})
	}

	return errs
}

// validateKnowledge validates the retrieval table settings when enabled.
func (c *Config) validateKnowledge() ValidationErrors {
	var errs ValidationErrors

	k := c.Knowledge
	if !k.Enabled {
		return errs
	}

	if k.Database.Driver != DriverPostgres {
		errs = append(errs, ValidationError{
			Field:   "knowledge.database.driver",
			Message: "knowledge search requires postgres",
		})
	} else {
		errs = append(errs, c.validateDatabase("knowledge.database", k.Database)...)
	}

	required := map[string]string{
		"knowledge.table":         k.Table,
		"knowledge.brain_column":  k.BrainColumn,
		"knowledge.text_column":   k.TextColumn,
		"knowledge.vector_column": k.VectorColumn,
	}
	for _, field := range []string{
		"knowledge.table",
		"knowledge.brain_column",
		"knowledge.text_column",
		"knowledge.vector_column",
	} {
		if required[field] == "" {
			errs = append(errs, ValidationError{Field: field, Message: "required"})
		}
	}

	errs = append(errs, c.validateLLM("knowledge.embedding_llm",
		k.EmbeddingLLM, embeddingProviders)...)

	return errs
}

// validateUsage validates quota defaults.
func (c *Config) validateUsage() ValidationErrors {
	var errs ValidationErrors

	if c.Usage.DefaultMonthlyCredit < 0 {
		errs = append(errs, ValidationError{
			Field:   "usage.default_monthly_credit",
			Message: "must be non-negative",
		})
	}

	return errs
}

// validateTelemetry validates telemetry settings.
func (c *Config) validateTelemetry() ValidationErrors {
	var errs ValidationErrors

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		errs = append(errs, ValidationError{
			Field:   "telemetry.endpoint",
			Message: "required when telemetry is enabled",
		})
	}

	return errs
}

// supportedSuppliers lists the model suppliers the server can call.
var supportedSuppliers = []string{"openai", "anthropic", "gemini", "ollama"}

// validBrainRoles lists the accepted member role names.
var validBrainRoles = []string{"Viewer", "Editor", "Owner"}

// validateCatalog validates the seeded models, brains and users.
func (c *Config) validateCatalog() ValidationErrors {
	var errs ValidationErrors

	seen := make(map[string]bool)
	for i, m := range c.Catalog.Models {
		prefix := fmt.Sprintf("catalog.models[%d]", i)
		if m.Name == "" {
			errs = append(errs, ValidationError{Field: prefix + ".name", Message: "required"})
		} else if seen[m.Name] {
			errs = append(errs, ValidationError{Field: prefix + ".name", Message: "duplicate model name"})
		}
		seen[m.Name] = true

		if m.Supplier != "" && !slices.Contains(supportedSuppliers, strings.ToLower(m.Supplier)) {
			errs = append(errs, ValidationError{
				Field:   prefix + ".supplier",
				Message: fmt.Sprintf("must be one of: %s", strings.Join(supportedSuppliers, ", ")),
			})
		}
		if m.Price < 0 {
			errs = append(errs, ValidationError{Field: prefix + ".price", Message: "must be non-negative"})
		}
		if m.MaxInput < 0 || m.MaxOutput < 0 || m.MaxTemperature < 0 {
			errs = append(errs, ValidationError{Field: prefix, Message: "limits must be non-negative"})
		}
	}

	for i, b := range c.Catalog.Brains {
		prefix := fmt.Sprintf("catalog.brains[%d]", i)
		if _, err := uuid.Parse(b.ID); err != nil {
			errs = append(errs, ValidationError{Field: prefix + ".id", Message: "must be a UUID"})
		}
		if b.Name == "" {
			errs = append(errs, ValidationError{Field: prefix + ".name", Message: "required"})
		}
		for user, role := range b.Members {
			if _, err := uuid.Parse(user); err != nil {
				errs = append(errs, ValidationError{
					Field:   prefix + ".members",
					Message: fmt.Sprintf("member %q is not a UUID", user),
				})
			}
			if !slices.Contains(validBrainRoles, role) {
				errs = append(errs, ValidationError{
					Field:   prefix + ".members",
					Message: fmt.Sprintf("role %q must be one of: %s", role, strings.Join(validBrainRoles, ", ")),
				})
			}
		}
	}

	for i, u := range c.Catalog.Users {
		prefix := fmt.Sprintf("catalog.users[%d]", i)
		if _, err := uuid.Parse(u.ID); err != nil {
			errs = append(errs, ValidationError{Field: prefix + ".id", Message: "must be a UUID"})
		}
		if u.MonthlyChatCredit < 0 {
			errs = append(errs, ValidationError{Field: prefix + ".monthly_chat_credit", Message: "must be non-negative"})
		}
	}

	return errs
}

// validateLLM validates LLM configuration (required fields).
func (c *Config) validateLLM(prefix string, llm LLMConfig, validProviders []string) ValidationErrors {
	var errs ValidationErrors

	if llm.Provider == "" {
		errs = append(errs, ValidationError{
			Field:   prefix + ".provider",
			Message: "required",
		})
	} else if !slices.Contains(validProviders, strings.ToLower(llm.Provider)) {
		errs = append(errs, ValidationError{
			Field:   prefix + ".provider",
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validProviders, ", ")),
		})
	}

	if llm.Model == "" {
		errs = append(errs, ValidationError{
			Field:   prefix + ".model",
			Message: "required",
		})
	}

	return errs
}
