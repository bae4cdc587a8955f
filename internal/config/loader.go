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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the default configuration file name.
	ConfigFileName = "pgedge-chat-server.yaml"

	// SystemConfigPath is the system-wide configuration path.
	SystemConfigPath = "/etc/pgedge/" + ConfigFileName

	// EnvFileName is the dotenv file loaded before environment overrides.
	EnvFileName = ".env"
)

// Environment variables that override values from the configuration file.
const (
	EnvDatabaseDriver = "PGEDGE_CHAT_DATABASE_DRIVER"
	EnvDatabasePath   = "PGEDGE_CHAT_DATABASE_PATH"
	EnvJWTSecret      = "PGEDGE_CHAT_JWT_SECRET"
	EnvPort           = "PGEDGE_CHAT_PORT"
	EnvLogLevel       = "PGEDGE_CHAT_LOG_LEVEL"
	EnvConfigDir      = "PGEDGE_CHAT_RETRIEVAL_CONFIG_DIR"
)

// Load loads the configuration from the specified path, or searches
// default locations if path is empty.
//
// Search order:
//  1. Explicit path (if provided)
//  2. /etc/pgedge/pgedge-chat-server.yaml
//  3. pgedge-chat-server.yaml in the binary's directory
//
// A .env file in the working directory is loaded first, so its values are
// visible to the environment overrides and to the retrieval config paths.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(EnvFileName); err != nil {
		return nil, err
	}

	configPath, err := findConfigFile(path)
	if err != nil {
		return nil, err
	}

	return loadFromFile(configPath)
}

// loadDotEnv loads a dotenv file if one exists. Variables already present in
// the environment win.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

// findConfigFile finds the configuration file using the search order.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	searchPaths := []string{
		SystemConfigPath,
		getBinaryDirConfigPath(),
	}

	for _, p := range searchPaths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no configuration file found; searched: %v", searchPaths)
}

// getBinaryDirConfigPath returns the path to config file in the binary's
// directory.
func getBinaryDirConfigPath() string {
	executable, err := os.Executable()
	if err != nil {
		return ""
	}

	// Resolve symlinks to get the actual binary location
	executable, err = filepath.EvalSymlinks(executable)
	if err != nil {
		return ""
	}

	return filepath.Join(filepath.Dir(executable), ConfigFileName)
}

// loadFromFile loads and parses the configuration from a YAML file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a configuration from YAML bytes, applying environment
// overrides and defaults, then validates it.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides replaces file values with environment values where set.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDatabaseDriver); ok && v != "" {
		cfg.Database.Driver = v
	}
	if v, ok := lookup(EnvDatabasePath); ok && v != "" {
		cfg.Database.Path = v
	}
	if v, ok := lookup(EnvJWTSecret); ok && v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Server.LogLevel = v
	}
	if v, ok := lookup(EnvConfigDir); ok && v != "" {
		cfg.Retrieval.ConfigDir = v
	}
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		cfg.Server.Port = port
	}
	return nil
}

// applyDefaults fills values that depend on other parts of the configuration.
func applyDefaults(cfg *Config) {
	applyDatabaseDefaults(&cfg.Database)

	if cfg.Knowledge.Enabled {
		kdb := &cfg.Knowledge.Database
		if kdb.Driver == "" {
			kdb.Driver = DriverPostgres
		}
		// Reuse the chat store's PostgreSQL connection when none is given.
		if kdb.Host == "" && cfg.Database.Driver == DriverPostgres {
			*kdb = cfg.Database
		}
		applyDatabaseDefaults(kdb)
	}

	if cfg.Telemetry.Timeout <= 0 {
		cfg.Telemetry.Timeout = 5
	}
}

func applyDatabaseDefaults(db *DatabaseConfig) {
	if db.Driver == "" {
		db.Driver = DriverSQLite
	}
	if db.Driver != DriverPostgres {
		return
	}

	if db.Port == 0 {
		db.Port = 5432
	}

	if db.SSLMode == "" {
		db.SSLMode = "prefer"
	}
}
