//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package config handles configuration loading and validation for the
// pgEdge Chat Server.
package config

// Database drivers supported by the chat store.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the root configuration structure for the server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	APIKeys   APIKeysConfig   `yaml:"api_keys"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Usage     UsageConfig     `yaml:"usage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Defaults  Defaults        `yaml:"defaults"`
	Catalog   CatalogConfig   `yaml:"catalog"`
}

// APIKeysConfig contains paths to files containing API keys for LLM providers.
// If not specified, keys are loaded from environment variables or default
// file locations (~/.anthropic-api-key, ~/.openai-api-key, ~/.gemini-api-key).
type APIKeysConfig struct {
	Anthropic string `yaml:"anthropic"` // Path to file containing Anthropic API key
	OpenAI    string `yaml:"openai"`    // Path to file containing OpenAI API key
	Gemini    string `yaml:"gemini"`    // Path to file containing Gemini API key
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	ListenAddress string     `yaml:"listen_address"`
	Port          int        `yaml:"port"`
	LogLevel      string     `yaml:"log_level"`
	TLS           TLSConfig  `yaml:"tls"`
	CORS          CORSConfig `yaml:"cors"`
}

// CORSConfig contains CORS (Cross-Origin Resource Sharing) settings.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"` // Origins to allow, or ["*"] for all
}

// TLSConfig contains TLS/HTTPS settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DatabaseConfig contains the chat store connection settings. The SQLite
// driver only uses Path; the PostgreSQL driver uses the remaining fields.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`

	// Certificate-based authentication
	SSLCert   string `yaml:"ssl_cert"`
	SSLKey    string `yaml:"ssl_key"`
	SSLRootCA string `yaml:"ssl_root_ca"`
}

// AuthConfig contains bearer token verification settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// RetrievalConfig locates the per-mode retrieval configuration documents.
// The document paths themselves come from the RAG_CONFIG_PATH and
// CHAT_LLM_CONFIG_PATH environment variables and are resolved relative
// to ConfigDir.
type RetrievalConfig struct {
	ConfigDir string `yaml:"config_dir"`
}

// KnowledgeConfig describes the pgvector table holding brain knowledge.
// Retrieval is skipped entirely when disabled.
type KnowledgeConfig struct {
	Enabled      bool           `yaml:"enabled"`
	Database     DatabaseConfig `yaml:"database"`
	Table        string         `yaml:"table"`
	IDColumn     string         `yaml:"id_column"`
	BrainColumn  string         `yaml:"brain_column"`
	TextColumn   string         `yaml:"text_column"`
	SourceColumn string         `yaml:"source_column"`
	VectorColumn string         `yaml:"vector_column"`
	EmbeddingLLM LLMConfig      `yaml:"embedding_llm"`
}

// UsageConfig contains quota settings applied to users without explicit
// settings.
type UsageConfig struct {
	DefaultMonthlyCredit int      `yaml:"default_monthly_credit"`
	DefaultModels        []string `yaml:"default_models"`
}

// TelemetryConfig contains settings for anonymous usage events.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Timeout  int    `yaml:"timeout"` // Seconds
}

// Defaults contains default values applied when a brain does not say
// otherwise.
type Defaults struct {
	Model string `yaml:"model"`
}

// CatalogConfig lists models, brains and user settings written to the
// store at startup. Entries are upserted, so the file stays authoritative
// for anything it names.
type CatalogConfig struct {
	Models []ModelEntry `yaml:"models"`
	Brains []BrainEntry `yaml:"brains"`
	Users  []UserEntry  `yaml:"users"`
}

// ModelEntry describes a model a user or brain can address.
type ModelEntry struct {
	Name            string  `yaml:"name"`
	DisplayName     string  `yaml:"display_name"`
	Description     string  `yaml:"description"`
	Supplier        string  `yaml:"supplier"`
	EndpointURL     string  `yaml:"endpoint_url"`
	EnvVariableName string  `yaml:"env_variable_name"`
	MaxInput        int     `yaml:"max_input"`
	MaxOutput       int     `yaml:"max_output"`
	MaxTemperature  float64 `yaml:"max_temperature"`
	Price           int     `yaml:"price"`
}

// BrainEntry describes a brain. Members maps user ids to a role name
// (Viewer, Editor or Owner).
type BrainEntry struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Model       string            `yaml:"model"`
	Prompt      string            `yaml:"prompt"`
	Members     map[string]string `yaml:"members"`
}

// UserEntry holds a user's quota settings. Leaving Models empty allows
// every model.
type UserEntry struct {
	ID                string   `yaml:"id"`
	Email             string   `yaml:"email"`
	MonthlyChatCredit int      `yaml:"monthly_chat_credit"`
	Models            []string `yaml:"models"`
}

// LLMConfig contains settings for an LLM provider.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress: "0.0.0.0",
			Port:          8080,
			LogLevel:      "info",
			TLS: TLSConfig{
				Enabled: false,
			},
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   "pgedge-chat.db",
		},
		Knowledge: KnowledgeConfig{
			Table:        "brain_vectors",
			IDColumn:     "id",
			BrainColumn:  "brain_id",
			TextColumn:   "content",
			VectorColumn: "embedding",
		},
		Usage: UsageConfig{
			DefaultMonthlyCredit: 100,
		},
		Telemetry: TelemetryConfig{
			Timeout: 5,
		},
		Defaults: Defaults{
			Model: "gpt-4o-mini",
		},
	}
}
