package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/agentkit/pkg/log"
)

// Config holds all application configuration
// Supports environment variables with sensible defaults
//
// Environment Variables:
// LLM Configuration:
// - LLM_PROVIDER: Backend to use: compat, openai or anthropic (default: compat)
// - LLM_API_KEY: API key for the LLM provider (required)
// - LLM_API_URL: API endpoint URL (default: https://openrouter.ai/api/v1 for compat, SDK default otherwise)
// - LLM_MODEL: Model name to use (default: openai/gpt-4o-mini for compat, provider default otherwise)
// - LLM_EMBEDDING_MODEL: Embedding model for openai/compat embedders (optional)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 1024)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.7)
// - LLM_TIMEOUT: Request timeout in seconds (default: 60)
// - LLM_SITE_URL: Site URL for HTTP referer header (optional)
// - LLM_APP_NAME: Application name for X-Title header (optional)
//
// Memory Configuration:
// - MEMORY_ENABLED: Retrieve memories before each turn (default: true)
// - MEMORY_BACKEND: sqlite, redis or memory (default: sqlite)
// - MEMORY_DB_PATH: SQLite file (default: $DATA_DIR/agent_memory.db)
// - MEMORY_REDIS_ADDR / MEMORY_REDIS_PASSWORD / MEMORY_REDIS_DB / MEMORY_REDIS_PREFIX: Redis backend
// - MEMORY_COLLECTION: Collection name (default: agent_memory)
// - MEMORY_EMBEDDER: hash, openai or compat (default: hash)
// - MEMORY_QUERY_RESULTS: Memories retrieved per turn (default: 3)
// - MEMORY_RETENTION_CRON: Cron expression for retention sweeps (optional)
// - MEMORY_MAX_AGE: Maximum memory age, e.g. 720h (required with MEMORY_RETENTION_CRON)
//
// Search Configuration:
// - SEARCH_API_KEY: Tavily API key, enables web_search (optional)
// - SEARCH_API_URL: Tavily API URL (default: https://api.tavily.com/search)
//
// Agent Configuration:
// - AGENT_PROFILE: TOML profile with prompt sections and tool toggles (default: $DATA_DIR/profile.toml)
// - AGENT_TOOLS_FILE: TOML file declaring command tools (default: $DATA_DIR/tools.toml)
// - AGENT_DOCUMENTS_DIR: Base directory for document_reader (default: current directory)
// - AGENT_ORDERS_FILE: CSV file for csv_order_reader (optional)
//
// System Configuration:
// - DATA_DIR: Directory for local state (default: ./data)
// - LOG_LEVEL: debug, info, warn or error (default: info)
type Config struct {
	// LLM Configuration
	LLM LLMConfig `json:"llm"`

	// Memory Configuration
	Memory MemoryConfig `json:"memory"`

	// Search Configuration (for web search tool)
	Search SearchConfig `json:"search"`

	// Agent Configuration
	Agent AgentConfig `json:"agent"`

	// System Configuration
	System SystemConfig `json:"system"`

	// Profile is loaded from Agent.ProfilePath
	Profile Profile `json:"profile"`
}

const (
	ProviderCompat    = "compat"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"

	EmbedderHash   = "hash"
	EmbedderOpenAI = "openai"
	EmbedderCompat = "compat"

	DefaultCompatURL   = "https://openrouter.ai/api/v1"
	DefaultCompatModel = "openai/gpt-4o-mini"
)

// LLMConfig holds the configuration for the selected provider
type LLMConfig struct {
	Provider       string  `json:"provider"`
	APIKey         string  `json:"-"`
	APIURL         string  `json:"api_url"`
	Model          string  `json:"model"`
	EmbeddingModel string  `json:"embedding_model"`
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"`
	Timeout        int     `json:"timeout"`
	SiteURL        string  `json:"site_url"`
	AppName        string  `json:"app_name"`
}

// TimeoutDuration returns Timeout as a time.Duration
func (c LLMConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// MemoryConfig selects and configures the memory backend
type MemoryConfig struct {
	Enabled       bool          `json:"enabled"`
	Backend       string        `json:"backend"`
	DBPath        string        `json:"db_path"`
	RedisAddr     string        `json:"redis_addr"`
	RedisPassword string        `json:"-"`
	RedisDB       int           `json:"redis_db"`
	RedisPrefix   string        `json:"redis_prefix"`
	Collection    string        `json:"collection"`
	Embedder      string        `json:"embedder"`
	QueryResults  int           `json:"query_results"`
	RetentionCron string        `json:"retention_cron"`
	MaxAge        time.Duration `json:"max_age"`
}

// RetentionEnabled reports whether a retention sweep should be scheduled
func (c MemoryConfig) RetentionEnabled() bool {
	return c.RetentionCron != ""
}

// SearchConfig holds the configuration for web search tool
type SearchConfig struct {
	APIKey string `json:"-"`      // Tavily API key
	APIURL string `json:"api_url"` // Tavily API URL
}

// AgentConfig holds file locations for the agent's profile and tools
type AgentConfig struct {
	ProfilePath  string `json:"profile_path"`
	ToolsPath    string `json:"tools_path"`
	DocumentsDir string `json:"documents_dir"`
	OrdersFile   string `json:"orders_file"`
}

// SystemConfig holds the system configuration
type SystemConfig struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// WithProvider overrides LLM_PROVIDER
func WithProvider(name string) Option {
	return func(c *Config) { c.LLM.Provider = name }
}

// WithMemoryBackend overrides MEMORY_BACKEND
func WithMemoryBackend(backend string) Option {
	return func(c *Config) { c.Memory.Backend = backend }
}

// WithProfile replaces the profile loaded from disk
func WithProfile(p Profile) Option {
	return func(c *Config) { c.Profile = p }
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		log.Debug("Loaded environment from %s", path)
	}
	return nil
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	dataDir := getEnvString("DATA_DIR", "./data")
	provider := strings.ToLower(getEnvString("LLM_PROVIDER", ProviderCompat))

	config := &Config{
		LLM: LLMConfig{
			Provider:       provider,
			APIKey:         getEnvString("LLM_API_KEY", ""),
			APIURL:         getEnvString("LLM_API_URL", ""),
			Model:          getEnvString("LLM_MODEL", ""),
			EmbeddingModel: getEnvString("LLM_EMBEDDING_MODEL", ""),
			MaxTokens:      getEnvInt("LLM_MAX_TOKENS", 1024),
			Temperature:    getEnvFloat("LLM_TEMPERATURE", 0.7),
			Timeout:        getEnvInt("LLM_TIMEOUT", 60),
			SiteURL:        getEnvString("LLM_SITE_URL", ""),
			AppName:        getEnvString("LLM_APP_NAME", ""),
		},
		Memory: MemoryConfig{
			Enabled:       getEnvBool("MEMORY_ENABLED", true),
			Backend:       strings.ToLower(getEnvString("MEMORY_BACKEND", BackendSQLite)),
			DBPath:        getEnvString("MEMORY_DB_PATH", filepath.Join(dataDir, "agent_memory.db")),
			RedisAddr:     getEnvString("MEMORY_REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnvString("MEMORY_REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("MEMORY_REDIS_DB", 0),
			RedisPrefix:   getEnvString("MEMORY_REDIS_PREFIX", "agentkit"),
			Collection:    getEnvString("MEMORY_COLLECTION", "agent_memory"),
			Embedder:      strings.ToLower(getEnvString("MEMORY_EMBEDDER", EmbedderHash)),
			QueryResults:  getEnvInt("MEMORY_QUERY_RESULTS", 3),
			RetentionCron: getEnvString("MEMORY_RETENTION_CRON", ""),
			MaxAge:        getEnvDuration("MEMORY_MAX_AGE", 0),
		},
		Search: SearchConfig{
			APIKey: getEnvString("SEARCH_API_KEY", ""),
			APIURL: getEnvString("SEARCH_API_URL", "https://api.tavily.com/search"),
		},
		Agent: AgentConfig{
			ProfilePath:  getEnvString("AGENT_PROFILE", filepath.Join(dataDir, "profile.toml")),
			ToolsPath:    getEnvString("AGENT_TOOLS_FILE", filepath.Join(dataDir, "tools.toml")),
			DocumentsDir: getEnvString("AGENT_DOCUMENTS_DIR", "."),
			OrdersFile:   getEnvString("AGENT_ORDERS_FILE", ""),
		},
		System: SystemConfig{
			DataDir:  dataDir,
			LogLevel: getEnvString("LOG_LEVEL", "info"),
		},
	}

	if provider == ProviderCompat {
		if config.LLM.APIURL == "" {
			config.LLM.APIURL = DefaultCompatURL
		}
		if config.LLM.Model == "" {
			config.LLM.Model = DefaultCompatModel
		}
	}

	profile, err := LoadProfile(config.Agent.ProfilePath)
	if err != nil {
		return nil, err
	}
	config.Profile = profile

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: provider=%s model=%s memory=%s/%s embedder=%s",
		config.LLM.Provider, config.LLM.Model, config.Memory.Backend, config.Memory.Collection, config.Memory.Embedder)

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	switch c.LLM.Provider {
	case ProviderCompat, ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLM.Provider)
	}
	if c.LLM.MaxTokens < 1 {
		return fmt.Errorf("LLM_MAX_TOKENS must be greater than 0")
	}
	if c.LLM.Timeout < 1 {
		return fmt.Errorf("LLM_TIMEOUT must be greater than 0")
	}

	switch c.Memory.Backend {
	case BackendSQLite:
		if c.Memory.DBPath == "" {
			return fmt.Errorf("MEMORY_DB_PATH is required for the sqlite backend")
		}
	case BackendRedis:
		if c.Memory.RedisAddr == "" {
			return fmt.Errorf("MEMORY_REDIS_ADDR is required for the redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown MEMORY_BACKEND %q", c.Memory.Backend)
	}

	switch c.Memory.Embedder {
	case EmbedderHash, EmbedderCompat:
	case EmbedderOpenAI:
		if c.LLM.Provider != ProviderOpenAI {
			return fmt.Errorf("MEMORY_EMBEDDER=openai requires LLM_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("unknown MEMORY_EMBEDDER %q", c.Memory.Embedder)
	}
	if c.Memory.Embedder == EmbedderCompat && c.LLM.Provider == ProviderAnthropic {
		return fmt.Errorf("MEMORY_EMBEDDER=compat is not available with LLM_PROVIDER=anthropic")
	}

	if c.Memory.QueryResults < 1 {
		return fmt.Errorf("MEMORY_QUERY_RESULTS must be greater than 0")
	}
	if c.Memory.RetentionEnabled() {
		if _, err := cron.ParseStandard(c.Memory.RetentionCron); err != nil {
			return fmt.Errorf("invalid MEMORY_RETENTION_CRON: %w", err)
		}
		if c.Memory.MaxAge <= 0 {
			return fmt.Errorf("MEMORY_MAX_AGE is required when MEMORY_RETENTION_CRON is set")
		}
	}

	return c.Profile.Validate()
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment variables with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration value from environment variables with default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
