// Package config loads and validates pywen_config.json.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/yosuke-furukawa/json5/encoding/json5"
)

// Defaults applied when the config file omits a field.
const (
	DefaultMaxIterations = 10
	DefaultMaxTurns      = 20
	DefaultMaxRetries    = 3
	DefaultLogLevel      = "info"
	DefaultTimeout       = 300 * time.Second
)

// ModelConfig is the provider profile.
type ModelConfig struct {
	// Provider is one of "openai", "compatible", "anthropic".
	Provider string `json:"provider"`

	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`

	// WireAPI hints the dialect for openai/compatible: "chat", "responses",
	// or "auto".
	WireAPI string `json:"wire_api,omitempty"`
}

// Config is the parsed pywen_config.json.
type Config struct {
	ModelConfig ModelConfig `json:"model_config"`

	MaxIterations int    `json:"max_iterations"`
	MaxTurns      int    `json:"max_turns"`
	MaxRetries    int    `json:"max_retries,omitempty"`
	LogLevel      string `json:"log_level"`
	SessionID     string `json:"session_id,omitempty"`

	// TimeoutSeconds bounds a single provider request.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	// ParallelToolCalls allows concurrent execution when a turn announces
	// multiple tool calls. Default false: sequential execution keeps history
	// ordering deterministic.
	ParallelToolCalls bool `json:"parallel_tool_calls,omitempty"`
}

// Error is a configuration problem with a user-visible message.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
	}
	return "config: " + e.Message
}

// Load reads, expands, parses, and validates the config file. Environment
// variables in the file body are expanded before parsing; missing provider
// credentials fall back to OPENAI_API_KEY / OPENAI_BASE_URL.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("cannot read %s: %v", path, err)}
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := json5.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, &Error{Message: fmt.Sprintf("cannot parse %s: %v", path, err)}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ModelConfig.APIKey == "" {
		c.ModelConfig.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.ModelConfig.BaseURL == "" {
		c.ModelConfig.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
}

// Validate checks required fields and the closed provider set.
func (c *Config) Validate() error {
	switch c.ModelConfig.Provider {
	case "openai", "compatible", "anthropic":
	case "":
		return &Error{Field: "model_config.provider", Message: "provider is required"}
	default:
		return &Error{Field: "model_config.provider", Message: fmt.Sprintf("unknown provider %q", c.ModelConfig.Provider)}
	}
	if c.ModelConfig.Model == "" {
		return &Error{Field: "model_config.model", Message: "model is required"}
	}
	if c.ModelConfig.APIKey == "" {
		return &Error{Field: "model_config.api_key", Message: "api key is required (or set OPENAI_API_KEY)"}
	}
	switch c.ModelConfig.WireAPI {
	case "", "auto", "chat", "responses":
	default:
		return &Error{Field: "model_config.wire_api", Message: fmt.Sprintf("unknown wire_api %q", c.ModelConfig.WireAPI)}
	}
	return nil
}

// Timeout returns the per-request timeout.
func (c *Config) Timeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return DefaultTimeout
}

// PywenHome resolves the base directory for skills, logs, and trajectories:
// $PYWEN_HOME, defaulting to ~/.pywen.
func PywenHome() string {
	if home := os.Getenv("PYWEN_HOME"); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".pywen"
	}
	return filepath.Join(userHome, ".pywen")
}
