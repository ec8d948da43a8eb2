package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main insightx configuration
type Config struct {
	// Upstream completion provider
	Provider ProviderConfig `json:"provider" mapstructure:"provider"`

	// Credential pool
	Credentials CredentialsConfig `json:"credentials" mapstructure:"credentials"`

	// Orchestration pipeline
	Pipeline PipelineConfig `json:"pipeline" mapstructure:"pipeline"`

	// Agent overrides keyed by agent id
	Agents map[string]AgentOverride `json:"agents" mapstructure:"agents"`

	// Dataset profile store
	ProfileStore ProfileStoreConfig `json:"profile_store" mapstructure:"profile_store"`

	// Analysis executor (run_sql / run_python backend)
	Executor ExecutorConfig `json:"executor" mapstructure:"executor"`

	// HTTP gateway
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ProviderConfig selects the completion backend
type ProviderConfig struct {
	Kind    string `json:"kind" mapstructure:"kind"` // openai, anthropic
	BaseURL string `json:"base_url" mapstructure:"base_url"`
	Model   string `json:"model" mapstructure:"model"`
}

// CredentialsConfig holds the pooled API keys and cooldown policy
type CredentialsConfig struct {
	Keys          []string      `json:"keys" mapstructure:"keys"`
	CooldownBase  time.Duration `json:"cooldown_base" mapstructure:"cooldown_base"`
	CooldownMax   time.Duration `json:"cooldown_max" mapstructure:"cooldown_max"`
	CooldownScale float64       `json:"cooldown_factor" mapstructure:"cooldown_factor"`
	ResetSchedule string        `json:"reset_schedule" mapstructure:"reset_schedule"` // cron expression, empty disables
}

// PipelineConfig tunes the orchestration pipeline
type PipelineConfig struct {
	MaxAttempts       int           `json:"max_attempts" mapstructure:"max_attempts"`
	AttemptTimeout    time.Duration `json:"attempt_timeout" mapstructure:"attempt_timeout"`
	MaxToolCycles     int           `json:"max_tool_cycles" mapstructure:"max_tool_cycles"`
	SummaryInterval   int           `json:"summary_interval" mapstructure:"summary_interval"`
	CompressThreshold int           `json:"compress_threshold" mapstructure:"compress_threshold"`
	SummaryIdleTTL    time.Duration `json:"summary_idle_ttl" mapstructure:"summary_idle_ttl"`             // 0 keeps digests for the process lifetime
	SummarySweep      string        `json:"summary_sweep_schedule" mapstructure:"summary_sweep_schedule"` // cron expression
	RecentTurns       int           `json:"recent_turns" mapstructure:"recent_turns"`
	SchemaColumns     int           `json:"schema_columns" mapstructure:"schema_columns"`
	EventBuffer       int           `json:"event_buffer" mapstructure:"event_buffer"`
	Classifier        string        `json:"classifier" mapstructure:"classifier"` // agent, heuristic
}

// AgentOverride replaces registry defaults for one agent
type AgentOverride struct {
	Model       string  `json:"model" mapstructure:"model"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// ProfileStoreConfig selects where dataset profiles come from
type ProfileStoreConfig struct {
	Kind    string        `json:"kind" mapstructure:"kind"` // sqlite, http, memory
	Path    string        `json:"path" mapstructure:"path"`
	BaseURL string        `json:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// ExecutorConfig points at the SQL/Python execution backend
type ExecutorConfig struct {
	BaseURL       string        `json:"base_url" mapstructure:"base_url"`
	SQLRowLimit   int           `json:"sql_row_limit" mapstructure:"sql_row_limit"`
	PythonTimeout time.Duration `json:"python_timeout" mapstructure:"python_timeout"`
	Timeout       time.Duration `json:"timeout" mapstructure:"timeout"`
}

// GatewayConfig holds HTTP server configuration
type GatewayConfig struct {
	Port                 int    `json:"port" mapstructure:"port"`
	Host                 string `json:"host" mapstructure:"host"`
	AdminToken           string `json:"admin_token" mapstructure:"admin_token"`
	MaxConcurrentStreams int    `json:"max_concurrent_streams" mapstructure:"max_concurrent_streams"`
	TranscriptsDir       string `json:"transcripts_dir" mapstructure:"transcripts_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// TracingConfig controls OpenTelemetry spans around turns and agent calls
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
	Environment string  `json:"environment" mapstructure:"environment"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Kind:    "openai",
			BaseURL: "https://api.bytez.com/models/v2/openai/v1",
			Model:   "anthropic/claude-sonnet-4-5",
		},
		Credentials: CredentialsConfig{
			Keys:          []string{},
			CooldownBase:  5 * time.Second,
			CooldownMax:   5 * time.Minute,
			CooldownScale: 2.0,
		},
		Pipeline: PipelineConfig{
			MaxAttempts:       3,
			AttemptTimeout:    60 * time.Second,
			MaxToolCycles:     5,
			SummaryInterval:   10,
			CompressThreshold: 50,
			SummaryIdleTTL:    2 * time.Hour,
			SummarySweep:      "@every 10m",
			RecentTurns:       5,
			SchemaColumns:     10,
			EventBuffer:       8,
			Classifier:        "agent",
		},
		Agents: map[string]AgentOverride{},
		ProfileStore: ProfileStoreConfig{
			Kind:    "sqlite",
			Timeout: 10 * time.Second,
		},
		Executor: ExecutorConfig{
			BaseURL:       "http://localhost:8000/api",
			SQLRowLimit:   500,
			PythonTimeout: 10 * time.Second,
			Timeout:       30 * time.Second,
		},
		Gateway: GatewayConfig{
			Port:                 8080,
			Host:                 "0.0.0.0",
			MaxConcurrentStreams: 4,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     true,
			SampleRatio: 1.0,
			Environment: "development",
		},
	}
}

// String returns a JSON representation of the config with keys masked
func (c *Config) String() string {
	masked := *c
	masked.Credentials.Keys = make([]string, len(c.Credentials.Keys))
	for i := range c.Credentials.Keys {
		masked.Credentials.Keys[i] = "***"
	}
	if masked.Gateway.AdminToken != "" {
		masked.Gateway.AdminToken = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	v := NewValidator()

	if err := v.ValidateProviderKind(c.Provider.Kind); err != nil {
		return err
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("provider model is required")
	}

	if c.Credentials.CooldownBase <= 0 {
		return fmt.Errorf("credentials cooldown_base must be positive")
	}
	if c.Credentials.CooldownMax < c.Credentials.CooldownBase {
		return fmt.Errorf("credentials cooldown_max must be at least cooldown_base")
	}
	if c.Credentials.CooldownScale < 1 {
		return fmt.Errorf("credentials cooldown_factor must be >= 1")
	}
	if err := v.ValidateCronSchedule(c.Credentials.ResetSchedule); err != nil {
		return fmt.Errorf("credentials reset_schedule: %w", err)
	}

	p := c.Pipeline
	if p.MaxAttempts < 1 {
		return fmt.Errorf("pipeline max_attempts must be at least 1")
	}
	if p.AttemptTimeout <= 0 {
		return fmt.Errorf("pipeline attempt_timeout must be positive")
	}
	if p.MaxToolCycles < 1 {
		return fmt.Errorf("pipeline max_tool_cycles must be at least 1")
	}
	if p.SummaryInterval < 1 || p.CompressThreshold < 1 || p.RecentTurns < 1 || p.SchemaColumns < 1 {
		return fmt.Errorf("pipeline context limits must be positive")
	}
	if p.SummaryIdleTTL < 0 {
		return fmt.Errorf("pipeline summary_idle_ttl cannot be negative")
	}
	if p.SummaryIdleTTL > 0 && p.SummarySweep == "" {
		return fmt.Errorf("pipeline summary_sweep_schedule is required when summary_idle_ttl is set")
	}
	if err := v.ValidateCronSchedule(p.SummarySweep); err != nil {
		return fmt.Errorf("pipeline summary_sweep_schedule: %w", err)
	}
	if p.EventBuffer < 0 {
		return fmt.Errorf("pipeline event_buffer cannot be negative")
	}
	if p.Classifier != "agent" && p.Classifier != "heuristic" {
		return fmt.Errorf("invalid pipeline classifier: %s (must be: agent, heuristic)", p.Classifier)
	}

	if err := v.ValidateProfileStore(c.ProfileStore); err != nil {
		return err
	}

	if c.Executor.SQLRowLimit < 1 {
		return fmt.Errorf("executor sql_row_limit must be at least 1")
	}
	if c.Executor.PythonTimeout <= 0 {
		return fmt.Errorf("executor python_timeout must be positive")
	}

	if err := v.ValidatePort(c.Gateway.Port); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if c.Gateway.MaxConcurrentStreams < 1 {
		return fmt.Errorf("gateway max_concurrent_streams must be at least 1")
	}

	if err := v.ValidateLogLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample_ratio must be between 0 and 1")
	}

	return nil
}

// ValidateForServe additionally requires credentials.
func (c *Config) ValidateForServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if len(c.Credentials.Keys) == 0 {
		return fmt.Errorf("no API credentials configured: set credentials.keys or BYTEZ_API_KEY")
	}
	for i, key := range c.Credentials.Keys {
		if err := NewValidator().ValidateAPIKey(key); err != nil {
			return fmt.Errorf("credential %d: %w", i+1, err)
		}
	}
	return nil
}
