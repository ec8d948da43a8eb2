package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "INSIGHTX"

// Loader handles configuration loading
type Loader struct {
	configPath string
	envFiles   []string
}

// NewLoader creates a new config loader. Optional env files are loaded before the
// environment is read; missing files are ignored.
func NewLoader(configPath string, envFiles ...string) *Loader {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	return &Loader{
		configPath: configPath,
		envFiles:   envFiles,
	}
}

// Load reads defaults, the optional config file, then INSIGHTX_* environment overrides.
func (l *Loader) Load() (*Config, error) {
	for _, file := range l.envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", file, err)
		}
	}

	configPath := l.GetConfigPath()

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if ext := strings.TrimPrefix(filepath.Ext(configPath), "."); ext != "" {
				v.SetConfigType(ext)
			} else {
				v.SetConfigType("json")
			}
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Credentials.Keys) == 0 {
		cfg.Credentials.Keys = DiscoverKeys()
	}
	cfg.Credentials.Keys = cleanKeys(cfg.Credentials.Keys)

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".insightx")
	}
	if cfg.ProfileStore.Kind == "sqlite" && cfg.ProfileStore.Path == "" {
		cfg.ProfileStore.Path = filepath.Join(cfg.DataDir, "profiles.db")
	}
	if cfg.Gateway.TranscriptsDir == "" {
		cfg.Gateway.TranscriptsDir = filepath.Join(cfg.DataDir, "transcripts")
	}

	return cfg, nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".insightx", "insightx.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// DiscoverKeys reads credentials from BYTEZ_API_KEY_1..N, then the comma separated
// BYTEZ_API_KEYS, then the single BYTEZ_API_KEY.
func DiscoverKeys() []string {
	var keys []string
	for i := 1; ; i++ {
		key := strings.TrimSpace(os.Getenv("BYTEZ_API_KEY_" + strconv.Itoa(i)))
		if key == "" {
			break
		}
		keys = append(keys, key)
	}
	if len(keys) > 0 {
		return keys
	}

	if list := os.Getenv("BYTEZ_API_KEYS"); list != "" {
		for _, key := range strings.Split(list, ",") {
			if key = strings.TrimSpace(key); key != "" {
				keys = append(keys, key)
			}
		}
		if len(keys) > 0 {
			return keys
		}
	}

	if key := strings.TrimSpace(os.Getenv("BYTEZ_API_KEY")); key != "" {
		return []string{key}
	}
	return nil
}

func cleanKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}

// setDefaults registers every scalar key so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("provider.kind", d.Provider.Kind)
	v.SetDefault("provider.base_url", d.Provider.BaseURL)
	v.SetDefault("provider.model", d.Provider.Model)

	v.SetDefault("credentials.cooldown_base", d.Credentials.CooldownBase)
	v.SetDefault("credentials.cooldown_max", d.Credentials.CooldownMax)
	v.SetDefault("credentials.cooldown_factor", d.Credentials.CooldownScale)
	v.SetDefault("credentials.reset_schedule", d.Credentials.ResetSchedule)

	v.SetDefault("pipeline.max_attempts", d.Pipeline.MaxAttempts)
	v.SetDefault("pipeline.attempt_timeout", d.Pipeline.AttemptTimeout)
	v.SetDefault("pipeline.max_tool_cycles", d.Pipeline.MaxToolCycles)
	v.SetDefault("pipeline.summary_interval", d.Pipeline.SummaryInterval)
	v.SetDefault("pipeline.compress_threshold", d.Pipeline.CompressThreshold)
	v.SetDefault("pipeline.summary_idle_ttl", d.Pipeline.SummaryIdleTTL)
	v.SetDefault("pipeline.summary_sweep_schedule", d.Pipeline.SummarySweep)
	v.SetDefault("pipeline.recent_turns", d.Pipeline.RecentTurns)
	v.SetDefault("pipeline.schema_columns", d.Pipeline.SchemaColumns)
	v.SetDefault("pipeline.event_buffer", d.Pipeline.EventBuffer)
	v.SetDefault("pipeline.classifier", d.Pipeline.Classifier)

	v.SetDefault("profile_store.kind", d.ProfileStore.Kind)
	v.SetDefault("profile_store.path", d.ProfileStore.Path)
	v.SetDefault("profile_store.base_url", d.ProfileStore.BaseURL)
	v.SetDefault("profile_store.timeout", d.ProfileStore.Timeout)

	v.SetDefault("executor.base_url", d.Executor.BaseURL)
	v.SetDefault("executor.sql_row_limit", d.Executor.SQLRowLimit)
	v.SetDefault("executor.python_timeout", d.Executor.PythonTimeout)
	v.SetDefault("executor.timeout", d.Executor.Timeout)

	v.SetDefault("gateway.port", d.Gateway.Port)
	v.SetDefault("gateway.host", d.Gateway.Host)
	v.SetDefault("gateway.admin_token", d.Gateway.AdminToken)
	v.SetDefault("gateway.max_concurrent_streams", d.Gateway.MaxConcurrentStreams)
	v.SetDefault("gateway.transcripts_dir", d.Gateway.TranscriptsDir)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.pretty", d.Logging.Pretty)
	v.SetDefault("logging.redaction", d.Logging.Redaction)
	v.SetDefault("logging.audit_file", d.Logging.AuditFile)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.sample_ratio", d.Tracing.SampleRatio)
	v.SetDefault("tracing.environment", d.Tracing.Environment)

	v.SetDefault("data_dir", d.DataDir)
}
