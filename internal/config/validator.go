package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey rejects blank or whitespace-bearing keys
func (v *Validator) ValidateAPIKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("API key cannot be empty")
	}
	if strings.ContainsAny(key, " \t\r\n") {
		return fmt.Errorf("API key contains whitespace")
	}
	return nil
}

// ValidateProviderKind validates the completion backend kind
func (v *Validator) ValidateProviderKind(kind string) error {
	return oneOf("provider kind", kind, []string{"openai", "anthropic"})
}

// ValidateProfileStore checks the store kind and its required location
func (v *Validator) ValidateProfileStore(cfg ProfileStoreConfig) error {
	if err := oneOf("profile_store kind", cfg.Kind, []string{"sqlite", "http", "memory"}); err != nil {
		return err
	}
	if cfg.Kind == "http" {
		if cfg.BaseURL == "" {
			return fmt.Errorf("profile_store base_url is required for http store")
		}
		if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
			return fmt.Errorf("invalid profile_store base_url: %w", err)
		}
	}
	return nil
}

// ValidateCronSchedule accepts an empty schedule or a standard 5-field cron expression
func (v *Validator) ValidateCronSchedule(expr string) error {
	if expr == "" {
		return nil
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return nil
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	return oneOf("log level", level, []string{"debug", "info", "warn", "error"})
}

// ValidateConfig collects every problem instead of stopping at the first
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}

	for i, key := range cfg.Credentials.Keys {
		if err := v.ValidateAPIKey(key); err != nil {
			errs = append(errs, fmt.Errorf("credential %d: %w", i+1, err))
		}
	}

	for id, override := range cfg.Agents {
		if override.Temperature != 0 {
			if err := v.ValidateTemperature(override.Temperature); err != nil {
				errs = append(errs, fmt.Errorf("agent %s: %w", id, err))
			}
		}
		if override.MaxTokens != 0 {
			if err := v.ValidateMaxTokens(override.MaxTokens); err != nil {
				errs = append(errs, fmt.Errorf("agent %s: %w", id, err))
			}
		}
	}

	return errs
}

func oneOf(field, value string, valid []string) error {
	for _, candidate := range valid {
		if value == candidate {
			return nil
		}
	}
	return fmt.Errorf("invalid %s: %s (must be one of: %s)", field, value, strings.Join(valid, ", "))
}
