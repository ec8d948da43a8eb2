package credential

import (
	"math"
	"time"
)

// Status is the health state of a pooled credential
type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusCoolingDown Status = "cooling-down"
	StatusExhausted   Status = "exhausted"
)

// gaugeValue maps a status onto the credential_status gauge.
func (s Status) gaugeValue() float64 {
	switch s {
	case StatusCoolingDown:
		return 1
	case StatusExhausted:
		return 2
	default:
		return 0
	}
}

// FailureKind classifies an upstream failure for bookkeeping
type FailureKind string

const (
	FailureTransient   FailureKind = "transient"
	FailureRateLimited FailureKind = "rate_limited"
	FailureAuth        FailureKind = "auth"
	FailureUnknown     FailureKind = "unknown"
)

// Retryable reports whether a call failing with this kind may be retried on another key.
func (k FailureKind) Retryable() bool {
	return k == FailureTransient || k == FailureRateLimited
}

// Credential is the value handed to a single agent call.
type Credential struct {
	Index int    `json:"index"`
	Label string `json:"label"`
	Key   string `json:"-"`
}

// Number returns the 1-based key number used in operator-facing messages.
func (c Credential) Number() int {
	return c.Index + 1
}

// Metrics is a point-in-time snapshot of one credential
type Metrics struct {
	Index               int        `json:"index"`
	Label               string     `json:"label"`
	Status              Status     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TotalSuccesses      int64      `json:"total_successes"`
	TotalFailures       int64      `json:"total_failures"`
	LastFailureReason   string     `json:"last_failure_reason,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	LastUsedAt          *time.Time `json:"last_used_at,omitempty"`
	CooldownUntil       *time.Time `json:"cooldown_until,omitempty"`
}

// Backoff controls how long a key cools down after consecutive transient failures.
// The delay is Base * Factor^(failures-1), capped at Max.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

// DefaultBackoff returns 5s base, factor 2, capped at 5 minutes.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   5 * time.Second,
		Factor: 2.0,
		Max:    5 * time.Minute,
	}
}

// Cooldown returns the cooldown for the given consecutive failure count (1-indexed).
func (b Backoff) Cooldown(consecutive int) time.Duration {
	if consecutive < 1 {
		consecutive = 1
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	limit := b.Max
	if limit <= 0 {
		limit = DefaultBackoff().Max
	}
	delay := float64(b.Base) * math.Pow(factor, float64(consecutive-1))
	if delay > float64(limit) || math.IsInf(delay, 0) || math.IsNaN(delay) {
		return limit
	}
	return time.Duration(delay)
}

// MaskKey shows the first 8 and last 4 characters of a key.
func MaskKey(key string) string {
	if len(key) < 16 {
		return "***"
	}
	return key[:8] + "..." + key[len(key)-4:]
}
