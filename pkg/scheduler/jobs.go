package scheduler

import (
	"context"
	"time"

	"github.com/harun/insightx/internal/observability"
	"github.com/rs/zerolog"
)

const (
	// JobCredentialReset is the name of the periodic credential reset job.
	JobCredentialReset = "credentials.reset"
	// JobSummaryEviction drops conversation digests of idle sessions.
	JobSummaryEviction = "summaries.evict"
)

// Resetter returns every credential to healthy.
type Resetter interface {
	ResetAll()
	KeyCount() int
}

// CredentialReset builds a job that clears cooldowns and exhaustion on every key.
func CredentialReset(pool Resetter) JobFunc {
	return func(ctx context.Context) error {
		pool.ResetAll()
		observability.RecordAdminAudit(ctx, "keys.reset", "scheduler", "success", map[string]interface{}{
			"key_count": pool.KeyCount(),
		})
		return nil
	}
}

// Evicter drops per-session state that has not been used recently.
type Evicter interface {
	EvictIdle(idle time.Duration) int
}

// SummaryEviction builds a job that forgets digests of sessions idle longer than idle.
func SummaryEviction(reg Evicter, idle time.Duration, logger zerolog.Logger) JobFunc {
	return func(ctx context.Context) error {
		if n := reg.EvictIdle(idle); n > 0 {
			logger.Debug().Int("sessions", n).Dur("idle", idle).Msg("Evicted idle conversation digests")
		}
		return nil
	}
}
