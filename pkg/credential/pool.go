package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/insightx/internal/observability"
	"github.com/rs/zerolog"
)

// Config holds pool configuration
type Config struct {
	Keys    []string
	Backoff Backoff
	Logger  zerolog.Logger
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

type entry struct {
	key           string
	label         string
	status        Status
	consecutive   int
	successes     int64
	failures      int64
	reason        string
	lastFailure   time.Time
	lastUsed      time.Time
	cooldownUntil time.Time
}

// Pool serves a healthy credential to each agent call and absorbs upstream failures.
type Pool struct {
	mu      sync.Mutex
	entries []*entry
	cursor  int
	current int
	backoff Backoff
	now     func() time.Time
	logger  zerolog.Logger
}

// NewPool creates a pool with every key healthy.
func NewPool(cfg Config) (*Pool, error) {
	observability.EnsureRegistered()

	if len(cfg.Keys) == 0 {
		return nil, fmt.Errorf("at least one credential is required")
	}

	backoff := cfg.Backoff
	if backoff.Base <= 0 {
		backoff = DefaultBackoff()
	}
	if backoff.Max <= 0 {
		backoff.Max = DefaultBackoff().Max
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	entries := make([]*entry, 0, len(cfg.Keys))
	for i, key := range cfg.Keys {
		if key == "" {
			return nil, fmt.Errorf("credential %d is empty", i+1)
		}
		entries = append(entries, &entry{
			key:    key,
			label:  MaskKey(key),
			status: StatusHealthy,
		})
		observability.SetCredentialStatus(i, StatusHealthy.gaugeValue())
	}

	p := &Pool{
		entries: entries,
		backoff: backoff,
		now:     now,
		logger:  cfg.Logger,
	}

	p.logger.Info().Int("keys", len(entries)).Msg("Credential pool initialized")
	return p, nil
}

// Current returns the next healthy credential in round-robin order. When none is
// healthy it returns the cooling-down key whose last failure is oldest, and an
// exhausted key only when every key is exhausted.
func (p *Pool) Current() Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	n := len(p.entries)

	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		e := p.entries[idx]
		p.recoverIfDue(idx, e, now)
		if e.status != StatusHealthy {
			continue
		}

		p.cursor = (idx + 1) % n
		p.current = idx
		e.lastUsed = now
		observability.RecordCredentialSelection("healthy")
		return p.credentialAt(idx)
	}

	best := p.oldestFailure(StatusCoolingDown)
	if best < 0 {
		best = p.oldestFailure(StatusExhausted)
	}

	p.current = best
	p.entries[best].lastUsed = now
	observability.RecordCredentialSelection("degraded")
	p.logger.Warn().
		Int("key", best+1).
		Str("status", string(p.entries[best].status)).
		Msg("No healthy credential, serving least recently failed")

	return p.credentialAt(best)
}

// ReportFailure records an upstream failure against a credential.
func (p *Pool) ReportFailure(cred Credential, kind FailureKind, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.lookup(cred)
	if !ok {
		return
	}

	now := p.now()
	e.failures++
	e.reason = reason
	e.lastFailure = now
	observability.RecordCredentialFailure(cred.Index, string(kind))

	switch kind {
	case FailureTransient, FailureRateLimited:
		e.consecutive++
		if e.status == StatusExhausted {
			break
		}
		cooldown := p.backoff.Cooldown(e.consecutive)
		e.status = StatusCoolingDown
		e.cooldownUntil = now.Add(cooldown)
		p.logger.Warn().
			Int("key", cred.Number()).
			Str("kind", string(kind)).
			Dur("cooldown", cooldown).
			Str("reason", reason).
			Msg("Credential cooling down")
	case FailureAuth:
		e.consecutive++
		wasExhausted := e.status == StatusExhausted
		e.status = StatusExhausted
		e.cooldownUntil = time.Time{}
		p.logger.Error().
			Int("key", cred.Number()).
			Str("reason", reason).
			Msg("Credential exhausted")
		if !wasExhausted {
			observability.RecordCredentialAudit(context.Background(), "credential.exhausted", map[string]interface{}{
				"key":    cred.Number(),
				"label":  e.label,
				"reason": reason,
			})
		}
	default:
		p.logger.Warn().
			Int("key", cred.Number()).
			Str("reason", reason).
			Msg("Credential reported unclassified failure")
	}

	observability.SetCredentialStatus(cred.Index, e.status.gaugeValue())
}

// ReportSuccess marks a credential healthy and clears its consecutive failures.
func (p *Pool) ReportSuccess(cred Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.lookup(cred)
	if !ok {
		return
	}

	e.successes++
	e.consecutive = 0
	e.status = StatusHealthy
	e.cooldownUntil = time.Time{}
	observability.SetCredentialStatus(cred.Index, StatusHealthy.gaugeValue())
}

// ResetAll returns every credential to healthy and zeroes all counters.
func (p *Pool) ResetAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for idx, e := range p.entries {
		e.status = StatusHealthy
		e.consecutive = 0
		e.successes = 0
		e.failures = 0
		e.reason = ""
		e.lastFailure = time.Time{}
		e.cooldownUntil = time.Time{}
		observability.SetCredentialStatus(idx, StatusHealthy.gaugeValue())
	}

	p.logger.Info().Int("keys", len(p.entries)).Msg("All credentials reset to healthy")
}

// Metrics returns a snapshot of every credential.
func (p *Pool) Metrics() []Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := make([]Metrics, 0, len(p.entries))
	for idx, e := range p.entries {
		p.recoverIfDue(idx, e, now)
		m := Metrics{
			Index:               idx,
			Label:               e.label,
			Status:              e.status,
			ConsecutiveFailures: e.consecutive,
			TotalSuccesses:      e.successes,
			TotalFailures:       e.failures,
			LastFailureReason:   e.reason,
			LastFailureAt:       timePtr(e.lastFailure),
			LastUsedAt:          timePtr(e.lastUsed),
			CooldownUntil:       timePtr(e.cooldownUntil),
		}
		out = append(out, m)
	}
	return out
}

// KeyCount returns the number of pooled credentials.
func (p *Pool) KeyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// CurrentIndex returns the index of the most recently selected credential.
func (p *Pool) CurrentIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// AllExhausted reports whether no credential can recover without a reset.
func (p *Pool) AllExhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.status != StatusExhausted {
			return false
		}
	}
	return true
}

// oldestFailure returns the index of the entry with the given status whose last failure
// is oldest, or -1. Caller holds p.mu.
func (p *Pool) oldestFailure(status Status) int {
	best := -1
	for idx, e := range p.entries {
		if e.status != status {
			continue
		}
		if best < 0 || e.lastFailure.Before(p.entries[best].lastFailure) {
			best = idx
		}
	}
	return best
}

// recoverIfDue moves a cooled-down entry back to healthy. Caller holds p.mu.
func (p *Pool) recoverIfDue(idx int, e *entry, now time.Time) {
	if e.status != StatusCoolingDown || now.Before(e.cooldownUntil) {
		return
	}
	e.status = StatusHealthy
	e.cooldownUntil = time.Time{}
	observability.SetCredentialStatus(idx, StatusHealthy.gaugeValue())
	p.logger.Info().Int("key", idx+1).Msg("Credential recovered after cooldown")
}

// lookup resolves a credential handed out earlier. Caller holds p.mu.
func (p *Pool) lookup(cred Credential) (*entry, bool) {
	if cred.Index < 0 || cred.Index >= len(p.entries) {
		return nil, false
	}
	e := p.entries[cred.Index]
	if cred.Key != "" && e.key != cred.Key {
		return nil, false
	}
	return e, true
}

func (p *Pool) credentialAt(idx int) Credential {
	e := p.entries[idx]
	return Credential{Index: idx, Label: e.label, Key: e.key}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t
	return &v
}
