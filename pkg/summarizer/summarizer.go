// Package summarizer keeps a periodically refreshed digest of a conversation.
package summarizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/harun/insightx/internal/observability"
	"github.com/harun/insightx/pkg/chatlog"
)

const (
	DefaultInterval          = 10
	DefaultCompressThreshold = 50
	DefaultRecentQueries     = 5

	// NoContext is the digest of a conversation that has never been summarized.
	NoContext = "New session - no prior context"

	previewLength = 80
)

// Config configures a Summarizer
type Config struct {
	Interval          int
	CompressThreshold int
	RecentQueries     int
}

// Stats describes the cached digest
type Stats struct {
	MessageCount int  `json:"message_count"`
	LastUpdated  int  `json:"last_updated"`
	HasSummary   bool `json:"has_summary"`
}

// Summarizer caches the digest of one session's conversation
type Summarizer struct {
	mu                sync.Mutex
	interval          int
	compressThreshold int
	recentQueries     int

	cache           string
	lastRefreshedAt int
}

// New creates a Summarizer
func New(cfg Config) *Summarizer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CompressThreshold <= 0 {
		cfg.CompressThreshold = DefaultCompressThreshold
	}
	if cfg.RecentQueries <= 0 {
		cfg.RecentQueries = DefaultRecentQueries
	}
	return &Summarizer{
		interval:          cfg.Interval,
		compressThreshold: cfg.CompressThreshold,
		recentQueries:     cfg.RecentQueries,
	}
}

// ShouldRefresh reports whether the digest is due at turnCount.
func (s *Summarizer) ShouldRefresh(turnCount int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return turnCount > 0 && turnCount%s.interval == 0 && turnCount != s.lastRefreshedAt
}

// Refresh recomputes the digest from the full history.
func (s *Summarizer) Refresh(history []chatlog.Message) {
	digest := s.render(history)

	s.mu.Lock()
	s.cache = digest
	s.lastRefreshedAt = len(history)
	s.mu.Unlock()

	observability.RecordSummaryRefresh()
}

// RefreshIfDue refreshes when ShouldRefresh(len(history)) holds and reports whether it did.
func (s *Summarizer) RefreshIfDue(history []chatlog.Message) bool {
	if !s.ShouldRefresh(len(history)) {
		return false
	}
	s.Refresh(history)
	return true
}

// Digest returns the cached digest, or NoContext if there is none.
func (s *Summarizer) Digest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache == "" {
		return NoContext
	}
	return s.cache
}

// CompressedDigest returns a single-line digest for histories at or beyond the compress
// threshold, and the cached digest otherwise.
func (s *Summarizer) CompressedDigest(history []chatlog.Message) string {
	if len(history) < s.compressThreshold {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.cache
	}

	queries := 0
	analyses := 0
	for _, m := range history {
		if m.Role == chatlog.RoleUser {
			queries++
		}
		if strings.Contains(m.Content, "SELECT") || strings.Contains(m.Content, "python") {
			analyses++
		}
	}
	return fmt.Sprintf("Long session: %d messages, %d queries, %d analyses performed. Recent context available in full summary.",
		len(history), queries, analyses)
}

// Stats reports the state of the cached digest
func (s *Summarizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		MessageCount: s.lastRefreshedAt,
		LastUpdated:  s.lastRefreshedAt,
		HasSummary:   s.cache != "",
	}
}

// Clear drops the cached digest
func (s *Summarizer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = ""
	s.lastRefreshedAt = 0
}

func (s *Summarizer) render(history []chatlog.Message) string {
	if len(history) == 0 {
		return ""
	}

	var users []chatlog.Message
	assistants, sql, python, insights := 0, 0, 0, 0
	for _, m := range history {
		switch m.Role {
		case chatlog.RoleUser:
			users = append(users, m)
		case chatlog.RoleAssistant:
			assistants++
		}
		if containsAny(m.Content, "SELECT", "sql") {
			sql++
		}
		if containsAny(m.Content, "python", "statistical") {
			python++
		}
		if containsAny(m.Content, "insight", "finding") {
			insights++
		}
	}

	lines := []string{
		fmt.Sprintf("SESSION SUMMARY (%d messages)", len(history)),
		"",
		fmt.Sprintf("User queries: %d", len(users)),
		fmt.Sprintf("Assistant responses: %d", assistants),
		fmt.Sprintf("SQL analyses: %d", sql),
		fmt.Sprintf("Python analyses: %d", python),
		fmt.Sprintf("Insights generated: %d", insights),
		"",
	}

	recent := chatlog.Recent(users, s.recentQueries)
	if len(recent) > 0 {
		lines = append(lines, "Recent topics:")
		for i, m := range recent {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, Preview(m.Content, previewLength)))
		}
	}

	return strings.Join(lines, "\n")
}

// Preview truncates text to n runes, appending "..." when it was cut.
func Preview(text string, n int) string {
	runes := []rune(text)
	if len(runes) < n {
		return text
	}
	return string(runes[:n]) + "..."
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
