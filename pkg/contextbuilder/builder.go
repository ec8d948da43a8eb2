// Package contextbuilder assembles the bounded context block prepended to agent prompts.
package contextbuilder

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/insightx/pkg/chatlog"
	"github.com/harun/insightx/pkg/summarizer"
	"github.com/rs/zerolog"
)

const (
	DefaultRecentTurns = 5

	previewLength = 100
	footer        = "Use the above context to inform your response. Reference previous findings when relevant."
)

// Focus selects the agent-specific excerpt added to the context
type Focus int

const (
	FocusGeneral Focus = iota
	// FocusDataQuery adds the full column listing.
	FocusDataQuery
	// FocusStatistical adds the precomputed statistics note.
	FocusStatistical
)

// SchemaSource renders dataset profile excerpts. Implementations return "" when no
// profile is available.
type SchemaSource interface {
	DescribeSchema(ctx context.Context) string
	ColumnListing(ctx context.Context) string
	StatisticsNote(ctx context.Context) string
}

// DigestSource provides the conversation digest
type DigestSource interface {
	CompressedDigest(history []chatlog.Message) string
}

// Builder assembles agent context
type Builder struct {
	recentTurns int
	logger      zerolog.Logger
}

// New creates a Builder keeping the last recentTurns messages
func New(recentTurns int, logger zerolog.Logger) *Builder {
	if recentTurns <= 0 {
		recentTurns = DefaultRecentTurns
	}
	return &Builder{recentTurns: recentTurns, logger: logger}
}

// Input is everything one context block is built from. Nil sources are skipped.
type Input struct {
	Schema  SchemaSource
	Digest  DigestSource
	History []chatlog.Message
	Focus   Focus
}

// Build returns the context block, or "" when every section is empty. It never fails:
// a section whose source panics is left out.
func (b *Builder) Build(ctx context.Context, in Input) string {
	var sections []string
	add := func(name string, render func() string) {
		if text := b.safe(name, render); text != "" {
			sections = append(sections, text)
		}
	}

	if in.Schema != nil {
		add("dataset", func() string { return in.Schema.DescribeSchema(ctx) })
	}
	if in.Digest != nil {
		add("summary", func() string { return in.Digest.CompressedDigest(in.History) })
	}
	add("recent", func() string { return b.recentConversation(in.History) })

	if in.Schema != nil {
		switch in.Focus {
		case FocusDataQuery:
			add("columns", func() string { return in.Schema.ColumnListing(ctx) })
		case FocusStatistical:
			add("statistics", func() string { return in.Schema.StatisticsNote(ctx) })
		}
	}

	if len(sections) == 0 {
		return ""
	}
	return fmt.Sprintf("---\n%s\n---\n\n%s", strings.Join(sections, "\n\n"), footer)
}

// Prepend joins a non-empty context block and a prompt.
func Prepend(contextBlock, prompt string) string {
	if contextBlock == "" {
		return prompt
	}
	return contextBlock + "\n\n" + prompt
}

func (b *Builder) recentConversation(history []chatlog.Message) string {
	recent := chatlog.Recent(history, b.recentTurns)
	if len(recent) == 0 {
		return ""
	}

	lines := []string{"RECENT CONVERSATION"}
	for _, m := range recent {
		role := "Assistant"
		if m.Role == chatlog.RoleUser {
			role = "User"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", role, summarizer.Preview(m.Content, previewLength)))
	}
	return strings.Join(lines, "\n")
}

func (b *Builder) safe(section string, render func() string) (text string) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn().Str("section", section).Interface("panic", r).Msg("Context section dropped")
			text = ""
		}
	}()
	return strings.TrimSpace(render())
}
