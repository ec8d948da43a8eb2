package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/insightx/internal/observability"
	"github.com/harun/insightx/internal/tracing"
	"github.com/harun/insightx/pkg/credential"
	"github.com/harun/insightx/pkg/dataprofile"
	"github.com/harun/insightx/pkg/llm"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultMaxAttempts    = 3
	DefaultAttemptTimeout = 60 * time.Second
	DefaultMaxToolCycles  = 5
)

// CredentialPool hands out credentials and absorbs their outcomes.
type CredentialPool interface {
	Current() credential.Credential
	ReportFailure(cred credential.Credential, kind credential.FailureKind, reason string)
	ReportSuccess(cred credential.Credential)
}

// ToolProvider executes session tools requested by the model.
type ToolProvider interface {
	Execute(ctx context.Context, name string, args map[string]interface{}) dataprofile.ToolResult
}

// Config holds invoker configuration
type Config struct {
	Pool           CredentialPool
	Factory        llm.Factory
	Registry       *Registry
	MaxAttempts    int
	AttemptTimeout time.Duration
	MaxToolCycles  int
	Logger         zerolog.Logger
}

// RunRequest is a single agent invocation
type RunRequest struct {
	AgentID string
	Prompt  string
	History []llm.Message
	Tools   ToolProvider
}

// ToolInvocation records one tool call made during a run.
type ToolInvocation struct {
	Name   string                 `json:"name"`
	Args   map[string]interface{} `json:"args"`
	Result dataprofile.ToolResult `json:"result"`
}

// Failover records a switch to another credential after a failed attempt.
type Failover struct {
	FromKey int    `json:"from_key"`
	ToKey   int    `json:"to_key"`
	Reason  string `json:"reason"`
}

// Message renders the failover for operator-facing notices.
func (f Failover) Message() string {
	return fmt.Sprintf("Switched to API key #%d: %s", f.ToKey, f.Reason)
}

// Output is the result of a successful run
type Output struct {
	AgentID   string
	Raw       string
	ToolCalls []ToolInvocation
	Failovers []Failover
	Attempts  int
	Usage     *llm.TokenUsage
}

// LastToolResult returns the most recent result of the named tool.
func (o *Output) LastToolResult(name string) (dataprofile.ToolResult, bool) {
	for i := len(o.ToolCalls) - 1; i >= 0; i-- {
		if o.ToolCalls[i].Name == name {
			return o.ToolCalls[i].Result, true
		}
	}
	return dataprofile.ToolResult{}, false
}

// Invoker runs agents with credential failover
type Invoker struct {
	pool           CredentialPool
	factory        llm.Factory
	registry       *Registry
	maxAttempts    int
	attemptTimeout time.Duration
	maxToolCycles  int
	logger         zerolog.Logger
}

// NewInvoker creates a new agent invoker
func NewInvoker(cfg Config) (*Invoker, error) {
	observability.EnsureRegistered()

	if cfg.Pool == nil {
		return nil, fmt.Errorf("credential pool is required")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("provider factory is required")
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	timeout := cfg.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	cycles := cfg.MaxToolCycles
	if cycles <= 0 {
		cycles = DefaultMaxToolCycles
	}

	return &Invoker{
		pool:           cfg.Pool,
		factory:        cfg.Factory,
		registry:       registry,
		maxAttempts:    maxAttempts,
		attemptTimeout: timeout,
		maxToolCycles:  cycles,
		logger:         cfg.Logger,
	}, nil
}

// Registry returns the agent definitions used by the invoker.
func (i *Invoker) Registry() *Registry {
	return i.registry
}

// Run executes one agent, rotating credentials on retryable failures.
func (i *Invoker) Run(ctx context.Context, req RunRequest) (*Output, error) {
	def, err := i.registry.Get(req.AgentID)
	if err != nil {
		return nil, err
	}

	ctx = tracing.WithAgentID(ctx, def.ID)
	ctx, span := tracing.StartSpan(
		ctx,
		"agent",
		"agent.run",
		attribute.String("agent_id", def.ID),
		attribute.String("model", def.Model),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, i.logger)

	start := time.Now()
	out, err := i.runWithFailover(ctx, def, req, logger)
	observability.RecordAgentRun(def.ID, time.Since(start), err == nil)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() == nil {
			logger.Error().Err(err).Msg("Agent run failed")
		}
		return nil, err
	}

	span.SetAttributes(attribute.Int("attempts", out.Attempts))
	logger.Debug().
		Int("attempts", out.Attempts).
		Int("tool_calls", len(out.ToolCalls)).
		Dur("duration", time.Since(start)).
		Msg("Agent run completed")
	return out, nil
}

func (i *Invoker) runWithFailover(ctx context.Context, def Definition, req RunRequest, logger zerolog.Logger) (*Output, error) {
	var (
		failovers   []Failover
		lastErr     error
		lastReason  string
		prev        = -1
		authRetried bool
		attempts    int
	)

	for attempts < i.maxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempts++

		cred := i.pool.Current()
		if prev >= 0 && cred.Index != prev {
			failovers = append(failovers, Failover{FromKey: prev + 1, ToKey: cred.Number(), Reason: lastReason})
		}
		prev = cred.Index

		out, err := i.attempt(ctx, def, cred, req, attempts)
		if err == nil {
			i.pool.ReportSuccess(cred)
			observability.RecordAgentAttempt(def.ID, "success")
			out.Failovers = failovers
			out.Attempts = attempts
			return out, nil
		}

		// The caller gave up; no key is to blame.
		if ctx.Err() != nil {
			observability.RecordAgentAttempt(def.ID, "canceled")
			return nil, ctx.Err()
		}

		if isLocal(err) {
			observability.RecordAgentAttempt(def.ID, "error")
			return nil, err
		}

		kind := llm.KindOf(err)
		i.pool.ReportFailure(cred, kind, err.Error())
		observability.RecordAgentAttempt(def.ID, string(kind))
		lastErr = err
		lastReason = failureReason(kind)

		logger.Warn().
			Err(err).
			Int("attempt", attempts).
			Int("key", cred.Number()).
			Str("kind", string(kind)).
			Msg("Agent attempt failed")

		switch {
		case kind.Retryable():
			continue
		case kind == credential.FailureAuth && !authRetried:
			authRetried = true
			continue
		case kind == credential.FailureAuth:
			return nil, &ExhaustedError{AgentID: def.ID, Attempts: attempts, Err: err}
		default:
			return nil, fmt.Errorf("agent %s failed: %w", def.ID, err)
		}
	}

	return nil, &ExhaustedError{AgentID: def.ID, Attempts: attempts, Err: lastErr}
}

// attempt runs the tool loop once against a single credential.
func (i *Invoker) attempt(ctx context.Context, def Definition, cred credential.Credential, req RunRequest, n int) (*Output, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"agent",
		"agent.attempt",
		attribute.Int("attempt", n),
		attribute.Int("key", cred.Number()),
	)
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, i.attemptTimeout)
	defer cancel()

	provider, err := i.factory.NewProvider(cred)
	if err != nil {
		span.RecordError(err)
		return nil, &localError{err: fmt.Errorf("failed to create provider: %w", err)}
	}

	messages := make([]llm.Message, 0, len(req.History)+1)
	messages = append(messages, req.History...)
	messages = append(messages, llm.Message{Role: "user", Content: req.Prompt})

	out := &Output{AgentID: def.ID}
	specs := dataprofile.ToolSpecs(def.Tools...)
	if req.Tools == nil {
		specs = nil
	}

	for cycle := 0; cycle < i.maxToolCycles; cycle++ {
		resp, err := provider.Call(attemptCtx, llm.Request{
			Model:        def.Model,
			SystemPrompt: def.SystemPrompt,
			Messages:     messages,
			Tools:        specs,
			Temperature:  def.Temperature,
			MaxTokens:    def.MaxTokens,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, llm.Classify(err)
		}
		out.Usage = addUsage(out.Usage, resp.Usage)

		if len(resp.ToolCalls) == 0 {
			out.Raw = resp.Content
			return out, nil
		}
		if req.Tools == nil {
			return nil, &localError{err: ErrNoToolProvider}
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			var result dataprofile.ToolResult
			if def.AllowsTool(call.Name) {
				result = req.Tools.Execute(attemptCtx, call.Name, call.Arguments)
			} else {
				result = dataprofile.ToolResult{Error: fmt.Sprintf("tool %s is not available to %s", call.Name, def.ID)}
			}
			out.ToolCalls = append(out.ToolCalls, ToolInvocation{Name: call.Name, Args: call.Arguments, Result: result})
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    result.Content(),
				ToolCallID: call.ID,
			})
		}

		if err := attemptCtx.Err(); err != nil {
			return nil, llm.Classify(err)
		}
	}

	return nil, &localError{err: fmt.Errorf("%w (%d cycles)", ErrToolCyclesExceeded, i.maxToolCycles)}
}

// localError marks failures that are not the credential's fault and must not be retried.
type localError struct {
	err error
}

func (e *localError) Error() string { return e.err.Error() }
func (e *localError) Unwrap() error { return e.err }

func isLocal(err error) bool {
	var l *localError
	return errors.As(err, &l)
}

func failureReason(kind credential.FailureKind) string {
	switch kind {
	case credential.FailureRateLimited:
		return "rate limited"
	case credential.FailureAuth:
		return "authentication failed"
	case credential.FailureTransient:
		return "upstream unavailable"
	default:
		return "upstream error"
	}
}

func addUsage(total, next *llm.TokenUsage) *llm.TokenUsage {
	if next == nil {
		return total
	}
	if total == nil {
		total = &llm.TokenUsage{}
	}
	total.InputTokens += next.InputTokens
	total.OutputTokens += next.OutputTokens
	return total
}
