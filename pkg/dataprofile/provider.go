package dataprofile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/insightx/internal/observability"
	"github.com/harun/insightx/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultSQLRowLimit   = 500
	defaultPythonTimeout = 10 * time.Second
	defaultSchemaColumns = 10
)

// ToolResult is returned to the model for every tool call
type ToolResult struct {
	Success       bool        `json:"success"`
	Data          interface{} `json:"data,omitempty"`
	Error         string      `json:"error,omitempty"`
	ExecutionTime int64       `json:"execution_time_ms"`
}

// Content renders the result as the tool message body.
func (r ToolResult) Content() string {
	var v interface{} = r.Data
	if !r.Success {
		v = map[string]string{"error": r.Error}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(data)
}

// CodeArtifact is code an agent published with write_code
type CodeArtifact struct {
	Code        string `json:"code"`
	Language    string `json:"language"`
	Description string `json:"description,omitempty"`
}

// ProviderConfig configures a SessionToolProvider
type ProviderConfig struct {
	SessionID     string
	Store         Store
	Executor      Executor
	Logger        zerolog.Logger
	SchemaColumns int
	SQLRowLimit   int
	PythonTimeout time.Duration
}

// SessionToolProvider loads a session's profile once and serves it to agent calls
type SessionToolProvider struct {
	sessionID     string
	store         Store
	executor      Executor
	logger        zerolog.Logger
	schemaColumns int
	sqlRowLimit   int
	pythonTimeout time.Duration

	mu       sync.Mutex
	loaded   bool
	profile  *Profile
	loadErr  error
	insights []Insight
	code     []CodeArtifact
}

// NewSessionToolProvider creates a provider for one session
func NewSessionToolProvider(cfg ProviderConfig) *SessionToolProvider {
	observability.EnsureRegistered()

	if cfg.SchemaColumns <= 0 {
		cfg.SchemaColumns = defaultSchemaColumns
	}
	if cfg.SQLRowLimit <= 0 {
		cfg.SQLRowLimit = defaultSQLRowLimit
	}
	if cfg.PythonTimeout <= 0 {
		cfg.PythonTimeout = defaultPythonTimeout
	}
	return &SessionToolProvider{
		sessionID:     cfg.SessionID,
		store:         cfg.Store,
		executor:      cfg.Executor,
		logger:        cfg.Logger,
		schemaColumns: cfg.SchemaColumns,
		sqlRowLimit:   cfg.SQLRowLimit,
		pythonTimeout: cfg.PythonTimeout,
	}
}

// SessionID returns the session this provider serves
func (p *SessionToolProvider) SessionID() string {
	return p.sessionID
}

// Load fetches and caches the profile. The store is asked once per provider; a
// failure is cached as ErrProfileUnavailable for the provider's lifetime.
func (p *SessionToolProvider) Load(ctx context.Context) (*Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded {
		return p.profile, p.loadErr
	}
	if p.store == nil {
		p.loaded = true
		p.loadErr = fmt.Errorf("no profile store configured: %w", ErrProfileUnavailable)
		return nil, p.loadErr
	}

	ctx, span := tracing.StartSpan(ctx, "dataprofile", "profile.load",
		attribute.String("session_id", p.sessionID),
	)
	defer span.End()

	start := time.Now()
	profile, err := p.store.Load(ctx, p.sessionID)
	observability.RecordProfileLoad(time.Since(start), err == nil)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.loaded = true
		p.loadErr = fmt.Errorf("%w: %v", ErrProfileUnavailable, err)
		if errors.Is(err, ErrNotFound) {
			p.logger.Warn().Str("session_id", p.sessionID).Msg("Dataset profile not found, continuing without it")
		} else {
			p.logger.Warn().Err(err).Str("session_id", p.sessionID).Msg("Dataset profile store failed, continuing without it")
		}
		return nil, p.loadErr
	}

	p.loaded = true
	p.profile = profile
	p.insights = mergeInsights(profile.Insights, p.insights)
	span.SetAttributes(attribute.Int("columns", len(profile.Columns)))
	return profile, nil
}

// DescribeSchema renders the dataset header and the first K column names. It returns ""
// when no profile is available.
func (p *SessionToolProvider) DescribeSchema(ctx context.Context) string {
	profile, err := p.Load(ctx)
	if err != nil || profile == nil {
		return ""
	}
	return profile.Summary(p.schemaColumns)
}

// ColumnListing renders every column with its type.
func (p *SessionToolProvider) ColumnListing(ctx context.Context) string {
	profile, err := p.Load(ctx)
	if err != nil || profile == nil {
		return ""
	}
	return profile.ColumnListing()
}

// StatisticsNote reports precomputed statistics for the statistical agent.
func (p *SessionToolProvider) StatisticsNote(ctx context.Context) string {
	profile, err := p.Load(ctx)
	if err != nil || profile == nil {
		return ""
	}
	return profile.StatisticsNote()
}

// Insights returns the insights known to this turn, including ones written during it.
func (p *SessionToolProvider) Insights() []Insight {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Insight(nil), p.insights...)
}

// Code returns the artifacts published with write_code, in order.
func (p *SessionToolProvider) Code() []CodeArtifact {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CodeArtifact(nil), p.code...)
}

// Execute validates and runs one tool call. Failures are reported in the result, never
// returned as errors, so the model can react to them.
func (p *SessionToolProvider) Execute(ctx context.Context, name string, args map[string]interface{}) ToolResult {
	start := time.Now()

	data, err := p.execute(ctx, name, args)
	elapsed := time.Since(start).Milliseconds()
	observability.RecordToolExecution(name, err == nil)

	logger := tracing.LoggerFromContext(ctx, p.logger)
	if err != nil {
		logger.Warn().Err(err).Str("tool", name).Msg("Tool call failed")
		return ToolResult{Success: false, Error: err.Error(), ExecutionTime: elapsed}
	}

	logger.Debug().Str("tool", name).Int64("duration_ms", elapsed).Msg("Tool call completed")
	return ToolResult{Success: true, Data: data, ExecutionTime: elapsed}
}

func (p *SessionToolProvider) execute(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	if err := ValidateArguments(name, args); err != nil {
		return nil, err
	}

	switch name {
	case ToolReadDataDNA:
		return p.readDataDNA(ctx, stringSlice(args["sections"]))
	case ToolReadContext:
		queryType, _ := args["query_type"].(string)
		return p.readContext(ctx, queryType)
	case ToolWriteContext:
		return p.writeContext(ctx, args["insight"])
	case ToolRunSQL:
		return p.runSQL(ctx, args)
	case ToolRunPython:
		return p.runPython(ctx, args)
	case ToolWriteCode:
		return p.writeCode(args)
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func (p *SessionToolProvider) readDataDNA(ctx context.Context, sections []string) (interface{}, error) {
	profile, err := p.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(sections) == 0 {
		return profile, nil
	}

	filtered := make(map[string]json.RawMessage, len(sections))
	for _, section := range sections {
		if raw, ok := profile.Section(section); ok {
			filtered[section] = raw
		}
	}
	return filtered, nil
}

func (p *SessionToolProvider) readContext(ctx context.Context, queryType string) (interface{}, error) {
	// A missing profile still leaves insights written during this turn readable.
	if _, err := p.Load(ctx); err != nil && !errors.Is(err, ErrProfileUnavailable) {
		return nil, err
	}

	insights := p.Insights()
	if queryType == "" || strings.EqualFold(queryType, "all") {
		return map[string]interface{}{"insights": insights}, nil
	}

	needle := strings.ToLower(queryType)
	filtered := []Insight{}
	for _, insight := range insights {
		if strings.Contains(strings.ToLower(insight.Finding), needle) {
			filtered = append(filtered, insight)
		}
	}
	return map[string]interface{}{"insights": filtered}, nil
}

// mergeInsights puts stored insights ahead of ones written before the profile loaded.
// A pending insight the store already returned is kept once.
func mergeInsights(stored, pending []Insight) []Insight {
	out := append([]Insight(nil), stored...)
	for _, insight := range pending {
		dup := false
		for _, s := range stored {
			if s.Query == insight.Query && s.Finding == insight.Finding && s.Timestamp == insight.Timestamp {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, insight)
		}
	}
	return out
}

func (p *SessionToolProvider) writeContext(ctx context.Context, raw interface{}) (interface{}, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid insight: %w", err)
	}
	var insight Insight
	if err := json.Unmarshal(data, &insight); err != nil {
		return nil, fmt.Errorf("invalid insight: %w", err)
	}
	if insight.Timestamp == "" {
		insight.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	p.mu.Lock()
	p.insights = append(p.insights, insight)
	p.mu.Unlock()

	if p.store != nil {
		if err := p.store.AppendInsight(ctx, p.sessionID, insight); err != nil {
			return nil, fmt.Errorf("failed to save insight: %w", err)
		}
	}

	return map[string]interface{}{
		"success": true,
		"message": "Insight saved to accumulated context",
	}, nil
}

func (p *SessionToolProvider) runSQL(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query, _ := args["sql"].(string)
	return p.RunSQL(ctx, query, intArg(args["limit"]))
}

// RunSQL validates and executes a query, capping the row limit.
func (p *SessionToolProvider) RunSQL(ctx context.Context, query string, limit int) (*SQLResult, error) {
	if p.executor == nil {
		return nil, errors.New("no analysis executor configured")
	}
	if err := ValidateSelect(query); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > p.sqlRowLimit {
		limit = p.sqlRowLimit
	}
	return p.executor.RunSQL(ctx, SQLRequest{SessionID: p.sessionID, SQL: query, Limit: limit})
}

func (p *SessionToolProvider) runPython(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	code, _ := args["code"].(string)
	return p.RunPython(ctx, code, time.Duration(intArg(args["timeout"]))*time.Second)
}

// RunPython executes an analysis script with a bounded timeout.
func (p *SessionToolProvider) RunPython(ctx context.Context, code string, timeout time.Duration) (*PythonResult, error) {
	if p.executor == nil {
		return nil, errors.New("no analysis executor configured")
	}
	if strings.TrimSpace(code) == "" {
		return nil, errors.New("python code is empty")
	}
	if timeout <= 0 || timeout > p.pythonTimeout {
		timeout = p.pythonTimeout
	}
	return p.executor.RunPython(ctx, PythonRequest{
		SessionID: p.sessionID,
		Code:      code,
		Timeout:   int(timeout / time.Second),
	})
}

func (p *SessionToolProvider) writeCode(args map[string]interface{}) (interface{}, error) {
	artifact := CodeArtifact{}
	artifact.Code, _ = args["code"].(string)
	artifact.Language, _ = args["language"].(string)
	artifact.Description, _ = args["description"].(string)

	p.mu.Lock()
	p.code = append(p.code, artifact)
	p.mu.Unlock()

	return map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("%s code published", artifact.Language),
	}, nil
}

func stringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		if s, ok := v.([]string); ok {
			return s
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func intArg(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}
