package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/insightx/internal/observability"
	"github.com/harun/insightx/internal/tracing"
	"github.com/harun/insightx/pkg/agent"
	"github.com/harun/insightx/pkg/chatlog"
	"github.com/harun/insightx/pkg/contextbuilder"
	"github.com/harun/insightx/pkg/dataprofile"
	"github.com/harun/insightx/pkg/llm"
	"github.com/harun/insightx/pkg/response"
	"github.com/harun/insightx/pkg/summarizer"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Classifier modes
const (
	ClassifierAgent     = "agent"
	ClassifierHeuristic = "heuristic"
)

const (
	defaultEventBuffer = 8
	defaultRecentTurns = 5
	// maxAnalysisRows bounds the rows forwarded to later agents.
	maxAnalysisRows = 50
)

// AgentRunner runs one agent call
type AgentRunner interface {
	Run(ctx context.Context, req agent.RunRequest) (*agent.Output, error)
}

// Config holds orchestrator configuration
type Config struct {
	Runner        AgentRunner
	ProfileStore  dataprofile.Store
	Executor      dataprofile.Executor
	Summaries     *summarizer.Registry
	Context       *contextbuilder.Builder
	Classifier    string
	EventBuffer   int
	RecentTurns   int
	SchemaColumns int
	SQLRowLimit   int
	PythonTimeout time.Duration
	Logger        zerolog.Logger
}

// Orchestrator runs turns
type Orchestrator struct {
	runner        AgentRunner
	store         dataprofile.Store
	executor      dataprofile.Executor
	summaries     *summarizer.Registry
	context       *contextbuilder.Builder
	classifier    string
	eventBuffer   int
	recentTurns   int
	schemaColumns int
	sqlRowLimit   int
	pythonTimeout time.Duration
	logger        zerolog.Logger
}

// New creates a new Orchestrator
func New(cfg Config) (*Orchestrator, error) {
	observability.EnsureRegistered()

	if cfg.Runner == nil {
		return nil, fmt.Errorf("agent runner is required")
	}

	classifier := cfg.Classifier
	if classifier == "" {
		classifier = ClassifierAgent
	}
	if classifier != ClassifierAgent && classifier != ClassifierHeuristic {
		return nil, fmt.Errorf("unknown classifier mode: %s", classifier)
	}

	summaries := cfg.Summaries
	if summaries == nil {
		summaries = summarizer.NewRegistry(summarizer.Config{})
	}
	recent := cfg.RecentTurns
	if recent <= 0 {
		recent = defaultRecentTurns
	}
	builder := cfg.Context
	if builder == nil {
		builder = contextbuilder.New(recent, cfg.Logger)
	}
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}

	return &Orchestrator{
		runner:        cfg.Runner,
		store:         cfg.ProfileStore,
		executor:      cfg.Executor,
		summaries:     summaries,
		context:       builder,
		classifier:    classifier,
		eventBuffer:   buffer,
		recentTurns:   recent,
		schemaColumns: cfg.SchemaColumns,
		sqlRowLimit:   cfg.SQLRowLimit,
		pythonTimeout: cfg.PythonTimeout,
		logger:        cfg.Logger,
	}, nil
}

// Summaries returns the per-session summarizers.
func (o *Orchestrator) Summaries() *summarizer.Registry {
	return o.summaries
}

// Run validates the request and starts the turn. The returned channel is closed when the
// turn ends; cancel ctx to stop it early.
func (o *Orchestrator) Run(ctx context.Context, req TurnRequest) (<-chan Event, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	turnID, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate turn id: %w", err)
	}

	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.WithTurnID(ctx, turnID)
	ctx = tracing.WithSessionID(ctx, req.SessionID)
	ctx = tracing.WithChatID(ctx, req.ChatID)

	events := make(chan Event, o.eventBuffer)
	t := &turn{
		o:      o,
		req:    req,
		id:     turnID,
		events: events,
		tools: dataprofile.NewSessionToolProvider(dataprofile.ProviderConfig{
			SessionID:     req.SessionID,
			Store:         o.store,
			Executor:      o.executor,
			Logger:        o.logger,
			SchemaColumns: o.schemaColumns,
			SQLRowLimit:   o.sqlRowLimit,
			PythonTimeout: o.pythonTimeout,
		}),
		summary:  o.summaries.Get(req.SessionID),
		history:  agentHistory(chatlog.Recent(req.History, o.recentTurns)),
		analysis: make(map[string]interface{}),
		logger:   tracing.LoggerFromContext(ctx, o.logger),
	}

	go t.run(ctx)
	return events, nil
}

type turn struct {
	o       *Orchestrator
	req     TurnRequest
	id      string
	events  chan<- Event
	tools   *dataprofile.SessionToolProvider
	summary *summarizer.Summarizer
	history []llm.Message
	logger  zerolog.Logger

	decision   Decision
	analysis   map[string]interface{}
	lastOutput string
	sqlQuery   string
	sqlRows    *int
	pythonCode string
	warnings   []string
}

func (t *turn) run(ctx context.Context) {
	defer close(t.events)

	ctx, span := tracing.StartSpan(ctx, "orchestrator", "orchestrator.run",
		attribute.String("chat_id", t.req.ChatID),
	)
	defer span.End()

	start := time.Now()
	outcome := "success"
	defer func() {
		observability.RecordTurn(string(t.decision.Classification), outcome, time.Since(start))
		t.logger.Info().
			Str("classification", string(t.decision.Classification)).
			Str("outcome", outcome).
			Dur("duration", time.Since(start)).
			Msg("Turn finished")
	}()

	err := t.execute(ctx)
	switch {
	case err == nil:
		return
	case ctx.Err() != nil:
		outcome = "canceled"
		t.logger.Debug().Msg("Turn canceled by consumer")
	default:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.logger.Error().Err(err).Msg("Turn failed")
		t.emit(ctx, ErrorEvent{Message: userMessage(err), Details: err.Error(), Terminal: true})
	}
}

// execute drives the state machine. A returned error is fatal for the turn.
func (t *turn) execute(ctx context.Context) error {
	if err := t.emit(ctx, StatusEvent{Message: "Analyzing query type..."}); err != nil {
		return err
	}

	t.prepareContext(ctx)

	decision, err := t.classify(ctx)
	if err != nil {
		return err
	}
	t.decision = decision
	t.analysis["classification"] = decision

	if err := t.emit(ctx, OrchestratorResultEvent{Classification: decision.Classification, Reasoning: decision.Reasoning}); err != nil {
		return err
	}
	if err := t.emit(ctx, StatusEvent{Message: decision.Classification.RouteStatus()}); err != nil {
		return err
	}

	if decision.Classification.NeedsSQL() {
		if err := t.recoverable(ctx, "SQL analysis failed", t.runSQLStage(ctx)); err != nil {
			return err
		}
	}
	if decision.Classification.NeedsPython() {
		if err := t.recoverable(ctx, "Statistical analysis failed", t.runPythonStage(ctx)); err != nil {
			return err
		}
	}

	result, err := t.compose(ctx)
	if err != nil {
		return err
	}
	return t.emit(ctx, FinalResponseEvent{Result: result, Classification: decision.Classification})
}

// prepareContext loads the profile and refreshes the summary. Failures only degrade context.
func (t *turn) prepareContext(ctx context.Context) {
	if _, err := t.tools.Load(ctx); err != nil {
		t.logger.Warn().Err(err).Msg("Continuing without dataset profile")
	}
	if t.summary.RefreshIfDue(t.req.History) {
		t.logger.Debug().Int("messages", len(t.req.History)).Msg("Conversation summary refreshed")
	}
}

func (t *turn) classify(ctx context.Context) (Decision, error) {
	if t.o.classifier == ClassifierHeuristic {
		return Heuristic(t.req.UserMessage), nil
	}

	prompt := t.prompt(ctx, contextbuilder.FocusGeneral, "User Query: "+t.req.UserMessage)
	out, err := t.runAgent(ctx, agent.IDOrchestrator, prompt)
	if err != nil {
		if fatal(ctx, err) {
			return Decision{}, err
		}
		if err := t.emit(ctx, ErrorEvent{Message: "Classification failed, using keyword routing", Details: err.Error()}); err != nil {
			return Decision{}, err
		}
		return Heuristic(t.req.UserMessage), nil
	}

	t.lastOutput = out.Raw
	return ParseDecision(out.Raw), nil
}

func (t *turn) runSQLStage(ctx context.Context) error {
	if err := t.emit(ctx, StatusEvent{Message: "Generating and executing SQL query..."}); err != nil {
		return err
	}

	prompt := t.prompt(ctx, contextbuilder.FocusDataQuery,
		fmt.Sprintf("User Query: %s\n\nReasoning: %s", t.req.UserMessage, t.decision.Reasoning))
	out, err := t.runAgent(ctx, agent.IDSQL, prompt)
	if err != nil {
		return err
	}
	t.analysis["sql_result"] = out.Raw
	t.lastOutput = out.Raw

	query := codeField(out.Raw, "sql")
	if query == "" {
		query = toolArgument(out, dataprofile.ToolRunSQL, "sql")
	}
	if query == "" {
		query = t.publishedCode("sql")
	}
	if query == "" {
		return errors.New("sql agent returned no query")
	}
	t.sqlQuery = query

	if err := t.emit(ctx, CodeWrittenEvent{Code: query, Language: "sql"}); err != nil {
		return err
	}

	result, err := t.sqlResult(ctx, out, query)
	if err != nil {
		return err
	}
	rows := result.RowCount
	if rows == 0 {
		rows = len(result.Rows)
	}
	t.sqlRows = &rows
	t.analysis["sql_rows"] = truncateRows(result.Rows)
	t.lastOutput = fmt.Sprintf("SQL: %s\nRows: %s", query, mustJSON(truncateRows(result.Rows)))

	return t.emit(ctx, SQLResultEvent{Query: query, Rows: result.Rows, RowCount: rows})
}

// sqlResult reuses the agent's own run_sql result for the query, or executes it.
func (t *turn) sqlResult(ctx context.Context, out *agent.Output, query string) (*dataprofile.SQLResult, error) {
	for i := len(out.ToolCalls) - 1; i >= 0; i-- {
		call := out.ToolCalls[i]
		if call.Name != dataprofile.ToolRunSQL || !call.Result.Success {
			continue
		}
		if sql, _ := call.Args["sql"].(string); strings.TrimSpace(sql) != strings.TrimSpace(query) {
			continue
		}
		if res, ok := call.Result.Data.(*dataprofile.SQLResult); ok {
			return res, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := t.tools.RunSQL(ctx, query, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return res, nil
}

func (t *turn) runPythonStage(ctx context.Context) error {
	if err := t.emit(ctx, StatusEvent{Message: "Performing statistical analysis with Python..."}); err != nil {
		return err
	}

	prompt := t.prompt(ctx, contextbuilder.FocusStatistical,
		fmt.Sprintf("User Query: %s\n\nContext: %s", t.req.UserMessage, t.lastOutput))
	out, err := t.runAgent(ctx, agent.IDPython, prompt)
	if err != nil {
		return err
	}
	t.analysis["python_result"] = out.Raw
	t.lastOutput = out.Raw

	code := codeField(out.Raw, "python_code")
	if code == "" {
		code = toolArgument(out, dataprofile.ToolRunPython, "code")
	}
	if code == "" {
		code = t.publishedCode("python")
	}
	if code == "" {
		return errors.New("python agent returned no code")
	}
	t.pythonCode = code

	if err := t.emit(ctx, CodeWrittenEvent{Code: code, Language: "python"}); err != nil {
		return err
	}

	var results interface{}
	if res, ok := out.LastToolResult(dataprofile.ToolRunPython); ok && res.Success {
		results = pythonOutput(res.Data)
	} else {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := t.tools.RunPython(ctx, code, 0)
		if err != nil {
			return fmt.Errorf("failed to execute python: %w", err)
		}
		if res.Error != "" {
			return fmt.Errorf("python execution error: %s", res.Error)
		}
		results = pythonOutput(res)
	}
	t.analysis["python_output"] = results

	return t.emit(ctx, PythonResultEvent{Code: code, Results: results})
}

func (t *turn) compose(ctx context.Context) (*response.AgentResult, error) {
	var (
		agentID string
		prompt  string
	)
	if t.decision.Classification == ExplainOnly {
		if err := t.emit(ctx, StatusEvent{Message: "Drafting explanation..."}); err != nil {
			return nil, err
		}
		agentID = agent.IDExplainer
		prompt = t.prompt(ctx, contextbuilder.FocusGeneral,
			fmt.Sprintf("Explain this to the user: %s\n\nUser Query: %s", t.decision.Reasoning, t.req.UserMessage))
	} else {
		if err := t.emit(ctx, StatusEvent{Message: "Synthesizing final answer..."}); err != nil {
			return nil, err
		}
		agentID = agent.IDComposer
		prompt = t.prompt(ctx, contextbuilder.FocusGeneral,
			fmt.Sprintf("Synthesize a final response for the user.\n\nUser Query: %s\n\nAnalysis Results: %s",
				t.req.UserMessage, mustJSON(t.analysis)))
	}

	out, err := t.runAgent(ctx, agentID, prompt)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", agentID, err)
	}
	if strings.TrimSpace(out.Raw) == "" {
		return nil, fmt.Errorf("%s returned an empty response", agentID)
	}

	result, structured := response.ParseOrText(out.Raw)
	if !structured {
		t.logger.Debug().Str("agent", agentID).Msg("Using raw agent text as the answer")
	}
	if result.SQLUsed == "" {
		result.SQLUsed = t.sqlQuery
	}
	if result.PythonUsed == "" {
		result.PythonUsed = t.pythonCode
	}
	if result.InsightType == "" {
		result.InsightType = strings.ToLower(string(t.decision.Classification))
	}
	if result.DataRows == nil {
		result.DataRows = t.sqlRows
	}
	if result.Warning == "" && len(t.warnings) > 0 {
		result.Warning = strings.Join(t.warnings, "; ")
	}
	return result, nil
}

// runAgent invokes one agent and reports its credential switches as toasts.
func (t *turn) runAgent(ctx context.Context, agentID, prompt string) (*agent.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := t.o.runner.Run(ctx, agent.RunRequest{
		AgentID: agentID,
		Prompt:  prompt,
		History: t.history,
		Tools:   t.tools,
	})
	if err != nil {
		return nil, err
	}

	for _, f := range out.Failovers {
		if err := t.emit(ctx, ToastEvent{Message: f.Message()}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// recoverable absorbs a non-fatal stage error into a step error event.
func (t *turn) recoverable(ctx context.Context, message string, err error) error {
	if err == nil {
		return nil
	}
	if fatal(ctx, err) {
		return err
	}
	t.warnings = append(t.warnings, message)
	t.analysis["errors"] = t.warnings
	t.logger.Warn().Err(err).Msg(message)
	return t.emit(ctx, ErrorEvent{Message: message, Details: err.Error()})
}

func (t *turn) prompt(ctx context.Context, focus contextbuilder.Focus, body string) string {
	block := t.o.context.Build(ctx, contextbuilder.Input{
		Schema:  t.tools,
		Digest:  t.summary,
		History: t.req.History,
		Focus:   focus,
	})
	return contextbuilder.Prepend(block, body)
}

func (t *turn) publishedCode(language string) string {
	code := t.tools.Code()
	for i := len(code) - 1; i >= 0; i-- {
		if strings.EqualFold(code[i].Language, language) && strings.TrimSpace(code[i].Code) != "" {
			return strings.TrimSpace(code[i].Code)
		}
	}
	return ""
}

// emit sends an event unless the consumer went away.
func (t *turn) emit(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case t.events <- e:
		observability.RecordStreamEvent(string(e.Type()))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, agent.ErrAgentExhausted) ||
		errors.Is(err, context.Canceled)
}

func userMessage(err error) string {
	if errors.Is(err, agent.ErrAgentExhausted) {
		return "All API keys are currently unavailable. Please try again shortly."
	}
	return "Failed to produce a response. Please try again."
}

func agentHistory(msgs []chatlog.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func codeField(raw, field string) string {
	obj, ok := response.ExtractObject(raw)
	if !ok {
		return ""
	}
	return strings.TrimSpace(gjson.Get(obj, field).String())
}

func toolArgument(out *agent.Output, tool, arg string) string {
	for i := len(out.ToolCalls) - 1; i >= 0; i-- {
		if out.ToolCalls[i].Name != tool {
			continue
		}
		if v, ok := out.ToolCalls[i].Args[arg].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func pythonOutput(v interface{}) interface{} {
	res, ok := v.(*dataprofile.PythonResult)
	if !ok {
		return v
	}
	if res.Result != nil {
		return res.Result
	}
	return res.Stdout
}

func truncateRows(rows []map[string]interface{}) []map[string]interface{} {
	if len(rows) > maxAnalysisRows {
		return rows[:maxAnalysisRows]
	}
	return rows
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
