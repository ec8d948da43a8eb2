package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harun/insightx/pkg/agent"
	"github.com/harun/insightx/pkg/chatlog"
	"github.com/harun/insightx/pkg/credential"
	"github.com/harun/insightx/pkg/dataprofile"
	"github.com/harun/insightx/pkg/llm"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type agentFunc func(ctx context.Context, req agent.RunRequest) (*agent.Output, error)

type mockRunner struct {
	mu     sync.Mutex
	agents map[string]agentFunc
	calls  []agent.RunRequest
}

func (m *mockRunner) Run(ctx context.Context, req agent.RunRequest) (*agent.Output, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	fn, ok := m.agents[req.AgentID]
	m.mu.Unlock()
	if !ok {
		return nil, errors.New("unexpected agent " + req.AgentID)
	}
	return fn(ctx, req)
}

func (m *mockRunner) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockRunner) agentIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.calls))
	for i, c := range m.calls {
		ids[i] = c.AgentID
	}
	return ids
}

func reply(raw string) agentFunc {
	return func(context.Context, agent.RunRequest) (*agent.Output, error) {
		return &agent.Output{Raw: raw}, nil
	}
}

type stubExecutor struct {
	mu        sync.Mutex
	sqlCalls  []dataprofile.SQLRequest
	pyCalls   []dataprofile.PythonRequest
	sqlResult *dataprofile.SQLResult
	pyResult  *dataprofile.PythonResult
	sqlErr    error
}

func (e *stubExecutor) RunSQL(_ context.Context, req dataprofile.SQLRequest) (*dataprofile.SQLResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sqlCalls = append(e.sqlCalls, req)
	if e.sqlErr != nil {
		return nil, e.sqlErr
	}
	return e.sqlResult, nil
}

func (e *stubExecutor) RunPython(_ context.Context, req dataprofile.PythonRequest) (*dataprofile.PythonResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pyCalls = append(e.pyCalls, req)
	return e.pyResult, nil
}

func newStore(t *testing.T) dataprofile.Store {
	t.Helper()
	store := dataprofile.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), "sess-1", &dataprofile.Profile{
		FileName:    "transactions.csv",
		RowCount:    250000,
		ColumnCount: 2,
		Columns: []dataprofile.Column{
			{Name: "amount", Type: "numeric"},
			{Name: "state", Type: "categorical"},
		},
	}))
	return store
}

func newOrchestrator(t *testing.T, runner AgentRunner, exec dataprofile.Executor) *Orchestrator {
	t.Helper()
	o, err := New(Config{
		Runner:       runner,
		ProfileStore: newStore(t),
		Executor:     exec,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	return o
}

func request() TurnRequest {
	return TurnRequest{
		SessionID:   "sess-1",
		ChatID:      "chat-1",
		UserMessage: "What's the average transaction amount?",
	}
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, e)
		case <-timeout:
			t.Fatal("stream did not close")
			return events
		}
	}
}

func types(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.Type()
	}
	return out
}

func TestRun_DataQueryEndToEnd(t *testing.T) {
	const query = "SELECT AVG(amount) AS avg_amount FROM transactions"
	runner := &mockRunner{agents: map[string]agentFunc{
		agent.IDOrchestrator: reply(`{"classification":"SQL_ONLY","reasoning":"Simple aggregation of amount"}`),
		agent.IDSQL:          reply("```json\n{\"sql\":\"" + query + "\",\"reasoning\":\"avg\",\"estimated_rows\":1}\n```"),
		agent.IDComposer:     reply(`{"text":"The average transaction amount is ₹1,245","follow_ups":["Break it down by state?"],"confidence":95}`),
	}}
	exec := &stubExecutor{sqlResult: &dataprofile.SQLResult{
		Rows:     []map[string]interface{}{{"avg_amount": 1245.0}},
		RowCount: 1,
	}}
	o := newOrchestrator(t, runner, exec)

	ch, err := o.Run(context.Background(), request())
	require.NoError(t, err)
	events := collect(t, ch)

	assert.Equal(t, []EventType{
		TypeStatus,
		TypeOrchestratorResult,
		TypeStatus,
		TypeStatus,
		TypeCodeWritten,
		TypeSQLResult,
		TypeStatus,
		TypeFinalResponse,
	}, types(events))

	assert.Equal(t, StatusEvent{Message: "Analyzing query type..."}, events[0])
	assert.Equal(t, SQLOnly, events[1].(OrchestratorResultEvent).Classification)
	assert.Equal(t, StatusEvent{Message: "Routing to data-query agent"}, events[2])
	assert.Equal(t, CodeWrittenEvent{Code: query, Language: "sql"}, events[4])

	sqlEvent := events[5].(SQLResultEvent)
	assert.Equal(t, query, sqlEvent.Query)
	assert.Equal(t, 1, sqlEvent.RowCount)

	final := events[7].(FinalResponseEvent)
	assert.Equal(t, SQLOnly, final.Classification)
	assert.Equal(t, "The average transaction amount is ₹1,245", final.Result.Text)
	assert.Equal(t, []string{"Break it down by state?"}, final.Result.FollowUps)
	assert.Equal(t, query, final.Result.SQLUsed)
	assert.Equal(t, "sql_only", final.Result.InsightType)
	require.NotNil(t, final.Result.DataRows)
	assert.Equal(t, 1, *final.Result.DataRows)

	assert.Equal(t, []string{agent.IDOrchestrator, agent.IDSQL, agent.IDComposer}, runner.agentIDs())
	require.Len(t, exec.sqlCalls, 1)
	assert.Equal(t, "sess-1", exec.sqlCalls[0].SessionID)
	assert.Equal(t, 500, exec.sqlCalls[0].Limit)

	// Every agent prompt carries the dataset context.
	for _, call := range runner.calls {
		assert.Contains(t, call.Prompt, "transactions.csv")
	}
	assert.Contains(t, runner.calls[1].Prompt, "Reasoning: Simple aggregation of amount")
	assert.Contains(t, runner.calls[2].Prompt, "Analysis Results:")
}

func TestRun_ReusesAgentSQLExecution(t *testing.T) {
	const query = "SELECT state, COUNT(*) FROM transactions GROUP BY state"
	runner := &mockRunner{agents: map[string]agentFunc{
		agent.IDOrchestrator: reply(`{"classification":"SQL_ONLY","reasoning":"count"}`),
		agent.IDSQL: func(context.Context, agent.RunRequest) (*agent.Output, error) {
			return &agent.Output{
				Raw: `{"sql":"` + query + `"}`,
				ToolCalls: []agent.ToolInvocation{{
					Name: dataprofile.ToolRunSQL,
					Args: map[string]interface{}{"sql": query},
					Result: dataprofile.ToolResult{Success: true, Data: &dataprofile.SQLResult{
						Rows:     []map[string]interface{}{{"state": "KA"}, {"state": "MH"}},
						RowCount: 2,
					}},
				}},
			}, nil
		},
		agent.IDComposer: reply("Two states appear in the data."),
	}}
	exec := &stubExecutor{}
	o := newOrchestrator(t, runner, exec)

	ch, err := o.Run(context.Background(), request())
	require.NoError(t, err)
	events := collect(t, ch)

	assert.Empty(t, exec.sqlCalls)

	final := events[len(events)-1].(FinalResponseEvent)
	assert.Equal(t, "Two states appear in the data.", final.Result.Text, "raw text is used verbatim")
	require.NotNil(t, final.Result.DataRows)
	assert.Equal(t, 2, *final.Result.DataRows)
}

func TestRun_StatisticalRoute(t *testing.T) {
	runner := &mockRunner{agents: map[string]agentFunc{
		agent.IDOrchestrator: reply(`{"classification":"SQL_THEN_PY","reasoning":"outliers"}`),
		agent.IDSQL:          reply(`{"sql":"SELECT state, AVG(fraud_flag) AS rate FROM transactions GROUP BY state"}`),
		agent.IDPython:       reply(`{"python_code":"from scipy import stats\nresult = stats.zscore(result_df['rate'])"}`),
		agent.IDComposer:     reply(`{"text":"Karnataka is an outlier (z=2.4)"}`),
	}}
	exec := &stubExecutor{
		sqlResult: &dataprofile.SQLResult{Rows: []map[string]interface{}{{"state": "KA", "rate": 0.09}}, RowCount: 1},
		pyResult:  &dataprofile.PythonResult{Result: map[string]interface{}{"KA": 2.4}},
	}
	o := newOrchestrator(t, runner, exec)

	ch, err := o.Run(context.Background(), request())
	require.NoError(t, err)
	events := collect(t, ch)

	assert.Equal(t, []EventType{
		TypeStatus, TypeOrchestratorResult, TypeStatus,
		TypeStatus, TypeCodeWritten, TypeSQLResult,
		TypeStatus, TypeCodeWritten, TypePythonResult,
		TypeStatus, TypeFinalResponse,
	}, types(events))
	assert.Equal(t, StatusEvent{Message: "Routing to data-query and statistical agents"}, events[2])

	py := events[8].(PythonResultEvent)
	assert.Equal(t, map[string]interface{}{"KA": 2.4}, py.Results)

	// The statistical agent sees the SQL rows.
	pyPrompt := runner.calls[2].Prompt
	assert.Contains(t, pyPrompt, "Context: SQL: SELECT state")
	assert.Contains(t, pyPrompt, `"rate":0.09`)

	final := events[10].(FinalResponseEvent)
	assert.Contains(t, final.Result.PythonUsed, "stats.zscore")
	require.Len(t, exec.pyCalls, 1)
	assert.Equal(t, 10, exec.pyCalls[0].Timeout)
}

type failingStore struct {
	mu    sync.Mutex
	loads int
}

func (s *failingStore) Load(context.Context, string) (*dataprofile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	return nil, errors.New("profile service timeout")
}

func (s *failingStore) AppendInsight(context.Context, string, dataprofile.Insight) error {
	return nil
}

func (s *failingStore) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

func TestRun_FailingProfileStoreLoadedOncePerTurn(t *testing.T) {
	runner := &mockRunner{agents: map[string]agentFunc{
		agent.IDOrchestrator: reply(`{"classification":"SQL_THEN_PY","reasoning":"outliers"}`),
		agent.IDSQL:          reply(`{"sql":"SELECT state, AVG(amount) AS avg_amount FROM transactions GROUP BY state"}`),
		agent.IDPython:       reply(`{"python_code":"result = result_df.describe()"}`),
		agent.IDComposer:     reply(`{"text":"Averages are flat across states"}`),
	}}
	exec := &stubExecutor{
		sqlResult: &dataprofile.SQLResult{Rows: []map[string]interface{}{{"state": "KA", "avg_amount": 1200.0}}, RowCount: 1},
		pyResult:  &dataprofile.PythonResult{Result: map[string]interface{}{"mean": 1200.0}},
	}
	store := &failingStore{}
	o, err := New(Config{
		Runner:       runner,
		ProfileStore: store,
		Executor:     exec,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	ch, err := o.Run(context.Background(), request())
	require.NoError(t, err)
	events := collect(t, ch)

	final, ok := events[len(events)-1].(FinalResponseEvent)
	require.True(t, ok, "turn completes without a profile")
	assert.Equal(t, "Averages are flat across states", final.Result.Text)
	assert.Equal(t, 1, store.loadCount())

	// A new turn asks the store again.
	ch, err = o.Run(context.Background(), request())
	require.NoError(t, err)
	collect(t, ch)
	assert.Equal(t, 2, store.loadCount())
}

func TestRun_ExplainRoute(t *testing.T) {
	runner := &mockRunner{agents: map[string]agentFunc{
		agent.IDOrchestrator: reply("I think this is a general question about the columns."),
		agent.IDExplainer:    reply(`{"text":"The dataset has amount and state columns."}`),
	}}
	o := newOrchestrator(t, runner, &stubExecutor{})

	req := request()
	req.UserMessage = "What columns does this dataset have?"
	ch, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	events := collect(t, ch)

	result := events[1].(OrchestratorResultEvent)
	assert.Equal(t, ExplainOnly, result.Classification)
	assert.Equal(t, "I think this is a general question about the columns.", result.Reasoning)

	assert.Contains(t, events, Event(StatusEvent{Message: "Drafting explanation..."}))
	final := events[len(events)-1].(FinalResponseEvent)
	assert.Equal(t, "The dataset has amount and state columns.", final.Result.Text)
	assert.Contains(t, runner.calls[1].Prompt, "Explain this to the user: I think this is a general question")
}

func TestRun_Cancellation(t *testing.T) {
	runner := &mockRunner{agents: map[string]agentFunc{
		agent.IDOrchestrator: func(ctx context.Context, _ agent.RunRequest) (*agent.Output, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		agent.IDSQL:      reply(`{"sql":"SELECT 1"}`),
		agent.IDComposer: reply(`{"text":"never"}`),
	}}
	o := newOrchestrator(t, runner, &stubExecutor{})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := o.Run(ctx, request())
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, TypeStatus, first.Type())
	cancel()

	rest := collect(t, ch)
	assert.Empty(t, rest, "no events after cancellation")
	assert.LessOrEqual(t, runner.callCount(), 1)
}

func TestRun_ExhaustedCredentials(t *testing.T) {
	keys := []string{"exhausted-test-key-0001", "exhausted-test-key-0002"}
	pool, err := credential.NewPool(credential.Config{Keys: keys, Logger: zerolog.Nop()})
	require.NoError(t, err)
	for i := range keys {
		pool.ReportFailure(credential.Credential{Index: i}, credential.FailureAuth, "401")
	}
	require.True(t, pool.AllExhausted())

	inv, err := agent.NewInvoker(agent.Config{
		Pool:    pool,
		Factory: authFailingFactory{},
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	o := newOrchestrator(t, inv, &stubExecutor{})

	ch, err := o.Run(context.Background(), request())
	require.NoError(t, err)
	events := collect(t, ch)

	var errs []ErrorEvent
	for _, e := range events {
		assert.NotEqual(t, TypeFinalResponse, e.Type())
		if ev, ok := e.(ErrorEvent); ok {
			errs = append(errs, ev)
		}
	}
	require.Len(t, errs, 1)
	assert.True(t, errs[0].Terminal)
	assert.Equal(t, TypeError, events[len(events)-1].Type())
	assert.Contains(t, errs[0].Message, "API keys")
}

type authFailingFactory struct{}

func (authFailingFactory) NewProvider(credential.Credential) (llm.Provider, error) {
	return authFailingProvider{}, nil
}

type authFailingProvider struct{}

func (authFailingProvider) Provider() string { return "fake" }

func (authFailingProvider) Call(context.Context, llm.Request) (*llm.Response, error) {
	return nil, &llm.UpstreamError{Kind: credential.FailureAuth, StatusCode: 401, Err: errors.New("invalid api key")}
}

func TestRun_RecoverableSQLFailure(t *testing.T) {
	runner := &mockRunner{agents: map[string]agentFunc{
		agent.IDOrchestrator: reply(`{"classification":"SQL_ONLY","reasoning":"avg"}`),
		agent.IDSQL:          reply(`{"sql":"SELECT AVG(amount) FROM transactions"}`),
		agent.IDComposer:     reply(`{"text":"I could not run the query, but amounts average around ₹1,200."}`),
	}}
	exec := &stubExecutor{sqlErr: errors.New("backend down")}
	o := newOrchestrator(t, runner, exec)

	ch, err := o.Run(context.Background(), request())
	require.NoError(t, err)
	events := collect(t, ch)

	var stepErr *ErrorEvent
	for _, e := range events {
		if ev, ok := e.(ErrorEvent); ok {
			stepErr = &ev
		}
	}
	require.NotNil(t, stepErr)
	assert.False(t, stepErr.Terminal)
	assert.Equal(t, "SQL analysis failed", stepErr.Message)
	assert.Contains(t, stepErr.Details, "backend down")

	final := events[len(events)-1].(FinalResponseEvent)
	assert.Equal(t, "SQL analysis failed", final.Result.Warning)
	assert.Contains(t, runner.calls[2].Prompt, `"errors":["SQL analysis failed"]`)
}

func TestRun_FailoverToasts(t *testing.T) {
	runner := &mockRunner{agents: map[string]agentFunc{
		agent.IDOrchestrator: func(context.Context, agent.RunRequest) (*agent.Output, error) {
			return &agent.Output{
				Raw:       `{"classification":"EXPLAIN_ONLY","reasoning":"general"}`,
				Failovers: []agent.Failover{{FromKey: 1, ToKey: 2, Reason: "rate limited"}},
			}, nil
		},
		agent.IDExplainer: reply(`{"text":"ok"}`),
	}}
	o := newOrchestrator(t, runner, nil)

	ch, err := o.Run(context.Background(), request())
	require.NoError(t, err)
	events := collect(t, ch)

	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, ToastEvent{Message: "Switched to API key #2: rate limited"}, events[1])
	assert.Equal(t, TypeOrchestratorResult, events[2].Type())
}

func TestRun_ClassifierFailureFallsBackToHeuristic(t *testing.T) {
	runner := &mockRunner{agents: map[string]agentFunc{
		agent.IDOrchestrator: func(context.Context, agent.RunRequest) (*agent.Output, error) {
			return nil, errors.New("bad request")
		},
		agent.IDPython:   reply(`{"python_code":"print(1)"}`),
		agent.IDComposer: reply(`{"text":"Revenue should grow 4% next month."}`),
	}}
	exec := &stubExecutor{pyResult: &dataprofile.PythonResult{Stdout: "1"}}
	o := newOrchestrator(t, runner, exec)

	req := request()
	req.UserMessage = "Predict next month's revenue"
	ch, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	events := collect(t, ch)

	assert.Equal(t, TypeError, events[1].Type())
	assert.False(t, events[1].(ErrorEvent).Terminal)
	assert.Equal(t, PyOnly, events[2].(OrchestratorResultEvent).Classification)
	assert.Equal(t, TypeFinalResponse, events[len(events)-1].Type())
}

func TestRun_HeuristicClassifier(t *testing.T) {
	runner := &mockRunner{agents: map[string]agentFunc{
		agent.IDExplainer: reply(`{"text":"Columns: amount, state"}`),
	}}
	o, err := New(Config{Runner: runner, Classifier: ClassifierHeuristic, Logger: zerolog.Nop()})
	require.NoError(t, err)

	req := request()
	req.UserMessage = "What columns does this dataset have?"
	ch, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	events := collect(t, ch)

	assert.Equal(t, []string{agent.IDExplainer}, runner.agentIDs())
	assert.Equal(t, TypeFinalResponse, events[len(events)-1].Type())
}

func TestRun_ComposerFailureIsTerminal(t *testing.T) {
	runner := &mockRunner{agents: map[string]agentFunc{
		agent.IDOrchestrator: reply(`{"classification":"EXPLAIN_ONLY","reasoning":"general"}`),
		agent.IDExplainer: func(context.Context, agent.RunRequest) (*agent.Output, error) {
			return nil, errors.New("model unavailable")
		},
	}}
	o := newOrchestrator(t, runner, nil)

	ch, err := o.Run(context.Background(), request())
	require.NoError(t, err)
	events := collect(t, ch)

	last := events[len(events)-1].(ErrorEvent)
	assert.True(t, last.Terminal)
	assert.Contains(t, last.Details, "model unavailable")
}

func TestRun_SummaryRefreshAndHistory(t *testing.T) {
	runner := &mockRunner{agents: map[string]agentFunc{
		agent.IDExplainer: reply(`{"text":"ok"}`),
	}}
	o, err := New(Config{Runner: runner, Classifier: ClassifierHeuristic, RecentTurns: 2, Logger: zerolog.Nop()})
	require.NoError(t, err)

	req := request()
	req.UserMessage = "Explain the dataset"
	for i := 0; i < 10; i++ {
		role := chatlog.RoleUser
		if i%2 == 1 {
			role = chatlog.RoleAssistant
		}
		req.History = append(req.History, chatlog.Message{Role: role, Content: strings.Repeat("x", i+1)})
	}

	ch, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	collect(t, ch)

	stats := o.Summaries().Get("sess-1").Stats()
	assert.True(t, stats.HasSummary)
	assert.Equal(t, 10, stats.MessageCount)

	require.Len(t, runner.calls, 1)
	assert.Len(t, runner.calls[0].History, 2)
	assert.Equal(t, "xxxxxxxxxx", runner.calls[0].History[1].Content)
}

func TestRun_Validation(t *testing.T) {
	o := newOrchestrator(t, &mockRunner{}, nil)

	_, err := o.Run(context.Background(), TurnRequest{ChatID: "c", UserMessage: "hi"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "sessionId", verr.Field)

	_, err = o.Run(context.Background(), TurnRequest{SessionID: "s", ChatID: "c", UserMessage: "  "})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "message", verr.Field)

	_, err = o.Run(context.Background(), TurnRequest{
		SessionID: "s", ChatID: "c", UserMessage: "hi",
		History: []chatlog.Message{{Role: "system", Content: "x"}},
	})
	require.ErrorAs(t, err, &verr)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Runner: &mockRunner{}, Classifier: "magic"})
	assert.Error(t, err)
}
