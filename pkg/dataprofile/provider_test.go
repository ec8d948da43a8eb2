package dataprofile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	mu       sync.Mutex
	loads    int
	profile  *Profile
	err      error
	appended []Insight
}

func (s *countingStore) Load(ctx context.Context, sessionID string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.err != nil {
		return nil, s.err
	}
	return s.profile, nil
}

func (s *countingStore) AppendInsight(ctx context.Context, sessionID string, insight Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, insight)
	return nil
}

type fakeExecutor struct {
	sql    []SQLRequest
	python []PythonRequest
}

func (e *fakeExecutor) RunSQL(ctx context.Context, req SQLRequest) (*SQLResult, error) {
	e.sql = append(e.sql, req)
	return &SQLResult{Rows: []map[string]interface{}{{"avg": 1245.0}}, RowCount: 1}, nil
}

func (e *fakeExecutor) RunPython(ctx context.Context, req PythonRequest) (*PythonResult, error) {
	e.python = append(e.python, req)
	return &PythonResult{Stdout: `{"p_value": 0.01}`}, nil
}

func newTestProvider(store Store, exec Executor) *SessionToolProvider {
	return NewSessionToolProvider(ProviderConfig{
		SessionID: "s1",
		Store:     store,
		Executor:  exec,
		Logger:    zerolog.Nop(),
	})
}

func TestSessionToolProvider_LoadsOnce(t *testing.T) {
	store := &countingStore{profile: sampleProfile()}
	p := newTestProvider(store, nil)
	ctx := context.Background()

	assert.Contains(t, p.DescribeSchema(ctx), "Key columns: transaction_id, amount, state")
	assert.Contains(t, p.ColumnListing(ctx), "DATABASE SCHEMA")
	assert.Contains(t, p.StatisticsNote(ctx), "STATISTICAL CONTEXT")

	res := p.Execute(ctx, ToolReadDataDNA, map[string]interface{}{"sections": []interface{}{"baselines"}})
	require.True(t, res.Success, res.Error)

	assert.Equal(t, 1, store.loads)
}

func TestSessionToolProvider_MissingProfile(t *testing.T) {
	store := &countingStore{err: ErrNotFound}
	p := newTestProvider(store, nil)
	ctx := context.Background()

	assert.Empty(t, p.DescribeSchema(ctx))
	_, err := p.Load(ctx)
	assert.ErrorIs(t, err, ErrProfileUnavailable)
	assert.Equal(t, 1, store.loads, "missing profile is cached")

	res := p.Execute(ctx, ToolReadDataDNA, nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Content(), "profile unavailable")

	// Insights written this turn remain readable without a profile.
	res = p.Execute(ctx, ToolWriteContext, map[string]interface{}{"insight": map[string]interface{}{"finding": "weekend dip"}})
	require.True(t, res.Success, res.Error)
	res = p.Execute(ctx, ToolReadContext, map[string]interface{}{"query_type": "all"})
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Content(), "weekend dip")
}

func TestSessionToolProvider_StoreFailureCachedForProvider(t *testing.T) {
	store := &countingStore{err: errors.New("profile service timeout")}
	p := newTestProvider(store, nil)
	ctx := context.Background()

	_, err := p.Load(ctx)
	assert.ErrorIs(t, err, ErrProfileUnavailable)
	assert.Empty(t, p.DescribeSchema(ctx))
	assert.Empty(t, p.ColumnListing(ctx))
	assert.Empty(t, p.StatisticsNote(ctx))
	_, err = p.Load(ctx)
	assert.ErrorIs(t, err, ErrProfileUnavailable)
	assert.Equal(t, 1, store.loads)

	store.mu.Lock()
	store.err = nil
	store.profile = sampleProfile()
	store.mu.Unlock()

	// The next turn builds a fresh provider and asks the store again.
	next := newTestProvider(store, nil)
	profile, err := next.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "transactions.csv", profile.FileName)
	assert.Equal(t, 2, store.loads)
}

func TestSessionToolProvider_WriteAndReadContext(t *testing.T) {
	store := &countingStore{profile: sampleProfile()}
	p := newTestProvider(store, nil)
	ctx := context.Background()

	res := p.Execute(ctx, ToolWriteContext, map[string]interface{}{
		"insight": map[string]interface{}{"query": "outliers by state", "finding": "Maharashtra outliers exceed baseline"},
	})
	require.True(t, res.Success, res.Error)
	require.Len(t, store.appended, 1)
	assert.NotEmpty(t, store.appended[0].Timestamp)

	res = p.Execute(ctx, ToolReadContext, map[string]interface{}{"query_type": "outliers"})
	require.True(t, res.Success, res.Error)

	var body struct {
		Insights []Insight `json:"insights"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.Content()), &body))
	require.Len(t, body.Insights, 1)
	assert.Equal(t, "outliers by state", body.Insights[0].Query)

	res = p.Execute(ctx, ToolReadContext, map[string]interface{}{"query_type": "trends"})
	require.True(t, res.Success, res.Error)
	assert.JSONEq(t, `{"insights": []}`, res.Content())
}

func TestSessionToolProvider_InsightsWrittenBeforeLoadSurvive(t *testing.T) {
	profile := sampleProfile()
	profile.Insights = []Insight{{Query: "earlier", Finding: "stored finding", Timestamp: "2026-01-01T00:00:00Z"}}
	store := &countingStore{profile: profile}
	p := newTestProvider(store, nil)
	ctx := context.Background()

	res := p.Execute(ctx, ToolWriteContext, map[string]interface{}{
		"insight": map[string]interface{}{"query": "fresh", "finding": "written before load"},
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 0, store.loads)

	_, err := p.Load(ctx)
	require.NoError(t, err)

	insights := p.Insights()
	require.Len(t, insights, 2)
	assert.Equal(t, "stored finding", insights[0].Finding)
	assert.Equal(t, "written before load", insights[1].Finding)
}

func TestSessionToolProvider_InsightsSurviveFailedLoad(t *testing.T) {
	store := &countingStore{err: errors.New("connection refused")}
	p := newTestProvider(store, nil)
	ctx := context.Background()

	_, err := p.Load(ctx)
	require.Error(t, err)

	res := p.Execute(ctx, ToolWriteContext, map[string]interface{}{
		"insight": map[string]interface{}{"finding": "kept after failure"},
	})
	require.True(t, res.Success, res.Error)

	_, err = p.Load(ctx)
	require.Error(t, err)
	require.Len(t, p.Insights(), 1)
	assert.Equal(t, "kept after failure", p.Insights()[0].Finding)
	assert.Equal(t, 1, store.loads)
}

func TestMergeInsights_SkipsInsightsAlreadyStored(t *testing.T) {
	shared := Insight{Query: "q", Finding: "f", Timestamp: "2026-01-01T00:00:00Z"}
	merged := mergeInsights([]Insight{shared}, []Insight{shared, {Finding: "new"}})
	require.Len(t, merged, 2)
	assert.Equal(t, "new", merged[1].Finding)
}

func TestSessionToolProvider_RunSQL(t *testing.T) {
	exec := &fakeExecutor{}
	p := newTestProvider(&countingStore{profile: sampleProfile()}, exec)
	ctx := context.Background()

	res := p.Execute(ctx, ToolRunSQL, map[string]interface{}{"sql": "SELECT AVG(amount) FROM transactions", "limit": 10000.0})
	require.True(t, res.Success, res.Error)
	require.Len(t, exec.sql, 1)
	assert.Equal(t, 500, exec.sql[0].Limit)
	assert.Equal(t, "s1", exec.sql[0].SessionID)

	res = p.Execute(ctx, ToolRunSQL, map[string]interface{}{"sql": "DELETE FROM transactions"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "only SELECT")
	assert.Len(t, exec.sql, 1)

	res = p.Execute(ctx, ToolRunSQL, map[string]interface{}{})
	assert.False(t, res.Success)
}

func TestSessionToolProvider_RunPython(t *testing.T) {
	exec := &fakeExecutor{}
	p := newTestProvider(&countingStore{profile: sampleProfile()}, exec)

	res, err := p.RunPython(context.Background(), "print(1)", 2*time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, res)
	require.Len(t, exec.python, 1)
	assert.Equal(t, 10, exec.python[0].Timeout)

	_, err = p.RunPython(context.Background(), "  ", 0)
	assert.Error(t, err)
}

func TestSessionToolProvider_WriteCode(t *testing.T) {
	p := newTestProvider(nil, nil)

	res := p.Execute(context.Background(), ToolWriteCode, map[string]interface{}{
		"code": "SELECT 1", "language": "sql", "description": "smoke",
	})
	require.True(t, res.Success, res.Error)

	code := p.Code()
	require.Len(t, code, 1)
	assert.Equal(t, "sql", code[0].Language)
}

func TestSessionToolProvider_NoExecutor(t *testing.T) {
	p := newTestProvider(nil, nil)
	res := p.Execute(context.Background(), ToolRunSQL, map[string]interface{}{"sql": "SELECT 1"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no analysis executor")
}
