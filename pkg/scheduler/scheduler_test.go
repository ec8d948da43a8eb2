package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePool struct {
	resets atomic.Int32
}

func (p *fakePool) ResetAll()     { p.resets.Add(1) }
func (p *fakePool) KeyCount() int { return 3 }

type fakeEvicter struct {
	idle []time.Duration
}

func (e *fakeEvicter) EvictIdle(idle time.Duration) int {
	e.idle = append(e.idle, idle)
	return 2
}

func newService() *Service {
	return New(Config{Logger: zerolog.Nop(), Location: time.UTC})
}

func TestAddJob(t *testing.T) {
	svc := newService()
	noop := func(context.Context) error { return nil }

	t.Run("accepts standard expressions and descriptors", func(t *testing.T) {
		id, err := svc.AddJob("hourly", "0 * * * *", noop)
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		_, err = svc.AddJob("interval", "@every 30m", noop)
		require.NoError(t, err)
	})

	t.Run("rejects invalid schedule", func(t *testing.T) {
		_, err := svc.AddJob("bad", "every tuesday", noop)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid schedule")
	})

	t.Run("rejects duplicates and missing fields", func(t *testing.T) {
		_, err := svc.AddJob("hourly", "0 * * * *", noop)
		assert.Error(t, err)

		_, err = svc.AddJob("", "0 * * * *", noop)
		assert.Error(t, err)

		_, err = svc.AddJob("nil", "0 * * * *", nil)
		assert.Error(t, err)
	})

	jobs := svc.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "hourly", jobs[0].Name)
	assert.Equal(t, "interval", jobs[1].Name)
}

func TestRunNow_RecordsOutcome(t *testing.T) {
	svc := newService()
	failing := errors.New("boom")
	_, err := svc.AddJob("flaky", "@daily", func(context.Context) error { return failing })
	require.NoError(t, err)

	assert.ErrorIs(t, svc.RunNow("flaky"), failing)
	assert.Error(t, svc.RunNow("missing"))

	jobs := svc.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, 1, jobs[0].Runs)
	assert.Equal(t, "boom", jobs[0].LastError)
	assert.NotNil(t, jobs[0].LastRun)
}

func TestCredentialReset(t *testing.T) {
	pool := &fakePool{}
	svc := newService()
	_, err := svc.AddJob(JobCredentialReset, "@hourly", CredentialReset(pool))
	require.NoError(t, err)

	require.NoError(t, svc.RunNow(JobCredentialReset))
	assert.Equal(t, int32(1), pool.resets.Load())
}

func TestSummaryEviction(t *testing.T) {
	reg := &fakeEvicter{}
	svc := newService()
	_, err := svc.AddJob(JobSummaryEviction, "@every 10m", SummaryEviction(reg, 2*time.Hour, zerolog.Nop()))
	require.NoError(t, err)

	require.NoError(t, svc.RunNow(JobSummaryEviction))
	assert.Equal(t, []time.Duration{2 * time.Hour}, reg.idle)
}

func TestStart_RunsScheduledJobs(t *testing.T) {
	pool := &fakePool{}
	svc := newService()
	_, err := svc.AddJob(JobCredentialReset, "@every 1s", CredentialReset(pool))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	assert.Eventually(t, func() bool { return pool.resets.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	assert.NotNil(t, svc.Jobs()[0].NextRun)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
