package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context) error

// JobStatus is a snapshot of one registered job
type JobStatus struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Runs      int        `json:"runs"`
}

type job struct {
	id       string
	name     string
	schedule string
	fn       JobFunc
	entryID  cron.EntryID

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
	runs    int
}

// Config holds scheduler configuration
type Config struct {
	Logger zerolog.Logger
	// Location evaluates schedules; defaults to the local zone.
	Location *time.Location
}

// Service runs maintenance jobs on cron schedules
type Service struct {
	cron   *cron.Cron
	logger zerolog.Logger

	mu      sync.RWMutex
	jobs    map[string]*job
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New creates a scheduler. Jobs are registered with AddJob and run after Start.
func New(cfg Config) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cron:   cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: cfg.Logger,
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddJob registers fn under name with a standard five-field cron expression or a
// descriptor such as "@hourly" or "@every 30m".
func (s *Service) AddJob(name, schedule string, fn JobFunc) (string, error) {
	if name == "" {
		return "", fmt.Errorf("job name is required")
	}
	if fn == nil {
		return "", fmt.Errorf("job %s has no function", name)
	}
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return "", fmt.Errorf("invalid schedule for job %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return "", fmt.Errorf("job %s already registered", name)
	}

	j := &job{id: uuid.New().String(), name: name, schedule: schedule, fn: fn}
	j.entryID = s.cron.Schedule(sched, cron.FuncJob(func() { s.run(j) }))
	s.jobs[name] = j

	s.logger.Info().Str("job", name).Str("schedule", schedule).Msg("Scheduled job registered")
	return j.id, nil
}

// RunNow executes the named job immediately on the calling goroutine.
func (s *Service) RunNow(name string) error {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	return s.run(j)
}

func (s *Service) run(j *job) error {
	start := time.Now()
	err := j.fn(s.ctx)

	j.mu.Lock()
	j.lastRun = start
	j.lastErr = err
	j.runs++
	j.mu.Unlock()

	logger := s.logger.With().Str("job", j.name).Dur("duration", time.Since(start)).Logger()
	if err != nil {
		logger.Error().Err(err).Msg("Scheduled job failed")
		return err
	}
	logger.Info().Msg("Scheduled job completed")
	return nil
}

// Jobs returns the registered jobs sorted by name.
func (s *Service) Jobs() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		status := JobStatus{ID: j.id, Name: j.name, Schedule: j.schedule}
		if next := s.cron.Entry(j.entryID).Next; !next.IsZero() {
			status.NextRun = &next
		}

		j.mu.Lock()
		if !j.lastRun.IsZero() {
			last := j.lastRun
			status.LastRun = &last
		}
		if j.lastErr != nil {
			status.LastError = j.lastErr.Error()
		}
		status.Runs = j.runs
		j.mu.Unlock()

		out = append(out, status)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Start runs the scheduler until ctx is cancelled, then waits for running jobs.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	count := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info().Int("jobs", count).Msg("Scheduler started")

	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop halts scheduling and waits for jobs in progress to return.
func (s *Service) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
}
