package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/harun/insightx/internal/config"
	"github.com/harun/insightx/internal/logger"
	"github.com/harun/insightx/internal/observability"
	"github.com/harun/insightx/pkg/agent"
	"github.com/harun/insightx/pkg/contextbuilder"
	"github.com/harun/insightx/pkg/credential"
	"github.com/harun/insightx/pkg/dataprofile"
	"github.com/harun/insightx/pkg/llm"
	"github.com/harun/insightx/pkg/orchestrator"
	"github.com/harun/insightx/pkg/summarizer"
	"github.com/rs/zerolog"
)

// app is the wired analysis stack shared by serve and ask.
type app struct {
	cfg          *config.Config
	log          *logger.Logger
	pool         *credential.Pool
	invoker      *agent.Invoker
	orchestrator *orchestrator.Orchestrator
	closers      []func() error
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	lcfg := logger.DefaultConfig()
	lcfg.Level = cfg.Logging.Level
	lcfg.File = cfg.Logging.File
	lcfg.Pretty = cfg.Logging.Pretty
	lcfg.Redaction = cfg.Logging.Redaction
	lcfg.Secrets = append(append([]string{}, cfg.Credentials.Keys...), cfg.Gateway.AdminToken)
	return logger.New(lcfg)
}

// buildApp wires config into the credential pool, agents, profile store, executor and
// orchestrator.
func buildApp(cfg *config.Config) (*app, error) {
	if err := cfg.ValidateForServe(); err != nil {
		return nil, err
	}

	lg, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a := &app{cfg: cfg, log: lg}
	a.closers = append(a.closers, lg.Close)

	if cfg.Logging.AuditFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.AuditFile), 0755); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
		if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		a.closers = append(a.closers, observability.GetAuditLogger().Close)
	}

	pool, err := credential.NewPool(credential.Config{
		Keys: cfg.Credentials.Keys,
		Backoff: credential.Backoff{
			Base:   cfg.Credentials.CooldownBase,
			Factor: cfg.Credentials.CooldownScale,
			Max:    cfg.Credentials.CooldownMax,
		},
		Logger: lg.Component("credentials"),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create credential pool: %w", err)
	}
	a.pool = pool

	factory, err := llm.NewClientFactory(llm.FactoryConfig{Kind: cfg.Provider.Kind, BaseURL: cfg.Provider.BaseURL})
	if err != nil {
		a.Close()
		return nil, err
	}

	registry := agent.NewRegistry()
	if cfg.Provider.Model != "" {
		registry.SetModel(cfg.Provider.Model)
	}
	for id, o := range cfg.Agents {
		if err := registry.Apply(id, agent.Override{Model: o.Model, Temperature: o.Temperature, MaxTokens: o.MaxTokens}); err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid agent override %s: %w", id, err)
		}
	}

	invoker, err := agent.NewInvoker(agent.Config{
		Pool:           pool,
		Factory:        factory,
		Registry:       registry,
		MaxAttempts:    cfg.Pipeline.MaxAttempts,
		AttemptTimeout: cfg.Pipeline.AttemptTimeout,
		MaxToolCycles:  cfg.Pipeline.MaxToolCycles,
		Logger:         lg.Component("agent"),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create agent invoker: %w", err)
	}
	a.invoker = invoker

	store, err := a.profileStore()
	if err != nil {
		a.Close()
		return nil, err
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Runner:       invoker,
		ProfileStore: store,
		Executor:     dataprofile.NewHTTPExecutor(cfg.Executor.BaseURL, cfg.Executor.Timeout),
		Summaries: summarizer.NewRegistry(summarizer.Config{
			Interval:          cfg.Pipeline.SummaryInterval,
			CompressThreshold: cfg.Pipeline.CompressThreshold,
		}),
		Context:       contextbuilder.New(cfg.Pipeline.RecentTurns, lg.Component("context")),
		Classifier:    cfg.Pipeline.Classifier,
		EventBuffer:   cfg.Pipeline.EventBuffer,
		RecentTurns:   cfg.Pipeline.RecentTurns,
		SchemaColumns: cfg.Pipeline.SchemaColumns,
		SQLRowLimit:   cfg.Executor.SQLRowLimit,
		PythonTimeout: cfg.Executor.PythonTimeout,
		Logger:        lg.Component("orchestrator"),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	a.orchestrator = orch

	return a, nil
}

func (a *app) profileStore() (dataprofile.Store, error) {
	ps := a.cfg.ProfileStore
	switch ps.Kind {
	case "http":
		return dataprofile.NewHTTPStore(ps.BaseURL, ps.Timeout), nil
	case "memory":
		return dataprofile.NewMemoryStore(), nil
	default:
		if ps.Path == "" {
			ps.Path = filepath.Join(a.cfg.DataDir, "profiles.db")
		}
		if err := os.MkdirAll(filepath.Dir(ps.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create profile directory: %w", err)
		}
		store, err := dataprofile.NewSQLiteStore(ps.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open profile store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	}
}

func (a *app) logger(component string) zerolog.Logger {
	return a.log.Component(component)
}

// Close releases stores and log files in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
