package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/insightx/internal/tracing"
	"github.com/harun/insightx/pkg/chatlog"
	"github.com/harun/insightx/pkg/gateway"
	"github.com/harun/insightx/pkg/scheduler"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the InsightX gateway",
	Long: `Run the HTTP gateway. Clients stream turns over POST /api/chat/stream (SSE)
or GET /ws/chat (websocket); operators manage the credential pool under /api/admin.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides gateway.port)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides gateway.host)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Gateway.Port = servePort
	}
	if serveHost != "" {
		cfg.Gateway.Host = serveHost
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger("serve")

	if cfg.Tracing.Enabled {
		err := tracing.InitOpenTelemetry(tracing.Telemetry{
			Version:     GetVersion(),
			Environment: cfg.Tracing.Environment,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("OpenTelemetry disabled")
		}
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.ShutdownOpenTelemetry(ctx)
	}()

	transcripts, err := chatlog.New(cfg.Gateway.TranscriptsDir)
	if err != nil {
		return fmt.Errorf("failed to open transcripts: %w", err)
	}

	srv, err := gateway.NewServer(gateway.Config{
		Host:                 cfg.Gateway.Host,
		Port:                 cfg.Gateway.Port,
		AdminToken:           cfg.Gateway.AdminToken,
		MaxConcurrentStreams: cfg.Gateway.MaxConcurrentStreams,
		Orchestrator:         a.orchestrator,
		Keys:                 a.pool,
		Transcripts:          transcripts,
		Logger:               a.logger("gateway"),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(ctx) })

	sched := scheduler.New(scheduler.Config{Logger: a.logger("scheduler")})
	jobs := 0
	if cfg.Credentials.ResetSchedule != "" {
		if _, err := sched.AddJob(scheduler.JobCredentialReset, cfg.Credentials.ResetSchedule, scheduler.CredentialReset(a.pool)); err != nil {
			return err
		}
		jobs++
	}
	if cfg.Pipeline.SummaryIdleTTL > 0 {
		evict := scheduler.SummaryEviction(a.orchestrator.Summaries(), cfg.Pipeline.SummaryIdleTTL, a.logger("scheduler"))
		if _, err := sched.AddJob(scheduler.JobSummaryEviction, cfg.Pipeline.SummarySweep, evict); err != nil {
			return err
		}
		jobs++
	}
	if jobs > 0 {
		g.Go(func() error { return sched.Start(ctx) })
	}

	logger.Info().
		Int("keys", a.pool.KeyCount()).
		Str("provider", cfg.Provider.Kind).
		Str("profile_store", cfg.ProfileStore.Kind).
		Msg("InsightX started")

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("InsightX stopped")
	return nil
}
