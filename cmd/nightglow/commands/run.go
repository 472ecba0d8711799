package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/orderout/nightglow/executor"
	"github.com/orderout/nightglow/executor/pagetest"
	"github.com/orderout/nightglow/instrument"
	"github.com/orderout/nightglow/internal/env"
	mi "github.com/orderout/nightglow/internal/metrics"
	"github.com/orderout/nightglow/internal/tracing"
	"github.com/orderout/nightglow/metrics"
	"github.com/orderout/nightglow/producer"
	"github.com/orderout/nightglow/producer/redisbus"
	"github.com/orderout/nightglow/producer/sqlbus"
	"github.com/orderout/nightglow/runner"
	"github.com/orderout/nightglow/workflow"
)

func newRunCommand() *cobra.Command {
	var sessionID string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run <workflow.json>",
		Short: "Execute a workflow",
		Long: `Execute a workflow definition. Without a browser endpoint only
--dry-run execution is available; it drives the full engine against a
stub page.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := loadWorkflow(args[0])
			if err != nil {
				return err
			}

			cfg, err := env.Load()
			if err != nil {
				return &ExitError{Code: ExitConfig, Err: err}
			}

			if !dryRun {
				return &ExitError{
					Code: ExitConfig,
					Err:  fmt.Errorf("no browser backend configured, re-run with --dry-run"),
				}
			}

			return runWorkflow(cmd.Context(), cmd, wf, cfg, sessionID)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id to correlate events under (default: random)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "execute against a stub page instead of a browser")

	return cmd
}

func runWorkflow(ctx context.Context, cmd *cobra.Command, wf *workflow.Workflow, cfg *env.Config, sessionID string) error {
	logger := newLogger(cfg)

	metricsClient, stopMetrics := newMetrics(ctx, cfg, logger)
	defer stopMetrics()

	tp, shutdownTracing, err := tracing.Setup(ctx, "nightglow", cfg.TraceEndpoint)
	if err != nil {
		return &ExitError{Code: ExitInternal, Err: err}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	transport, err := newTransport(logger)
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}

	prod := producer.New(transport, &producer.Options{
		BatchSize:   cfg.BatchSize,
		Linger:      cfg.Linger(),
		TopicPrefix: cfg.TopicPrefix,
		Compression: cfg.Compression,
		Logger:      logger,
		Metrics:     metricsClient,
	})

	if err := prod.Connect(ctx); err != nil {
		return &ExitError{Code: ExitInternal, Err: err}
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := prod.Disconnect(disconnectCtx); err != nil {
			logger.Error("disconnecting producer", "error", err)
		}
	}()

	embedder := instrument.NewEmbedder(prod, &instrument.Options{
		Logger:        logger,
		MaxContinuous: cfg.MaxContinuous,
		AutoEnable:    cfg.AutoEnableInstruments,
	})
	defer func() {
		teardownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = embedder.TeardownAll(teardownCtx)
	}()

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	r := runner.New(executor.New(&executor.Options{Logger: logger}), prod, embedder,
		runner.WithLogger(logger),
		runner.WithMetrics(metricsClient),
		runner.WithTracerProvider(tp),
	)

	result, err := r.Run(ctx, wf, &runner.Session{ID: sessionID, Page: &pagetest.Page{}})
	if err != nil {
		return &ExitError{Code: ExitEscalated, Err: err}
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return &ExitError{Code: ExitInternal, Err: err}
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if !result.Succeeded() {
		return &ExitError{Code: ExitEscalated, Err: fmt.Errorf("workflow %s: %s", wf.Name, result.Status)}
	}

	return nil
}

func newLogger(cfg *env.Config) *slog.Logger {
	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newMetrics(ctx context.Context, cfg *env.Config, logger *slog.Logger) (metrics.Client, func()) {
	if cfg.MetricsEndpoint == "" {
		return mi.NewNoopMetricsClient(), func() {}
	}

	client := mi.NewPrometheusClient(prometheus.NewRegistry())

	serveCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := client.Serve(serveCtx, cfg.MetricsEndpoint); err != nil {
			logger.Error("metrics endpoint failed", "error", err)
		}
	}()

	return client, cancel
}

// newTransport picks the bus transport from the global flags. With no
// broker configured events are recorded into an in-memory store and
// discarded on exit.
func newTransport(logger *slog.Logger) (producer.Transport, error) {
	var (
		transport producer.Transport
		err       error
	)

	switch {
	case redisAddr != "":
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{redisAddr}})
		transport = redisbus.New(rdb, &redisbus.Options{Logger: logger})
	case mysqlDSN != "":
		transport, err = sqlbus.NewMysql(mysqlDSN, &sqlbus.Options{Logger: logger})
	case sqlitePath != "":
		transport, err = sqlbus.NewSqlite(sqlitePath, &sqlbus.Options{Logger: logger})
	default:
		transport, err = sqlbus.NewInMemory(&sqlbus.Options{Logger: logger})
	}

	return transport, err
}
