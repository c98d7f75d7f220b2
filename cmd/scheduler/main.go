package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chainsharp/scheduler/internal/alert"
	"github.com/chainsharp/scheduler/internal/config"
	"github.com/chainsharp/scheduler/internal/db"
	"github.com/chainsharp/scheduler/internal/dispatcher"
	"github.com/chainsharp/scheduler/internal/evaluator"
	"github.com/chainsharp/scheduler/internal/examples/workflows"
	"github.com/chainsharp/scheduler/internal/executor"
	"github.com/chainsharp/scheduler/internal/observability"
	"github.com/chainsharp/scheduler/internal/queue/redisclient"
	"github.com/chainsharp/scheduler/internal/registry"
	"github.com/chainsharp/scheduler/internal/store/postgres"
	"github.com/chainsharp/scheduler/internal/taskserver"
)

// alertConfigs are the example workflows' alert settings (§4.10); a
// real deployment would load these from the configuration DSL the
// core treats as an external collaborator.
func alertConfigs() []alert.Config {
	return []alert.Config{
		{WorkflowName: "flaky", MinimumFailures: 1, CooldownPeriod: time.Minute},
		{WorkflowName: "dq_tx", TimeWindow: time.Hour, MinimumFailures: 3, CooldownPeriod: 15 * time.Minute},
	}
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(context.Background(), "scheduler", "localhost:4317")
	if err != nil {
		log.Fatalf("otel init failed: %v", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	base := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(observability.NewTraceHandler(base))
	slog.SetDefault(logger)

	pool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		logger.ErrorContext(ctx, "db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := postgres.Bootstrap(ctx, pool); err != nil {
		logger.ErrorContext(ctx, "schema bootstrap failed", "err", err)
		os.Exit(1)
	}

	seedCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = db.EnsureOperatorUser(seedCtx, pool, cfg)
	cancel()
	if err != nil {
		logger.ErrorContext(ctx, "failed to seed operator account", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	dc := postgres.New(pool, prom)

	workflowReg := registry.New()
	if err := workflows.Register(workflowReg); err != nil {
		logger.ErrorContext(ctx, "workflow registration failed", "err", err)
		os.Exit(1)
	}

	// One-shot reconciliation pass for metadata rows left in_progress
	// by a prior process that died mid-execution (§4.6, notes on
	// non-durable suspension across process restarts).
	recoverCtx, recoverCancel := context.WithTimeout(ctx, 30*time.Second)
	cutoff := time.Now().Add(-cfg.RecoverStuckAfter)
	if n, err := dc.Executions().RecoverStuck(recoverCtx, cutoff); err != nil {
		logger.ErrorContext(ctx, "recover_stuck failed", "err", err)
	} else if n > 0 {
		logger.InfoContext(ctx, "recover_stuck.requeued", "count", n)
	}
	recoverCancel()

	senders := []alert.Sender{alert.NewLogSender(logger)}
	if cfg.SlackToken != "" && cfg.SlackChannel != "" {
		senders = append(senders, alert.NewSlackSender(cfg.SlackToken, cfg.SlackChannel))
	}

	var hookOpts []alert.Option
	if cfg.AlertDebounceBackend == "redis" {
		redisClient := redisclient.New(redisclient.Config{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		hookOpts = append(hookOpts, alert.WithDebounceFactory(alert.NewRedisDebounceFactory(redisClient, "scheduler:alert:")))
	}
	hook := alert.NewHook(dc, alertConfigs(), senders, prom, logger, hookOpts...)

	exec := executor.New(dc, workflowReg, hook, prom, logger)

	tasks := taskserver.NewPool(taskserver.PoolConfig{
		Concurrency:   4,
		ShutdownGrace: 10 * time.Second,
	}, exec.Handler, logger)
	defer tasks.Shutdown()

	eval := evaluator.New(dc, evaluator.Config{
		PollInterval:        cfg.ManifestManagerPollingInterval,
		AdminWorkflowNames:  cfg.AdminWorkflowNames,
		GlobalMaxActiveJobs: globalMaxPtr(cfg.GlobalMaxActiveJobs),
	}, prom, logger)

	disp := dispatcher.New(dc, tasks, workflowReg, dispatcher.Config{
		PollInterval:        cfg.JobDispatcherPollingInterval,
		AdminWorkflowNames:  cfg.AdminWorkflowNames,
		GlobalMaxActiveJobs: globalMaxPtr(cfg.GlobalMaxActiveJobs),
	}, prom, logger)

	go eval.Run(ctx)
	go disp.Run(ctx)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	healthMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	healthAddr := fmt.Sprintf(":%d", cfg.Port)
	healthSrv := &http.Server{Addr: healthAddr, Handler: healthMux}

	go func() {
		logger.InfoContext(ctx, "scheduler.start", "health_addr", healthAddr)
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorContext(ctx, "scheduler.health_server_failed", "err", err)
		}
	}()

	<-ctx.Done()
	logger.InfoContext(context.Background(), "scheduler.shutdown_signal_received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	logger.InfoContext(context.Background(), "scheduler.shutdown_complete")
}

func globalMaxPtr(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}
