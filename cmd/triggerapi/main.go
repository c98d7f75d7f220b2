package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chainsharp/scheduler/internal/alert"
	"github.com/chainsharp/scheduler/internal/config"
	"github.com/chainsharp/scheduler/internal/db"
	"github.com/chainsharp/scheduler/internal/examples/workflows"
	"github.com/chainsharp/scheduler/internal/executor"
	"github.com/chainsharp/scheduler/internal/httpapi"
	"github.com/chainsharp/scheduler/internal/observability"
	"github.com/chainsharp/scheduler/internal/queue/redisclient"
	"github.com/chainsharp/scheduler/internal/registry"
	"github.com/chainsharp/scheduler/internal/store/postgres"
	"github.com/chainsharp/scheduler/internal/taskserver"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(cfg.Env)

	pool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := postgres.Bootstrap(ctx, pool); err != nil {
		logger.Error("schema bootstrap failed", "err", err)
		os.Exit(1)
	}

	seedCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = db.EnsureOperatorUser(seedCtx, pool, cfg)
	cancel()
	if err != nil {
		logger.Error("failed to seed operator account", "err", err)
		os.Exit(1)
	}

	promReg := prometheus.NewRegistry()
	prom := observability.NewProm(promReg)

	dc := postgres.New(pool, prom)

	workflowReg := registry.New()
	if err := workflows.Register(workflowReg); err != nil {
		logger.Error("workflow registration failed", "err", err)
		os.Exit(1)
	}

	// Manual triggers (§4.2's Trigger operation) land in work_queue and
	// ride the ordinary dispatch path any running cmd/scheduler
	// replica services. A dead-letter Retry (§4.7) is different: it is
	// an administrative override of the normal capacity walk, so it
	// needs its own small worker pool right here rather than depending
	// on a scheduler replica being up to notice a queue row that was
	// never written.
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
	hook := alert.NewHook(dc, []alert.Config{}, senders, prom, logger, hookOpts...)
	exec := executor.New(dc, workflowReg, hook, prom, logger)

	tasks := taskserver.NewPool(taskserver.PoolConfig{
		Concurrency:   2,
		ShutdownGrace: 5 * time.Second,
	}, exec.Handler, logger)
	defer tasks.Shutdown()

	router := httpapi.NewRouter(pool, dc, workflowReg, tasks, promReg, cfg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("triggerapi.start", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("triggerapi.server_failed", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("triggerapi.shutdown_signal_received")

	shutdownCtx, cancelFunc := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFunc()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("triggerapi.graceful_shutdown_failed", "err", err)
		_ = srv.Close()
	} else {
		logger.Info("triggerapi.stopped_gracefully")
	}
}
