// Package main runs the reelqueue scheduler and its HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/reelqueue/internal/config"
	"github.com/raphaelgruber/reelqueue/internal/metrics"
	"github.com/raphaelgruber/reelqueue/internal/pipeline"
	"github.com/raphaelgruber/reelqueue/internal/queue"
	"github.com/raphaelgruber/reelqueue/internal/resources"
	"github.com/raphaelgruber/reelqueue/internal/scheduler"
	"github.com/raphaelgruber/reelqueue/internal/server"
)

func main() {
	if err := run(); err != nil {
		slog.Error("reelqueue-server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "", "listen address (overrides REELQUEUE_SERVER_ADDR)")
	stagesFile := flag.String("stages", "", "stage definitions file (overrides REELQUEUE_STAGES_FILE)")
	flag.Parse()

	cfg := config.Load()
	if *addr != "" {
		cfg.ServerAddr = *addr
	}
	if *stagesFile != "" {
		cfg.StagesFile = *stagesFile
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() {
		if err := closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
		}
	}()
	slog.SetDefault(logger)

	stages, err := config.LoadStages(cfg.StagesFile)
	if err != nil {
		return fmt.Errorf("load stages: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom := metrics.NewPrometheus("reelqueue", reg)
	collector := metrics.NewCollector()

	monitor := resources.NewMonitor(resources.NewHostSampler(cfg.DiskPath), resources.MonitorOptions{
		HardCap:  cfg.HardWorkerCap,
		Interval: cfg.SampleInterval,
		Thresholds: resources.Thresholds{
			CPUPercent:    cfg.CPUWarnPercent,
			MemoryPercent: cfg.MemWarnPercent,
			DiskPercent:   cfg.DiskWarnPercent,
		},
		Logger:  logger,
		Metrics: prom,
	})

	executor := pipeline.NewCommandExecutor(stages, pipeline.CommandOptions{Logger: logger})
	runner := pipeline.NewRunner(executor, pipeline.Options{
		OutputSubdir:  cfg.OutputSubdir,
		StageTimeout:  cfg.PerStageTimeout,
		StageTimeouts: stages.Timeouts(),
		Logger:        logger,
		Collector:     collector,
		Metrics:       prom,
	})

	sched := scheduler.New(queue.New(), monitor, runner, scheduler.Options{
		PollInterval:    cfg.PollInterval,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
		Collector:       collector,
		Metrics:         prom,
	})

	httpServer := server.New(sched, server.Options{
		Logger:   logger,
		Gatherer: reg,
	}).HTTPServer(cfg.ServerAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The scheduler outlives the signal context: Stop drains it gracefully.
	if err := sched.Start(context.Background()); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	logger.Info("starting reelqueue-server",
		"addr", cfg.ServerAddr,
		"hard_cap", monitor.HardCap(),
		"stages_file", cfg.StagesFile)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		monitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		// Stop admitting and drain active projects before closing the API so
		// clients can still watch them finish.
		stopErr := sched.Stop()
		if stopErr != nil {
			logger.Warn("scheduler stopped with cancellations", "error", stopErr)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
