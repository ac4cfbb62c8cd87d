package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"TourCheckin/config"
	"TourCheckin/internal/schedule"
	"TourCheckin/internal/service"
	"TourCheckin/pkg/logger"
	"TourCheckin/pkg/metrics"
	pkgotel "TourCheckin/pkg/otel"
	"TourCheckin/pkg/snowflake"
	"TourCheckin/storage"
)

func main() {
	// -run 只执行一次指定任务后退出，用于补跑
	runOnce := flag.String("run", "", "run a single job once and exit (auto_check_in, auto_mark_missed, activity_status_refresh, daily_rollup)")
	flag.Parse()

	logger.Init()
	defer logger.Sync()

	if err := config.Cfg.Validate(); err != nil {
		logger.Logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Logger.Info("Scheduler received shutdown signal",
			zap.String("signal", sig.String()),
		)
		cancel()
	}()

	if config.Cfg.OTelEnabled {
		shutdown, err := pkgotel.InitOpenTelemetry(ctx, pkgotel.Config{
			ServiceName:    config.Cfg.ServiceName + "-scheduler",
			ServiceVersion: config.Cfg.ServiceVersion,
			Environment:    config.Cfg.Environment,
			OTLPEndpoint:   config.Cfg.OTelEndpoint,
			SampleRatio:    config.Cfg.OTelSampleRatio,
		})
		if err != nil {
			logger.Logger.Warn("Failed to initialize OpenTelemetry, continuing without export", zap.Error(err))
		} else {
			defer func() {
				flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer flushCancel()
				_ = shutdown(flushCtx)
			}()
			if err := metrics.InitMetrics(); err != nil {
				logger.Logger.Warn("Failed to initialize business metrics", zap.Error(err))
			}
		}
	}

	if err := storage.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize storage for scheduler", zap.Error(err))
	}
	defer storage.Close()

	if err := snowflake.Init(config.Cfg.SnowflakeMachineID, config.Cfg.SnowflakeDataCenter); err != nil {
		logger.Logger.Fatal("Failed to initialize snowflake for scheduler", zap.Error(err))
	}

	s := schedule.New(
		logger.Named("scheduler"),
		service.Location(),
		schedule.Jobs(config.Cfg, service.CheckIn(), service.Activity(), service.Rollup())...,
	)

	if *runOnce != "" {
		if err := s.Trigger(ctx, *runOnce); err != nil {
			logger.Logger.Error("Job run failed", zap.String("job", *runOnce), zap.Error(err))
			os.Exit(1)
		}
		return
	}

	logger.Logger.Info("Scheduler service starting",
		zap.String("service", config.Cfg.ServiceName+"-scheduler"),
		zap.String("environment", config.Cfg.Environment),
		zap.String("timezone", config.Cfg.AppTimezone),
	)

	if err := s.Start(ctx); err != nil {
		logger.Logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	<-ctx.Done()
	s.Stop()

	logger.Logger.Info("Scheduler service shutting down gracefully")
}
