// Package main 异步任务执行器入口（job-worker）
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"z-novel-writer/internal/config"
	"z-novel-writer/internal/infrastructure/messaging"
	einoobs "z-novel-writer/internal/observability/eino"
	"z-novel-writer/internal/wire"
	"z-novel-writer/pkg/logger"
	"z-novel-writer/pkg/tracer"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "job-worker",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()

	einoobs.Init()

	worker, cleanup, err := wire.InitializeWorker(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize worker", err)
	}
	defer cleanup()
	if worker.Runner == nil {
		logger.Fatal(ctx, "job-worker requires postgres", fmt.Errorf("database.postgres.enabled is false"))
	}

	if cfg.NeedsStartupReindex() {
		if err := worker.Workflow.UpdateKnowledge(ctx); err != nil {
			logger.Error(ctx, "reindex on start failed", err)
		}
	}

	worker.Consumer.RegisterHandler(messaging.MessageTypeNovelGen, novelJobHandler(worker.Runs, worker.Runner))

	if err := worker.Consumer.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start consumer", err)
	}

	log := logger.FromContext(ctx)
	log.Info("job-worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("job-worker shutting down")
	// 先取消正在执行的任务，未确认的消息留在 pending 中由下次启动重投
	stop()
	worker.Consumer.Stop()
}
