// Package main 一次性运维入口：建表、回收中断的任务、重建知识库索引
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"z-novel-writer/internal/application/story"
	"z-novel-writer/internal/config"
	"z-novel-writer/internal/wire"
	"z-novel-writer/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	fmt.Println("Starting system bootstrap...")

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	ctx := context.Background()

	// 2. PostgreSQL：建表并回收上次异常退出时残留的 running 任务
	if cfg.Database.Postgres.Enabled {
		m, cleanup, err := wire.InitializePostgresOnly(ctx, cfg)
		if err != nil {
			log.Fatalf("failed to initialize data layer: %v", err)
		}
		defer cleanup()

		if err := m.PgClient.Migrate(ctx); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
		fmt.Println("Schema migrated.")

		n, err := story.RecoverInterrupted(ctx, m.Tx, m.Runs)
		if err != nil {
			log.Fatalf("failed to recover interrupted runs: %v", err)
		}
		fmt.Printf("Recovered %d interrupted run(s).\n", n)
	} else {
		fmt.Println("PostgreSQL disabled, skipping schema migration.")
	}

	// 3. 重建三类知识库索引
	pipeline, cleanupPipeline, err := wire.InitializePipeline(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize pipeline: %v", err)
	}
	defer cleanupPipeline()

	start := time.Now()
	if err := pipeline.Workflow.UpdateKnowledge(ctx); err != nil {
		log.Fatalf("failed to reindex knowledge: %v", err)
	}
	fmt.Printf("Knowledge reindexed in %s.\n", time.Since(start).Round(time.Millisecond))

	fmt.Println("Bootstrap completed.")
}
