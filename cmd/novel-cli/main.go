// Package main 命令行入口：大纲、细纲、正文生成与知识库重建
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"z-novel-writer/internal/config"
	einoobs "z-novel-writer/internal/observability/eino"
	"z-novel-writer/internal/wire"
	"z-novel-writer/pkg/logger"
)

var (
	// 全局参数
	verbose bool
	timeout time.Duration

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "novel-cli",
	Short: "Long-form fiction generation pipeline",
	Long: `novel-cli 按 大纲 → 细纲 → 正文 的顺序生成长篇小说。

各命令的输入输出均为 YAML，可以用管道串联：
  novel-cli outlines -i brief.yaml | novel-cli detail -i -
  novel-cli outlines -i brief.yaml -o outlines.yaml && novel-cli write -i outlines.yaml

日志写到 stderr，结果写到 stdout 或 --output 指定的文件。`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded

		level := cfg.Observability.Logging.Level
		if verbose {
			level = "debug"
		}
		logger.InitWithWriter(os.Stderr, level, cfg.Observability.Logging.Format)
		einoobs.Init()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Overall timeout (0 means none)")

	rootCmd.AddCommand(outlinesCmd)
	rootCmd.AddCommand(detailCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(reindexCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// commandContext Ctrl-C 取消生成；设置了 --timeout 时叠加超时
func commandContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// withPipeline 初始化流水线并在结束后释放；reindex 为真或向量库不持久化时先重建索引
func withPipeline(reindex bool, fn func(ctx context.Context, p *wire.Pipeline) error) error {
	ctx, cancel := commandContext()
	defer cancel()

	p, cleanup, err := wire.InitializePipeline(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize pipeline: %w", err)
	}
	defer cleanup()

	if reindex || cfg.NeedsStartupReindex() {
		if err := p.Workflow.UpdateKnowledge(ctx); err != nil {
			return fmt.Errorf("reindex knowledge: %w", err)
		}
	}
	return fn(ctx, p)
}
