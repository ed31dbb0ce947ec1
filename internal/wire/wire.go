//go:build wireinject
// +build wireinject

// Package wire 提供依赖注入配置
package wire

import (
	"context"

	"github.com/google/wire"

	"z-novel-writer/internal/config"
	"z-novel-writer/internal/infrastructure/llm"
	"z-novel-writer/internal/interfaces/http/router"
)

// InitializePipeline 仅生成流水线（novel-cli 使用）
func InitializePipeline(ctx context.Context, cfg *config.Config) (*Pipeline, func(), error) {
	wire.Build(
		RedisSet,
		PipelineSet,
	)
	return nil, nil, nil
}

// InitializeApp 初始化 API 网关（带路由器）
func InitializeApp(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	wire.Build(
		DataSet,
		PipelineSet,
		ProvideRunner,
		ProvideHealthHandler,
		ProvideHandlers,
		router.New,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}

// InitializeWorker 初始化 job-worker
func InitializeWorker(ctx context.Context, cfg *config.Config) (*Worker, func(), error) {
	wire.Build(
		DataSet,
		PipelineSet,
		ProvideRunner,
		ProvideMessagingConsumer,
		wire.Struct(new(Worker), "*"),
	)
	return nil, nil, nil
}

// InitializePostgresOnly 仅初始化 PostgreSQL（bootstrap 使用）
func InitializePostgresOnly(ctx context.Context, cfg *config.Config) (*Maintenance, func(), error) {
	wire.Build(
		ProvidePostgresClient,
		ProvideRunRepository,
		ProvideTransactor,
		wire.Struct(new(Maintenance), "*"),
	)
	return nil, nil, nil
}

// RedisSet Redis 提供者集合
var RedisSet = wire.NewSet(
	ProvideRedisClient,
	ProvideCache,
)

// DataSet 数据层提供者集合
var DataSet = wire.NewSet(
	ProvidePostgresClient,
	ProvideRunRepository,
	RedisSet,
	ProvideRateLimiter,
	ProvideMessagingProducer,
	wire.Struct(new(DataLayer), "*"),
)

// PipelineSet 生成流水线提供者集合
var PipelineSet = wire.NewSet(
	llm.NewEinoFactory,
	ProvideChainDeps,
	ProvideEmbedder,
	ProvideMilvusClient,
	ProvideVectorStore,
	ProvideQueryRewriter,
	ProvideKnowledge,
	ProvideWorkflow,
	wire.Struct(new(Pipeline), "*"),
)
