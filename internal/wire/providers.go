package wire

import (
	"context"
	"fmt"
	"os"
	"strings"

	einoembedding "github.com/cloudwego/eino/components/embedding"

	"z-novel-writer/internal/application/retrieval"
	"z-novel-writer/internal/application/story"
	"z-novel-writer/internal/config"
	"z-novel-writer/internal/domain/repository"
	infraembedding "z-novel-writer/internal/infrastructure/embedding"
	"z-novel-writer/internal/infrastructure/llm"
	"z-novel-writer/internal/infrastructure/messaging"
	"z-novel-writer/internal/infrastructure/persistence/milvus"
	"z-novel-writer/internal/infrastructure/persistence/postgres"
	"z-novel-writer/internal/infrastructure/persistence/redis"
	"z-novel-writer/internal/interfaces/http/handler"
	"z-novel-writer/internal/interfaces/http/router"
	"z-novel-writer/internal/workflow/chain"
	wfmodel "z-novel-writer/internal/workflow/model"
	workflowprompt "z-novel-writer/internal/workflow/prompt"
	"z-novel-writer/pkg/logger"
)

// Pipeline 生成流水线：工作流及其知识库
type Pipeline struct {
	Workflow  *story.Workflow
	Knowledge *retrieval.Coordinator
}

// App API 网关：路由器与启动时重建知识库用的工作流
type App struct {
	Router   *router.Router
	Workflow *story.Workflow
}

// Maintenance 运维入口（bootstrap）用到的 PostgreSQL 组件
type Maintenance struct {
	PgClient *postgres.Client
	Runs     repository.RunRepository
	Tx       repository.Transactor
}

// DataLayer 数据层依赖容器，未启用的组件为 nil
type DataLayer struct {
	PgClient    *postgres.Client
	Runs        repository.RunRepository
	RedisClient *redis.Client
	Cache       *redis.Cache
	RateLimiter *redis.RateLimiter
	Producer    *messaging.Producer
}

// Worker job-worker 依赖
type Worker struct {
	Consumer *messaging.Consumer
	Workflow *story.Workflow
	Runner   *story.Runner
	Runs     repository.RunRepository
}

// ProvidePostgresClient 提供 PostgreSQL 客户端，未启用时返回 nil
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	if !cfg.Database.Postgres.Enabled {
		return nil, func() {}, nil
	}
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideRunRepository 任务仓储依赖 PostgreSQL
func ProvideRunRepository(client *postgres.Client) repository.RunRepository {
	if client == nil {
		return nil
	}
	return postgres.NewRunRepository(client)
}

// ProvideTransactor 事务管理器依赖 PostgreSQL
func ProvideTransactor(client *postgres.Client) repository.Transactor {
	if client == nil {
		return nil
	}
	return postgres.NewTxManager(client)
}

// ProvideRedisClient 提供 Redis 客户端，未启用时返回 nil
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	if !cfg.Cache.Redis.Enabled {
		return nil, func() {}, nil
	}
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

func ProvideCache(client *redis.Client) *redis.Cache {
	if client == nil {
		return nil
	}
	return redis.NewCache(client)
}

func ProvideRateLimiter(client *redis.Client) *redis.RateLimiter {
	if client == nil {
		return nil
	}
	return redis.NewRateLimiter(client)
}

// ProvideMessagingProducer 提供消息生产者
func ProvideMessagingProducer(client *redis.Client, cfg *config.Config) *messaging.Producer {
	if client == nil {
		return nil
	}
	maxLen := cfg.Messaging.RedisStream.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	return messaging.NewProducer(client.Redis(), int64(maxLen))
}

// ProvideMessagingConsumer job-worker 的消费者组成员，名称取主机名 + 进程号
func ProvideMessagingConsumer(client *redis.Client, cfg *config.Config) (*messaging.Consumer, error) {
	if client == nil {
		return nil, fmt.Errorf("job-worker requires redis (cache.redis.enabled)")
	}
	rs := cfg.Messaging.RedisStream
	return messaging.NewConsumer(client.Redis(), messaging.ConsumerConfig{
		Stream:       messaging.StreamNovelGen,
		Group:        messaging.ConsumerGroupNovelWorker,
		ConsumerName: hostnameConsumerName(),
		BlockTimeout: rs.BlockTimeout,
		RetryLimit:   rs.RetryLimit,
		Backoff: messaging.BackoffConfig{
			Initial:    rs.RetryBackoff.Initial,
			Max:        rs.RetryBackoff.Max,
			Multiplier: rs.RetryBackoff.Multiplier,
		},
	}), nil
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// ProvideEmbedder 向量化不可用时返回 nil，检索降级为空结果
func ProvideEmbedder(ctx context.Context, cfg *config.Config) einoembedding.Embedder {
	embedder, err := infraembedding.NewEinoEmbedder(ctx, &cfg.Embedding)
	if err != nil {
		logger.Warn(ctx, "embedding not available, retrieval disabled", "error", err.Error())
		return nil
	}
	return embedder
}

// ProvideMilvusClient 只有 vector.backend=milvus 时连接
func ProvideMilvusClient(ctx context.Context, cfg *config.Config) (*milvus.Client, func(), error) {
	if !strings.EqualFold(cfg.Vector.Backend, "milvus") {
		return nil, func() {}, nil
	}
	client, err := milvus.NewClient(ctx, &cfg.Vector.Milvus)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideVectorStore milvus 或进程内存储
func ProvideVectorStore(ctx context.Context, cfg *config.Config, client *milvus.Client) (retrieval.VectorStore, error) {
	if client == nil {
		return retrieval.NewMemoryStore(), nil
	}
	repo := milvus.NewPassageRepository(client, cfg.Embedding.Dimension)
	if err := repo.Ensure(ctx); err != nil {
		return nil, fmt.Errorf("ensure milvus collection: %w", err)
	}
	return repo, nil
}

// ProvideChainDeps 所有阶段共用一个模型工厂与模板注册表
func ProvideChainDeps(factory *llm.EinoFactory) chain.Deps {
	return chain.Deps{Factory: factory, Prompts: workflowprompt.NewRegistry()}
}

func stageOptions(cfg *config.Config, role string) chain.Options {
	p := cfg.Pipeline
	opts := chain.Options{
		Provider:       cfg.LLM.ProviderFor(role),
		BackendRetries: p.BackendRetries,
		RepairAttempts: p.RepairAttempts,
	}
	// 提取、缩写与改写是结构化任务，用较低温度
	if role != "main" && p.SpecialTemperature > 0 {
		t := float32(p.SpecialTemperature)
		opts.Temperature = &t
	}
	return opts
}

// ProvideQueryRewriter 查询改写；redis 可用时结果走缓存
func ProvideQueryRewriter(cfg *config.Config, deps chain.Deps, cache *redis.Cache) (retrieval.QueryExpander, error) {
	if !cfg.Pipeline.QueryExpansion {
		return nil, nil
	}
	rewriter, err := chain.NewQueryRewriter(deps, stageOptions(cfg, "rewriter"))
	if err != nil {
		return nil, err
	}
	if cache == nil || cfg.Cache.Redis.SearchTTL <= 0 {
		return rewriter, nil
	}
	return retrieval.NewCachedExpander(rewriter, cache, cfg.Cache.Redis.SearchTTL), nil
}

// ProvideKnowledge 三个分区共用向量化与存储，各自读取自己的文档目录
func ProvideKnowledge(cfg *config.Config, embedder einoembedding.Embedder, store retrieval.VectorStore, cache *redis.Cache, expander retrieval.QueryExpander) *retrieval.Coordinator {
	p := cfg.Pipeline
	indexer := retrieval.NewIndexer(embedder, store,
		retrieval.WithChunking(p.ChunkRunes, p.ChunkOverlap),
		retrieval.WithEmbeddingBatch(cfg.Embedding.BatchSize),
	)
	searcher := retrieval.NewVectorSearcher(embedder, store)

	var opts []retrieval.RetrieverOption
	if cache != nil && cfg.Cache.Redis.SearchTTL > 0 {
		searcher.WithCache(cache, cfg.Cache.Redis.SearchTTL)
		opts = append(opts, retrieval.WithInvalidator(cache.InvalidatePartition))
	}
	if expander != nil {
		opts = append(opts, retrieval.WithExpander(expander))
	}
	opts = append(opts, retrieval.WithReranker(retrieval.KeywordOverlapReranker{}))

	dirs := map[wfmodel.Partition]string{
		wfmodel.PartitionProject:   cfg.Project.ProjectDocs,
		wfmodel.PartitionKnowledge: cfg.Project.KnowledgeDocs,
		wfmodel.PartitionNarrative: cfg.Project.NarrativeDocs,
	}
	newRetriever := func(partition wfmodel.Partition) *retrieval.KnowledgeRetriever {
		return retrieval.NewKnowledgeRetriever(retrieval.RetrieverConfig{
			Partition: partition,
			Dir:       dirs[partition],
			TopK:      p.RetrieverTopK,
			PoolK:     p.SearchTopK,
		}, searcher, indexer, opts...)
	}
	return retrieval.NewCoordinator(
		newRetriever(wfmodel.PartitionProject),
		newRetriever(wfmodel.PartitionKnowledge),
		newRetriever(wfmodel.PartitionNarrative),
	)
}

// ProvideWorkflow 组装各生成阶段
func ProvideWorkflow(cfg *config.Config, deps chain.Deps, knowledge *retrieval.Coordinator) (*story.Workflow, error) {
	extractor, err := chain.NewQueryExtractor(deps, stageOptions(cfg, "extractor"))
	if err != nil {
		return nil, err
	}
	outliner, err := chain.NewOutlineGenerator(deps, stageOptions(cfg, "main"))
	if err != nil {
		return nil, err
	}
	detailer, err := chain.NewDetailedOutlineGenerator(deps, stageOptions(cfg, "main"))
	if err != nil {
		return nil, err
	}
	shortener, err := chain.NewContentShortener(deps, stageOptions(cfg, "shortener"))
	if err != nil {
		return nil, err
	}
	drafter, err := chain.NewChapterDrafter(deps, stageOptions(cfg, "main"))
	if err != nil {
		return nil, err
	}

	p := cfg.Pipeline
	writer := story.NewChapterWriter(drafter, story.WriterConfig{
		MaxAttempts:          p.ChapterMaxAttempts,
		EarlyExitRatio:       p.EarlyExitRatio,
		AnchorRunes:          p.AnchorRunes,
		MinSeamOverlap:       p.MinSeamOverlap,
		MaxContinuationRunes: p.MaxContinuationRunes,
	})
	return story.NewWorkflow(story.Stages{
		Knowledge: knowledge,
		Extractor: extractor,
		Outliner:  outliner,
		Detailer:  detailer,
		Shortener: shortener,
		Writer:    writer,
	}, story.WorkflowConfig{
		DetailedOutlineConcurrency: p.DetailedOutlineConcurrency,
		ChapterRetries:             p.ChapterRetries,
		DynamicRetrieval:           p.DynamicRetrieval,
	}), nil
}

// ProvideRunner 没有任务仓储时返回 nil
func ProvideRunner(workflow *story.Workflow, runs repository.RunRepository) *story.Runner {
	if runs == nil {
		return nil
	}
	return story.NewRunner(workflow, runs)
}

// ProvideHealthHandler postgres/redis 为必需依赖，milvus 失败只降级
func ProvideHealthHandler(cfg *config.Config, pg *postgres.Client, rc *redis.Client, mc *milvus.Client) *handler.HealthHandler {
	deps := []handler.Dependency{
		{Name: "postgres", Required: true},
		{Name: "redis", Required: true},
		{Name: "milvus"},
	}
	// 接口变量不能直接接 nil 指针
	if pg != nil {
		deps[0].Checker = pg
	}
	if rc != nil {
		deps[1].Checker = rc
	}
	if mc != nil {
		deps[2].Checker = mc
	}
	return handler.NewHealthHandler(cfg.App.Version, deps...)
}

// ProvideHandlers 组装路由处理器；缺少依赖的处理器不注册路由
func ProvideHandlers(health *handler.HealthHandler, workflow *story.Workflow, runner *story.Runner, data *DataLayer) router.Handlers {
	h := router.Handlers{
		Health:    health,
		Knowledge: handler.NewKnowledgeHandler(workflow),
	}
	if runner != nil {
		h.Generation = handler.NewGenerationHandler(workflow, runner, data.Runs)
	} else {
		h.Generation = handler.NewGenerationHandler(workflow, nil, nil)
	}
	if data.Runs != nil && data.Producer != nil {
		h.Runs = handler.NewRunHandler(data.Runs, data.Producer)
	}
	if data.RateLimiter != nil {
		h.RateLimiter = data.RateLimiter
		h.RateLimitKey = redis.BuildRateLimitKey
	}
	return h
}
