package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync"

	wfmodel "z-novel-writer/internal/workflow/model"
	wfnode "z-novel-writer/internal/workflow/node"
	"z-novel-writer/pkg/logger"
	"z-novel-writer/pkg/metrics"
)

const (
	defaultRetrieverTopK = 1
	defaultSearchPool    = 5
)

// RetrieverConfig 单个知识分区的检索配置
type RetrieverConfig struct {
	Partition wfmodel.Partition
	// Dir 分区文档目录，Update 时重新读取
	Dir string
	// TopK 每个查询变体最终保留的片段数
	TopK int
	// PoolK 重排前的召回数量
	PoolK int
}

// RetrieverOption 可选组件
type RetrieverOption func(*KnowledgeRetriever)

// WithExpander 启用查询改写
func WithExpander(e QueryExpander) RetrieverOption {
	return func(r *KnowledgeRetriever) { r.expander = e }
}

// WithReranker 启用重排
func WithReranker(rr Reranker) RetrieverOption {
	return func(r *KnowledgeRetriever) { r.reranker = rr }
}

// WithInvalidator 索引重建后执行（例如清理检索缓存）
func WithInvalidator(fn func(ctx context.Context, partition wfmodel.Partition) error) RetrieverOption {
	return func(r *KnowledgeRetriever) { r.invalidate = fn }
}

// KnowledgeRetriever 单分区检索器：查询改写、检索、重排、按内容去重后拼接。
// 同一实例上 Update 与 Invoke 互斥，Invoke 之间可并发。
type KnowledgeRetriever struct {
	cfg        RetrieverConfig
	searcher   PassageSearcher
	indexer    *Indexer
	expander   QueryExpander
	reranker   Reranker
	invalidate func(ctx context.Context, partition wfmodel.Partition) error

	mu sync.RWMutex
}

func NewKnowledgeRetriever(cfg RetrieverConfig, searcher PassageSearcher, indexer *Indexer, opts ...RetrieverOption) *KnowledgeRetriever {
	if cfg.TopK <= 0 {
		cfg.TopK = defaultRetrieverTopK
	}
	if cfg.PoolK < cfg.TopK {
		cfg.PoolK = defaultSearchPool
		if cfg.PoolK < cfg.TopK {
			cfg.PoolK = cfg.TopK
		}
	}
	r := &KnowledgeRetriever{cfg: cfg, searcher: searcher, indexer: indexer}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *KnowledgeRetriever) Partition() wfmodel.Partition { return r.cfg.Partition }

// Invoke 返回去重后以空行拼接的片段文本；无查询时不访问后端
func (r *KnowledgeRetriever) Invoke(ctx context.Context, queries []string) (string, error) {
	queries = wfnode.NormalizeQueries(queries)
	if len(queries) == 0 {
		return "", nil
	}
	if r.searcher == nil {
		return "", ErrVectorDisabled
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	passages := make([]string, 0, len(queries)*r.cfg.TopK)
	for _, q := range queries {
		variants, err := r.variants(ctx, q)
		if err != nil {
			return "", err
		}
		for _, v := range variants {
			hits, err := r.searcher.Search(ctx, r.cfg.Partition, v, r.cfg.PoolK)
			if err != nil {
				return "", fmt.Errorf("search %s: %w", r.cfg.Partition, err)
			}
			if r.reranker != nil {
				hits = r.reranker.Rerank(v, hits)
			}
			if len(hits) > r.cfg.TopK {
				hits = hits[:r.cfg.TopK]
			}
			for _, h := range hits {
				text := strings.TrimSpace(h.Text)
				if text == "" {
					continue
				}
				if _, ok := seen[text]; ok {
					continue
				}
				seen[text] = struct{}{}
				passages = append(passages, text)
			}
		}
	}
	return strings.Join(passages, "\n\n"), nil
}

// variants 原查询在前；改写失败只记录日志，仍使用原查询
func (r *KnowledgeRetriever) variants(ctx context.Context, q string) ([]string, error) {
	if r.expander == nil {
		return []string{q}, nil
	}
	expanded, err := r.expander.Expand(ctx, q)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		metrics.QueryExpansionTotal.WithLabelValues("error").Inc()
		logger.Warn(ctx, "query expansion failed, using original query",
			"partition", string(r.cfg.Partition),
			"query", q,
			"error", err.Error(),
		)
		return []string{q}, nil
	}
	metrics.QueryExpansionTotal.WithLabelValues("success").Inc()
	return wfnode.NormalizeQueries(append([]string{q}, expanded...)), nil
}

// Update 重新索引分区目录，期间阻塞本实例的 Invoke
func (r *KnowledgeRetriever) Update(ctx context.Context) error {
	if r.indexer == nil {
		return ErrVectorDisabled
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.indexer.IndexDir(ctx, r.cfg.Partition, r.cfg.Dir); err != nil {
		return fmt.Errorf("reindex %s: %w", r.cfg.Partition, err)
	}
	if r.invalidate != nil {
		if err := r.invalidate(ctx, r.cfg.Partition); err != nil {
			logger.Warn(ctx, "invalidate search cache failed", "partition", string(r.cfg.Partition), "error", err.Error())
		}
	}
	return nil
}
