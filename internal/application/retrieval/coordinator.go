package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"z-novel-writer/internal/workflow/chain"
	wfmodel "z-novel-writer/internal/workflow/model"
	"z-novel-writer/pkg/logger"
	"z-novel-writer/pkg/metrics"
)

// Retriever 单分区检索能力，KnowledgeRetriever 是其实现
type Retriever interface {
	Invoke(ctx context.Context, queries []string) (string, error)
	Update(ctx context.Context) error
}

// Extractor 查询提取阶段
type Extractor interface {
	Extract(ctx context.Context, in chain.ExtractInput) (wfmodel.QueryBuckets, error)
}

// Coordinator 把五类查询并发分派到对应分区，等待全部返回后聚合。
// 单个用途失败只降级为空串，不影响其他用途。
type Coordinator struct {
	retrievers map[wfmodel.Partition]Retriever
}

func NewCoordinator(project, knowledge, narrative Retriever) *Coordinator {
	return &Coordinator{retrievers: map[wfmodel.Partition]Retriever{
		wfmodel.PartitionProject:   project,
		wfmodel.PartitionKnowledge: knowledge,
		wfmodel.PartitionNarrative: narrative,
	}}
}

// Retrieve 总是返回五个字段；取消时尚未返回的用途为空串，返回前所有任务均已结束
func (c *Coordinator) Retrieve(ctx context.Context, q wfmodel.QueryBuckets) wfmodel.RetrievalResult {
	q = q.Normalize()
	start := time.Now()

	logger.Debug(ctx, "retrieval dispatching", "state", "dispatching", "tasks", len(wfmodel.Purposes))
	texts := make([]string, len(wfmodel.Purposes))
	var g errgroup.Group
	for i, p := range wfmodel.Purposes {
		g.Go(func() error {
			text, err := c.retrieveOne(ctx, p, q.For(p))
			if err != nil {
				status := "error"
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					status = "canceled"
				}
				metrics.RetrievalTaskTotal.WithLabelValues(string(p), status).Inc()
				logger.Warn(ctx, "retrieval task failed, degrade to empty",
					"purpose", string(p),
					"partition", string(wfmodel.PartitionFor(p)),
					"error", err.Error(),
				)
				return nil
			}
			metrics.RetrievalTaskTotal.WithLabelValues(string(p), "success").Inc()
			texts[i] = text
			return nil
		})
	}

	logger.Debug(ctx, "retrieval awaiting", "state", "awaiting_all")
	_ = g.Wait()

	var res wfmodel.RetrievalResult
	for i, p := range wfmodel.Purposes {
		res = res.With(p, texts[i])
	}
	logger.Debug(ctx, "retrieval aggregated", "state", "aggregated", "elapsed", time.Since(start).String())
	return res
}

func (c *Coordinator) retrieveOne(ctx context.Context, p wfmodel.Purpose, queries []string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("retriever panic: %v", r)
		}
	}()
	r := c.retrievers[wfmodel.PartitionFor(p)]
	if r == nil {
		if len(queries) == 0 {
			return "", nil
		}
		return "", ErrVectorDisabled
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return r.Invoke(ctx, queries)
}

// ExtractAndRetrieve 先提取查询再检索；提取失败直接返回
func (c *Coordinator) ExtractAndRetrieve(ctx context.Context, extractor Extractor, in chain.ExtractInput) (wfmodel.QueryBuckets, wfmodel.RetrievalResult, error) {
	q, err := extractor.Extract(ctx, in)
	if err != nil {
		return wfmodel.QueryBuckets{}.Normalize(), wfmodel.RetrievalResult{}, err
	}
	return q, c.Retrieve(ctx, q), nil
}

// UpdateAll 依次重建三个分区的索引
func (c *Coordinator) UpdateAll(ctx context.Context) error {
	var errs []error
	for _, p := range []wfmodel.Partition{wfmodel.PartitionProject, wfmodel.PartitionKnowledge, wfmodel.PartitionNarrative} {
		r := c.retrievers[p]
		if r == nil {
			continue
		}
		if err := r.Update(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
