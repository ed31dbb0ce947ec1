package milvus

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"z-novel-writer/internal/application/retrieval"
	wfmodel "z-novel-writer/internal/workflow/model"
	"z-novel-writer/pkg/metrics"
)

// insertBatch 单次 Insert 的最大行数
const insertBatch = 256

// PassageRepository 基于 Milvus 的文档片段仓储，实现 retrieval.VectorStore
type PassageRepository struct {
	milvus     client.Client
	collection string
	dim        int
	hnswM      int
	hnswEf     int
}

var _ retrieval.VectorStore = (*PassageRepository)(nil)

// NewPassageRepository 创建片段仓储，dim 为 embedding 维度
func NewPassageRepository(c *Client, dim int) *PassageRepository {
	if dim <= 0 {
		dim = DefaultDimension
	}
	m, ef := c.config.HNSWM, c.config.HNSWEfConstruction
	if m <= 0 {
		m = 16
	}
	if ef <= 0 {
		ef = 256
	}
	return &PassageRepository{
		milvus:     c.milvus,
		collection: c.CollectionName(CollectionPassages),
		dim:        dim,
		hnswM:      m,
		hnswEf:     ef,
	}
}

// Ensure 确保集合、索引与三个分区存在并已加载。
// 不会做 drop/rebuild 等破坏性操作。
func (r *PassageRepository) Ensure(ctx context.Context) error {
	if r == nil || r.milvus == nil {
		return retrieval.ErrVectorDisabled
	}
	ctx, span := tracer.Start(ctx, "milvus.Ensure",
		trace.WithAttributes(attribute.String("collection", r.collection)))
	defer span.End()

	exists, err := r.milvus.HasCollection(ctx, r.collection)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		if err := r.milvus.CreateCollection(ctx, PassagesSchema(r.collection, r.dim), entity.DefaultShardNumber); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to create collection: %w", err)
		}
		idx, err := entity.NewIndexHNSW(entity.COSINE, r.hnswM, r.hnswEf)
		if err != nil {
			return fmt.Errorf("failed to build index: %w", err)
		}
		if err := r.milvus.CreateIndex(ctx, r.collection, fieldVector, idx, false); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	for _, p := range []wfmodel.Partition{wfmodel.PartitionProject, wfmodel.PartitionKnowledge, wfmodel.PartitionNarrative} {
		if err := r.ensurePartition(ctx, PartitionName(p)); err != nil {
			span.RecordError(err)
			return err
		}
	}
	return r.milvus.LoadCollection(ctx, r.collection, false)
}

func (r *PassageRepository) ensurePartition(ctx context.Context, name string) error {
	has, err := r.milvus.HasPartition(ctx, r.collection, name)
	if err != nil {
		return fmt.Errorf("failed to check partition %s: %w", name, err)
	}
	if has {
		return nil
	}
	if err := r.milvus.CreatePartition(ctx, r.collection, name); err != nil {
		return fmt.Errorf("failed to create partition %s: %w", name, err)
	}
	return nil
}

// Replace 清空分区后写入新片段
func (r *PassageRepository) Replace(ctx context.Context, partition wfmodel.Partition, passages []retrieval.Passage) error {
	if r == nil || r.milvus == nil {
		return retrieval.ErrVectorDisabled
	}
	part := PartitionName(partition)
	ctx, span := tracer.Start(ctx, "milvus.Replace",
		trace.WithAttributes(
			attribute.String("partition", part),
			attribute.Int("count", len(passages)),
		))
	defer span.End()

	if err := r.ensurePartition(ctx, part); err != nil {
		span.RecordError(err)
		return err
	}
	if err := r.milvus.Delete(ctx, r.collection, part, fieldID+` != ""`); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to clear partition %s: %w", part, err)
	}

	for start := 0; start < len(passages); start += insertBatch {
		end := min(start+insertBatch, len(passages))
		if err := r.insert(ctx, part, passages[start:end]); err != nil {
			span.RecordError(err)
			return err
		}
	}

	if err := r.milvus.Flush(ctx, r.collection, false); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

func (r *PassageRepository) insert(ctx context.Context, part string, passages []retrieval.Passage) error {
	ids := make([]string, len(passages))
	vectors := make([][]float32, len(passages))
	sources := make([]string, len(passages))
	ordinals := make([]int64, len(passages))
	texts := make([]string, len(passages))
	for i, p := range passages {
		if len(p.Vector) != r.dim {
			return fmt.Errorf("passage %s: vector dim %d, collection dim %d", p.ID, len(p.Vector), r.dim)
		}
		ids[i] = p.ID
		vectors[i] = p.Vector
		sources[i] = p.Source
		ordinals[i] = int64(p.Ordinal)
		texts[i] = p.Text
	}

	_, err := r.milvus.Insert(ctx, r.collection, part,
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnFloatVector(fieldVector, r.dim, vectors),
		entity.NewColumnVarChar(fieldSource, sources),
		entity.NewColumnInt64(fieldOrdinal, ordinals),
		entity.NewColumnVarChar(fieldText, texts),
	)
	if err != nil {
		return fmt.Errorf("failed to insert passages: %w", err)
	}
	return nil
}

// Search 在单个分区内做 COSINE 检索
func (r *PassageRepository) Search(ctx context.Context, partition wfmodel.Partition, vector []float32, topK int) ([]retrieval.Hit, error) {
	if r == nil || r.milvus == nil {
		return nil, retrieval.ErrVectorDisabled
	}
	part := PartitionName(partition)
	ctx, span := tracer.Start(ctx, "milvus.Search",
		trace.WithAttributes(
			attribute.String("partition", part),
			attribute.Int("top_k", topK),
		))
	defer span.End()

	start := time.Now()
	hits, err := r.search(ctx, part, vector, topK)
	metrics.MilvusSearchDuration.WithLabelValues(string(partition)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.MilvusSearchTotal.WithLabelValues(string(partition), "error").Inc()
		span.RecordError(err)
		return nil, err
	}
	metrics.MilvusSearchTotal.WithLabelValues(string(partition), "success").Inc()
	span.SetAttributes(attribute.Int("result_count", len(hits)))
	return hits, nil
}

func (r *PassageRepository) search(ctx context.Context, part string, vector []float32, topK int) ([]retrieval.Hit, error) {
	// 分区尚未建立（从未索引过）时视为空
	if has, err := r.milvus.HasPartition(ctx, r.collection, part); err != nil {
		return nil, fmt.Errorf("failed to check partition: %w", err)
	} else if !has {
		return []retrieval.Hit{}, nil
	}

	sp, err := entity.NewIndexHNSWSearchParam(max(64, topK))
	if err != nil {
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}

	results, err := r.milvus.Search(ctx,
		r.collection,
		[]string{part},
		"",
		[]string{fieldID, fieldSource, fieldText},
		[]entity.Vector{entity.FloatVector(vector)},
		fieldVector,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var hits []retrieval.Hit
	for _, result := range results {
		idCol, _ := result.Fields.GetColumn(fieldID).(*entity.ColumnVarChar)
		srcCol, _ := result.Fields.GetColumn(fieldSource).(*entity.ColumnVarChar)
		textCol, _ := result.Fields.GetColumn(fieldText).(*entity.ColumnVarChar)
		for i := 0; i < result.ResultCount; i++ {
			h := retrieval.Hit{Score: float64(result.Scores[i])}
			if idCol != nil {
				h.ID = idCol.Data()[i]
			}
			if srcCol != nil {
				h.Source = srcCol.Data()[i]
			}
			if textCol != nil {
				h.Text = textCol.Data()[i]
			}
			hits = append(hits, h)
		}
	}
	return hits, nil
}
