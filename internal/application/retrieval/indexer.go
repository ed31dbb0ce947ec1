package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	wfmodel "z-novel-writer/internal/workflow/model"
	"z-novel-writer/pkg/logger"
)

const (
	defaultChunkSizeRunes    = 200
	defaultChunkOverlapRunes = 20
	defaultEmbeddingBatch    = 32
)

// passageNamespace 片段 ID 的 uuid v5 命名空间
var passageNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("z-novel-writer/passage"))

// Indexer 读取分区目录、切片、向量化并整体替换分区内容。
// 片段 ID 由分区、来源、序号与内容哈希确定，重复索引同一批文档结果一致。
type Indexer struct {
	embedder Embedder
	store    VectorStore

	embeddingBatchSize int
	chunkSizeRunes     int
	chunkOverlapRunes  int
}

// IndexerOption 可选参数
type IndexerOption func(*Indexer)

func WithChunking(sizeRunes, overlapRunes int) IndexerOption {
	return func(i *Indexer) {
		if sizeRunes > 0 {
			i.chunkSizeRunes = sizeRunes
		}
		if overlapRunes >= 0 {
			i.chunkOverlapRunes = overlapRunes
		}
	}
}

func WithEmbeddingBatch(n int) IndexerOption {
	return func(i *Indexer) {
		if n > 0 {
			i.embeddingBatchSize = n
		}
	}
}

func NewIndexer(embedder Embedder, store VectorStore, opts ...IndexerOption) *Indexer {
	i := &Indexer{
		embedder:           embedder,
		store:              store,
		embeddingBatchSize: defaultEmbeddingBatch,
		chunkSizeRunes:     defaultChunkSizeRunes,
		chunkOverlapRunes:  defaultChunkOverlapRunes,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Indexer) Enabled() bool {
	return i != nil && i.embedder != nil && i.store != nil
}

// IndexDir 重建分区索引，返回写入的片段数
func (i *Indexer) IndexDir(ctx context.Context, partition wfmodel.Partition, dir string) (int, error) {
	if !i.Enabled() {
		return 0, ErrVectorDisabled
	}
	docs, err := LoadDocuments(ctx, dir)
	if err != nil {
		return 0, err
	}
	return i.IndexDocuments(ctx, partition, docs)
}

// IndexDocuments 对给定文档重建分区索引；文档为空时清空分区
func (i *Indexer) IndexDocuments(ctx context.Context, partition wfmodel.Partition, docs []Document) (int, error) {
	if !i.Enabled() {
		return 0, ErrVectorDisabled
	}
	if err := i.store.Ensure(ctx); err != nil {
		return 0, err
	}
	start := time.Now()

	passages := make([]Passage, 0, len(docs)*4)
	texts := make([]string, 0, len(docs)*4)
	for _, doc := range docs {
		for ord, chunk := range splitText(doc.Text, i.chunkSizeRunes, i.chunkOverlapRunes) {
			passages = append(passages, Passage{
				ID:      PassageID(partition, doc.Source, ord, chunk),
				Source:  doc.Source,
				Ordinal: ord,
				Text:    chunk,
			})
			texts = append(texts, chunk)
		}
	}

	if len(passages) > 0 {
		vectors, err := i.embedBatch(ctx, texts)
		if err != nil {
			return 0, err
		}
		if len(vectors) != len(passages) {
			return 0, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(passages))
		}
		for idx := range passages {
			passages[idx].Vector = vectors[idx]
		}
	}

	if err := i.store.Replace(ctx, partition, passages); err != nil {
		return 0, err
	}
	logger.Info(ctx, "partition indexed",
		"partition", string(partition),
		"documents", len(docs),
		"passages", len(passages),
		"elapsed", time.Since(start).String(),
	)
	return len(passages), nil
}

// PassageID 确定性片段 ID（uuid v5）
func PassageID(partition wfmodel.Partition, source string, ordinal int, text string) string {
	sum := sha256.Sum256([]byte(text))
	name := strings.Join([]string{string(partition), source, strconv.Itoa(ordinal), hex.EncodeToString(sum[:8])}, "|")
	return uuid.NewSHA1(passageNamespace, []byte(name)).String()
}

func (i *Indexer) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += i.embeddingBatchSize {
		end := start + i.embeddingBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		v64, err := i.embedder.EmbedStrings(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed passages: %w", err)
		}
		for _, vec := range v64 {
			out = append(out, toFloat32(vec))
		}
	}
	return out, nil
}

func toFloat32(vec []float64) []float32 {
	out := make([]float32, len(vec))
	for i, x := range vec {
		out[i] = float32(x)
	}
	return out
}
