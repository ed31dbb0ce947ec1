package retrieval

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/embedding"

	wfmodel "z-novel-writer/internal/workflow/model"
)

// VectorStore 定义应用层对向量存储的最小依赖（port），每个知识分区相互隔离。
// 由基础设施层提供具体实现（Milvus 或进程内存储）。
type VectorStore interface {
	Ensure(ctx context.Context) error
	Search(ctx context.Context, partition wfmodel.Partition, vector []float32, topK int) ([]Hit, error)
	// Replace 用给定段落整体替换分区内容
	Replace(ctx context.Context, partition wfmodel.Partition, passages []Passage) error
}

// Embedder 文本向量化，直接复用 eino 的组件接口
type Embedder = embedding.Embedder

// Passage 入库的文档片段
type Passage struct {
	ID      string
	Source  string
	Ordinal int
	Text    string
	Vector  []float32
}

// Hit 检索命中
type Hit struct {
	ID     string  `json:"id"`
	Source string  `json:"source"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}

// SearchCache 检索结果的读穿缓存（可选）
type SearchCache interface {
	GetOrLoadSafe(ctx context.Context, key string, ttl time.Duration, loader func() (interface{}, error)) ([]byte, error)
}

// QueryExpander 把一条查询改写为若干变体（可选）
type QueryExpander interface {
	Expand(ctx context.Context, query string) ([]string, error)
}

// Reranker 在截断前对命中重新排序（可选）
type Reranker interface {
	Rerank(query string, hits []Hit) []Hit
}
