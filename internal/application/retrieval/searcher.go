package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	wfmodel "z-novel-writer/internal/workflow/model"
	"z-novel-writer/pkg/logger"
)

// PassageSearcher 在单个分区内按查询文本检索片段
type PassageSearcher interface {
	Search(ctx context.Context, partition wfmodel.Partition, query string, topK int) ([]Hit, error)
}

// VectorSearcher 向量化查询后在向量存储中检索，可选读穿缓存
type VectorSearcher struct {
	embedder Embedder
	store    VectorStore
	cache    SearchCache
	ttl      time.Duration
}

func NewVectorSearcher(embedder Embedder, store VectorStore) *VectorSearcher {
	return &VectorSearcher{embedder: embedder, store: store}
}

// WithCache 启用检索缓存；索引重建后由调用方负责失效
func (s *VectorSearcher) WithCache(cache SearchCache, ttl time.Duration) *VectorSearcher {
	s.cache = cache
	s.ttl = ttl
	return s
}

func (s *VectorSearcher) Search(ctx context.Context, partition wfmodel.Partition, query string, topK int) ([]Hit, error) {
	if s == nil || s.embedder == nil || s.store == nil {
		return nil, ErrVectorDisabled
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}
	if s.cache == nil {
		return s.search(ctx, partition, query, topK)
	}

	raw, err := s.cache.GetOrLoadSafe(ctx, SearchCacheKey(partition, query, topK), s.ttl, func() (interface{}, error) {
		return s.search(ctx, partition, query, topK)
	})
	if err != nil {
		return nil, err
	}
	var hits []Hit
	if err := json.Unmarshal(raw, &hits); err != nil {
		// 缓存内容损坏时直接回源
		logger.Warn(ctx, "search cache decode failed", "partition", string(partition), "error", err.Error())
		return s.search(ctx, partition, query, topK)
	}
	return hits, nil
}

func (s *VectorSearcher) search(ctx context.Context, partition wfmodel.Partition, query string, topK int) ([]Hit, error) {
	v64, err := s.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(v64) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return s.store.Search(ctx, partition, toFloat32(v64[0]), topK)
}

// SearchCacheKeyPrefix 检索缓存键前缀，按分区失效时使用
func SearchCacheKeyPrefix(partition wfmodel.Partition) string {
	return "search:" + string(partition) + ":"
}

// SearchCacheKey 查询文本取哈希，避免键过长
func SearchCacheKey(partition wfmodel.Partition, query string, topK int) string {
	sum := sha256.Sum256([]byte(query))
	return fmt.Sprintf("%s%d:%s", SearchCacheKeyPrefix(partition), topK, hex.EncodeToString(sum[:12]))
}
