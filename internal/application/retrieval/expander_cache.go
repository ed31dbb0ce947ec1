package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// CachedExpander 为查询改写加读穿缓存：同一查询在 ttl 内只调用一次模型
type CachedExpander struct {
	next  QueryExpander
	cache SearchCache
	ttl   time.Duration
}

var _ QueryExpander = (*CachedExpander)(nil)

func NewCachedExpander(next QueryExpander, cache SearchCache, ttl time.Duration) *CachedExpander {
	return &CachedExpander{next: next, cache: cache, ttl: ttl}
}

func (e *CachedExpander) Expand(ctx context.Context, query string) ([]string, error) {
	if e.cache == nil {
		return e.next.Expand(ctx, query)
	}
	raw, err := e.cache.GetOrLoadSafe(ctx, ExpansionCacheKey(query), e.ttl, func() (interface{}, error) {
		return e.next.Expand(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	var variants []string
	if err := json.Unmarshal(raw, &variants); err != nil {
		return e.next.Expand(ctx, query)
	}
	return variants, nil
}

// ExpansionCacheKey 查询改写的缓存键
func ExpansionCacheKey(query string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(query)))
	return "expand:" + hex.EncodeToString(sum[:12])
}
