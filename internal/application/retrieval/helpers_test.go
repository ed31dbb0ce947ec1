package retrieval

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cloudwego/eino/components/embedding"

	wfmodel "z-novel-writer/internal/workflow/model"
)

// bigramEmbedder 按字符二元组哈希到固定维度，文本相近则向量相近
type bigramEmbedder struct {
	calls atomic.Int32
}

func (e *bigramEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.calls.Add(1)
	out := make([][]float64, len(texts))
	for i, t := range texts {
		vec := make([]float64, 64)
		r := []rune(strings.TrimSpace(t))
		for j := 0; j+1 < len(r); j++ {
			h := fnv.New32a()
			_, _ = h.Write([]byte(string(r[j : j+2])))
			vec[h.Sum32()%64]++
		}
		out[i] = vec
	}
	return out, nil
}

// stubSearcher 按查询文本返回预置命中
type stubSearcher struct {
	mu      sync.Mutex
	hits    map[string][]Hit
	err     error
	queries []string
}

func (s *stubSearcher) Search(ctx context.Context, _ wfmodel.Partition, query string, topK int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	hits := s.hits[query]
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *stubSearcher) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}
