package retrieval

import (
	"context"
	"math"
	"sort"
	"sync"

	wfmodel "z-novel-writer/internal/workflow/model"
)

// MemoryStore 进程内向量存储（余弦相似度暴力检索），用于本地运行与测试
type MemoryStore struct {
	mu         sync.RWMutex
	partitions map[wfmodel.Partition][]Passage
}

var _ VectorStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{partitions: make(map[wfmodel.Partition][]Passage)}
}

func (s *MemoryStore) Ensure(context.Context) error { return nil }

func (s *MemoryStore) Replace(_ context.Context, partition wfmodel.Partition, passages []Passage) error {
	cp := make([]Passage, len(passages))
	copy(cp, passages)
	s.mu.Lock()
	s.partitions[partition] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, partition wfmodel.Partition, vector []float32, topK int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	passages := s.partitions[partition]
	s.mu.RUnlock()

	hits := make([]Hit, 0, len(passages))
	for _, p := range passages {
		hits = append(hits, Hit{ID: p.ID, Source: p.Source, Text: p.Text, Score: cosine(vector, p.Vector)})
	}
	// 分数相同按 ID 排序，保证结果稳定
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Len 分区片段数
func (s *MemoryStore) Len(partition wfmodel.Partition) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.partitions[partition])
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
