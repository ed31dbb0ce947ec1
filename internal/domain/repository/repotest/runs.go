// Package repotest 提供仓储接口的进程内实现，供上层测试使用
package repotest

import (
	"context"
	"sort"
	"sync"

	"z-novel-writer/internal/domain/entity"
	"z-novel-writer/internal/domain/repository"
)

// MemoryRuns 进程内 RunRepository，读写都按值拷贝
type MemoryRuns struct {
	mu       sync.Mutex
	runs     map[string]entity.Run
	order    []string
	chapters map[string]map[int]entity.RunChapter
	progress []float64

	// CreateErr/UpdateErr 非空时对应写操作直接失败
	CreateErr error
	UpdateErr error
}

func NewMemoryRuns() *MemoryRuns {
	return &MemoryRuns{runs: map[string]entity.Run{}, chapters: map[string]map[int]entity.RunChapter{}}
}

func (m *MemoryRuns) Create(_ context.Context, run *entity.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if _, ok := m.runs[run.ID]; !ok {
		m.order = append(m.order, run.ID)
	}
	m.runs[run.ID] = *run
	return nil
}

func (m *MemoryRuns) GetByID(_ context.Context, id string) (*entity.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, nil
	}
	return &run, nil
}

func (m *MemoryRuns) Update(_ context.Context, run *entity.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.runs[run.ID] = *run
	return nil
}

func (m *MemoryRuns) UpdateProgress(_ context.Context, id string, progress float64, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.runs[id]
	run.Progress = progress
	run.StatusMessage = message
	m.runs[id] = run
	m.progress = append(m.progress, progress)
	return nil
}

// List 按创建顺序倒序分页，status 为空时不过滤
func (m *MemoryRuns) List(_ context.Context, status entity.RunStatus, p repository.Pagination) (*repository.PagedResult[*entity.Run], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*entity.Run
	for i := len(m.order) - 1; i >= 0; i-- {
		run := m.runs[m.order[i]]
		if status != "" && run.Status != status {
			continue
		}
		matched = append(matched, &run)
	}
	total := int64(len(matched))
	start := min(p.Offset(), len(matched))
	end := min(start+p.Limit(), len(matched))
	return repository.NewPagedResult(matched[start:end], total, p), nil
}

func (m *MemoryRuns) SaveChapter(_ context.Context, ch *entity.RunChapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chapters[ch.RunID] == nil {
		m.chapters[ch.RunID] = map[int]entity.RunChapter{}
	}
	m.chapters[ch.RunID][ch.Index] = *ch
	return nil
}

func (m *MemoryRuns) ListChapters(_ context.Context, runID string) ([]*entity.RunChapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entity.RunChapter, 0, len(m.chapters[runID]))
	for _, ch := range m.chapters[runID] {
		ch := ch
		out = append(out, &ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// ProgressWrites 返回 UpdateProgress 写入过的进度序列
func (m *MemoryRuns) ProgressWrites() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.progress...)
}

// NoTx 直接执行回调的 Transactor
type NoTx struct{}

func (NoTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
