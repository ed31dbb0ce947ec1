package repository

import (
	"context"

	"z-novel-writer/internal/domain/entity"
)

// RunRepository 生成任务仓储
type RunRepository interface {
	Create(ctx context.Context, run *entity.Run) error
	// GetByID 不存在时返回 nil, nil
	GetByID(ctx context.Context, id string) (*entity.Run, error)
	Update(ctx context.Context, run *entity.Run) error
	// UpdateProgress 只更新进度与状态文本，高频调用
	UpdateProgress(ctx context.Context, id string, progress float64, message string) error
	List(ctx context.Context, status entity.RunStatus, pagination Pagination) (*PagedResult[*entity.Run], error)

	// SaveChapter 按 (run_id, index) 覆盖写入
	SaveChapter(ctx context.Context, chapter *entity.RunChapter) error
	ListChapters(ctx context.Context, runID string) ([]*entity.RunChapter, error)
}
