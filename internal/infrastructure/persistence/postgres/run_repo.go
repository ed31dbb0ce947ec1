package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"z-novel-writer/internal/domain/entity"
	"z-novel-writer/internal/domain/repository"
)

// RunRepository 生成任务仓储实现
type RunRepository struct {
	client *Client
}

var _ repository.RunRepository = (*RunRepository)(nil)

// NewRunRepository 创建生成任务仓储
func NewRunRepository(client *Client) *RunRepository {
	return &RunRepository{client: client}
}

// Create 创建任务
func (r *RunRepository) Create(ctx context.Context, run *entity.Run) error {
	ctx, span := tracer.Start(ctx, "postgres.RunRepository.Create")
	defer span.End()

	if err := getDB(ctx, r.client.db).Create(run).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取任务
func (r *RunRepository) GetByID(ctx context.Context, id string) (*entity.Run, error) {
	ctx, span := tracer.Start(ctx, "postgres.RunRepository.GetByID")
	defer span.End()

	var run entity.Run
	if err := getDB(ctx, r.client.db).First(&run, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// Update 更新任务
func (r *RunRepository) Update(ctx context.Context, run *entity.Run) error {
	ctx, span := tracer.Start(ctx, "postgres.RunRepository.Update")
	defer span.End()

	if err := getDB(ctx, r.client.db).Save(run).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

// UpdateProgress 更新进度
func (r *RunRepository) UpdateProgress(ctx context.Context, id string, progress float64, message string) error {
	ctx, span := tracer.Start(ctx, "postgres.RunRepository.UpdateProgress")
	defer span.End()

	updates := map[string]any{"progress": progress}
	if message != "" {
		updates["status_message"] = message
	}
	if err := getDB(ctx, r.client.db).Model(&entity.Run{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update run progress: %w", err)
	}
	return nil
}

// List 按状态分页列出任务，status 为空表示全部
func (r *RunRepository) List(ctx context.Context, status entity.RunStatus, pagination repository.Pagination) (*repository.PagedResult[*entity.Run], error) {
	ctx, span := tracer.Start(ctx, "postgres.RunRepository.List")
	defer span.End()

	query := getDB(ctx, r.client.db).Model(&entity.Run{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}

	var runs []*entity.Run
	if err := query.Order("created_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&runs).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return repository.NewPagedResult(runs, total, pagination), nil
}

// SaveChapter 写入单章，同一任务同一章节重复写入时覆盖
func (r *RunRepository) SaveChapter(ctx context.Context, chapter *entity.RunChapter) error {
	ctx, span := tracer.Start(ctx, "postgres.RunRepository.SaveChapter")
	defer span.End()

	err := getDB(ctx, r.client.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "chapter_index"}},
		DoUpdates: clause.AssignmentColumns([]string{"outline", "title", "content", "shortfall", "error_message", "updated_at"}),
	}).Create(chapter).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save chapter: %w", err)
	}
	return nil
}

// ListChapters 按章节顺序返回
func (r *RunRepository) ListChapters(ctx context.Context, runID string) ([]*entity.RunChapter, error) {
	ctx, span := tracer.Start(ctx, "postgres.RunRepository.ListChapters")
	defer span.End()

	var chapters []*entity.RunChapter
	if err := getDB(ctx, r.client.db).
		Where("run_id = ?", runID).
		Order("chapter_index ASC").
		Find(&chapters).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list chapters: %w", err)
	}
	return chapters, nil
}
