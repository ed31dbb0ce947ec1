package main

import (
	"context"

	"z-novel-writer/internal/application/story"
	"z-novel-writer/internal/domain/entity"
	"z-novel-writer/internal/domain/repository"
	"z-novel-writer/internal/infrastructure/messaging"
	"z-novel-writer/pkg/logger"
)

type runExecutor interface {
	Execute(ctx context.Context, run *entity.Run, obs story.RunObserver) error
}

// novelJobHandler 返回 nil 即确认消息；返回错误时消息留待重投，超过上限进死信队列
func novelJobHandler(runs repository.RunRepository, exec runExecutor) messaging.MessageHandler {
	return func(ctx context.Context, msg *messaging.Message) error {
		var job messaging.NovelJobMessage
		if err := msg.UnmarshalPayload(&job); err != nil {
			return err
		}
		if job.RequestID != "" {
			ctx = logger.WithContext(ctx, logger.RequestIDKey, job.RequestID)
		}

		run, err := runs.GetByID(ctx, job.RunID)
		if err != nil {
			return err
		}
		if run == nil {
			logger.Warn(ctx, "run not found, dropping job", "run_id", job.RunID)
			return nil
		}
		if run.Status == entity.RunStatusCompleted {
			return nil
		}
		// running/failed 说明上次投递中途退出或失败，按重试重新执行
		if run.Status != entity.RunStatusPending {
			run.Retry()
		}
		return exec.Execute(ctx, run, story.RunObserver{})
	}
}
