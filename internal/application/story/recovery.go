package story

import (
	"context"
	"fmt"

	"z-novel-writer/internal/domain/entity"
	"z-novel-writer/internal/domain/repository"
)

// interruptedMessage 进程退出时仍处于 running 的任务的失败原因
const interruptedMessage = "interrupted: worker exited before the run finished"

// RecoverInterrupted 把残留的 running 任务标记为失败，返回处理条数。
// 对应消息若仍在 pending 中，重投时 worker 会按重试重新执行。
func RecoverInterrupted(ctx context.Context, tx repository.Transactor, runs repository.RunRepository) (int, error) {
	recovered := 0
	err := tx.WithTransaction(ctx, func(ctx context.Context) error {
		for {
			// 每轮都取第一页：已处理的任务不再是 running
			page, err := runs.List(ctx, entity.RunStatusRunning, repository.NewPagination(1, repository.MaxPageSize))
			if err != nil {
				return err
			}
			if len(page.Items) == 0 {
				return nil
			}
			for _, run := range page.Items {
				run.Fail(interruptedMessage)
				if err := runs.Update(ctx, run); err != nil {
					return fmt.Errorf("recover run %s: %w", run.ID, err)
				}
				recovered++
			}
		}
	})
	if err != nil {
		return 0, err
	}
	return recovered, nil
}
