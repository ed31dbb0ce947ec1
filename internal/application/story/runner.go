package story

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"z-novel-writer/internal/domain/entity"
	"z-novel-writer/internal/domain/repository"
	"z-novel-writer/pkg/logger"
)

// progressStep 持久化进度的最小间隔，避免每次回调都写库
const progressStep = 0.05

// RunObserver 执行过程的旁路观察者（例如 SSE 推送），字段均可为 nil
type RunObserver struct {
	Callbacks
	OnChapter func(ChapterResult)
}

// Runner 执行已落库的整本生成任务：逐章写入结果并维护任务状态
type Runner struct {
	workflow *Workflow
	runs     repository.RunRepository
}

func NewRunner(workflow *Workflow, runs repository.RunRepository) *Runner {
	return &Runner{workflow: workflow, runs: runs}
}

// Execute 运行任务直至所有章节产出。单章失败只记录在该章上；
// 全部章节失败或被取消时任务记为失败并返回错误。
func (r *Runner) Execute(ctx context.Context, run *entity.Run, obs RunObserver) error {
	ctx = logger.WithContext(ctx, logger.RunIDKey, run.ID)
	run.Start()
	if err := r.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("mark run started: %w", err)
	}

	tracker := &progressTracker{ctx: ctx, runs: r.runs, runID: run.ID}
	cb := Callbacks{
		OnProgress: func(p float64) {
			tracker.progress(p)
			if obs.OnProgress != nil {
				obs.OnProgress(p)
			}
		},
		OnStatus: func(s string) {
			tracker.status(s)
			if obs.OnStatus != nil {
				obs.OnStatus(s)
			}
		},
	}

	req := NovelRequest{Brief: run.Brief(), Outlines: run.Outlines, WordsPerChapter: run.WordsPerChapter}
	var written, failed int
	var saveErr error
	for res := range r.workflow.GenerateNovels(ctx, req, cb) {
		chapter := &entity.RunChapter{
			RunID:     run.ID,
			Index:     res.Index,
			Outline:   res.Outline,
			Title:     res.Title,
			Content:   res.Content,
			Shortfall: res.Shortfall,
		}
		if res.Err != nil {
			chapter.ErrorMessage = res.Err.Error()
			failed++
		} else {
			written++
		}
		if err := r.runs.SaveChapter(ctx, chapter); err != nil {
			logger.Error(ctx, "save chapter failed", err, "chapter", res.Index)
			saveErr = errors.Join(saveErr, err)
		}
		if obs.OnChapter != nil {
			obs.OnChapter(res)
		}
	}

	var runErr error
	switch {
	case ctx.Err() != nil:
		runErr = ctx.Err()
	case saveErr != nil:
		runErr = saveErr
	case written == 0 && failed > 0:
		runErr = fmt.Errorf("all %d chapters failed", failed)
	}

	// 任务状态必须落库，即使请求已取消
	persistCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		run.Fail(runErr.Error())
	} else {
		run.Complete()
	}
	run.Progress = max(run.Progress, tracker.last())
	if msg := tracker.lastMessage(); msg != "" {
		run.StatusMessage = msg
	}
	if err := r.runs.Update(persistCtx, run); err != nil {
		return errors.Join(runErr, fmt.Errorf("persist run status: %w", err))
	}
	logger.Info(ctx, "run finished", "status", string(run.Status), "chapters", written, "failed_chapters", failed)
	return runErr
}

// progressTracker 按步长节流写入进度
type progressTracker struct {
	ctx   context.Context
	runs  repository.RunRepository
	runID string

	mu       sync.Mutex
	saved    float64
	current  float64
	message  string
	hasSaved bool
}

func (t *progressTracker) progress(p float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = p
	if t.hasSaved && p-t.saved < progressStep && p < 1 {
		return
	}
	if err := t.runs.UpdateProgress(t.ctx, t.runID, p, t.message); err != nil {
		logger.Warn(t.ctx, "update run progress failed", "error", err.Error())
		return
	}
	t.saved = p
	t.hasSaved = true
}

func (t *progressTracker) status(s string) {
	t.mu.Lock()
	t.message = s
	t.mu.Unlock()
}

func (t *progressTracker) last() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *progressTracker) lastMessage() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.message
}
