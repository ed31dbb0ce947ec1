// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"iter"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"z-novel-writer/internal/application/story"
	"z-novel-writer/internal/domain/entity"
	"z-novel-writer/internal/domain/repository"
	"z-novel-writer/internal/interfaces/http/dto"
	"z-novel-writer/pkg/logger"
)

// StoryService 工作流入口，*story.Workflow 实现该接口
type StoryService interface {
	GenerateOutlines(ctx context.Context, req story.OutlineRequest, cb story.Callbacks) (*story.OutlineResult, error)
	GenerateDetailedOutlines(ctx context.Context, req story.DetailedOutlineRequest, cb story.Callbacks) (*story.DetailedOutlineResult, error)
	GenerateNovels(ctx context.Context, req story.NovelRequest, cb story.Callbacks) iter.Seq[story.ChapterResult]
}

// RunExecutor 执行已落库的生成任务，*story.Runner 实现该接口
type RunExecutor interface {
	Execute(ctx context.Context, run *entity.Run, obs story.RunObserver) error
}

// GenerationHandler 大纲、细纲与正文生成
type GenerationHandler struct {
	workflow StoryService
	runner   RunExecutor
	runs     repository.RunRepository
}

// NewGenerationHandler 创建生成处理器；runner/runs 为 nil 时流式接口不支持落库
func NewGenerationHandler(workflow StoryService, runner RunExecutor, runs repository.RunRepository) *GenerationHandler {
	return &GenerationHandler{workflow: workflow, runner: runner, runs: runs}
}

// GenerateOutlines 生成章节大纲
// @Summary 生成章节大纲
// @Tags Generation
// @Accept json
// @Produce json
// @Param body body dto.GenerateOutlinesRequest true "创作输入"
// @Success 200 {object} dto.Response[dto.OutlinesResponse]
// @Router /v1/outlines [post]
func (h *GenerationHandler) GenerateOutlines(c *gin.Context) {
	var req dto.GenerateOutlinesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, err.Error())
		return
	}

	res, err := h.workflow.GenerateOutlines(c.Request.Context(), story.OutlineRequest{
		Brief:        req.ToBrief(),
		ChapterCount: req.ChapterCount,
	}, story.Callbacks{})
	if err != nil {
		logger.Error(c.Request.Context(), "generate outlines failed", err)
		dto.FromError(c, err)
		return
	}
	dto.Success(c, &dto.OutlinesResponse{Outlines: res.Outlines, Display: res.Display})
}

// GenerateDetailedOutlines 展开细纲
// @Summary 展开细纲
// @Tags Generation
// @Accept json
// @Produce json
// @Param body body dto.GenerateDetailedOutlinesRequest true "章节大纲"
// @Success 200 {object} dto.Response[dto.DetailedOutlinesResponse]
// @Router /v1/detailed-outlines [post]
func (h *GenerationHandler) GenerateDetailedOutlines(c *gin.Context) {
	var req dto.GenerateDetailedOutlinesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, err.Error())
		return
	}

	res, err := h.workflow.GenerateDetailedOutlines(c.Request.Context(), story.DetailedOutlineRequest{
		Brief:    req.ToBrief(),
		Outlines: req.Outlines,
	}, story.Callbacks{})
	if err != nil {
		logger.Error(c.Request.Context(), "generate detailed outlines failed", err)
		dto.FromError(c, err)
		return
	}
	dto.Success(c, &dto.DetailedOutlinesResponse{Items: res.Items, Display: res.Display})
}

// StreamNovel 逐章生成正文并通过 SSE 推送
// 事件：run（仅落库模式）、progress、status、chapter、done
// @Summary 流式生成正文
// @Tags Generation
// @Accept json
// @Produce text/event-stream
// @Param persist query bool false "同时落库为生成任务"
// @Param body body dto.GenerateNovelRequest true "大纲与字数"
// @Success 200 "SSE stream"
// @Router /v1/novels/stream [post]
func (h *GenerationHandler) StreamNovel(c *gin.Context) {
	var req dto.GenerateNovelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, err.Error())
		return
	}
	persist := c.Query("persist") == "true"
	if persist && (h.runner == nil || h.runs == nil) {
		dto.ServiceUnavailable(c, "run persistence not configured")
		return
	}

	ctx := c.Request.Context()
	sse := newSSEWriter(c)

	var written, failed int
	onChapter := func(res story.ChapterResult) {
		if res.Err != nil {
			failed++
		} else {
			written++
		}
		sse.send("chapter", dto.ChapterEventFrom(res))
	}
	cb := story.Callbacks{
		OnProgress: func(p float64) { sse.send("progress", gin.H{"progress": p}) },
		OnStatus:   func(s string) { sse.send("status", gin.H{"message": s}) },
	}

	var runID string
	if persist {
		run := entity.NewRun(uuid.NewString(), req.ToBrief(), req.Outlines, req.WordsPerChapter)
		run.Title = req.Title
		if err := h.runs.Create(ctx, run); err != nil {
			logger.Error(ctx, "create run failed", err)
			dto.FromError(c, err)
			return
		}
		runID = run.ID
		sse.send("run", gin.H{"run_id": runID})
		if err := h.runner.Execute(ctx, run, story.RunObserver{Callbacks: cb, OnChapter: onChapter}); err != nil {
			logger.Warn(ctx, "streamed run failed", "run_id", runID, "error", err.Error())
		}
	} else {
		for res := range h.workflow.GenerateNovels(ctx, req.ToNovelRequest(), cb) {
			onChapter(res)
		}
	}

	if ctx.Err() != nil {
		logger.Info(ctx, "client disconnected during novel stream", "chapters", written)
		return
	}
	sse.send("done", gin.H{"run_id": runID, "chapters": written, "failed": failed})
}

// sseWriter 串行化 SSE 写出：进度回调可能来自工作流内部的其它 goroutine
type sseWriter struct {
	c  *gin.Context
	mu sync.Mutex
}

func newSSEWriter(c *gin.Context) *sseWriter {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	return &sseWriter{c: c}
}

func (w *sseWriter) send(event string, data any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.c.Request.Context().Err() != nil {
		return
	}
	w.c.SSEvent(event, data)
	w.c.Writer.Flush()
}
