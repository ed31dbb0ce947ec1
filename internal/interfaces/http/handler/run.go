package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"z-novel-writer/internal/application/story"
	"z-novel-writer/internal/domain/entity"
	"z-novel-writer/internal/domain/repository"
	"z-novel-writer/internal/infrastructure/messaging"
	"z-novel-writer/internal/interfaces/http/dto"
	apperrors "z-novel-writer/pkg/errors"
	"z-novel-writer/pkg/logger"
)

// JobPublisher 投递整本生成任务，*messaging.Producer 实现该接口
type JobPublisher interface {
	PublishNovelJob(ctx context.Context, job *messaging.NovelJobMessage) (string, error)
}

// RunHandler 异步生成任务：提交、查询与导出
type RunHandler struct {
	runs      repository.RunRepository
	publisher JobPublisher
}

// NewRunHandler 创建任务处理器
func NewRunHandler(runs repository.RunRepository, publisher JobPublisher) *RunHandler {
	return &RunHandler{runs: runs, publisher: publisher}
}

// SubmitNovelJob 落库后投递到队列，由 worker 异步执行
// @Summary 提交整本生成任务
// @Tags Runs
// @Accept json
// @Produce json
// @Param body body dto.GenerateNovelRequest true "大纲与字数"
// @Success 202 {object} dto.Response[dto.JobAcceptedResponse]
// @Router /v1/novels/jobs [post]
func (h *RunHandler) SubmitNovelJob(c *gin.Context) {
	var req dto.GenerateNovelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()

	run := entity.NewRun(uuid.NewString(), req.ToBrief(), req.Outlines, req.WordsPerChapter)
	run.Title = req.Title
	if err := h.runs.Create(ctx, run); err != nil {
		logger.Error(ctx, "create run failed", err)
		dto.FromError(c, err)
		return
	}

	msgID, err := h.publisher.PublishNovelJob(ctx, &messaging.NovelJobMessage{
		RunID:     run.ID,
		RequestID: c.GetString("request_id"),
		TraceID:   c.GetString("trace_id"),
	})
	if err != nil {
		logger.Error(ctx, "publish novel job failed", err, "run_id", run.ID)
		run.Fail("enqueue failed: " + err.Error())
		if uerr := h.runs.Update(context.WithoutCancel(ctx), run); uerr != nil {
			logger.Error(ctx, "mark run failed", uerr, "run_id", run.ID)
		}
		dto.FromError(c, apperrors.Wrap(err, apperrors.CodeQueueError, "enqueue novel job failed"))
		return
	}

	logger.Info(ctx, "novel job submitted", "run_id", run.ID, "message_id", msgID, "chapters", len(req.Outlines))
	dto.Accepted(c, &dto.JobAcceptedResponse{RunID: run.ID, MessageID: msgID, Status: string(run.Status)})
}

// GetRun 任务详情与已完成章节
// @Summary 查询生成任务
// @Tags Runs
// @Produce json
// @Param id path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.RunResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/runs/{id} [get]
func (h *RunHandler) GetRun(c *gin.Context) {
	run, chapters, ok := h.loadRun(c)
	if !ok {
		return
	}
	dto.Success(c, dto.ToRunResponse(run, chapters))
}

// ListRuns 按状态分页列出任务，不含章节正文
// @Summary 列出生成任务
// @Tags Runs
// @Produce json
// @Param status query string false "任务状态"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} dto.Response[[]dto.RunResponse]
// @Router /v1/runs [get]
func (h *RunHandler) ListRuns(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(repository.DefaultPageSize)))
	status := entity.RunStatus(c.Query("status"))

	result, err := h.runs.List(c.Request.Context(), status, repository.NewPagination(page, pageSize))
	if err != nil {
		logger.Error(c.Request.Context(), "list runs failed", err)
		dto.FromError(c, err)
		return
	}

	items := make([]*dto.RunResponse, 0, len(result.Items))
	for _, run := range result.Items {
		items = append(items, dto.ToRunResponse(run, nil))
	}
	dto.SuccessWithPage(c, items, dto.NewPageMeta(result.Page, result.PageSize, result.Total, result.TotalPages))
}

// ExportRun 导出书稿，format=md（默认）或 html
// @Summary 导出书稿
// @Tags Runs
// @Produce text/markdown
// @Produce text/html
// @Param id path string true "任务 ID"
// @Param format query string false "md 或 html"
// @Router /v1/runs/{id}/export [get]
func (h *RunHandler) ExportRun(c *gin.Context) {
	format := c.DefaultQuery("format", "md")
	if format != "md" && format != "html" {
		dto.BadRequest(c, "format must be md or html")
		return
	}
	run, chapters, ok := h.loadRun(c)
	if !ok {
		return
	}

	manuscript := story.ManuscriptFromRun(chapters)
	if len(manuscript) == 0 {
		dto.FromError(c, apperrors.NewPrecondition("run has no finished chapters"))
		return
	}

	if format == "html" {
		page, err := story.RenderHTML(run.Title, manuscript)
		if err != nil {
			dto.FromError(c, err)
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(story.RenderMarkdown(run.Title, manuscript)))
}

func (h *RunHandler) loadRun(c *gin.Context) (*entity.Run, []*entity.RunChapter, bool) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		dto.BadRequest(c, "invalid run id")
		return nil, nil, false
	}

	run, err := h.runs.GetByID(ctx, id)
	if err != nil {
		logger.Error(ctx, "get run failed", err, "run_id", id)
		dto.FromError(c, err)
		return nil, nil, false
	}
	if run == nil {
		dto.FromError(c, apperrors.ErrRunNotFound)
		return nil, nil, false
	}

	chapters, err := h.runs.ListChapters(ctx, id)
	if err != nil {
		logger.Error(ctx, "list run chapters failed", err, "run_id", id)
		dto.FromError(c, err)
		return nil, nil, false
	}
	return run, chapters, true
}
