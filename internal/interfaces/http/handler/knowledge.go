package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"z-novel-writer/internal/interfaces/http/dto"
	"z-novel-writer/pkg/logger"
)

// KnowledgeUpdater 重建三个知识分区的索引
type KnowledgeUpdater interface {
	UpdateKnowledge(ctx context.Context) error
}

// KnowledgeHandler 知识库维护
type KnowledgeHandler struct {
	knowledge KnowledgeUpdater
}

func NewKnowledgeHandler(knowledge KnowledgeUpdater) *KnowledgeHandler {
	return &KnowledgeHandler{knowledge: knowledge}
}

// Reindex 从项目文档目录重新加载并重建索引
// @Summary 重建知识库
// @Tags Knowledge
// @Produce json
// @Success 200 {object} dto.Response[dto.ReindexResponse]
// @Router /v1/knowledge/reindex [post]
func (h *KnowledgeHandler) Reindex(c *gin.Context) {
	ctx := c.Request.Context()
	start := time.Now()
	if err := h.knowledge.UpdateKnowledge(ctx); err != nil {
		logger.Error(ctx, "reindex knowledge failed", err)
		dto.FromError(c, err)
		return
	}
	d := time.Since(start)
	logger.Info(ctx, "knowledge reindexed", "duration_ms", d.Milliseconds())
	dto.Success(c, &dto.ReindexResponse{Status: "ok", DurationMs: d.Milliseconds()})
}
