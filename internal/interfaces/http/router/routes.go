package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterV1Routes 注册 v1 版本路由；limit 只挂在会调用模型的生成类路由上
func RegisterV1Routes(v1 *gin.RouterGroup, h Handlers, limit gin.HandlerFunc) {
	if g := h.Generation; g != nil {
		v1.POST("/outlines", limit, g.GenerateOutlines)
		v1.POST("/detailed-outlines", limit, g.GenerateDetailedOutlines)
		v1.POST("/novels/stream", limit, g.StreamNovel) // SSE
	}

	if rh := h.Runs; rh != nil {
		v1.POST("/novels/jobs", limit, rh.SubmitNovelJob)

		runs := v1.Group("/runs")
		{
			runs.GET("", rh.ListRuns)
			runs.GET("/:id", rh.GetRun)
			runs.GET("/:id/export", rh.ExportRun)
		}
	}

	if k := h.Knowledge; k != nil {
		v1.POST("/knowledge/reindex", limit, k.Reindex)
	}
}
