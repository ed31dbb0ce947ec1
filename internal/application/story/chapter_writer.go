// Package story 编排长篇小说的大纲、细纲与正文生成流程。
package story

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"z-novel-writer/internal/workflow/chain"
	wfmodel "z-novel-writer/internal/workflow/model"
	wfnode "z-novel-writer/internal/workflow/node"
	apperrors "z-novel-writer/pkg/errors"
	"z-novel-writer/pkg/logger"
	"z-novel-writer/pkg/metrics"
)

// Drafter 单次章节生成
type Drafter interface {
	Draft(ctx context.Context, in chain.DraftInput) (*chain.Draft, error)
}

// WriterConfig 累积式生成的参数，零值字段取默认值
type WriterConfig struct {
	MaxAttempts          int
	EarlyExitRatio       float64
	AnchorRunes          int
	MinSeamOverlap       int
	MaxContinuationRunes int
}

func (c WriterConfig) withDefaults() WriterConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.EarlyExitRatio <= 0 || c.EarlyExitRatio > 1 {
		c.EarlyExitRatio = 0.95
	}
	if c.AnchorRunes <= 0 {
		c.AnchorRunes = 500
	}
	if c.MinSeamOverlap <= 0 {
		c.MinSeamOverlap = 20
	}
	if c.MaxContinuationRunes <= 0 {
		c.MaxContinuationRunes = 1500
	}
	return c
}

// ChapterRequest 单章写作请求
type ChapterRequest struct {
	Brief     wfmodel.Brief
	Retrieval wfmodel.RetrievalResult
	Outline   string
	// TargetRunes 目标字数（按字符计），<= 0 时只生成首稿
	TargetRunes int
}

// ChapterDraft 累积生成的结果
type ChapterDraft struct {
	Title    string
	Content  string
	Target   int
	Attempts int
}

func (d *ChapterDraft) Length() int { return wfnode.RuneLen(d.Content) }

// Shortfall 距离目标还差的字数，达标为 0
func (d *ChapterDraft) Shortfall() int {
	if d.Target <= 0 {
		return 0
	}
	if s := d.Target - d.Length(); s > 0 {
		return s
	}
	return 0
}

// ChapterWriter 先写首稿，再以末尾锚点续写，直到接近目标字数或用尽次数
type ChapterWriter struct {
	drafter Drafter
	cfg     WriterConfig
}

func NewChapterWriter(drafter Drafter, cfg WriterConfig) *ChapterWriter {
	return &ChapterWriter{drafter: drafter, cfg: cfg.withDefaults()}
}

// Write 失败的尝试同样消耗次数；最终仍无内容时返回最后一次错误。
// 字数不足不是错误，由 ChapterDraft.Shortfall 体现。
func (w *ChapterWriter) Write(ctx context.Context, req ChapterRequest) (*ChapterDraft, error) {
	draft := &ChapterDraft{Target: req.TargetRunes}
	maxAttempts := w.cfg.MaxAttempts
	if req.TargetRunes <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		in := chain.DraftInput{
			Brief:        req.Brief,
			Retrieval:    req.Retrieval,
			LocalOutline: req.Outline,
			WordsNum:     req.TargetRunes,
		}
		kind := "draft"
		if draft.Content != "" {
			kind = "continuation"
			in.Continuation = w.continuationHint(draft.Length(), req.TargetRunes)
			in.GeneratedContent = wfnode.TailRunes(draft.Content, w.cfg.AnchorRunes)
		}

		out, err := w.drafter.Draft(ctx, in)
		draft.Attempts++
		if err != nil {
			lastErr = err
			metrics.ChapterAttempts.WithLabelValues(kind, "error").Inc()
			logger.Warn(ctx, "chapter attempt failed",
				"kind", kind,
				"attempt", attempt+1,
				"max_attempts", maxAttempts,
				"error", err.Error(),
			)
			continue
		}
		metrics.ChapterAttempts.WithLabelValues(kind, "success").Inc()

		piece := strings.TrimSpace(out.Content)
		if draft.Content == "" {
			draft.Content = piece
			draft.Title = strings.TrimSpace(out.Title)
		} else {
			piece = wfnode.TrimSeamOverlap(draft.Content, piece, w.cfg.AnchorRunes, w.cfg.MinSeamOverlap)
			if piece != "" {
				draft.Content += "\n\n" + piece
			}
		}
		logger.Debug(ctx, "chapter attempt done",
			"kind", kind,
			"attempt", attempt+1,
			"added", wfnode.RuneLen(piece),
			"total", draft.Length(),
			"target", req.TargetRunes,
		)

		if req.TargetRunes <= 0 || float64(draft.Length()) >= float64(req.TargetRunes)*w.cfg.EarlyExitRatio {
			break
		}
	}

	if draft.Content == "" {
		if lastErr == nil {
			lastErr = apperrors.NewMalformedOutput("chapter", errors.New("empty chapter content"))
		}
		return nil, lastErr
	}

	if req.TargetRunes > 0 {
		metrics.ChapterCompletionRatio.Observe(float64(draft.Length()) / float64(req.TargetRunes))
	}
	if s := draft.Shortfall(); s > 0 {
		logger.Warn(ctx, "chapter below target length",
			"length", draft.Length(),
			"target", req.TargetRunes,
			"shortfall", s,
			"attempts", draft.Attempts,
		)
	}
	return draft, nil
}

func (w *ChapterWriter) continuationHint(current, target int) string {
	shortfall := target - current
	if shortfall < 0 {
		shortfall = 0
	}
	add := shortfall
	if add > w.cfg.MaxContinuationRunes {
		add = w.cfg.MaxContinuationRunes
	}
	return fmt.Sprintf(`## 续写
本章已写 %d 字，目标 %d 字，还差 %d 字。
- 紧接“已生成的正文片段”的最后一句继续写，不要重复片段里的内容，也不要重新开头
- 保持叙事风格、人物性格和场景氛围一致，用细节、对话、心理活动推进情节
- 本次新增约 %d 字，content 只输出新增部分`, current, target, shortfall, add)
}
