package story

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"z-novel-writer/internal/workflow/chain"
	wfmodel "z-novel-writer/internal/workflow/model"
	wfnode "z-novel-writer/internal/workflow/node"
	apperrors "z-novel-writer/pkg/errors"
	"z-novel-writer/pkg/logger"
	"z-novel-writer/pkg/metrics"
	"z-novel-writer/pkg/tracer"
)

// KnowledgeBase 三个知识分区的检索与重建
type KnowledgeBase interface {
	Retrieve(ctx context.Context, q wfmodel.QueryBuckets) wfmodel.RetrievalResult
	UpdateAll(ctx context.Context) error
}

type QueryExtractor interface {
	Extract(ctx context.Context, in chain.ExtractInput) (wfmodel.QueryBuckets, error)
}

type OutlineGenerator interface {
	Generate(ctx context.Context, in chain.OutlineInput) ([]string, error)
}

type DetailedOutlineGenerator interface {
	Generate(ctx context.Context, in chain.DetailedOutlineInput) ([]string, error)
}

type ContentShortener interface {
	Compact(ctx context.Context, in chain.ShortenInput) (chain.ShortenOutput, error)
}

// Stages 工作流依赖的各阶段
type Stages struct {
	Knowledge KnowledgeBase
	Extractor QueryExtractor
	Outliner  OutlineGenerator
	Detailer  DetailedOutlineGenerator
	Shortener ContentShortener
	Writer    *ChapterWriter
}

// WorkflowConfig 编排参数
type WorkflowConfig struct {
	DetailedOutlineConcurrency int
	// ChapterRetries 单章编排级重试次数
	ChapterRetries int
	// DynamicRetrieval 每章按本章大纲追加检索，结果覆盖全局基线
	DynamicRetrieval bool
}

// Workflow 工作流控制器：大纲、细纲、正文三个入口
type Workflow struct {
	stages Stages
	cfg    WorkflowConfig
}

func NewWorkflow(stages Stages, cfg WorkflowConfig) *Workflow {
	if cfg.DetailedOutlineConcurrency <= 0 {
		cfg.DetailedOutlineConcurrency = 5
	}
	if cfg.ChapterRetries <= 0 {
		cfg.ChapterRetries = 3
	}
	return &Workflow{stages: stages, cfg: cfg}
}

// OutlineRequest 大纲生成请求
type OutlineRequest struct {
	Brief        wfmodel.Brief `json:"brief" yaml:"brief"`
	ChapterCount int           `json:"chapter_count" yaml:"chapter_count"`
}

type OutlineResult struct {
	Display  string   `json:"display" yaml:"-"`
	Outlines []string `json:"outlines" yaml:"outlines"`
}

// GenerateOutlines 提取检索词 → 检索 → 生成大纲 → 去掉模型回显的章节编号
func (w *Workflow) GenerateOutlines(ctx context.Context, req OutlineRequest, cb Callbacks) (res *OutlineResult, err error) {
	if req.ChapterCount <= 0 {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "chapter_count must be positive")
	}
	ctx, finish := w.stage(ctx, "outlines")
	defer func() { finish(err) }()
	rep := newReporter(cb)

	rep.progress(0.1)
	rep.status("🔍 正在检索相关设定...")
	retrieved, err := w.baseline(ctx, req.Brief)
	if err != nil {
		return nil, err
	}
	rep.progress(0.5)

	rep.status("📝 正在生成章节大纲...")
	raw, err := w.stages.Outliner.Generate(ctx, chain.OutlineInput{
		Brief:        req.Brief,
		Retrieval:    retrieved,
		ChapterCount: req.ChapterCount,
	})
	if err != nil {
		return nil, err
	}
	rep.progress(0.9)

	outlines := make([]string, 0, len(raw))
	for _, o := range raw {
		if o = strings.TrimSpace(wfnode.StripChapterPrefix(o)); o != "" {
			outlines = append(outlines, o)
		}
	}
	if len(outlines) != req.ChapterCount {
		logger.Warn(ctx, "outline count mismatch", "requested", req.ChapterCount, "generated", len(outlines))
	}

	res = &OutlineResult{Display: wfnode.FormatOutlineDisplay(outlines), Outlines: outlines}
	rep.status(fmt.Sprintf("✅ 大纲生成完成，共 %d 章", len(outlines)))
	rep.progress(1.0)
	return res, nil
}

// DetailedOutlineRequest 细纲生成请求
type DetailedOutlineRequest struct {
	Brief    wfmodel.Brief `json:"brief" yaml:"brief"`
	Outlines []string      `json:"outlines" yaml:"outlines"`
}

type DetailedOutlineResult struct {
	Display string                    `json:"display" yaml:"-"`
	Items   []wfmodel.DetailedOutline `json:"items" yaml:"items"`
}

// GenerateDetailedOutlines 检索一次后并发展开各章细纲；单章失败只丢弃该章，其余保持原顺序
func (w *Workflow) GenerateDetailedOutlines(ctx context.Context, req DetailedOutlineRequest, cb Callbacks) (res *DetailedOutlineResult, err error) {
	outlines := make([]string, 0, len(req.Outlines))
	for _, o := range req.Outlines {
		if o = strings.TrimSpace(o); o != "" {
			outlines = append(outlines, o)
		}
	}
	if len(outlines) == 0 {
		return nil, apperrors.NewPrecondition("chapter outlines are required before detailed outlines")
	}
	ctx, finish := w.stage(ctx, "detailed_outlines")
	defer func() { finish(err) }()
	rep := newReporter(cb)

	rep.progress(0.05)
	brief := req.Brief
	if strings.TrimSpace(brief.OutlinesDescription) == "" {
		brief.OutlinesDescription = wfnode.FormatOutlineDisplay(outlines)
	}
	rep.status("🔍 正在检索相关设定...")
	retrieved, err := w.baseline(ctx, brief)
	if err != nil {
		return nil, err
	}
	rep.progress(0.15)

	total := len(outlines)
	rep.status(fmt.Sprintf("📝 正在为 %d 个章节生成细纲...", total))
	slots := make([]*[]string, total)
	var done atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.DetailedOutlineConcurrency)
	for i, outline := range outlines {
		g.Go(func() error {
			scenes, err := w.stages.Detailer.Generate(gctx, chain.DetailedOutlineInput{
				ChapterOutline: outline,
				TempSettings:   brief.TempSettings,
				Retrieval:      retrieved,
			})
			if err != nil {
				logger.Warn(gctx, "detailed outline failed, chapter skipped", "chapter", i+1, "error", err.Error())
			} else {
				slots[i] = &scenes
			}
			n := done.Add(1)
			rep.progress(0.15 + 0.7*float64(n)/float64(total))
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rep.progress(0.9)

	items := make([]wfmodel.DetailedOutline, 0, total)
	for i, s := range slots {
		if s == nil {
			continue
		}
		items = append(items, wfmodel.DetailedOutline{Index: i + 1, ChapterOutline: outlines[i], Scenes: *s})
	}
	if len(items) < total {
		rep.status(fmt.Sprintf("⚠️ %d 个章节细纲生成失败，已跳过", total-len(items)))
	}

	res = &DetailedOutlineResult{Display: wfnode.FormatDetailedOutlineDisplay(items), Items: items}
	rep.progress(1.0)
	return res, nil
}

// NovelRequest 正文生成请求
type NovelRequest struct {
	Brief    wfmodel.Brief `json:"brief" yaml:"brief"`
	Outlines []string      `json:"outlines" yaml:"outlines"`
	// WordsPerChapter 每章目标字数
	WordsPerChapter int `json:"words_per_chapter" yaml:"words_per_chapter"`
}

// ChapterResult 每章一次产出；Err 非空时 Content 为空
type ChapterResult struct {
	Index     int    `json:"index"`
	Total     int    `json:"total"`
	Outline   string `json:"outline"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Shortfall int    `json:"shortfall"`
	Err       error  `json:"-"`
}

// narrativeState 正文生成过程中的滚动状态，只由生成循环读写
type narrativeState struct {
	// previous 前情提要：检索到的前文 + 逐章追加的缩写
	previous string
	// lastContent 上一章正文，用于缩写
	lastContent string
}

func (s *narrativeState) appendSummary(summary string) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return
	}
	if s.previous == "" {
		s.previous = summary
		return
	}
	s.previous += "\n" + summary
}

// GenerateNovels 按章节顺序逐章生成。返回的序列是惰性的、只能消费一次：
// 消费方停止拉取后不再进行后续章节的任何工作。
func (w *Workflow) GenerateNovels(ctx context.Context, req NovelRequest, cb Callbacks) iter.Seq[ChapterResult] {
	return func(yield func(ChapterResult) bool) {
		ctx, finish := w.stage(ctx, "novels")
		var runErr error
		defer func() { finish(runErr) }()
		rep := newReporter(cb)

		total := len(req.Outlines)
		rep.progress(0.1)
		if total == 0 {
			rep.status("⚠️ 没有可生成的章节大纲")
			rep.progress(1.0)
			return
		}
		rep.status(fmt.Sprintf("📚 准备生成 %d 个章节...", total))

		baseline, err := w.baseline(ctx, req.Brief)
		if err != nil {
			// 基线检索失败时降级为空检索继续写作
			logger.Warn(ctx, "baseline retrieval failed, continue without retrieval", "error", err.Error())
			baseline = wfmodel.RetrievalResult{}
		}
		rep.progress(0.2)

		state := &narrativeState{previous: baseline.PreviousContent}
		per := 0.6 / float64(total)
		for i, raw := range req.Outlines {
			idx := i + 1
			outline := strings.TrimSpace(raw)
			if outline == "" {
				continue
			}
			if err := ctx.Err(); err != nil {
				runErr = err
				return
			}
			base := 0.2 + float64(i)*per
			chCtx := logger.WithContext(ctx, logger.ChapterKey, idx)
			rep.status(fmt.Sprintf("✍️ 正在生成第 %d/%d 章...", idx, total))

			retrieved := baseline
			if w.cfg.DynamicRetrieval {
				retrieved = baseline.Merge(w.chapterRetrieval(chCtx, req.Brief, outline))
			}

			localOutline := outline
			if i > 0 && state.lastContent != "" {
				rep.status(fmt.Sprintf("📝 第 %d/%d 章：正在整理前文...", idx, total))
				rep.progress(base + per*0.1)
				short, err := w.stages.Shortener.Compact(chCtx, chain.ShortenInput{
					CurrentContent:  state.lastContent,
					NextOutline:     outline,
					PreviousContent: state.previous,
				})
				if err != nil {
					logger.Warn(chCtx, "shorten failed, keep previous state", "error", err.Error())
				} else {
					state.appendSummary(short.Summary)
					localOutline = short.NextOutline
				}
			}

			rep.status(fmt.Sprintf("🎨 第 %d/%d 章：开始创作...", idx, total))
			rep.progress(base + per*0.3)
			retrieved.PreviousContent = state.previous

			result := ChapterResult{Index: idx, Total: total, Outline: localOutline}
			draft, err := w.writeChapter(chCtx, ChapterRequest{
				Brief:       req.Brief,
				Retrieval:   retrieved,
				Outline:     localOutline,
				TargetRunes: req.WordsPerChapter,
			}, rep, idx, total)
			if err != nil {
				metrics.ChaptersTotal.WithLabelValues("failed").Inc()
				result.Err = apperrors.NewChapterFailure(idx, err)
				rep.status(fmt.Sprintf("❌ 第 %d/%d 章生成失败", idx, total))
				state.lastContent = ""
			} else {
				metrics.ChaptersTotal.WithLabelValues("completed").Inc()
				result.Title = draft.Title
				result.Content = draft.Content
				result.Shortfall = draft.Shortfall()
				state.lastContent = draft.Content
				if result.Shortfall > 0 {
					rep.status(fmt.Sprintf("⚠️ 第 %d/%d 章字数未达标 (%d/%d 字)", idx, total, draft.Length(), req.WordsPerChapter))
				}
				rep.status(fmt.Sprintf("✅ 第 %d/%d 章完成 (%d 字)", idx, total, draft.Length()))
			}
			rep.progress(base + per)

			if !yield(result) {
				return
			}
		}
		rep.status("🎉 全部章节生成完成")
		rep.progress(1.0)
	}
}

// writeChapter 编排级重试：整章失败后重新调用写作器
func (w *Workflow) writeChapter(ctx context.Context, req ChapterRequest, rep *reporter, idx, total int) (*ChapterDraft, error) {
	var lastErr error
	for retry := 0; retry < w.cfg.ChapterRetries; retry++ {
		draft, err := w.stages.Writer.Write(ctx, req)
		if err == nil {
			return draft, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if retry < w.cfg.ChapterRetries-1 {
			rep.status(fmt.Sprintf("⚠️ 第 %d/%d 章：重试中... (%d/%d)", idx, total, retry+1, w.cfg.ChapterRetries))
		}
		logger.Warn(ctx, "chapter failed", "retry", retry+1, "error", err.Error())
	}
	return nil, lastErr
}

// baseline 全局检索；提取失败直接返回
func (w *Workflow) baseline(ctx context.Context, brief wfmodel.Brief) (wfmodel.RetrievalResult, error) {
	q, err := w.stages.Extractor.Extract(ctx, chain.ExtractInput{Brief: brief})
	if err != nil {
		return wfmodel.RetrievalResult{}, err
	}
	return w.stages.Knowledge.Retrieve(ctx, q), nil
}

// chapterRetrieval 以本章大纲为描述追加检索，失败返回空结果（不覆盖基线）
func (w *Workflow) chapterRetrieval(ctx context.Context, brief wfmodel.Brief, outline string) wfmodel.RetrievalResult {
	b := brief
	b.OutlinesDescription = outline
	res, err := w.baseline(ctx, b)
	if err != nil {
		logger.Warn(ctx, "chapter retrieval failed, use baseline", "error", err.Error())
		return wfmodel.RetrievalResult{}
	}
	return res
}

// UpdateKnowledge 重建三个分区的索引；与进行中的检索由各检索器的锁互斥
func (w *Workflow) UpdateKnowledge(ctx context.Context) (err error) {
	ctx, finish := w.stage(ctx, "knowledge_update")
	defer func() { finish(err) }()
	return w.stages.Knowledge.UpdateAll(ctx)
}

// stage 为一次阶段调用打上日志字段、span 与耗时指标
func (w *Workflow) stage(ctx context.Context, name string) (context.Context, func(error)) {
	ctx = logger.WithStage(ctx, name)
	ctx, span := tracer.StartStage(ctx, name)
	start := time.Now()
	metrics.ActiveRuns.Inc()
	logger.Info(ctx, "stage started")
	return ctx, func(err error) {
		metrics.ActiveRuns.Dec()
		status := "success"
		if err != nil {
			status = "error"
			logger.Error(ctx, "stage failed", err, "elapsed", time.Since(start).String())
		} else {
			logger.Info(ctx, "stage completed", "elapsed", time.Since(start).String())
		}
		metrics.StageDuration.WithLabelValues(name, status).Observe(time.Since(start).Seconds())
		tracer.EndWithError(span, err)
	}
}
