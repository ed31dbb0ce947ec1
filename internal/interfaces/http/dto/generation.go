package dto

import (
	"time"

	"z-novel-writer/internal/application/story"
	"z-novel-writer/internal/domain/entity"
	wfmodel "z-novel-writer/internal/workflow/model"
)

// BriefRequest 创作输入
type BriefRequest struct {
	UserInput           string `json:"user_input" binding:"required"`
	OutlinesDescription string `json:"outlines_description,omitempty"`
	TempSettings        string `json:"temp_settings,omitempty"`
}

func (b BriefRequest) ToBrief() wfmodel.Brief {
	return wfmodel.Brief{
		UserInput:           b.UserInput,
		OutlinesDescription: b.OutlinesDescription,
		TempSettings:        b.TempSettings,
	}
}

// GenerateOutlinesRequest 大纲生成请求
type GenerateOutlinesRequest struct {
	BriefRequest
	ChapterCount int `json:"chapter_count" binding:"required,min=1,max=200"`
}

// GenerateDetailedOutlinesRequest 细纲生成请求
type GenerateDetailedOutlinesRequest struct {
	BriefRequest
	Outlines []string `json:"outlines" binding:"required,min=1"`
}

// GenerateNovelRequest 正文生成请求，流式与异步任务共用
type GenerateNovelRequest struct {
	BriefRequest
	Title           string   `json:"title,omitempty"`
	Outlines        []string `json:"outlines" binding:"required,min=1"`
	WordsPerChapter int      `json:"words_per_chapter" binding:"min=0,max=20000"`
}

func (r *GenerateNovelRequest) ToNovelRequest() story.NovelRequest {
	return story.NovelRequest{
		Brief:           r.ToBrief(),
		Outlines:        r.Outlines,
		WordsPerChapter: r.WordsPerChapter,
	}
}

// OutlinesResponse 大纲生成结果
type OutlinesResponse struct {
	Outlines []string `json:"outlines"`
	Display  string   `json:"display"`
}

// DetailedOutlinesResponse 细纲生成结果
type DetailedOutlinesResponse struct {
	Items   []wfmodel.DetailedOutline `json:"items"`
	Display string                    `json:"display"`
}

// ChapterEvent SSE chapter 事件
type ChapterEvent struct {
	Index     int    `json:"index"`
	Total     int    `json:"total"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Shortfall int    `json:"shortfall"`
	Error     string `json:"error,omitempty"`
}

func ChapterEventFrom(res story.ChapterResult) *ChapterEvent {
	ev := &ChapterEvent{
		Index:     res.Index,
		Total:     res.Total,
		Title:     res.Title,
		Content:   res.Content,
		Shortfall: res.Shortfall,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	return ev
}

// JobAcceptedResponse 异步任务受理结果
type JobAcceptedResponse struct {
	RunID     string `json:"run_id"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// RunResponse 生成任务详情
type RunResponse struct {
	ID              string             `json:"id"`
	Title           string             `json:"title,omitempty"`
	Status          string             `json:"status"`
	Progress        float64            `json:"progress"`
	StatusMessage   string             `json:"status_message,omitempty"`
	ErrorMessage    string             `json:"error_message,omitempty"`
	Outlines        []string           `json:"outlines"`
	WordsPerChapter int                `json:"words_per_chapter"`
	RetryCount      int                `json:"retry_count"`
	Chapters        []*ChapterResponse `json:"chapters,omitempty"`
	CreatedAt       string             `json:"created_at"`
	StartedAt       string             `json:"started_at,omitempty"`
	CompletedAt     string             `json:"completed_at,omitempty"`
}

// ChapterResponse 已落库的章节
type ChapterResponse struct {
	Index        int    `json:"index"`
	Outline      string `json:"outline"`
	Title        string `json:"title"`
	Content      string `json:"content,omitempty"`
	Shortfall    int    `json:"shortfall"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ToRunResponse 转换任务实体；chapters 为 nil 时不输出章节
func ToRunResponse(run *entity.Run, chapters []*entity.RunChapter) *RunResponse {
	if run == nil {
		return nil
	}
	resp := &RunResponse{
		ID:              run.ID,
		Title:           run.Title,
		Status:          string(run.Status),
		Progress:        run.Progress,
		StatusMessage:   run.StatusMessage,
		ErrorMessage:    run.ErrorMessage,
		Outlines:        []string(run.Outlines),
		WordsPerChapter: run.WordsPerChapter,
		RetryCount:      run.RetryCount,
		CreatedAt:       formatTime(&run.CreatedAt),
		StartedAt:       formatTime(run.StartedAt),
		CompletedAt:     formatTime(run.CompletedAt),
	}
	for _, ch := range chapters {
		resp.Chapters = append(resp.Chapters, &ChapterResponse{
			Index:        ch.Index,
			Outline:      ch.Outline,
			Title:        ch.Title,
			Content:      ch.Content,
			Shortfall:    ch.Shortfall,
			ErrorMessage: ch.ErrorMessage,
		})
	}
	return resp
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// ReindexResponse 知识库重建结果
type ReindexResponse struct {
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
}
