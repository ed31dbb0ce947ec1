// Package entity 定义领域实体
package entity

import (
	"time"

	"github.com/lib/pq"

	wfmodel "z-novel-writer/internal/workflow/model"
)

// RunStatus 生成任务状态
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run 一次整本生成：输入、大纲与进度
type Run struct {
	ID                  string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Title               string         `json:"title"`
	UserInput           string         `json:"user_input" gorm:"type:text"`
	OutlinesDescription string         `json:"outlines_description,omitempty" gorm:"type:text"`
	TempSettings        string         `json:"temp_settings,omitempty" gorm:"type:text"`
	Outlines            pq.StringArray `json:"outlines" gorm:"type:text[]"`
	WordsPerChapter     int            `json:"words_per_chapter"`
	Status              RunStatus      `json:"status" gorm:"type:varchar(16);index"`
	Progress            float64        `json:"progress"`
	StatusMessage       string         `json:"status_message,omitempty"`
	ErrorMessage        string         `json:"error_message,omitempty" gorm:"type:text"`
	RetryCount          int            `json:"retry_count"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	StartedAt           *time.Time     `json:"started_at,omitempty"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
}

// NewRun 创建待执行的生成任务
func NewRun(id string, brief wfmodel.Brief, outlines []string, wordsPerChapter int) *Run {
	return &Run{
		ID:                  id,
		UserInput:           brief.UserInput,
		OutlinesDescription: brief.OutlinesDescription,
		TempSettings:        brief.TempSettings,
		Outlines:            pq.StringArray(outlines),
		WordsPerChapter:     wordsPerChapter,
		Status:              RunStatusPending,
		CreatedAt:           time.Now(),
	}
}

// Brief 还原创作输入
func (r *Run) Brief() wfmodel.Brief {
	return wfmodel.Brief{
		UserInput:           r.UserInput,
		OutlinesDescription: r.OutlinesDescription,
		TempSettings:        r.TempSettings,
	}
}

// Start 开始执行
func (r *Run) Start() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
	r.ErrorMessage = ""
}

// Complete 完成
func (r *Run) Complete() {
	now := time.Now()
	r.Status = RunStatusCompleted
	r.Progress = 1
	r.CompletedAt = &now
}

// Fail 失败
func (r *Run) Fail(errMsg string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.ErrorMessage = errMsg
	r.CompletedAt = &now
}

// Retry 重新排队
func (r *Run) Retry() {
	r.RetryCount++
	r.Status = RunStatusPending
	r.StartedAt = nil
	r.CompletedAt = nil
}

// Finished 是否已终结
func (r *Run) Finished() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// RunChapter 任务产出的单章
type RunChapter struct {
	ID           uint      `json:"-" gorm:"primaryKey"`
	RunID        string    `json:"run_id" gorm:"type:varchar(36);uniqueIndex:idx_run_chapter"`
	Index        int       `json:"index" gorm:"column:chapter_index;uniqueIndex:idx_run_chapter"`
	Outline      string    `json:"outline" gorm:"type:text"`
	Title        string    `json:"title"`
	Content      string    `json:"content" gorm:"type:text"`
	Shortfall    int       `json:"shortfall"`
	ErrorMessage string    `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Failed 本章是否生成失败
func (c *RunChapter) Failed() bool {
	return c.ErrorMessage != ""
}
