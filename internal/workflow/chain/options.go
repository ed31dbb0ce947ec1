// Package chain 各生成阶段：每个阶段是绑定了模板与输出字段的生成任务。
package chain

import (
	"z-novel-writer/internal/workflow/port"
	workflowprompt "z-novel-writer/internal/workflow/prompt"
	"z-novel-writer/internal/workflow/task"
)

// Options 阶段级的模型与重试参数
type Options struct {
	Provider    string
	Model       string
	Temperature *float32
	MaxTokens   *int

	BackendRetries int
	RepairAttempts int
	Backoff        task.Backoff
}

// Deps 构造阶段所需的依赖
type Deps struct {
	Factory port.ChatModelFactory
	Prompts *workflowprompt.Registry
}

func (d Deps) newTask(name string, prompt workflowprompt.PromptID, fields []task.Field, opts Options) (*task.Task, error) {
	return task.New(d.Factory, d.Prompts, task.Spec{
		Name:           name,
		Prompt:         prompt,
		Fields:         fields,
		Provider:       opts.Provider,
		Model:          opts.Model,
		Temperature:    opts.Temperature,
		MaxTokens:      opts.MaxTokens,
		BackendRetries: opts.BackendRetries,
		RepairAttempts: opts.RepairAttempts,
		Backoff:        opts.Backoff,
	})
}
