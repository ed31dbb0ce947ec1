package chain

import (
	"context"
	"fmt"

	wfmodel "z-novel-writer/internal/workflow/model"
	workflowprompt "z-novel-writer/internal/workflow/prompt"
	"z-novel-writer/internal/workflow/task"
)

// OutlineInput 章节大纲生成输入
type OutlineInput struct {
	wfmodel.Brief
	Retrieval    wfmodel.RetrievalResult
	ChapterCount int
}

// OutlineGenerator 生成章节大纲列表。数量与请求不符由调用方记录，不视为错误。
type OutlineGenerator struct {
	task *task.Task
}

func NewOutlineGenerator(deps Deps, opts Options) (*OutlineGenerator, error) {
	t, err := deps.newTask("outline", workflowprompt.PromptOutlineV1, []task.Field{
		{Name: "outlines", Kind: task.KindList, Description: "按章节顺序排列的章节大纲，每项一章"},
	}, opts)
	if err != nil {
		return nil, err
	}
	return &OutlineGenerator{task: t}, nil
}

func (g *OutlineGenerator) Generate(ctx context.Context, in OutlineInput) ([]string, error) {
	if in.ChapterCount <= 0 {
		return nil, fmt.Errorf("chapter count must be positive, got %d", in.ChapterCount)
	}
	req := wfmodel.Request(in.Vars())
	for k, v := range in.Retrieval.Vars() {
		req[k] = v
	}
	req["chapter_num"] = in.ChapterCount

	res, err := g.task.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.List("outlines"), nil
}
