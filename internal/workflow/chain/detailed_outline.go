package chain

import (
	"context"

	wfmodel "z-novel-writer/internal/workflow/model"
	workflowprompt "z-novel-writer/internal/workflow/prompt"
	"z-novel-writer/internal/workflow/task"
)

// DetailedOutlineInput 单章细纲输入
type DetailedOutlineInput struct {
	ChapterOutline string
	TempSettings   string
	Retrieval      wfmodel.RetrievalResult
}

// DetailedOutlineGenerator 把一条章节大纲展开为场景细纲；只依赖入参，可并发调用
type DetailedOutlineGenerator struct {
	task *task.Task
}

func NewDetailedOutlineGenerator(deps Deps, opts Options) (*DetailedOutlineGenerator, error) {
	t, err := deps.newTask("detailed_outline", workflowprompt.PromptDetailedOutlineV1, []task.Field{
		{Name: "detailed_outlines", Kind: task.KindList, Description: "3 到 8 个场景细纲，按发生顺序排列"},
	}, opts)
	if err != nil {
		return nil, err
	}
	return &DetailedOutlineGenerator{task: t}, nil
}

func (g *DetailedOutlineGenerator) Generate(ctx context.Context, in DetailedOutlineInput) ([]string, error) {
	req := wfmodel.Request(in.Retrieval.Vars())
	req["chapter_outline"] = in.ChapterOutline
	req[wfmodel.SlotTempSettings] = in.TempSettings

	res, err := g.task.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.List("detailed_outlines"), nil
}
