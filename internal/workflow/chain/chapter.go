package chain

import (
	"context"

	wfmodel "z-novel-writer/internal/workflow/model"
	workflowprompt "z-novel-writer/internal/workflow/prompt"
	"z-novel-writer/internal/workflow/task"
)

// DraftInput 单次章节生成请求。GeneratedContent 为空表示首稿，否则为续写。
type DraftInput struct {
	wfmodel.Brief
	// Retrieval.PreviousContent 在章节阶段承载前情提要（检索前文 + 历章缩写）
	Retrieval    wfmodel.RetrievalResult
	LocalOutline string
	WordsNum     int

	// Continuation 续写指令，首稿为空
	Continuation     string
	GeneratedContent string
}

// Draft 一次生成得到的标题与正文片段
type Draft struct {
	Title   string
	Content string
}

// ChapterDrafter 章节正文的单次生成，补足字数的循环由上层负责
type ChapterDrafter struct {
	task *task.Task
}

func NewChapterDrafter(deps Deps, opts Options) (*ChapterDrafter, error) {
	t, err := deps.newTask("chapter", workflowprompt.PromptChapterV1, []task.Field{
		{Name: "title", Kind: task.KindString, Description: "章节标题"},
		{Name: "content", Kind: task.KindString, Description: "章节正文；续写时只输出新增部分"},
	}, opts)
	if err != nil {
		return nil, err
	}
	return &ChapterDrafter{task: t}, nil
}

func (d *ChapterDrafter) Draft(ctx context.Context, in DraftInput) (*Draft, error) {
	req := wfmodel.Request(in.Vars())
	for k, v := range in.Retrieval.Vars() {
		req[k] = v
	}
	req["local_outline"] = in.LocalOutline
	req["words_num"] = in.WordsNum
	req["continuation"] = in.Continuation
	req["generated_content"] = in.GeneratedContent

	res, err := d.task.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Draft{Title: res.String("title"), Content: res.String("content")}, nil
}
