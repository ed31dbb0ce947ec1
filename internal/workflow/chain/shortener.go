package chain

import (
	"context"
	"strings"

	wfmodel "z-novel-writer/internal/workflow/model"
	workflowprompt "z-novel-writer/internal/workflow/prompt"
	"z-novel-writer/internal/workflow/task"
)

// ShortenInput 缩写输入：刚写完的章节、下一章大纲、已缩写的前文
type ShortenInput struct {
	CurrentContent  string
	NextOutline     string
	PreviousContent string
}

// ShortenOutput 缩写结果与修订后的下一章大纲
type ShortenOutput struct {
	Summary     string
	NextOutline string
}

// ContentShortener 缩写上一章并顺势修订下一章大纲
type ContentShortener struct {
	task *task.Task
}

func NewContentShortener(deps Deps, opts Options) (*ContentShortener, error) {
	t, err := deps.newTask("content_shorten", workflowprompt.PromptContentShortenV1, []task.Field{
		{Name: "shortened_content", Kind: task.KindString, Description: "缩写后的章节内容，少于 800 字"},
		{Name: "next_outline", Kind: task.KindString, Description: "修订后的下一章节大纲"},
	}, opts)
	if err != nil {
		return nil, err
	}
	return &ContentShortener{task: t}, nil
}

// Compact 修订大纲为空时沿用传入的大纲
func (s *ContentShortener) Compact(ctx context.Context, in ShortenInput) (ShortenOutput, error) {
	res, err := s.task.Invoke(ctx, wfmodel.Request{
		"current_content":           in.CurrentContent,
		"next_outline":              in.NextOutline,
		wfmodel.SlotPreviousContent: in.PreviousContent,
	})
	if err != nil {
		return ShortenOutput{}, err
	}
	out := ShortenOutput{
		Summary:     res.String("shortened_content"),
		NextOutline: res.String("next_outline"),
	}
	if strings.TrimSpace(out.NextOutline) == "" {
		out.NextOutline = in.NextOutline
	}
	return out, nil
}
