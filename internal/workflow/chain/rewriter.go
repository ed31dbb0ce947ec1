package chain

import (
	"context"

	wfmodel "z-novel-writer/internal/workflow/model"
	wfnode "z-novel-writer/internal/workflow/node"
	workflowprompt "z-novel-writer/internal/workflow/prompt"
	"z-novel-writer/internal/workflow/task"
)

// QueryRewriter 把一条检索词改写成多个角度的变体，用于扩大召回
type QueryRewriter struct {
	task *task.Task
}

func NewQueryRewriter(deps Deps, opts Options) (*QueryRewriter, error) {
	t, err := deps.newTask("query_rewrite", workflowprompt.PromptQueryRewriteV1, []task.Field{
		{Name: "rewritten_queries", Kind: task.KindList, Description: "改写后的 3 个查询词"},
	}, opts)
	if err != nil {
		return nil, err
	}
	return &QueryRewriter{task: t}, nil
}

// Expand 返回改写变体（不含原查询）
func (r *QueryRewriter) Expand(ctx context.Context, query string) ([]string, error) {
	res, err := r.task.Invoke(ctx, wfmodel.Request{"query": query})
	if err != nil {
		return nil, err
	}
	return wfnode.NormalizeQueries(res.List("rewritten_queries")), nil
}
