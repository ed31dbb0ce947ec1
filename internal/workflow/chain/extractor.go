package chain

import (
	"context"

	wfmodel "z-novel-writer/internal/workflow/model"
	wfnode "z-novel-writer/internal/workflow/node"
	workflowprompt "z-novel-writer/internal/workflow/prompt"
	"z-novel-writer/internal/workflow/task"
)

// ExtractInput 查询提取的输入
type ExtractInput struct {
	wfmodel.Brief
}

// QueryExtractor 从创作要求中提取五类检索词
type QueryExtractor struct {
	task *task.Task
}

func NewQueryExtractor(deps Deps, opts Options) (*QueryExtractor, error) {
	t, err := deps.newTask("query_extract", workflowprompt.PromptQueryExtractV1, []task.Field{
		{Name: "outline_queries", Kind: task.KindList, Description: "需要检索的大纲信息"},
		{Name: "context_queries", Kind: task.KindList, Description: "需要检索的前文内容"},
		{Name: "knowledge_queries", Kind: task.KindList, Description: "需要检索的背景知识"},
		{Name: "character_queries", Kind: task.KindList, Description: "需要检索的角色设定"},
		{Name: "equipment_queries", Kind: task.KindList, Description: "需要检索的装备、道具设定"},
	}, opts)
	if err != nil {
		return nil, err
	}
	return &QueryExtractor{task: t}, nil
}

// Extract 五个桶总是全部返回；后端与格式错误原样上抛
func (e *QueryExtractor) Extract(ctx context.Context, in ExtractInput) (wfmodel.QueryBuckets, error) {
	res, err := e.task.Invoke(ctx, wfmodel.Request(in.Vars()))
	if err != nil {
		return wfmodel.QueryBuckets{}.Normalize(), err
	}
	return wfmodel.QueryBuckets{
		Outline:   wfnode.NormalizeQueries(res.List("outline_queries")),
		Context:   wfnode.NormalizeQueries(res.List("context_queries")),
		Knowledge: wfnode.NormalizeQueries(res.List("knowledge_queries")),
		Character: wfnode.NormalizeQueries(res.List("character_queries")),
		Equipment: wfnode.NormalizeQueries(res.List("equipment_queries")),
	}.Normalize(), nil
}
