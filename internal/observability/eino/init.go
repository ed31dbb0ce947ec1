package eino

import (
	"context"
	"sync"

	einocallbacks "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/prompt"
	cbtemplate "github.com/cloudwego/eino/utils/callbacks"

	llmctx "z-novel-writer/internal/domain/service"
	"z-novel-writer/pkg/logger"
)

var initOnce sync.Once

// Init 注册进程级的 eino 回调：模型与向量化调用的指标/Span，以及模板渲染日志。
// 三个 cmd 都在装配依赖之前调用，重复调用无副作用。
func Init() {
	initOnce.Do(func() {
		handler := cbtemplate.NewHandlerHelper().
			ChatModel(newChatModelCallbackHandler()).
			Embedding(newEmbeddingCallbackHandler()).
			Prompt(newPromptCallbackHandler()).
			Handler()
		einocallbacks.AppendGlobalHandlers(handler)
	})
}

// newPromptCallbackHandler 模板缺槽位等渲染错误在模型调用之前发生，单独记一条日志
func newPromptCallbackHandler() *cbtemplate.PromptCallbackHandler {
	return &cbtemplate.PromptCallbackHandler{
		OnEnd: func(ctx context.Context, info *einocallbacks.RunInfo, output *prompt.CallbackOutput) context.Context {
			if output != nil {
				logger.Debug(ctx, "prompt rendered",
					"workflow", llmctx.WorkflowFromContext(ctx),
					"messages", len(output.Result))
			}
			return ctx
		},
		OnError: func(ctx context.Context, info *einocallbacks.RunInfo, err error) context.Context {
			node := ""
			if info != nil {
				node = info.Name
			}
			logger.Error(ctx, "prompt render failed", err,
				"workflow", llmctx.WorkflowFromContext(ctx),
				"node", node)
			return ctx
		},
	}
}
