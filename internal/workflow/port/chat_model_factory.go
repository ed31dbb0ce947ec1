package port

import (
	"context"

	"github.com/cloudwego/eino/components/model"
)

// ChatModelFactory 定义工作流层对 LLM ChatModel 的最小依赖（port）。
// name 为 provider 名称，空串表示主模型。
type ChatModelFactory interface {
	Get(ctx context.Context, name string) (model.BaseChatModel, error)
}

// ChatModelFactoryFunc 便于在装配与测试中用函数实现 ChatModelFactory
type ChatModelFactoryFunc func(ctx context.Context, name string) (model.BaseChatModel, error)

func (f ChatModelFactoryFunc) Get(ctx context.Context, name string) (model.BaseChatModel, error) {
	return f(ctx, name)
}
