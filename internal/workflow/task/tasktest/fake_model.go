// Package tasktest 提供测试用的脚本化 ChatModel，不访问任何真实后端。
package tasktest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	workflowport "z-novel-writer/internal/workflow/port"
)

// Reply 一次模拟响应：Err 非空时返回错误
type Reply struct {
	Content string
	Err     error
}

// Responder 根据请求消息决定响应，call 从 0 开始计数
type Responder func(ctx context.Context, call int, msgs []*schema.Message) Reply

// Call 记录的一次调用
type Call struct {
	Messages []*schema.Message
	Options  *model.Options
}

// ScriptedModel 按脚本返回结果并记录调用，可并发使用
type ScriptedModel struct {
	respond Responder

	mu    sync.Mutex
	calls []Call
}

var _ model.BaseChatModel = (*ScriptedModel)(nil)

// New 使用自定义 Responder
func New(r Responder) *ScriptedModel {
	return &ScriptedModel{respond: r}
}

// Sequence 依次返回给定响应，脚本用尽后重复最后一个
func Sequence(replies ...Reply) *ScriptedModel {
	return New(func(_ context.Context, call int, _ []*schema.Message) Reply {
		if len(replies) == 0 {
			return Reply{Err: errors.New("no scripted reply")}
		}
		if call >= len(replies) {
			return replies[len(replies)-1]
		}
		return replies[call]
	})
}

// Text 始终返回同一段文本
func Text(content string) *ScriptedModel {
	return Sequence(Reply{Content: content})
}

func (m *ScriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	n := len(m.calls)
	m.calls = append(m.calls, Call{Messages: input, Options: model.GetCommonOptions(nil, opts...)})
	m.mu.Unlock()

	r := m.respond(ctx, n, input)
	if r.Err != nil {
		return nil, r.Err
	}
	return schema.AssistantMessage(r.Content, nil), nil
}

func (m *ScriptedModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("stream not supported by scripted model")
}

// Calls 返回调用记录副本
func (m *ScriptedModel) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount 调用次数
func (m *ScriptedModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Factory 把模型包装为 ChatModelFactory；按 provider 名称分发，未命中时使用 fallback
func Factory(fallback model.BaseChatModel, byProvider map[string]model.BaseChatModel) workflowport.ChatModelFactory {
	return workflowport.ChatModelFactoryFunc(func(_ context.Context, name string) (model.BaseChatModel, error) {
		if m, ok := byProvider[name]; ok {
			return m, nil
		}
		if fallback == nil {
			return nil, fmt.Errorf("provider %q not configured", name)
		}
		return fallback, nil
	})
}

// UserText 拼接请求中全部 user 消息，便于按内容断言或路由
func UserText(msgs []*schema.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Role == schema.User {
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// SystemText 拼接 system 消息
func SystemText(msgs []*schema.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Role == schema.System {
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}
