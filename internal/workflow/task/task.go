// Package task 提供所有阶段共用的生成任务：模板 + 输出 schema + 后端重试 + 输出修复。
// 各阶段通过组合 Task 复用调用/解析行为，而不是继承同一个基类。
package task

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	openaiopts "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	llmctx "z-novel-writer/internal/domain/service"
	wfmodel "z-novel-writer/internal/workflow/model"
	wfnode "z-novel-writer/internal/workflow/node"
	workflowport "z-novel-writer/internal/workflow/port"
	workflowprompt "z-novel-writer/internal/workflow/prompt"
	apperrors "z-novel-writer/pkg/errors"
	"z-novel-writer/pkg/logger"
)

const (
	defaultBackoffInitial = time.Second
	defaultBackoffMax     = 20 * time.Second
)

// Backoff 后端重试的指数退避
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (b Backoff) delay(retry int) time.Duration {
	d := b.Initial
	if d <= 0 {
		d = defaultBackoffInitial
	}
	maxD := b.Max
	if maxD <= 0 {
		maxD = defaultBackoffMax
	}
	for i := 0; i < retry; i++ {
		d *= 2
		if d >= maxD {
			return maxD
		}
	}
	return d
}

// Spec 任务的绑定配置，构造后不再变化
type Spec struct {
	// Name 任务名，用于日志、指标与错误信息
	Name   string
	Prompt workflowprompt.PromptID
	// Fields 为空表示非结构化任务，只返回 Result.Raw
	Fields []Field

	Provider    string
	Model       string
	Temperature *float32
	MaxTokens   *int

	BackendRetries int
	RepairAttempts int
	Backoff        Backoff
}

// Task 单一用途的生成调用封装，跨调用无状态（仅 json_schema 支持探测结果会被记住）。
type Task struct {
	spec    Spec
	factory workflowport.ChatModelFactory
	prompts *workflowprompt.Registry
	schema  *outputSchema

	// provider 拒绝 response_format 后不再尝试
	schemaUnsupported atomic.Bool

	chainOnce sync.Once
	chain     compose.Runnable[*invocation, *schema.Message]
	chainErr  error

	sleep func(ctx context.Context, d time.Duration) error
}

type invocation struct {
	vars     map[string]any
	messages []*schema.Message
	out      *schema.Message
	err      error
}

// New 创建生成任务；模板与 schema 在构造时校验
func New(factory workflowport.ChatModelFactory, prompts *workflowprompt.Registry, spec Spec) (*Task, error) {
	if factory == nil {
		return nil, fmt.Errorf("llm factory not configured")
	}
	if prompts == nil {
		prompts = workflowprompt.NewRegistry()
	}
	if strings.TrimSpace(spec.Name) == "" {
		spec.Name = string(spec.Prompt)
	}
	if _, err := prompts.ChatTemplate(spec.Prompt); err != nil {
		return nil, err
	}
	if spec.BackendRetries < 0 {
		spec.BackendRetries = 0
	}
	if spec.RepairAttempts < 0 {
		spec.RepairAttempts = 0
	}

	t := &Task{
		spec:    spec,
		factory: factory,
		prompts: prompts,
		sleep:   sleepContext,
	}
	if len(spec.Fields) > 0 {
		s, err := newOutputSchema(spec.Fields)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", spec.Name, err)
		}
		t.schema = s
	}
	return t, nil
}

// Name 任务名
func (t *Task) Name() string { return t.spec.Name }

// Invoke 执行一次生成。
// 后端在重试预算内仍失败返回 CodeBackendError；输出在修复次数内仍不合 schema 返回 CodeMalformedOutput。
func (t *Task) Invoke(ctx context.Context, req wfmodel.Request) (*wfmodel.Result, error) {
	ctx = llmctx.WithWorkflowProvider(ctx, t.spec.Name, t.spec.Provider)
	start := time.Now()

	vars, err := t.buildVars(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeGenerationFailed, t.spec.Name+": build request")
	}

	chain, err := t.getChain()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeGenerationFailed, t.spec.Name+": build chain")
	}

	inv := &invocation{vars: vars}
	out, err := chain.Invoke(ctx, inv)
	if err != nil {
		if inv.err != nil {
			return nil, inv.err
		}
		return nil, apperrors.Wrap(err, apperrors.CodeGenerationFailed, t.spec.Name+": invoke chain")
	}

	if t.schema == nil {
		logger.Debug(ctx, "generation task done", "task", t.spec.Name, "runes", wfnode.RuneLen(out.Content), "elapsed", time.Since(start).String())
		return &wfmodel.Result{Raw: strings.TrimSpace(out.Content)}, nil
	}

	fields, perr := t.schema.parse(out.Content)
	for i := 0; perr != nil && i < t.spec.RepairAttempts; i++ {
		logger.Warn(ctx, "generation output invalid, repairing",
			"task", t.spec.Name,
			"repair_attempt", i+1,
			"error", perr.Error(),
		)
		out, err = t.repair(ctx, inv.messages, out.Content, perr)
		if err != nil {
			return nil, err
		}
		fields, perr = t.schema.parse(out.Content)
	}
	if perr != nil {
		return nil, apperrors.NewMalformedOutput(t.spec.Name, perr)
	}

	logger.Debug(ctx, "generation task done", "task", t.spec.Name, "elapsed", time.Since(start).String())
	return &wfmodel.Result{Raw: out.Content, Fields: fields}, nil
}

// buildVars 补齐模板引用的全部槽位：缺失为空串，结构化任务自动填入输出格式说明
func (t *Task) buildVars(req wfmodel.Request) (map[string]any, error) {
	slots, err := t.prompts.Slots(t.spec.Prompt)
	if err != nil {
		return nil, err
	}
	vars := make(map[string]any, len(slots))
	for _, slot := range slots {
		v, ok := req[slot]
		if !ok || v == nil {
			v = ""
		}
		vars[slot] = v
	}
	if _, ok := vars[workflowprompt.SlotReturnFormat]; ok {
		if t.schema != nil {
			vars[workflowprompt.SlotReturnFormat] = t.schema.instructions()
		} else if _, given := req[workflowprompt.SlotReturnFormat]; !given {
			vars[workflowprompt.SlotReturnFormat] = ""
		}
	}
	return vars, nil
}

func (t *Task) getChain() (compose.Runnable[*invocation, *schema.Message], error) {
	t.chainOnce.Do(func() {
		t.chain, t.chainErr = t.buildChain(context.Background())
	})
	return t.chain, t.chainErr
}

func (t *Task) buildChain(ctx context.Context) (compose.Runnable[*invocation, *schema.Message], error) {
	name := t.spec.Name
	chain := compose.NewChain[*invocation, *schema.Message]()

	chain.AppendLambda(
		compose.InvokableLambda(func(ctx context.Context, inv *invocation) (*invocation, error) {
			tpl, err := t.prompts.ChatTemplate(t.spec.Prompt)
			if err != nil {
				return nil, err
			}
			msgs, err := tpl.Format(ctx, inv.vars)
			if err != nil {
				return nil, fmt.Errorf("format prompt %s: %w", t.spec.Prompt, err)
			}
			inv.messages = msgs
			return inv, nil
		}),
		compose.WithNodeName(name+".template"),
	)

	chain.AppendLambda(
		compose.InvokableLambda(func(ctx context.Context, inv *invocation) (*invocation, error) {
			out, err := t.generate(ctx, inv.messages)
			if err != nil {
				inv.err = err
				return nil, err
			}
			inv.out = out
			return inv, nil
		}),
		compose.WithNodeName(name+".llm"),
	)

	chain.AppendLambda(
		compose.InvokableLambda(func(_ context.Context, inv *invocation) (*schema.Message, error) {
			if inv == nil || inv.out == nil {
				return nil, fmt.Errorf("empty llm response")
			}
			return inv.out, nil
		}),
		compose.WithNodeName(name+".finalize"),
	)

	return chain.Compile(ctx)
}

// generate 在后端重试预算内调用模型；预算耗尽返回 BackendError
func (t *Task) generate(ctx context.Context, msgs []*schema.Message) (*schema.Message, error) {
	chatModel, err := t.factory.Get(ctx, t.spec.Provider)
	if err != nil {
		return nil, apperrors.NewBackendError(t.spec.Name, err)
	}

	var lastErr error
	for attempt := 0; attempt <= t.spec.BackendRetries; attempt++ {
		if attempt > 0 {
			if err := t.sleep(ctx, t.spec.Backoff.delay(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}
		out, err := t.generateOnce(llmctx.WithAttempt(ctx, attempt), chatModel, msgs)
		if err == nil {
			return out, nil
		}
		lastErr = err
		logger.Warn(ctx, "llm call failed",
			"task", t.spec.Name,
			"provider", t.spec.Provider,
			"attempt", attempt+1,
			"error", err.Error(),
		)
		if !wfnode.IsRetryableBackendError(err) {
			break
		}
	}
	return nil, apperrors.NewBackendError(t.spec.Name, lastErr)
}

func (t *Task) generateOnce(ctx context.Context, chatModel model.BaseChatModel, msgs []*schema.Message) (*schema.Message, error) {
	useSchema := t.schema != nil && !t.schemaUnsupported.Load()
	out, err := chatModel.Generate(ctx, msgs, t.modelOptions(useSchema)...)
	if err != nil && useSchema && wfnode.IsResponseFormatUnsupportedError(err) {
		t.schemaUnsupported.Store(true)
		logger.Warn(ctx, "llm json_schema not supported, fallback to prompt-only",
			"task", t.spec.Name,
			"provider", t.spec.Provider,
			"error", err.Error(),
		)
		out, err = chatModel.Generate(ctx, msgs, t.modelOptions(false)...)
	}
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("empty llm response")
	}
	return out, nil
}

// repair 把不合格输出与校验错误交回模型修正
func (t *Task) repair(ctx context.Context, original []*schema.Message, badOutput string, cause error) (*schema.Message, error) {
	tpl, err := t.prompts.ChatTemplate(workflowprompt.PromptOutputRepairV1)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeGenerationFailed, t.spec.Name+": repair prompt")
	}
	repairMsgs, err := tpl.Format(ctx, map[string]any{
		"output":                        badOutput,
		"error":                         cause.Error(),
		workflowprompt.SlotReturnFormat: t.schema.instructions(),
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeGenerationFailed, t.spec.Name+": repair prompt")
	}

	// 保留原始用户请求作为上下文，修复指令放在最后
	msgs := make([]*schema.Message, 0, len(original)+len(repairMsgs))
	msgs = append(msgs, repairMsgs[0])
	for _, m := range original {
		if m.Role == schema.User {
			msgs = append(msgs, m)
		}
	}
	msgs = append(msgs, repairMsgs[1:]...)
	return t.generate(ctx, msgs)
}

func (t *Task) modelOptions(enableSchema bool) []model.Option {
	opts := make([]model.Option, 0, 4)
	if t.spec.Temperature != nil {
		opts = append(opts, model.WithTemperature(*t.spec.Temperature))
	}
	if t.spec.MaxTokens != nil {
		opts = append(opts, model.WithMaxTokens(*t.spec.MaxTokens))
	}
	if m := strings.TrimSpace(t.spec.Model); m != "" {
		opts = append(opts, model.WithModel(m))
	}
	if enableSchema && t.schema != nil {
		opts = append(opts, openaiopts.WithExtraFields(map[string]any{
			"response_format": map[string]any{
				"type": "json_schema",
				"json_schema": map[string]any{
					"name":   t.spec.Name,
					"strict": false,
					"schema": t.schema.doc,
				},
			},
		}))
	}
	return opts
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
