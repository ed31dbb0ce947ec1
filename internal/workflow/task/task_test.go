package task

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wfmodel "z-novel-writer/internal/workflow/model"
	workflowprompt "z-novel-writer/internal/workflow/prompt"
	"z-novel-writer/internal/workflow/task/tasktest"
	apperrors "z-novel-writer/pkg/errors"
)

func queryFields() []Field {
	return []Field{
		{Name: "outline_queries", Kind: KindList, Description: "大纲检索词"},
		{Name: "context_queries", Kind: KindList, Description: "前文检索词"},
	}
}

func newTestTask(t *testing.T, m *tasktest.ScriptedModel, spec Spec) *Task {
	t.Helper()
	if spec.Name == "" {
		spec.Name = "test_task"
	}
	tk, err := New(tasktest.Factory(m, nil), workflowprompt.NewRegistry(), spec)
	require.NoError(t, err)
	tk.sleep = func(context.Context, time.Duration) error { return nil }
	return tk
}

func TestTaskInvoke_Structured(t *testing.T) {
	m := tasktest.Text("```json\n{\"outline_queries\": [\"主角\", \" \"], \"context_queries\": null}\n```")
	tk := newTestTask(t, m, Spec{Prompt: workflowprompt.PromptQueryExtractV1, Fields: queryFields()})

	res, err := tk.Invoke(context.Background(), wfmodel.Request{"user_input": "写一个侦探故事"})
	require.NoError(t, err)
	assert.Equal(t, []string{"主角"}, res.List("outline_queries"))
	assert.Empty(t, res.List("context_queries"))

	calls := m.Calls()
	require.Len(t, calls, 1)
	user := tasktest.UserText(calls[0].Messages)
	assert.Contains(t, user, "写一个侦探故事")
	assert.Contains(t, user, "outline_queries")
	// 未提供的槽位以空串填充，不残留占位符
	assert.NotContains(t, user, "{temp_settings}")
}

func TestTaskInvoke_Raw(t *testing.T) {
	m := tasktest.Text("  改写后的查询  \n")
	tk := newTestTask(t, m, Spec{Prompt: workflowprompt.PromptQueryRewriteV1})

	res, err := tk.Invoke(context.Background(), wfmodel.Request{"query": "猫"})
	require.NoError(t, err)
	assert.Equal(t, "改写后的查询", res.Raw)
	assert.Nil(t, res.Fields)
}

func TestTaskInvoke_BackendRetry(t *testing.T) {
	m := tasktest.Sequence(
		tasktest.Reply{Err: errors.New("status code: 503, upstream busy")},
		tasktest.Reply{Err: errors.New("connection reset")},
		tasktest.Reply{Content: "ok"},
	)
	tk := newTestTask(t, m, Spec{Prompt: workflowprompt.PromptQueryRewriteV1, BackendRetries: 2})

	res, err := tk.Invoke(context.Background(), wfmodel.Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Raw)
	assert.Equal(t, 3, m.CallCount())
}

func TestTaskInvoke_BackendExhausted(t *testing.T) {
	m := tasktest.Sequence(tasktest.Reply{Err: errors.New("status code: 500")})
	tk := newTestTask(t, m, Spec{Prompt: workflowprompt.PromptQueryRewriteV1, BackendRetries: 1})

	_, err := tk.Invoke(context.Background(), wfmodel.Request{})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeBackendError))
	assert.Equal(t, 2, m.CallCount())
}

func TestTaskInvoke_NonRetryableBackend(t *testing.T) {
	m := tasktest.Sequence(tasktest.Reply{Err: errors.New("status code: 401, invalid api key")})
	tk := newTestTask(t, m, Spec{Prompt: workflowprompt.PromptQueryRewriteV1, BackendRetries: 3})

	_, err := tk.Invoke(context.Background(), wfmodel.Request{})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeBackendError))
	assert.Equal(t, 1, m.CallCount())
}

func TestTaskInvoke_RepairMalformed(t *testing.T) {
	m := tasktest.Sequence(
		tasktest.Reply{Content: "这里是检索词：主角、反派"},
		tasktest.Reply{Content: `{"outline_queries": ["主角"], "context_queries": ["反派"]}`},
	)
	tk := newTestTask(t, m, Spec{Prompt: workflowprompt.PromptQueryExtractV1, Fields: queryFields(), RepairAttempts: 2})

	res, err := tk.Invoke(context.Background(), wfmodel.Request{"user_input": "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"反派"}, res.List("context_queries"))

	calls := m.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, tasktest.UserText(calls[1].Messages), "这里是检索词")
}

func TestTaskInvoke_MalformedAfterRepairs(t *testing.T) {
	m := tasktest.Text(`{"outline_queries": "主角"}`)
	tk := newTestTask(t, m, Spec{Prompt: workflowprompt.PromptQueryExtractV1, Fields: queryFields(), RepairAttempts: 2})

	_, err := tk.Invoke(context.Background(), wfmodel.Request{})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeMalformedOutput))
	assert.Equal(t, 3, m.CallCount())
}

func TestTaskInvoke_ResponseFormatFallback(t *testing.T) {
	valid := `{"outline_queries": ["a"], "context_queries": []}`
	m := tasktest.Sequence(
		tasktest.Reply{Err: errors.New("400 Bad Request: unsupported parameter response_format")},
		tasktest.Reply{Content: valid},
	)
	tk := newTestTask(t, m, Spec{Prompt: workflowprompt.PromptQueryExtractV1, Fields: queryFields()})

	res, err := tk.Invoke(context.Background(), wfmodel.Request{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.List("outline_queries"))
	assert.True(t, tk.schemaUnsupported.Load())
	assert.Equal(t, 2, m.CallCount())

	_, err = tk.Invoke(context.Background(), wfmodel.Request{})
	require.NoError(t, err)
	assert.Equal(t, 3, m.CallCount())
}

func TestTaskInvoke_ContextCanceled(t *testing.T) {
	m := tasktest.Text("ok")
	tk := newTestTask(t, m, Spec{Prompt: workflowprompt.PromptQueryRewriteV1, BackendRetries: 3})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tk.Invoke(ctx, wfmodel.Request{})
	require.Error(t, err)
	assert.Equal(t, 0, m.CallCount())
}

func TestNew_UnknownPrompt(t *testing.T) {
	_, err := New(tasktest.Factory(tasktest.Text(""), nil), workflowprompt.NewRegistry(), Spec{Prompt: "missing_v1"})
	require.Error(t, err)
}

func TestOutputSchema_Instructions(t *testing.T) {
	s, err := newOutputSchema(queryFields())
	require.NoError(t, err)
	ins := s.instructions()
	assert.True(t, strings.Contains(ins, `"outline_queries": string[]`))
	assert.True(t, strings.Contains(ins, `"context_queries": string[]  //`))
}

func TestOutputSchema_BareArray(t *testing.T) {
	s, err := newOutputSchema([]Field{{Name: "outlines", Kind: KindList}})
	require.NoError(t, err)
	out, err := s.parse(`["第一章", "第二章"]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"第一章", "第二章"}, out["outlines"])
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second}
	assert.Equal(t, 100*time.Millisecond, b.delay(0))
	assert.Equal(t, 400*time.Millisecond, b.delay(2))
	assert.Equal(t, time.Second, b.delay(10))
}
