package story

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-writer/internal/workflow/chain"
	wfnode "z-novel-writer/internal/workflow/node"
	apperrors "z-novel-writer/pkg/errors"
)

type drafterFunc func(ctx context.Context, in chain.DraftInput) (*chain.Draft, error)

func (f drafterFunc) Draft(ctx context.Context, in chain.DraftInput) (*chain.Draft, error) {
	return f(ctx, in)
}

// recordingDrafter 记录每次调用的输入
type recordingDrafter struct {
	mu     sync.Mutex
	inputs []chain.DraftInput
	next   func(call int, in chain.DraftInput) (*chain.Draft, error)
}

func (d *recordingDrafter) Draft(_ context.Context, in chain.DraftInput) (*chain.Draft, error) {
	d.mu.Lock()
	call := len(d.inputs)
	d.inputs = append(d.inputs, in)
	d.mu.Unlock()
	return d.next(call, in)
}

func (d *recordingDrafter) calls() []chain.DraftInput {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]chain.DraftInput(nil), d.inputs...)
}

var writtenRe = regexp.MustCompile(`本章已写 (\d+) 字`)

func TestChapterWriter_TargetZeroSingleCall(t *testing.T) {
	d := &recordingDrafter{next: func(int, chain.DraftInput) (*chain.Draft, error) {
		return &chain.Draft{Title: "开端", Content: "短短一段。"}, nil
	}}
	w := NewChapterWriter(d, WriterConfig{})

	out, err := w.Write(context.Background(), ChapterRequest{Outline: "侦探接到委托", TargetRunes: 0})
	require.NoError(t, err)
	assert.Len(t, d.calls(), 1)
	assert.Equal(t, "短短一段。", out.Content)
	assert.Equal(t, 0, out.Shortfall())
}

func TestChapterWriter_EarlyExit(t *testing.T) {
	d := &recordingDrafter{next: func(int, chain.DraftInput) (*chain.Draft, error) {
		return &chain.Draft{Content: strings.Repeat("字", 96)}, nil
	}}
	w := NewChapterWriter(d, WriterConfig{})

	out, err := w.Write(context.Background(), ChapterRequest{TargetRunes: 100})
	require.NoError(t, err)
	assert.Len(t, d.calls(), 1)
	assert.Equal(t, 4, out.Shortfall())
}

func TestChapterWriter_MonotonicAccumulation(t *testing.T) {
	d := &recordingDrafter{next: func(call int, _ chain.DraftInput) (*chain.Draft, error) {
		return &chain.Draft{Title: "寻猫", Content: strings.Repeat(string(rune('甲'+call)), 120)}, nil
	}}
	w := NewChapterWriter(d, WriterConfig{MaxAttempts: 5})

	out, err := w.Write(context.Background(), ChapterRequest{TargetRunes: 1000})
	require.NoError(t, err)

	calls := d.calls()
	require.Len(t, calls, 5)
	assert.Empty(t, calls[0].GeneratedContent)
	assert.Empty(t, calls[0].Continuation)

	prev := 0
	for _, in := range calls[1:] {
		m := writtenRe.FindStringSubmatch(in.Continuation)
		require.Len(t, m, 2)
		n, _ := strconv.Atoi(m[1])
		assert.GreaterOrEqual(t, n, prev)
		assert.LessOrEqual(t, wfnode.RuneLen(in.GeneratedContent), 500)
		prev = n
	}
	assert.Greater(t, out.Length(), prev)
	assert.Equal(t, "寻猫", out.Title)
	assert.Equal(t, 5, out.Attempts)
	assert.Greater(t, out.Shortfall(), 0)
}

func TestChapterWriter_SuggestedAdditionCapped(t *testing.T) {
	d := &recordingDrafter{next: func(int, chain.DraftInput) (*chain.Draft, error) {
		return &chain.Draft{Content: strings.Repeat("字", 100)}, nil
	}}
	w := NewChapterWriter(d, WriterConfig{MaxAttempts: 2})

	_, err := w.Write(context.Background(), ChapterRequest{TargetRunes: 5000})
	require.NoError(t, err)
	calls := d.calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].Continuation, "还差 4900 字")
	assert.Contains(t, calls[1].Continuation, "本次新增约 1500 字")
}

func TestChapterWriter_SeamHasNoDuplicatedAnchor(t *testing.T) {
	first := strings.Repeat("雨一直下。", 30) + "林川推开事务所的门，看见一只黑猫蹲在窗台上。"
	d := &recordingDrafter{next: func(call int, in chain.DraftInput) (*chain.Draft, error) {
		if call == 0 {
			return &chain.Draft{Content: first}, nil
		}
		// 模型把锚点末句原样回显后再续写
		return &chain.Draft{Content: "林川推开事务所的门，看见一只黑猫蹲在窗台上。黑猫跳下窗台，消失在雨里。"}, nil
	}}
	w := NewChapterWriter(d, WriterConfig{MaxAttempts: 2})

	out, err := w.Write(context.Background(), ChapterRequest{TargetRunes: 2000})
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out.Content, "看见一只黑猫蹲在窗台上"))
	assert.True(t, strings.HasSuffix(out.Content, "\n\n黑猫跳下窗台，消失在雨里。"))
}

func TestChapterWriter_FailedAttemptsConsumeBudget(t *testing.T) {
	backend := apperrors.NewBackendError("chapter", errors.New("503"))
	d := &recordingDrafter{next: func(int, chain.DraftInput) (*chain.Draft, error) { return nil, backend }}
	w := NewChapterWriter(d, WriterConfig{MaxAttempts: 3})

	_, err := w.Write(context.Background(), ChapterRequest{TargetRunes: 500})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeBackendError))
	assert.Len(t, d.calls(), 3)
}

func TestChapterWriter_RecoversAfterFailure(t *testing.T) {
	d := &recordingDrafter{next: func(call int, _ chain.DraftInput) (*chain.Draft, error) {
		if call == 0 {
			return nil, errors.New("timeout")
		}
		return &chain.Draft{Content: strings.Repeat("字", 500)}, nil
	}}
	w := NewChapterWriter(d, WriterConfig{})

	out, err := w.Write(context.Background(), ChapterRequest{TargetRunes: 500})
	require.NoError(t, err)
	calls := d.calls()
	require.Len(t, calls, 2)
	// 首稿失败后仍按首稿请求
	assert.Empty(t, calls[1].Continuation)
	assert.Equal(t, 2, out.Attempts)
}

func TestChapterWriter_CancelKeepsContent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := drafterFunc(func(context.Context, chain.DraftInput) (*chain.Draft, error) {
		cancel()
		return &chain.Draft{Content: "写了一半。"}, nil
	})
	w := NewChapterWriter(d, WriterConfig{})

	out, err := w.Write(ctx, ChapterRequest{TargetRunes: 1000})
	require.NoError(t, err)
	assert.Equal(t, "写了一半。", out.Content)
}

func TestChapterWriter_CancelBeforeContent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := NewChapterWriter(drafterFunc(func(context.Context, chain.DraftInput) (*chain.Draft, error) {
		t.Fatal("drafter must not be called")
		return nil, nil
	}), WriterConfig{})

	_, err := w.Write(ctx, ChapterRequest{TargetRunes: 1000})
	assert.ErrorIs(t, err, context.Canceled)
}
