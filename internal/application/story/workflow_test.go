package story

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"z-novel-writer/internal/workflow/chain"
	wfmodel "z-novel-writer/internal/workflow/model"
	apperrors "z-novel-writer/pkg/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeKnowledge struct {
	mu       sync.Mutex
	result   wfmodel.RetrievalResult
	calls    int
	updates  int
	updateFn func() error
}

func (k *fakeKnowledge) Retrieve(context.Context, wfmodel.QueryBuckets) wfmodel.RetrievalResult {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls++
	return k.result
}

func (k *fakeKnowledge) UpdateAll(context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.updates++
	if k.updateFn != nil {
		return k.updateFn()
	}
	return nil
}

type fakeExtractor struct{ err error }

func (e fakeExtractor) Extract(context.Context, chain.ExtractInput) (wfmodel.QueryBuckets, error) {
	return wfmodel.QueryBuckets{}.Normalize(), e.err
}

type outlinerFunc func(ctx context.Context, in chain.OutlineInput) ([]string, error)

func (f outlinerFunc) Generate(ctx context.Context, in chain.OutlineInput) ([]string, error) {
	return f(ctx, in)
}

type detailerFunc func(ctx context.Context, in chain.DetailedOutlineInput) ([]string, error)

func (f detailerFunc) Generate(ctx context.Context, in chain.DetailedOutlineInput) ([]string, error) {
	return f(ctx, in)
}

type recordingShortener struct {
	mu     sync.Mutex
	inputs []chain.ShortenInput
	err    error
}

func (s *recordingShortener) Compact(_ context.Context, in chain.ShortenInput) (chain.ShortenOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, in)
	if s.err != nil {
		return chain.ShortenOutput{}, s.err
	}
	n := len(s.inputs)
	return chain.ShortenOutput{Summary: fmt.Sprintf("缩写%d", n), NextOutline: "修订：" + in.NextOutline}, nil
}

// progressLog 收集进度与状态
type progressLog struct {
	mu       sync.Mutex
	progress []float64
	status   []string
}

func (p *progressLog) callbacks() Callbacks {
	return Callbacks{
		OnProgress: func(v float64) {
			p.mu.Lock()
			p.progress = append(p.progress, v)
			p.mu.Unlock()
		},
		OnStatus: func(s string) {
			p.mu.Lock()
			p.status = append(p.status, s)
			p.mu.Unlock()
		},
	}
}

func assertMonotonic(t *testing.T, values []float64) {
	t.Helper()
	for i := 1; i < len(values); i++ {
		assert.GreaterOrEqual(t, values[i], values[i-1], "progress decreased at %d: %v", i, values)
	}
}

func TestGenerateOutlines(t *testing.T) {
	kb := &fakeKnowledge{result: wfmodel.RetrievalResult{CharacterSettings: "侦探林川"}}
	var got chain.OutlineInput
	w := NewWorkflow(Stages{
		Knowledge: kb,
		Extractor: fakeExtractor{},
		Outliner: outlinerFunc(func(_ context.Context, in chain.OutlineInput) ([]string, error) {
			got = in
			return []string{"第1章：林川接到委托", "第二章 找到黑猫", " "}, nil
		}),
	}, WorkflowConfig{})

	log := &progressLog{}
	res, err := w.GenerateOutlines(context.Background(), OutlineRequest{
		Brief:        wfmodel.Brief{UserInput: "侦探寻找走失的猫"},
		ChapterCount: 2,
	}, log.callbacks())
	require.NoError(t, err)

	assert.Equal(t, []string{"林川接到委托", "找到黑猫"}, res.Outlines)
	assert.Equal(t, "第1章：林川接到委托\n\n第2章：找到黑猫", res.Display)
	assert.Equal(t, "侦探林川", got.Retrieval.CharacterSettings)
	assert.Equal(t, []float64{0.1, 0.5, 0.9, 1.0}, log.progress)
}

func TestGenerateOutlines_ExtractFailure(t *testing.T) {
	w := NewWorkflow(Stages{
		Knowledge: &fakeKnowledge{},
		Extractor: fakeExtractor{err: apperrors.NewMalformedOutput("query_extract", errors.New("bad json"))},
	}, WorkflowConfig{})

	_, err := w.GenerateOutlines(context.Background(), OutlineRequest{ChapterCount: 1}, Callbacks{})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeMalformedOutput))
}

func TestGenerateDetailedOutlines_Precondition(t *testing.T) {
	kb := &fakeKnowledge{}
	w := NewWorkflow(Stages{Knowledge: kb, Extractor: fakeExtractor{}}, WorkflowConfig{})

	_, err := w.GenerateDetailedOutlines(context.Background(), DetailedOutlineRequest{Outlines: []string{" "}}, Callbacks{})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodePrecondition))
	assert.Equal(t, 0, kb.calls)
}

func TestGenerateDetailedOutlines_OneFailureKeepsOrder(t *testing.T) {
	outlines := []string{"一", "二", "三", "四", "五", "六", "七"}
	w := NewWorkflow(Stages{
		Knowledge: &fakeKnowledge{},
		Extractor: fakeExtractor{},
		Detailer: detailerFunc(func(_ context.Context, in chain.DetailedOutlineInput) ([]string, error) {
			if in.ChapterOutline == "三" {
				return nil, apperrors.NewBackendError("detailed_outline", errors.New("503"))
			}
			return []string{in.ChapterOutline + "-场景1", in.ChapterOutline + "-场景2", in.ChapterOutline + "-场景3"}, nil
		}),
	}, WorkflowConfig{DetailedOutlineConcurrency: 3})

	log := &progressLog{}
	res, err := w.GenerateDetailedOutlines(context.Background(), DetailedOutlineRequest{Outlines: outlines}, log.callbacks())
	require.NoError(t, err)

	gotOutlines := make([]string, 0, len(res.Items))
	gotIndexes := make([]int, 0, len(res.Items))
	for _, it := range res.Items {
		gotOutlines = append(gotOutlines, it.ChapterOutline)
		gotIndexes = append(gotIndexes, it.Index)
	}
	if diff := cmp.Diff([]string{"一", "二", "四", "五", "六", "七"}, gotOutlines); diff != "" {
		t.Fatalf("outlines mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int{1, 2, 4, 5, 6, 7}, gotIndexes)
	assert.Equal(t, []string{"四-场景1", "四-场景2", "四-场景3"}, res.Items[2].Scenes)
	assert.Contains(t, res.Display, "### 章节 1")

	assertMonotonic(t, log.progress)
	assert.Equal(t, 0.05, log.progress[0])
	assert.Equal(t, 0.15, log.progress[1])
	assert.InDelta(t, 1.0, log.progress[len(log.progress)-1], 1e-9)
}

func fixedWriter(content func(in chain.DraftInput) string) *ChapterWriter {
	return NewChapterWriter(drafterFunc(func(_ context.Context, in chain.DraftInput) (*chain.Draft, error) {
		return &chain.Draft{Title: "题", Content: content(in)}, nil
	}), WriterConfig{})
}

func TestGenerateNovels_RunningStateOrdering(t *testing.T) {
	var mu sync.Mutex
	var seen []chain.DraftInput
	writer := fixedWriter(func(in chain.DraftInput) string {
		mu.Lock()
		seen = append(seen, in)
		mu.Unlock()
		return "正文：" + in.LocalOutline
	})
	shortener := &recordingShortener{}
	w := NewWorkflow(Stages{
		Knowledge: &fakeKnowledge{result: wfmodel.RetrievalResult{PreviousContent: "检索前文"}},
		Extractor: fakeExtractor{},
		Shortener: shortener,
		Writer:    writer,
	}, WorkflowConfig{})

	var results []ChapterResult
	for r := range w.GenerateNovels(context.Background(), NovelRequest{
		Outlines:        []string{"第一章大纲", "第二章大纲", "第三章大纲"},
		WordsPerChapter: 0,
	}, Callbacks{}) {
		results = append(results, r)
	}
	require.Len(t, results, 3)
	require.Len(t, seen, 3)
	require.Len(t, shortener.inputs, 2)

	// 第二次缩写时，前情提要已包含第一次缩写的结果
	assert.Equal(t, "正文：第一章大纲", shortener.inputs[0].CurrentContent)
	assert.Equal(t, "检索前文", shortener.inputs[0].PreviousContent)
	assert.Equal(t, "正文：修订：第二章大纲", shortener.inputs[1].CurrentContent)
	assert.Equal(t, "检索前文\n缩写1", shortener.inputs[1].PreviousContent)

	assert.Equal(t, "检索前文", seen[0].Retrieval.PreviousContent)
	assert.Equal(t, "检索前文\n缩写1", seen[1].Retrieval.PreviousContent)
	assert.Equal(t, "检索前文\n缩写1\n缩写2", seen[2].Retrieval.PreviousContent)
	assert.Equal(t, "修订：第三章大纲", seen[2].LocalOutline)

	for i, r := range results {
		assert.Equal(t, i+1, r.Index)
		assert.NoError(t, r.Err)
	}
}

func TestGenerateNovels_LazyConsumption(t *testing.T) {
	calls := 0
	writer := fixedWriter(func(chain.DraftInput) string { calls++; return "正文" })
	w := NewWorkflow(Stages{
		Knowledge: &fakeKnowledge{},
		Extractor: fakeExtractor{},
		Shortener: &recordingShortener{},
		Writer:    writer,
	}, WorkflowConfig{})

	seq := w.GenerateNovels(context.Background(), NovelRequest{Outlines: []string{"一", "二", "三"}}, Callbacks{})
	assert.Equal(t, 0, calls)
	for range seq {
		break
	}
	assert.Equal(t, 1, calls)
}

func TestGenerateNovels_ChapterFailureContinues(t *testing.T) {
	writer := NewChapterWriter(drafterFunc(func(_ context.Context, in chain.DraftInput) (*chain.Draft, error) {
		if in.LocalOutline == "二" {
			return nil, apperrors.NewMalformedOutput("chapter", errors.New("bad json"))
		}
		return &chain.Draft{Content: "正文" + in.LocalOutline}, nil
	}), WriterConfig{MaxAttempts: 2})
	shortener := &recordingShortener{err: errors.New("shorten down")}
	w := NewWorkflow(Stages{
		Knowledge: &fakeKnowledge{},
		Extractor: fakeExtractor{},
		Shortener: shortener,
		Writer:    writer,
	}, WorkflowConfig{ChapterRetries: 2})

	log := &progressLog{}
	var results []ChapterResult
	for r := range w.GenerateNovels(context.Background(), NovelRequest{Outlines: []string{"一", "二", "", "三"}}, log.callbacks()) {
		results = append(results, r)
	}
	require.Len(t, results, 3)
	assert.Equal(t, "正文一", results[0].Content)

	assert.Equal(t, 2, results[1].Index)
	assert.Empty(t, results[1].Content)
	assert.True(t, apperrors.HasCode(results[1].Err, apperrors.CodeChapterFailed))
	assert.True(t, apperrors.HasCode(results[1].Err, apperrors.CodeMalformedOutput))

	// 空白大纲被跳过，序号保持原位置
	assert.Equal(t, 4, results[2].Index)
	assert.Equal(t, "正文三", results[2].Content)

	assertMonotonic(t, log.progress)
	assert.Equal(t, 1.0, log.progress[len(log.progress)-1])
	found := false
	for _, s := range log.status {
		if strings.Contains(s, "第 2/4 章生成失败") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestGenerateNovels_DynamicRetrievalMerges(t *testing.T) {
	kb := &fakeKnowledge{result: wfmodel.RetrievalResult{OutlineSettings: "全局大纲"}}
	var seen []chain.DraftInput
	writer := fixedWriter(func(in chain.DraftInput) string { seen = append(seen, in); return "正文" })
	w := NewWorkflow(Stages{
		Knowledge: kb,
		Extractor: fakeExtractor{},
		Shortener: &recordingShortener{},
		Writer:    writer,
	}, WorkflowConfig{DynamicRetrieval: true})

	for range w.GenerateNovels(context.Background(), NovelRequest{Outlines: []string{"一", "二"}}, Callbacks{}) {
	}
	assert.Equal(t, 3, kb.calls)
	require.Len(t, seen, 2)
	assert.Equal(t, "全局大纲", seen[1].Retrieval.OutlineSettings)
}

func TestUpdateKnowledge(t *testing.T) {
	kb := &fakeKnowledge{updateFn: func() error { return errors.New("milvus down") }}
	w := NewWorkflow(Stages{Knowledge: kb}, WorkflowConfig{})
	require.Error(t, w.UpdateKnowledge(context.Background()))
	assert.Equal(t, 1, kb.updates)
}

func TestReporterClampsProgress(t *testing.T) {
	log := &progressLog{}
	r := newReporter(log.callbacks())
	r.progress(0.5)
	r.progress(0.3)
	r.progress(1.7)
	assert.Equal(t, []float64{0.5, 0.5, 1.0}, log.progress)

	// nil 回调不 panic
	newReporter(Callbacks{}).progress(0.2)
	newReporter(Callbacks{}).status("x")
}
