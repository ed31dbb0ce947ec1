package story

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-writer/internal/domain/entity"
	"z-novel-writer/internal/domain/repository/repotest"
	"z-novel-writer/internal/workflow/chain"
	wfmodel "z-novel-writer/internal/workflow/model"
)

func newRunnerWorkflow(draft func(in chain.DraftInput) (*chain.Draft, error)) *Workflow {
	return NewWorkflow(Stages{
		Knowledge: &fakeKnowledge{},
		Extractor: fakeExtractor{},
		Shortener: &recordingShortener{},
		Writer: NewChapterWriter(drafterFunc(func(_ context.Context, in chain.DraftInput) (*chain.Draft, error) {
			return draft(in)
		}), WriterConfig{MaxAttempts: 1}),
	}, WorkflowConfig{ChapterRetries: 1})
}

func TestRunner_ExecutePersistsChapters(t *testing.T) {
	runs := repotest.NewMemoryRuns()
	run := entity.NewRun("run-1", wfmodel.Brief{UserInput: "侦探寻猫"}, []string{"接到委托", "找到黑猫"}, 0)
	require.NoError(t, runs.Create(context.Background(), run))

	w := newRunnerWorkflow(func(in chain.DraftInput) (*chain.Draft, error) {
		return &chain.Draft{Title: "寻猫", Content: "正文：" + in.LocalOutline}, nil
	})
	var streamed []int
	var lastStatus string
	err := NewRunner(w, runs).Execute(context.Background(), run, RunObserver{
		Callbacks: Callbacks{OnStatus: func(s string) { lastStatus = s }},
		OnChapter: func(r ChapterResult) { streamed = append(streamed, r.Index) },
	})
	require.NoError(t, err)

	stored, _ := runs.GetByID(context.Background(), "run-1")
	assert.Equal(t, entity.RunStatusCompleted, stored.Status)
	// 最终落库的状态文案是最后一条，而不是最后一次进度写入时的旧文案
	require.NotEmpty(t, lastStatus)
	assert.Equal(t, lastStatus, stored.StatusMessage)
	assert.Equal(t, 1.0, stored.Progress)
	assert.NotNil(t, stored.CompletedAt)

	chapters, _ := runs.ListChapters(context.Background(), "run-1")
	require.Len(t, chapters, 2)
	assert.Equal(t, "正文：接到委托", chapters[0].Content)
	assert.Equal(t, []int{1, 2}, streamed)

	// 进度按步长节流，但最终值一定写入
	writes := runs.ProgressWrites()
	require.NotEmpty(t, writes)
	assert.Equal(t, 1.0, writes[len(writes)-1])
	assert.Less(t, len(writes), 30)
}

func TestRunner_AllChaptersFailed(t *testing.T) {
	runs := repotest.NewMemoryRuns()
	run := entity.NewRun("run-2", wfmodel.Brief{}, []string{"一"}, 0)
	require.NoError(t, runs.Create(context.Background(), run))

	w := newRunnerWorkflow(func(chain.DraftInput) (*chain.Draft, error) {
		return nil, errors.New("backend down")
	})
	err := NewRunner(w, runs).Execute(context.Background(), run, RunObserver{})
	require.Error(t, err)

	stored, _ := runs.GetByID(context.Background(), "run-2")
	assert.Equal(t, entity.RunStatusFailed, stored.Status)
	chapters, _ := runs.ListChapters(context.Background(), "run-2")
	require.Len(t, chapters, 1)
	assert.True(t, chapters[0].Failed())
}

func TestRunner_CanceledRunIsMarkedFailed(t *testing.T) {
	runs := repotest.NewMemoryRuns()
	run := entity.NewRun("run-3", wfmodel.Brief{}, []string{"一", "二"}, 0)
	require.NoError(t, runs.Create(context.Background(), run))

	ctx, cancel := context.WithCancel(context.Background())
	w := newRunnerWorkflow(func(in chain.DraftInput) (*chain.Draft, error) {
		cancel()
		return &chain.Draft{Content: "正文" + in.LocalOutline}, nil
	})
	err := NewRunner(w, runs).Execute(ctx, run, RunObserver{})
	require.ErrorIs(t, err, context.Canceled)

	stored, _ := runs.GetByID(context.Background(), "run-3")
	assert.Equal(t, entity.RunStatusFailed, stored.Status)
}
