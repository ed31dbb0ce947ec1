package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-writer/internal/application/story"
	"z-novel-writer/internal/domain/entity"
	"z-novel-writer/internal/domain/repository/repotest"
	"z-novel-writer/internal/infrastructure/messaging"
	wfmodel "z-novel-writer/internal/workflow/model"
)

type recordingExecutor struct {
	seen []entity.Run
	err  error
}

func (e *recordingExecutor) Execute(_ context.Context, run *entity.Run, _ story.RunObserver) error {
	e.seen = append(e.seen, *run)
	return e.err
}

func jobMessage(t *testing.T, runID string) *messaging.Message {
	t.Helper()
	msg, err := messaging.NewMessage(runID, messaging.MessageTypeNovelGen, runID, &messaging.NovelJobMessage{RunID: runID})
	require.NoError(t, err)
	return msg
}

func seed(t *testing.T, runs *repotest.MemoryRuns, id string, status entity.RunStatus) {
	t.Helper()
	run := entity.NewRun(id, wfmodel.Brief{UserInput: "雨夜"}, []string{"第一章"}, 800)
	run.Status = status
	require.NoError(t, runs.Create(context.Background(), run))
}

func TestNovelJobHandler_ExecutesPendingRun(t *testing.T) {
	runs := repotest.NewMemoryRuns()
	seed(t, runs, "run-1", entity.RunStatusPending)
	exec := &recordingExecutor{}

	err := novelJobHandler(runs, exec)(context.Background(), jobMessage(t, "run-1"))
	require.NoError(t, err)
	require.Len(t, exec.seen, 1)
	assert.Equal(t, 0, exec.seen[0].RetryCount)
}

func TestNovelJobHandler_RetriesFailedRun(t *testing.T) {
	runs := repotest.NewMemoryRuns()
	seed(t, runs, "run-2", entity.RunStatusFailed)
	exec := &recordingExecutor{}

	require.NoError(t, novelJobHandler(runs, exec)(context.Background(), jobMessage(t, "run-2")))
	require.Len(t, exec.seen, 1)
	assert.Equal(t, 1, exec.seen[0].RetryCount)
	assert.Equal(t, entity.RunStatusPending, exec.seen[0].Status)
}

func TestNovelJobHandler_AcksCompletedAndMissing(t *testing.T) {
	runs := repotest.NewMemoryRuns()
	seed(t, runs, "run-3", entity.RunStatusCompleted)
	exec := &recordingExecutor{}
	h := novelJobHandler(runs, exec)

	assert.NoError(t, h(context.Background(), jobMessage(t, "run-3")))
	assert.NoError(t, h(context.Background(), jobMessage(t, "missing")))
	assert.Empty(t, exec.seen)
}

func TestNovelJobHandler_PropagatesExecuteError(t *testing.T) {
	runs := repotest.NewMemoryRuns()
	seed(t, runs, "run-4", entity.RunStatusPending)
	boom := errors.New("all 1 chapters failed")

	err := novelJobHandler(runs, &recordingExecutor{err: boom})(context.Background(), jobMessage(t, "run-4"))
	assert.ErrorIs(t, err, boom)
}
