package story

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-writer/internal/domain/entity"
	"z-novel-writer/internal/domain/repository/repotest"
	wfmodel "z-novel-writer/internal/workflow/model"
)

func TestRecoverInterrupted(t *testing.T) {
	ctx := context.Background()
	runs := repotest.NewMemoryRuns()
	// 超过一页，确认会循环处理
	for i := 0; i < 105; i++ {
		run := entity.NewRun(fmt.Sprintf("run-%03d", i), wfmodel.Brief{UserInput: "x"}, []string{"a"}, 0)
		run.Start()
		require.NoError(t, runs.Create(ctx, run))
	}
	done := entity.NewRun("done", wfmodel.Brief{UserInput: "x"}, []string{"a"}, 0)
	done.Complete()
	require.NoError(t, runs.Create(ctx, done))

	n, err := RecoverInterrupted(ctx, repotest.NoTx{}, runs)
	require.NoError(t, err)
	assert.Equal(t, 105, n)

	got, err := runs.GetByID(ctx, "run-000")
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "interrupted")

	got, err = runs.GetByID(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusCompleted, got.Status)
}

func TestRecoverInterrupted_UpdateError(t *testing.T) {
	ctx := context.Background()
	runs := repotest.NewMemoryRuns()
	run := entity.NewRun("r", wfmodel.Brief{UserInput: "x"}, []string{"a"}, 0)
	run.Start()
	require.NoError(t, runs.Create(ctx, run))
	runs.UpdateErr = errors.New("db down")

	n, err := RecoverInterrupted(ctx, repotest.NoTx{}, runs)
	assert.Error(t, err)
	assert.Zero(t, n)
}
