package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-writer/internal/domain/entity"
	wfmodel "z-novel-writer/internal/workflow/model"
)

func newMockRepo(t *testing.T) (*RunRepository, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := NewClientFromConn(conn)
	require.NoError(t, err)
	return NewRunRepository(client), mock
}

func TestRunRepository_Create(t *testing.T) {
	repo, mock := newMockRepo(t)
	run := entity.NewRun("run-1", wfmodel.Brief{UserInput: "侦探寻猫"}, []string{"接到委托", "找到黑猫"}, 500)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "runs"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_GetByID(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "user_input", "outlines", "words_per_chapter", "status", "progress", "created_at", "updated_at"}).
		AddRow("run-1", "侦探寻猫", "{接到委托,找到黑猫}", 500, "running", 0.4, now, now)
	mock.ExpectQuery(`SELECT \* FROM "runs" WHERE id = \$1`).WillReturnRows(rows)

	run, err := repo.GetByID(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, []string{"接到委托", "找到黑猫"}, []string(run.Outlines))
	assert.Equal(t, entity.RunStatusRunning, run.Status)
	assert.Equal(t, "侦探寻猫", run.Brief().UserInput)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT \* FROM "runs"`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	run, err := repo.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestRunRepository_UpdateProgress(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "runs" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpdateProgress(context.Background(), "run-1", 0.5, ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_ListChapters(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows([]string{"id", "run_id", "chapter_index", "title", "content", "error_message"}).
		AddRow(1, "run-1", 1, "雨夜", "林川接到委托。", "").
		AddRow(2, "run-1", 2, "", "", "chapter 2 failed")
	mock.ExpectQuery(`SELECT \* FROM "run_chapters" WHERE run_id = \$1 ORDER BY chapter_index ASC`).WillReturnRows(rows)

	chapters, err := repo.ListChapters(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	assert.Equal(t, 1, chapters[0].Index)
	assert.False(t, chapters[0].Failed())
	assert.True(t, chapters[1].Failed())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLifecycle(t *testing.T) {
	run := entity.NewRun("r", wfmodel.Brief{}, nil, 500)
	assert.Equal(t, entity.RunStatusPending, run.Status)
	run.Start()
	assert.NotNil(t, run.StartedAt)
	run.Fail("boom")
	assert.True(t, run.Finished())
	run.Retry()
	assert.Equal(t, 1, run.RetryCount)
	assert.Equal(t, entity.RunStatusPending, run.Status)
	run.Complete()
	assert.Equal(t, 1.0, run.Progress)
}
