package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-writer/internal/application/story"
	"z-novel-writer/internal/domain/entity"
	"z-novel-writer/internal/domain/repository"
	"z-novel-writer/internal/domain/repository/repotest"
	"z-novel-writer/internal/infrastructure/messaging"
	wfmodel "z-novel-writer/internal/workflow/model"
	apperrors "z-novel-writer/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStory struct {
	outlines    *story.OutlineResult
	outlinesErr error
	chapters    []story.ChapterResult
	lastNovel   story.NovelRequest
}

func (f *fakeStory) GenerateOutlines(_ context.Context, req story.OutlineRequest, cb story.Callbacks) (*story.OutlineResult, error) {
	if f.outlinesErr != nil {
		return nil, f.outlinesErr
	}
	return f.outlines, nil
}

func (f *fakeStory) GenerateDetailedOutlines(_ context.Context, req story.DetailedOutlineRequest, _ story.Callbacks) (*story.DetailedOutlineResult, error) {
	items := make([]wfmodel.DetailedOutline, 0, len(req.Outlines))
	for i, o := range req.Outlines {
		items = append(items, wfmodel.DetailedOutline{Index: i + 1, ChapterOutline: o, Scenes: []string{o + "·场景"}})
	}
	return &story.DetailedOutlineResult{Items: items}, nil
}

func (f *fakeStory) GenerateNovels(_ context.Context, req story.NovelRequest, cb story.Callbacks) iter.Seq[story.ChapterResult] {
	f.lastNovel = req
	return func(yield func(story.ChapterResult) bool) {
		for i, ch := range f.chapters {
			if cb.OnStatus != nil {
				cb.OnStatus("writing")
			}
			if !yield(ch) {
				return
			}
			if cb.OnProgress != nil {
				cb.OnProgress(float64(i+1) / float64(len(f.chapters)))
			}
		}
	}
}

type fakeExecutor struct {
	chapters []story.ChapterResult
	runs     *repotest.MemoryRuns
}

func (f *fakeExecutor) Execute(ctx context.Context, run *entity.Run, obs story.RunObserver) error {
	for _, ch := range f.chapters {
		_ = f.runs.SaveChapter(ctx, &entity.RunChapter{RunID: run.ID, Index: ch.Index, Title: ch.Title, Content: ch.Content})
		obs.OnChapter(ch)
	}
	run.Complete()
	return f.runs.Update(ctx, run)
}

type fakePublisher struct {
	jobs []*messaging.NovelJobMessage
	err  error
}

func (f *fakePublisher) PublishNovelJob(_ context.Context, job *messaging.NovelJobMessage) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.jobs = append(f.jobs, job)
	return "1-0", nil
}

func repotestPage() repository.Pagination {
	return repository.NewPagination(1, 20)
}

func doJSON(t *testing.T, h gin.HandlerFunc, method, route, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	engine := gin.New()
	engine.Handle(method, route, h)
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func TestGenerateOutlines_OK(t *testing.T) {
	svc := &fakeStory{outlines: &story.OutlineResult{Outlines: []string{"接到委托", "找到黑猫"}, Display: "第1章：接到委托"}}
	h := NewGenerationHandler(svc, nil, nil)

	w := doJSON(t, h.GenerateOutlines, http.MethodPost, "/v1/outlines", "/v1/outlines",
		map[string]any{"user_input": "侦探寻猫", "chapter_count": 2})
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Outlines []string `json:"outlines"`
	}
	decodeData(t, w, &out)
	assert.Equal(t, []string{"接到委托", "找到黑猫"}, out.Outlines)
}

func TestGenerateOutlines_Validation(t *testing.T) {
	h := NewGenerationHandler(&fakeStory{}, nil, nil)

	w := doJSON(t, h.GenerateOutlines, http.MethodPost, "/v1/outlines", "/v1/outlines",
		map[string]any{"chapter_count": 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h.GenerateOutlines, http.MethodPost, "/v1/outlines", "/v1/outlines",
		map[string]any{"user_input": "x", "chapter_count": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenerateOutlines_BackendErrorMapsToBadGateway(t *testing.T) {
	svc := &fakeStory{outlinesErr: apperrors.NewBackendError("outline", errors.New("upstream 500"))}
	h := NewGenerationHandler(svc, nil, nil)

	w := doJSON(t, h.GenerateOutlines, http.MethodPost, "/v1/outlines", "/v1/outlines",
		map[string]any{"user_input": "x", "chapter_count": 1})
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), string(apperrors.CodeBackendError))
}

func TestGenerateDetailedOutlines_KeepsOrder(t *testing.T) {
	h := NewGenerationHandler(&fakeStory{}, nil, nil)

	w := doJSON(t, h.GenerateDetailedOutlines, http.MethodPost, "/v1/detailed-outlines", "/v1/detailed-outlines",
		map[string]any{"user_input": "x", "outlines": []string{"一", "二"}})
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Items []wfmodel.DetailedOutline `json:"items"`
	}
	decodeData(t, w, &out)
	require.Len(t, out.Items, 2)
	assert.Equal(t, "二", out.Items[1].ChapterOutline)
}

func TestStreamNovel_EmitsEventsInOrder(t *testing.T) {
	svc := &fakeStory{chapters: []story.ChapterResult{
		{Index: 1, Total: 2, Title: "寻猫", Content: "正文一"},
		{Index: 2, Total: 2, Err: errors.New("backend down")},
	}}
	h := NewGenerationHandler(svc, nil, nil)

	w := doJSON(t, h.StreamNovel, http.MethodPost, "/v1/novels/stream", "/v1/novels/stream",
		map[string]any{"user_input": "x", "outlines": []string{"一", "二"}, "words_per_chapter": 800})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, 800, svc.lastNovel.WordsPerChapter)

	body := w.Body.String()
	first := strings.Index(body, "event:chapter")
	done := strings.Index(body, "event:done")
	require.GreaterOrEqual(t, first, 0)
	require.Greater(t, done, first)
	assert.Contains(t, body, "event:status")
	assert.Contains(t, body, "event:progress")
	assert.Contains(t, body, "backend down")
	assert.Contains(t, body[done:], `"failed":1`)
	assert.NotContains(t, body, "event:run")
}

func TestStreamNovel_PersistRequiresRunner(t *testing.T) {
	h := NewGenerationHandler(&fakeStory{}, nil, nil)
	w := doJSON(t, h.StreamNovel, http.MethodPost, "/v1/novels/stream", "/v1/novels/stream?persist=true",
		map[string]any{"user_input": "x", "outlines": []string{"一"}})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStreamNovel_PersistCreatesRun(t *testing.T) {
	runs := repotest.NewMemoryRuns()
	exec := &fakeExecutor{runs: runs, chapters: []story.ChapterResult{{Index: 1, Total: 1, Title: "寻猫", Content: "正文"}}}
	h := NewGenerationHandler(&fakeStory{}, exec, runs)

	w := doJSON(t, h.StreamNovel, http.MethodPost, "/v1/novels/stream", "/v1/novels/stream?persist=true",
		map[string]any{"user_input": "x", "title": "黑猫", "outlines": []string{"一"}})
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "event:run")
	assert.Contains(t, body, "event:done")

	page, err := runs.List(context.Background(), "", repotestPage())
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "黑猫", page.Items[0].Title)
	assert.Equal(t, entity.RunStatusCompleted, page.Items[0].Status)
}

func TestSubmitNovelJob_Accepted(t *testing.T) {
	runs := repotest.NewMemoryRuns()
	pub := &fakePublisher{}
	h := NewRunHandler(runs, pub)

	w := doJSON(t, h.SubmitNovelJob, http.MethodPost, "/v1/novels/jobs", "/v1/novels/jobs",
		map[string]any{"user_input": "侦探寻猫", "outlines": []string{"一", "二"}, "words_per_chapter": 500})
	require.Equal(t, http.StatusAccepted, w.Code)

	var out struct {
		RunID  string `json:"run_id"`
		Status string `json:"status"`
	}
	decodeData(t, w, &out)
	assert.Equal(t, "pending", out.Status)
	require.Len(t, pub.jobs, 1)
	assert.Equal(t, out.RunID, pub.jobs[0].RunID)

	run, _ := runs.GetByID(context.Background(), out.RunID)
	require.NotNil(t, run)
	assert.Equal(t, []string{"一", "二"}, []string(run.Outlines))
	assert.Equal(t, 500, run.WordsPerChapter)
}

func TestSubmitNovelJob_PublishFailureMarksRunFailed(t *testing.T) {
	runs := repotest.NewMemoryRuns()
	h := NewRunHandler(runs, &fakePublisher{err: errors.New("redis down")})

	w := doJSON(t, h.SubmitNovelJob, http.MethodPost, "/v1/novels/jobs", "/v1/novels/jobs",
		map[string]any{"user_input": "x", "outlines": []string{"一"}})
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	page, _ := runs.List(context.Background(), entity.RunStatusFailed, repotestPage())
	require.Len(t, page.Items, 1)
	assert.Contains(t, page.Items[0].ErrorMessage, "redis down")
}

func seedRun(t *testing.T, runs *repotest.MemoryRuns, withChapters bool) *entity.Run {
	t.Helper()
	ctx := context.Background()
	run := entity.NewRun("6f1c2a8e-0d7b-4a3c-9f51-3b1e2d4c5a60", wfmodel.Brief{UserInput: "x"}, []string{"一", "二"}, 0)
	run.Title = "黑猫<案>"
	require.NoError(t, runs.Create(ctx, run))
	if withChapters {
		require.NoError(t, runs.SaveChapter(ctx, &entity.RunChapter{RunID: run.ID, Index: 1, Title: "寻猫", Content: "雨夜。"}))
		require.NoError(t, runs.SaveChapter(ctx, &entity.RunChapter{RunID: run.ID, Index: 2, ErrorMessage: "backend down"}))
	}
	return run
}

func TestGetRun(t *testing.T) {
	runs := repotest.NewMemoryRuns()
	run := seedRun(t, runs, true)
	h := NewRunHandler(runs, &fakePublisher{})

	w := doJSON(t, h.GetRun, http.MethodGet, "/v1/runs/:id", "/v1/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		ID       string `json:"id"`
		Chapters []struct {
			Index        int    `json:"index"`
			ErrorMessage string `json:"error_message"`
		} `json:"chapters"`
	}
	decodeData(t, w, &out)
	assert.Equal(t, run.ID, out.ID)
	require.Len(t, out.Chapters, 2)
	assert.Equal(t, "backend down", out.Chapters[1].ErrorMessage)

	w = doJSON(t, h.GetRun, http.MethodGet, "/v1/runs/:id", "/v1/runs/0b6e5a1f-95a6-4a43-8d55-1a3c7b9d2e11", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, h.GetRun, http.MethodGet, "/v1/runs/:id", "/v1/runs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRuns(t *testing.T) {
	runs := repotest.NewMemoryRuns()
	seedRun(t, runs, false)
	h := NewRunHandler(runs, &fakePublisher{})

	w := doJSON(t, h.ListRuns, http.MethodGet, "/v1/runs", "/v1/runs?status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)

	w = doJSON(t, h.ListRuns, http.MethodGet, "/v1/runs", "/v1/runs?status=completed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":0`)
}

func TestExportRun(t *testing.T) {
	runs := repotest.NewMemoryRuns()
	run := seedRun(t, runs, true)
	h := NewRunHandler(runs, &fakePublisher{})

	w := doJSON(t, h.ExportRun, http.MethodGet, "/v1/runs/:id/export", "/v1/runs/"+run.ID+"/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/markdown"))
	assert.Contains(t, w.Body.String(), "## 第1章 寻猫")
	assert.NotContains(t, w.Body.String(), "第2章")

	w = doJSON(t, h.ExportRun, http.MethodGet, "/v1/runs/:id/export", "/v1/runs/"+run.ID+"/export?format=html", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<title>黑猫&lt;案&gt;</title>")

	w = doJSON(t, h.ExportRun, http.MethodGet, "/v1/runs/:id/export", "/v1/runs/"+run.ID+"/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportRun_NoChapters(t *testing.T) {
	runs := repotest.NewMemoryRuns()
	run := seedRun(t, runs, false)
	h := NewRunHandler(runs, &fakePublisher{})

	w := doJSON(t, h.ExportRun, http.MethodGet, "/v1/runs/:id/export", "/v1/runs/"+run.ID+"/export", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

type knowledgeFunc func(ctx context.Context) error

func (f knowledgeFunc) UpdateKnowledge(ctx context.Context) error { return f(ctx) }

func TestReindex(t *testing.T) {
	calls := 0
	h := NewKnowledgeHandler(knowledgeFunc(func(context.Context) error {
		calls++
		return nil
	}))
	w := doJSON(t, h.Reindex, http.MethodPost, "/v1/knowledge/reindex", "/v1/knowledge/reindex", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, calls)

	h = NewKnowledgeHandler(knowledgeFunc(func(context.Context) error {
		return apperrors.Wrap(errors.New("embed failed"), apperrors.CodeIndexFailed, "rebuild index failed")
	}))
	w = doJSON(t, h.Reindex, http.MethodPost, "/v1/knowledge/reindex", "/v1/knowledge/reindex", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "embed failed")
}

type checkerFunc func(ctx context.Context) error

func (f checkerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func TestReady(t *testing.T) {
	ok := checkerFunc(func(context.Context) error { return nil })
	down := checkerFunc(func(context.Context) error { return errors.New("down") })

	h := NewHealthHandler("test",
		Dependency{Name: "postgres", Checker: ok, Required: true},
		Dependency{Name: "milvus", Checker: down},
		Dependency{Name: "redis"},
	)
	w := doJSON(t, h.Ready, http.MethodGet, "/ready", "/ready", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"degraded"`)
	assert.Contains(t, body, `"disabled"`)

	h = NewHealthHandler("test", Dependency{Name: "postgres", Checker: down, Required: true})
	w = doJSON(t, h.Ready, http.MethodGet, "/ready", "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "not_ready")
}
