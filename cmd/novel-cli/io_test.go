package main

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-writer/internal/application/story"
)

func TestReadWriteYAML_ChainsOutlinesIntoWrite(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "brief.yaml")
	require.NoError(t, os.WriteFile(in, []byte(`
brief:
  user_input: 一个侦探在雨夜寻找失踪的黑猫
chapter_count: 3
`), 0o644))

	var req story.OutlineRequest
	require.NoError(t, readYAML(in, &req))
	assert.Equal(t, 3, req.ChapterCount)
	assert.Equal(t, "一个侦探在雨夜寻找失踪的黑猫", req.Brief.UserInput)

	out := filepath.Join(dir, "outlines.yaml")
	require.NoError(t, writeYAML(out, story.NovelRequest{Brief: req.Brief, Outlines: []string{"接到委托", "雨夜追踪"}}))

	var detail story.DetailedOutlineRequest
	require.NoError(t, readYAML(out, &detail))
	assert.Equal(t, []string{"接到委托", "雨夜追踪"}, detail.Outlines)
	assert.Equal(t, req.Brief, detail.Brief)
}

func TestReadYAML_Errors(t *testing.T) {
	var v story.OutlineRequest
	assert.Error(t, readYAML(filepath.Join(t.TempDir(), "missing.yaml"), &v))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("brief: [unclosed"), 0o644))
	assert.Error(t, readYAML(bad, &v))
}

func TestSaveManuscript(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	chapters := []story.ManuscriptChapter{{Index: 1, Title: "寻猫", Content: "雨下得很大。"}}

	path, err := saveManuscript(dir, "黑猫 案", chapters, false, time.Now())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "黑猫_案.md"), path)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "# 黑猫 案\n"))

	path, err = saveManuscript(dir, "黑猫 案", chapters, true, time.Now())
	require.NoError(t, err)
	assert.Equal(t, ".html", filepath.Ext(path))
}

func TestWriteChapters_KeepsFinishedChaptersOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := iter.Seq[story.ChapterResult](func(yield func(story.ChapterResult) bool) {
		if !yield(story.ChapterResult{Index: 1, Total: 3, Title: "寻猫", Content: "雨下得很大。"}) {
			return
		}
		if !yield(story.ChapterResult{Index: 2, Total: 3, Title: "旧仓库", Content: "仓库里传出猫叫。"}) {
			return
		}
		cancel()
	})

	w := &manuscriptWriter{dir: t.TempDir(), title: "黑猫案", started: time.Now()}
	var done []int
	failed, err := writeChapters(ctx, results, w, func(res story.ChapterResult) { done = append(done, res.Index) })
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, failed)
	assert.Equal(t, []int{1, 2}, done)

	require.NotEmpty(t, w.path)
	b, err := os.ReadFile(w.path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "雨下得很大。")
	assert.Contains(t, string(b), "仓库里传出猫叫。")
}

func TestWriteChapters_CountsFailures(t *testing.T) {
	results := iter.Seq[story.ChapterResult](func(yield func(story.ChapterResult) bool) {
		if !yield(story.ChapterResult{Index: 1, Total: 2, Err: errors.New("llm timeout")}) {
			return
		}
		yield(story.ChapterResult{Index: 2, Total: 2, Title: "归来", Content: "猫回来了。"})
	})

	w := &manuscriptWriter{dir: t.TempDir(), title: "黑猫案", started: time.Now()}
	failed, err := writeChapters(context.Background(), results, w, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	require.Len(t, w.chapters, 1)
	assert.Equal(t, 2, w.chapters[0].Index)

	failedOnly := iter.Seq[story.ChapterResult](func(yield func(story.ChapterResult) bool) {
		yield(story.ChapterResult{Index: 1, Total: 1, Err: errors.New("llm timeout")})
	})
	empty := &manuscriptWriter{dir: t.TempDir(), started: time.Now()}
	_, err = writeChapters(context.Background(), failedOnly, empty, nil)
	assert.Error(t, err)
	assert.Empty(t, empty.path)
}

func TestManuscriptName(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, "novel-20261015-093000", manuscriptName("  ", now))
	assert.Equal(t, "ab", manuscriptName("../a/b", now))
	assert.Equal(t, "长夜_将尽", manuscriptName("长夜 将尽", now))
}
