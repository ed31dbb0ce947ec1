package main

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"z-novel-writer/internal/application/story"
	"z-novel-writer/pkg/logger"
)

// readYAML path 为 "-" 或空时读 stdin
func readYAML(path string, v any) error {
	var r io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	if err := yaml.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decode input yaml: %w", err)
	}
	return nil
}

// writeYAML path 为空时写 stdout
func writeYAML(path string, v any) error {
	var w io.Writer = os.Stdout
	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output yaml: %w", err)
	}
	return enc.Close()
}

// saveManuscript 写入书稿并返回文件路径
func saveManuscript(dir, title string, chapters []story.ManuscriptChapter, asHTML bool, now time.Time) (string, error) {
	content, ext := story.RenderMarkdown(title, chapters), ".md"
	if asHTML {
		rendered, err := story.RenderHTML(title, chapters)
		if err != nil {
			return "", err
		}
		content, ext = rendered, ".html"
	}

	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, manuscriptName(title, now)+ext)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write manuscript: %w", err)
	}
	return path, nil
}

// manuscriptWriter 每完成一章就重写整份书稿，中途取消时已完成的章节仍在磁盘上
type manuscriptWriter struct {
	dir      string
	title    string
	asHTML   bool
	started  time.Time
	chapters []story.ManuscriptChapter
	path     string
}

func (w *manuscriptWriter) add(ch story.ManuscriptChapter) error {
	w.chapters = append(w.chapters, ch)
	path, err := saveManuscript(w.dir, w.title, w.chapters, w.asHTML, w.started)
	if err != nil {
		return err
	}
	w.path = path
	return nil
}

// writeChapters 逐章落盘；返回失败章数。ctx 取消时返回 ctx.Err()，已写入的书稿保留
func writeChapters(ctx context.Context, results iter.Seq[story.ChapterResult], w *manuscriptWriter, onDone func(story.ChapterResult)) (int, error) {
	failed := 0
	for res := range results {
		if res.Err != nil {
			failed++
			logger.Error(ctx, "chapter failed", res.Err, "chapter", res.Index)
			continue
		}
		if err := w.add(story.ManuscriptChapter{Index: res.Index, Title: res.Title, Content: res.Content}); err != nil {
			return failed, err
		}
		if onDone != nil {
			onDone(res)
		}
	}
	if err := ctx.Err(); err != nil {
		return failed, err
	}
	if len(w.chapters) == 0 {
		return failed, fmt.Errorf("all %d chapters failed", failed)
	}
	return failed, nil
}

// manuscriptName 书名去掉路径与控制字符；无书名时按时间命名
func manuscriptName(title string, now time.Time) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || unicode.IsControl(r):
			return -1
		case unicode.IsSpace(r):
			return '_'
		}
		return r
	}, strings.TrimSpace(title))
	name = strings.Trim(name, "._")
	if name == "" {
		return "novel-" + now.Format("20060102-150405")
	}
	return name
}
