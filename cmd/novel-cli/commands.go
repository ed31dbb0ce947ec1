package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"z-novel-writer/internal/application/story"
	"z-novel-writer/internal/wire"
)

var (
	inputPath  string
	outputPath string

	chapterCount int

	bookTitle       string
	wordsPerChapter int
	asHTML          bool
)

var outlinesCmd = &cobra.Command{
	Use:   "outlines",
	Short: "Generate chapter outlines from a brief",
	Long: `根据创作意图生成章节大纲。

输入 YAML：
  brief:
    user_input: 一个侦探在雨夜寻找失踪的黑猫
    outlines_description: ""
    temp_settings: ""
  chapter_count: 12`,
	RunE: runOutlines,
}

var detailCmd = &cobra.Command{
	Use:   "detail",
	Short: "Expand outlines into per-chapter scene lists",
	Long: `把章节大纲展开为细纲。输入为 outlines 命令的输出（brief + outlines）。`,
	RunE: runDetail,
}

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Write the manuscript chapter by chapter",
	Long: `逐章生成正文并写入输出目录。输入为 brief + outlines，
可选 words_per_chapter。单章失败不会中断整本生成。`,
	RunE: runWrite,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the project, knowledge and narrative indexes",
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		return withPipeline(true, func(ctx context.Context, _ *wire.Pipeline) error {
			fmt.Fprintf(os.Stderr, "knowledge reindexed in %s\n", time.Since(start).Round(time.Millisecond))
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{outlinesCmd, detailCmd, writeCmd} {
		c.Flags().StringVarP(&inputPath, "input", "i", "-", "Input YAML file ('-' for stdin)")
	}
	for _, c := range []*cobra.Command{outlinesCmd, detailCmd} {
		c.Flags().StringVarP(&outputPath, "output", "o", "", "Output YAML file (default: stdout)")
	}

	outlinesCmd.Flags().IntVarP(&chapterCount, "chapters", "n", 0, "Chapter count (overrides chapter_count in input)")

	writeCmd.Flags().StringVarP(&bookTitle, "title", "t", "", "Book title used in the manuscript heading and file name")
	writeCmd.Flags().IntVar(&wordsPerChapter, "words", 0, "Target words per chapter (overrides words_per_chapter in input)")
	writeCmd.Flags().BoolVar(&asHTML, "html", false, "Write HTML instead of Markdown")
}

func runOutlines(cmd *cobra.Command, args []string) error {
	var req story.OutlineRequest
	if err := readYAML(inputPath, &req); err != nil {
		return err
	}
	if chapterCount > 0 {
		req.ChapterCount = chapterCount
	}

	return withPipeline(false, func(ctx context.Context, p *wire.Pipeline) error {
		res, err := p.Workflow.GenerateOutlines(ctx, req, stderrCallbacks())
		if err != nil {
			return err
		}
		// 输出直接作为 detail/write 的输入
		return writeYAML(outputPath, story.NovelRequest{Brief: req.Brief, Outlines: res.Outlines})
	})
}

func runDetail(cmd *cobra.Command, args []string) error {
	var req story.DetailedOutlineRequest
	if err := readYAML(inputPath, &req); err != nil {
		return err
	}

	return withPipeline(false, func(ctx context.Context, p *wire.Pipeline) error {
		res, err := p.Workflow.GenerateDetailedOutlines(ctx, req, stderrCallbacks())
		if err != nil {
			return err
		}
		return writeYAML(outputPath, res)
	})
}

func runWrite(cmd *cobra.Command, args []string) error {
	var req story.NovelRequest
	if err := readYAML(inputPath, &req); err != nil {
		return err
	}
	if wordsPerChapter > 0 {
		req.WordsPerChapter = wordsPerChapter
	}

	return withPipeline(false, func(ctx context.Context, p *wire.Pipeline) error {
		w := &manuscriptWriter{dir: cfg.Project.OutputDir, title: bookTitle, asHTML: asHTML, started: time.Now()}
		failed, err := writeChapters(ctx, p.Workflow.GenerateNovels(ctx, req, stderrCallbacks()), w, func(res story.ChapterResult) {
			fmt.Fprintf(os.Stderr, "第%d/%d章 %s 完成\n", res.Index, res.Total, res.Title)
		})
		if err != nil {
			if w.path != "" {
				fmt.Fprintf(os.Stderr, "partial manuscript kept at %s (%d chapters)\n", w.path, len(w.chapters))
			}
			return err
		}
		fmt.Fprintf(os.Stderr, "manuscript written to %s (%d chapters, %d failed)\n", w.path, len(w.chapters), failed)
		return nil
	})
}

// stderrCallbacks 状态行带上最近一次进度
func stderrCallbacks() story.Callbacks {
	var mu sync.Mutex
	var last float64
	return story.Callbacks{
		OnProgress: func(p float64) {
			mu.Lock()
			last = p
			mu.Unlock()
		},
		OnStatus: func(s string) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(os.Stderr, "[%3.0f%%] %s\n", last*100, s)
		},
	}
}
