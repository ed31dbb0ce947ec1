package story

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"

	"z-novel-writer/internal/domain/entity"
)

// ManuscriptChapter 导出用的章节
type ManuscriptChapter struct {
	Index   int
	Title   string
	Content string
}

// RenderMarkdown 把章节拼成一份 Markdown 书稿，缺标题时用“第 N 章”
func RenderMarkdown(bookTitle string, chapters []ManuscriptChapter) string {
	var b strings.Builder
	if t := strings.TrimSpace(bookTitle); t != "" {
		fmt.Fprintf(&b, "# %s\n\n", t)
	}
	for _, ch := range chapters {
		title := strings.TrimSpace(ch.Title)
		if title == "" {
			fmt.Fprintf(&b, "## 第%d章\n\n", ch.Index)
		} else {
			fmt.Fprintf(&b, "## 第%d章 %s\n\n", ch.Index, title)
		}
		b.WriteString(strings.TrimSpace(ch.Content))
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String()) + "\n"
}

// RenderHTML Markdown 书稿转为完整 HTML 页面
func RenderHTML(bookTitle string, chapters []ManuscriptChapter) (string, error) {
	var body bytes.Buffer
	if err := goldmark.Convert([]byte(RenderMarkdown(bookTitle, chapters)), &body); err != nil {
		return "", fmt.Errorf("render manuscript html: %w", err)
	}
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"zh-CN\">\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(strings.TrimSpace(bookTitle)))
	b.WriteString("</head>\n<body>\n")
	b.Write(body.Bytes())
	b.WriteString("</body>\n</html>\n")
	return b.String(), nil
}

// ManuscriptFromRun 已落库章节转为导出章节，失败章节不进入书稿
func ManuscriptFromRun(chapters []*entity.RunChapter) []ManuscriptChapter {
	out := make([]ManuscriptChapter, 0, len(chapters))
	for _, ch := range chapters {
		if ch == nil || ch.Failed() {
			continue
		}
		out = append(out, ManuscriptChapter{Index: ch.Index, Title: ch.Title, Content: ch.Content})
	}
	return out
}
