package node

import (
	"fmt"
	"regexp"
	"strings"

	wfmodel "z-novel-writer/internal/workflow/model"
)

var chapterPrefixPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^第\s*[0-9零〇一二三四五六七八九十百千两]+\s*[章节回](\s*[:：、.．\-—]\s*|\s+)`),
	regexp.MustCompile(`^(?i)chapter\s*\d+\s*[:：.\-]\s*`),
}

// bareNumberPrefix 形如“3、”“2. ”的列表编号；分隔符后必须紧跟非数字正文，
// 避免把“10：30”“7. 5 号”这类正文开头当成编号
var bareNumberPrefix = regexp.MustCompile(`^\d{1,3}(?:\s*[、．:：]\s*|\.\s+)([^\d\s])`)

// StripChapterPrefix 去掉模型回显的章节编号前缀（可重复出现，如“第1章：第1章：”）。
// 这是策略而非契约：剥完为空时返回原文，保证不破坏内容。
// 裸数字编号只在没有“第N章”前缀时剥一次，剥掉章节前缀后剩下的数字属于正文。
func StripChapterPrefix(s string) string {
	orig := strings.TrimSpace(s)
	cur := orig
	for i := 0; i < 4; i++ {
		next := cur
		for _, re := range chapterPrefixPatterns {
			next = strings.TrimSpace(re.ReplaceAllString(next, ""))
		}
		if next == cur {
			break
		}
		cur = next
	}
	if cur == orig {
		if loc := bareNumberPrefix.FindStringSubmatchIndex(cur); loc != nil {
			cur = cur[loc[2]:]
		}
	}
	if cur == "" {
		return orig
	}
	return cur
}

// FormatOutlineDisplay 大纲展示文本：第N章：… 以空行分隔
func FormatOutlineDisplay(outlines []string) string {
	lines := make([]string, 0, len(outlines))
	for i, o := range outlines {
		lines = append(lines, fmt.Sprintf("第%d章：%s", i+1, o))
	}
	return strings.Join(lines, "\n\n")
}

// FormatDetailedOutlineDisplay 细纲展示文本，按组装后的顺序连续编号
func FormatDetailedOutlineDisplay(items []wfmodel.DetailedOutline) string {
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "### 章节 %d\n", i+1)
		fmt.Fprintf(&b, "**章节大纲：** %s\n\n", item.ChapterOutline)
		b.WriteString("**细纲：**\n")
		for j, scene := range item.Scenes {
			fmt.Fprintf(&b, "%d. %s\n", j+1, scene)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// NormalizeQueries 去空白、去空串、去重（保持首次出现顺序）
func NormalizeQueries(queries []string) []string {
	out := make([]string, 0, len(queries))
	seen := make(map[string]struct{}, len(queries))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}
