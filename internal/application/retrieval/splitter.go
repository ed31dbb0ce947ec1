package retrieval

import (
	"strings"
	"unicode/utf8"
)

// splitText 按换行切分后拼装为不超过 maxRunes 的片段，相邻片段保留 overlapRunes 的重叠。
// 单行超长时退化为按字符硬切。
func splitText(s string, maxRunes int, overlapRunes int) []string {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return nil
	}
	if maxRunes <= 0 || utf8.RuneCountInString(raw) <= maxRunes {
		return []string{raw}
	}
	if overlapRunes < 0 || overlapRunes >= maxRunes {
		overlapRunes = 0
	}

	var (
		out   []string
		cur   []rune
		lines = strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	)
	flush := func() {
		chunk := strings.TrimSpace(string(cur))
		if chunk != "" {
			out = append(out, chunk)
		}
		if overlapRunes > 0 && len(cur) > overlapRunes {
			cur = append([]rune(nil), cur[len(cur)-overlapRunes:]...)
		} else {
			cur = cur[:0]
		}
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lr := []rune(line)
		if len(lr) > maxRunes {
			if len(cur) > 0 {
				flush()
			}
			cur = cur[:0]
			out = append(out, splitByRunes(line, maxRunes, overlapRunes)...)
			continue
		}
		if len(cur) > 0 && len(cur)+1+len(lr) > maxRunes {
			flush()
			// 重叠部分加上新行仍超长时放弃重叠
			if len(cur) > 0 && len(cur)+1+len(lr) > maxRunes {
				cur = cur[:0]
			}
		}
		if len(cur) > 0 {
			cur = append(cur, '\n')
		}
		cur = append(cur, lr...)
	}
	if len(cur) > 0 {
		chunk := strings.TrimSpace(string(cur))
		if chunk != "" && (len(out) == 0 || !strings.HasSuffix(out[len(out)-1], chunk)) {
			out = append(out, chunk)
		}
	}
	return out
}

func splitByRunes(s string, maxRunes int, overlapRunes int) []string {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return nil
	}
	if maxRunes <= 0 {
		return []string{raw}
	}
	if overlapRunes < 0 {
		overlapRunes = 0
	}
	runes := []rune(raw)
	if len(runes) <= maxRunes {
		return []string{raw}
	}
	step := maxRunes - overlapRunes
	if step <= 0 {
		step = maxRunes
	}

	out := make([]string, 0, (len(runes)/step)+1)
	for start := 0; start < len(runes); start += step {
		end := start + maxRunes
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			out = append(out, chunk)
		}
		if end >= len(runes) {
			break
		}
	}
	return out
}
