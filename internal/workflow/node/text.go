package node

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// RuneLen 以字符数计长度（中文按字计数）
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

func TruncateByRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i]
		}
		n++
	}
	return s
}

// TailRunes 返回末尾至多 maxRunes 个字符
func TailRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	total := utf8.RuneCountInString(s)
	if total <= maxRunes {
		return s
	}
	skip := total - maxRunes
	n := 0
	for i := range s {
		if n == skip {
			return s[i:]
		}
		n++
	}
	return ""
}

// TrimSeamOverlap 去掉续写开头与已有内容末尾重复的部分。
// 只做有界的后缀/前缀比对：在 tail 窗口内找最长的 k (>= minOverlap)，
// 使 tail 的末尾 k 个字符等于续写的开头 k 个字符。找不到就不裁剪，宁可漏判也不误删。
func TrimSeamOverlap(accumulated, continuation string, window, minOverlap int) string {
	next := strings.TrimLeftFunc(continuation, unicode.IsSpace)
	if minOverlap < 1 {
		minOverlap = 1
	}
	tail := []rune(strings.TrimRightFunc(TailRunes(accumulated, window), unicode.IsSpace))
	head := []rune(next)

	maxK := len(tail)
	if len(head) < maxK {
		maxK = len(head)
	}
	for k := maxK; k >= minOverlap; k-- {
		if runesEqual(tail[len(tail)-k:], head[:k]) {
			return strings.TrimLeftFunc(string(head[k:]), unicode.IsSpace)
		}
	}
	return next
}

func runesEqual(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
