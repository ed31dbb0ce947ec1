package retrieval

import (
	"sort"
	"strings"
	"unicode"
)

// KeywordOverlapReranker 按查询与片段的字符二元组重合度重排，分数相同保持原顺序
type KeywordOverlapReranker struct{}

func (KeywordOverlapReranker) Rerank(query string, hits []Hit) []Hit {
	if len(hits) < 2 {
		return hits
	}
	q := bigrams(query)
	if len(q) == 0 {
		return hits
	}

	type scored struct {
		hit   Hit
		score float64
	}
	items := make([]scored, len(hits))
	for i, h := range hits {
		p := bigrams(h.Text)
		shared := 0
		for g := range q {
			if _, ok := p[g]; ok {
				shared++
			}
		}
		items[i] = scored{hit: h, score: float64(shared) / float64(len(q))}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })

	out := make([]Hit, len(items))
	for i, it := range items {
		out[i] = it.hit
	}
	return out
}

func bigrams(s string) map[string]struct{} {
	runes := make([]rune, 0, len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			runes = append(runes, r)
		}
	}
	out := make(map[string]struct{}, len(runes))
	for i := 0; i+1 < len(runes); i++ {
		out[string(runes[i:i+2])] = struct{}{}
	}
	return out
}
