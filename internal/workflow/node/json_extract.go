package node

import (
	"encoding/json"
	"strings"
)

// ExtractJSONObject 从模型输出中截取第一个 JSON 对象/数组。
// 模型常在 JSON 前后夹杂说明文字或 ```json 代码块，这里尽量剥离；无法定位时原样返回，由校验环节报错。
func ExtractJSONObject(s string) string {
	raw := strings.TrimSpace(stripCodeFence(s))
	if raw == "" {
		return raw
	}
	if json.Valid([]byte(raw)) {
		return raw
	}

	objStart := strings.Index(raw, "{")
	arrStart := strings.Index(raw, "[")
	start, end := -1, -1
	switch {
	case objStart >= 0 && (arrStart < 0 || objStart < arrStart):
		start = objStart
		end = strings.LastIndex(raw, "}")
	case arrStart >= 0:
		start = arrStart
		end = strings.LastIndex(raw, "]")
	}
	if start < 0 || end <= start {
		return raw
	}

	candidate := raw[start : end+1]
	if json.Valid([]byte(candidate)) {
		return candidate
	}

	// 尾部还有多余的 } 时，用 Decoder 只读一个值
	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.UseNumber()
	var v json.RawMessage
	if err := dec.Decode(&v); err == nil {
		return string(v)
	}
	return candidate
}

func stripCodeFence(s string) string {
	t := strings.TrimSpace(s)
	open := strings.Index(t, "```")
	if open < 0 {
		return t
	}
	rest := t[open+3:]
	// 跳过语言标记行，如 ```json
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	if closeIdx := strings.LastIndex(rest, "```"); closeIdx >= 0 {
		rest = rest[:closeIdx]
	}
	return rest
}
