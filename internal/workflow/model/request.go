package model

import (
	"fmt"
	"strings"
)

// Request 模板槽位到取值的映射。调用前模板引用的每个槽位都必须存在（未知时为空串）。
type Request map[string]any

// Clone 浅拷贝，避免阶段之间互相污染槽位
func (r Request) Clone() Request {
	out := make(Request, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Set 链式设置槽位
func (r Request) Set(key string, value any) Request {
	r[key] = value
	return r
}

// Result 一次生成任务的结果：非结构化阶段只有 Raw，结构化阶段每个声明字段都在 Fields 中。
type Result struct {
	Raw    string
	Fields map[string]any
}

// String 读取字符串字段
func (r *Result) String(name string) string {
	if r == nil || r.Fields == nil {
		return ""
	}
	switch v := r.Fields[name].(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, "\n")
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// List 读取列表字段
func (r *Result) List(name string) []string {
	if r == nil || r.Fields == nil {
		return []string{}
	}
	switch v := r.Fields[name].(type) {
	case []string:
		return v
	case string:
		if strings.TrimSpace(v) == "" {
			return []string{}
		}
		return []string{v}
	default:
		return []string{}
	}
}
