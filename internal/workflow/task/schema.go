package task

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	wfnode "z-novel-writer/internal/workflow/node"
)

// FieldKind 输出字段类型：字符串或有序字符串列表
type FieldKind string

const (
	KindString FieldKind = "string"
	KindList   FieldKind = "list"
)

// Field 声明一个结构化输出字段
type Field struct {
	Name        string
	Kind        FieldKind
	Description string
}

// outputSchema 由声明字段生成的 JSON Schema，既用于 response_format，也用于本地校验
type outputSchema struct {
	fields    []Field
	doc       map[string]any
	validator *gojsonschema.Schema
}

func newOutputSchema(fields []Field) (*outputSchema, error) {
	props := make(map[string]any, len(fields))
	required := make([]any, 0, len(fields))
	for _, f := range fields {
		if strings.TrimSpace(f.Name) == "" {
			return nil, fmt.Errorf("output field name is empty")
		}
		switch f.Kind {
		case KindString:
			props[f.Name] = map[string]any{"type": "string", "description": f.Description}
		case KindList:
			props[f.Name] = map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": f.Description,
			}
		default:
			return nil, fmt.Errorf("output field %s: unsupported kind %q", f.Name, f.Kind)
		}
		required = append(required, f.Name)
	}
	doc := map[string]any{
		"type":       "object",
		"required":   required,
		"properties": props,
	}

	validator, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("compile output schema: %w", err)
	}
	return &outputSchema{fields: fields, doc: doc, validator: validator}, nil
}

// instructions 写入模板 {return_format} 槽位的格式说明
func (s *outputSchema) instructions() string {
	var b strings.Builder
	b.WriteString("只输出一个 JSON 对象，不要输出任何其它内容。所有字段都必须出现，没有内容时列表填 []，字符串填 \"\"。\n```json\n{\n")
	for i, f := range s.fields {
		typ := "string"
		if f.Kind == KindList {
			typ = "string[]"
		}
		sep := ","
		if i == len(s.fields)-1 {
			sep = ""
		}
		fmt.Fprintf(&b, "  \"%s\": %s%s  // %s\n", f.Name, typ, sep, f.Description)
	}
	b.WriteString("}\n```")
	return b.String()
}

// parse 抽取 JSON、做最小化的空值归一，再按 schema 校验并转为 Go 值
func (s *outputSchema) parse(content string) (map[string]any, error) {
	raw := wfnode.ExtractJSONObject(content)
	if raw == "" {
		return nil, fmt.Errorf("empty output")
	}

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("output is not valid json: %w", err)
	}
	obj := s.coerce(decoded)
	if obj == nil {
		return nil, fmt.Errorf("output must be a json object")
	}

	res, err := s.validator.Validate(gojsonschema.NewGoLoader(obj))
	if err != nil {
		return nil, fmt.Errorf("validate output: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("schema violation: %s", strings.Join(msgs, "; "))
	}

	out := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		switch f.Kind {
		case KindString:
			v, _ := obj[f.Name].(string)
			out[f.Name] = strings.TrimSpace(v)
		case KindList:
			items, _ := obj[f.Name].([]any)
			list := make([]string, 0, len(items))
			for _, it := range items {
				if str, ok := it.(string); ok && strings.TrimSpace(str) != "" {
					list = append(list, strings.TrimSpace(str))
				}
			}
			out[f.Name] = list
		}
	}
	return out, nil
}

// coerce 只处理模型常见的“空”写法：null 或 "" 的列表字段视为空列表，null 字符串视为空串；
// 单一列表字段时允许直接输出数组。缺字段不做补齐，交给校验报错。
func (s *outputSchema) coerce(v any) map[string]any {
	if arr, ok := v.([]any); ok {
		if len(s.fields) == 1 && s.fields[0].Kind == KindList {
			return map[string]any{s.fields[0].Name: arr}
		}
		return nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	for _, f := range s.fields {
		val, present := obj[f.Name]
		if !present {
			continue
		}
		switch f.Kind {
		case KindList:
			if val == nil {
				obj[f.Name] = []any{}
			} else if str, ok := val.(string); ok && strings.TrimSpace(str) == "" {
				obj[f.Name] = []any{}
			}
		case KindString:
			if val == nil {
				obj[f.Name] = ""
			}
		}
	}
	return obj
}
