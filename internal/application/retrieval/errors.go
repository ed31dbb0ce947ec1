package retrieval

import "errors"

var (
	// ErrVectorDisabled 表示向量检索/索引能力未配置（向量存储或 Embedder 不可用）。
	ErrVectorDisabled = errors.New("vector retrieval is disabled")
	// ErrUnsupportedDocument 文档格式不在 .txt/.md 之列
	ErrUnsupportedDocument = errors.New("unsupported document format")
)
