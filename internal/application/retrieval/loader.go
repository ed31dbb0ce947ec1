package retrieval

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"z-novel-writer/pkg/logger"
)

// Document 从分区目录读取的一份源文档
type Document struct {
	// Source 相对分区目录的路径，用作片段来源与稳定 ID 的一部分
	Source string
	Text   string
}

var supportedExts = map[string]bool{
	".txt": true,
	".md":  true,
}

// LoadDocuments 递归读取目录下的 .txt/.md 文档（按路径字典序）。
// 以 . 开头的文件与目录跳过；不支持的格式记录日志后跳过；目录不存在视为空。
func LoadDocuments(ctx context.Context, dir string) ([]Document, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			logger.Warn(ctx, "documents directory not found", "dir", dir)
			return nil, nil
		}
		return nil, fmt.Errorf("stat documents dir: %w", err)
	}

	var docs []Document
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if path != dir && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		if !supportedExts[strings.ToLower(filepath.Ext(name))] {
			logger.Warn(ctx, "skip unsupported document", "path", path, "error", ErrUnsupportedDocument.Error())
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read document %s: %w", path, err)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = name
		}
		text := strings.TrimSpace(string(b))
		if text == "" {
			return nil
		}
		docs = append(docs, Document{Source: filepath.ToSlash(rel), Text: text})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}
