package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDocuments(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.md"), "# 角色\n林川，侦探。")
	writeFile(t, filepath.Join(dir, "a.txt"), "雾城常年下雨。")
	writeFile(t, filepath.Join(dir, "sub", "c.txt"), "黑猫名叫墨墨。")
	writeFile(t, filepath.Join(dir, "d.pdf"), "binary")
	writeFile(t, filepath.Join(dir, ".hidden.txt"), "不应读取")
	writeFile(t, filepath.Join(dir, ".git", "x.txt"), "不应读取")
	writeFile(t, filepath.Join(dir, "empty.txt"), "  ")

	docs, err := LoadDocuments(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "a.txt", docs[0].Source)
	assert.Equal(t, "b.md", docs[1].Source)
	assert.Equal(t, "sub/c.txt", docs[2].Source)
}

func TestLoadDocuments_MissingDir(t *testing.T) {
	docs, err := LoadDocuments(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, docs)
}
