package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"archivarius/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func baseNames(paths []string) []string {
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	return names
}

func TestSelectorExcludePatterns(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "report.txt"), "a")
	writeTestFile(t, filepath.Join(dir, "scratch.tmp"), "b")
	writeTestFile(t, filepath.Join(dir, "debug.log"), "c")
	writeTestFile(t, filepath.Join(dir, "sub", "notes.md"), "d")

	cfg := types.NewBackupConfig([]string{dir}, t.TempDir())
	selector := NewSelector(nil)

	files := selector.Select([]string{dir}, cfg)
	names := baseNames(files)
	assert.Contains(t, names, "report.txt")
	assert.Contains(t, names, "notes.md")
	assert.NotContains(t, names, "scratch.tmp")
	assert.NotContains(t, names, "debug.log")
}

func TestSelectorExcludeSpansDirectories(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "mycache", "file.txt"), "a")
	writeTestFile(t, filepath.Join(dir, "data", "keep.txt"), "b")

	cfg := types.NewBackupConfig([]string{dir}, t.TempDir())
	cfg.ExcludePatterns = []string{"*cache*"}

	// Паттерн без разделителей исключает файлы внутри совпавшей директории
	files := NewSelector(nil).Select([]string{dir}, cfg)
	assert.Equal(t, []string{"keep.txt"}, baseNames(files))
}

func TestMatchPathPattern(t *testing.T) {
	assert.True(t, matchPathPattern("*cache*", "/tmp/x/mycache/file.txt"))
	assert.True(t, matchPathPattern("*.tmp", "/a/b/c.tmp"))
	assert.False(t, matchPathPattern("*.tmp", "/a/b/c.txt"))
	assert.True(t, matchPathPattern("/data/?.txt", "/data/a.txt"))
	assert.True(t, matchPathPattern("/logs/[0-9]*.log", "/logs/1-app.log"))
	assert.False(t, matchPathPattern("/logs/[!0-9]*.log", "/logs/1-app.log"))

	// Повторное обращение идет через кеш
	assert.True(t, matchPathPattern("*cache*", "/var/cache"))
}

func TestSelectorIncludePatterns(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "a.go"), "x")
	writeTestFile(t, filepath.Join(dir, "b.txt"), "y")

	cfg := types.NewBackupConfig([]string{dir}, t.TempDir())
	cfg.IncludePatterns = []string{"*.go"}

	files := NewSelector(nil).Select([]string{dir}, cfg)
	assert.Equal(t, []string{"a.go"}, baseNames(files))
}

func TestSelectorSingleFileAndDeduplication(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "data.txt")
	writeTestFile(t, file, "x")

	cfg := types.NewBackupConfig(nil, t.TempDir())

	// Файл указан и напрямую, и через родительскую директорию
	files := NewSelector(nil).Select([]string{file, dir}, cfg)
	assert.Len(t, files, 1)
	assert.Equal(t, "data.txt", filepath.Base(files[0]))
}

func TestSelectorMissingSourceSkipped(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "ok.txt"), "x")

	cfg := types.NewBackupConfig(nil, t.TempDir())
	files := NewSelector(nil).Select([]string{filepath.Join(dir, "no_such"), dir}, cfg)
	assert.Equal(t, []string{"ok.txt"}, baseNames(files))
}

func TestFilterModifiedSince(t *testing.T) {
	dir := t.TempDir()
	oldFile := filepath.Join(dir, "old.txt")
	newFile := filepath.Join(dir, "new.txt")
	writeTestFile(t, oldFile, "x")
	writeTestFile(t, newFile, "y")

	cutoff := time.Now()
	past := cutoff.Add(-time.Hour)
	future := cutoff.Add(time.Hour)
	require.NoError(t, os.Chtimes(oldFile, past, past))
	require.NoError(t, os.Chtimes(newFile, future, future))

	selector := NewSelector(nil)
	modified := selector.FilterModifiedSince([]string{oldFile, newFile}, cutoff)
	assert.Equal(t, []string{newFile}, modified)

	// Нулевое опорное время пропускает все файлы
	all := selector.FilterModifiedSince([]string{oldFile, newFile}, time.Time{})
	assert.Len(t, all, 2)
}
