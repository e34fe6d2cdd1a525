package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"archivarius/internal/core/progress"
	"archivarius/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeSourceTree(t *testing.T) (string, map[string]string) {
	t.Helper()
	dir := t.TempDir()
	contents := map[string]string{
		"readme.txt":          "первый файл",
		"docs/guide.md":       "второй файл",
		"docs/deep/notes.txt": "третий файл",
	}
	for rel, content := range contents {
		writeTestFile(t, filepath.Join(dir, rel), content)
	}
	return dir, contents
}

func collectFiles(t *testing.T, dir string) []string {
	t.Helper()
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestWriterRoundTrip(t *testing.T) {
	for _, compression := range []types.CompressionType{
		types.CompressionZip,
		types.CompressionTarGz,
		types.CompressionTarBz2,
		types.CompressionNone,
	} {
		t.Run(string(compression), func(t *testing.T) {
			sourceDir, contents := makeSourceTree(t)
			files := collectFiles(t, sourceDir)

			destDir := t.TempDir()
			destination := filepath.Join(destDir, "backup"+compression.Extension())

			writer := NewWriter(nil, 6)
			tracker := progress.NewTracker()
			tracker.SetTotals(len(files), 0)

			size, err := writer.Write(context.Background(), files, []string{sourceDir}, destination, compression, tracker)
			require.NoError(t, err)
			assert.Greater(t, size, int64(0))
			assert.Equal(t, len(files), tracker.Snapshot().ProcessedFiles)

			require.NoError(t, writer.Validate(context.Background(), destination, compression))

			restoreDir := t.TempDir()
			require.NoError(t, writer.Extract(context.Background(), destination, restoreDir, compression))

			for rel, expected := range contents {
				restored, err := os.ReadFile(filepath.Join(restoreDir, rel))
				require.NoError(t, err, rel)
				assert.Equal(t, expected, string(restored), rel)
			}
		})
	}
}

func TestWriterCancellation(t *testing.T) {
	sourceDir, _ := makeSourceTree(t)
	files := collectFiles(t, sourceDir)

	destination := filepath.Join(t.TempDir(), "backup.zip")
	writer := NewWriter(nil, 6)

	tracker := progress.NewTracker()
	tracker.Cancel()

	_, err := writer.Write(context.Background(), files, []string{sourceDir}, destination, types.CompressionZip, tracker)
	require.NoError(t, err)
	assert.Equal(t, 0, tracker.Snapshot().ProcessedFiles)
}

func TestWriterContextCancelled(t *testing.T) {
	sourceDir, _ := makeSourceTree(t)
	files := collectFiles(t, sourceDir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	destination := filepath.Join(t.TempDir(), "backup.tar.gz")
	_, err := NewWriter(nil, 6).Write(ctx, files, []string{sourceDir}, destination, types.CompressionTarGz, progress.NewTracker())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidateCorruptedArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.zip")
	require.NoError(t, os.WriteFile(path, []byte("это не zip архив"), 0644))

	err := NewWriter(nil, 6).Validate(context.Background(), path, types.CompressionZip)
	assert.Error(t, err)
}

func TestExtractRejectsUnsafePaths(t *testing.T) {
	_, err := safeJoin("/restore", "../../etc/passwd")
	assert.Error(t, err)

	path, err := safeJoin("/restore", "docs/file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/restore", "docs", "file.txt"), path)
}

func TestRelativePath(t *testing.T) {
	sourceDir, _ := makeSourceTree(t)
	inside := filepath.Join(sourceDir, "docs", "guide.md")

	rel := relativePath(inside, []string{sourceDir})
	assert.Equal(t, filepath.Join("docs", "guide.md"), rel)

	// Файл вне исходных путей попадает в корень архива по имени
	outside := filepath.Join(t.TempDir(), "orphan.txt")
	writeTestFile(t, outside, "x")
	assert.Equal(t, "orphan.txt", relativePath(outside, []string{sourceDir}))
}
