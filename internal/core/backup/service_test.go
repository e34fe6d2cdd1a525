package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"archivarius/internal/core/config"
	"archivarius/internal/core/progress"
	"archivarius/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := config.NewConfig()
	// Меньше итераций PBKDF2, чтобы тесты не тормозили
	cfg.Encryption.KeyDerivation.Iterations = 1000
	return NewService(cfg, nil)
}

func newTestBackupConfig(t *testing.T, sourceDir string) *types.BackupConfig {
	t.Helper()
	return types.NewBackupConfig([]string{sourceDir}, t.TempDir())
}

func TestCreateBackupFull(t *testing.T) {
	service := newTestService(t)
	sourceDir, _ := makeSourceTree(t)
	cfg := newTestBackupConfig(t, sourceDir)

	info, err := service.CreateBackup(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, info)

	assert.Equal(t, types.BackupTypeFull, info.BackupType)
	assert.Equal(t, 3, info.FileCount)
	assert.NotEmpty(t, info.Checksum)
	assert.False(t, info.Encrypted)
	assert.Contains(t, info.BackupID, "backup_")
	assert.FileExists(t, info.BackupPath)

	// Запись попала в журнал
	entries, err := service.ListBackups(cfg.BackupDirectory)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, info.BackupID, entries[0].BackupID)
	assert.Equal(t, sourceDir, entries[0].SourcePath)

	ok, err := service.VerifyBackup(context.Background(), cfg.BackupDirectory, info.BackupID, "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateBackupNothingToBackup(t *testing.T) {
	service := newTestService(t)
	sourceDir, _ := makeSourceTree(t)

	cfg := newTestBackupConfig(t, sourceDir)
	cfg.IncludePatterns = []string{"*.nonexistent"}

	_, err := service.CreateBackup(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, ErrNothingToBackup)
}

func TestCreateBackupInterrupted(t *testing.T) {
	service := newTestService(t)
	sourceDir, _ := makeSourceTree(t)
	cfg := newTestBackupConfig(t, sourceDir)

	tracker := progress.NewTracker()
	tracker.Cancel()

	_, err := service.CreateBackup(context.Background(), cfg, tracker)
	assert.ErrorIs(t, err, ErrInterrupted)

	// Частичный артефакт и запись в журнале отсутствуют
	entries, err := service.ListBackups(cfg.BackupDirectory)
	require.NoError(t, err)
	assert.Empty(t, entries)

	dirEntries, err := os.ReadDir(cfg.BackupDirectory)
	require.NoError(t, err)
	assert.Empty(t, dirEntries)
}

func TestRestoreBackup(t *testing.T) {
	service := newTestService(t)
	sourceDir, contents := makeSourceTree(t)
	cfg := newTestBackupConfig(t, sourceDir)
	cfg.CompressionType = types.CompressionTarGz

	info, err := service.CreateBackup(context.Background(), cfg, nil)
	require.NoError(t, err)

	restoreDir := t.TempDir()
	require.NoError(t, service.RestoreBackup(context.Background(), cfg.BackupDirectory, info.BackupID, restoreDir, ""))

	for rel, expected := range contents {
		restored, err := os.ReadFile(filepath.Join(restoreDir, rel))
		require.NoError(t, err, rel)
		assert.Equal(t, expected, string(restored), rel)
	}
}

func TestRestoreUnknownBackup(t *testing.T) {
	service := newTestService(t)
	err := service.RestoreBackup(context.Background(), t.TempDir(), "backup_00000000_000000", t.TempDir(), "")
	assert.Error(t, err)
}

func TestEncryptedBackupLifecycle(t *testing.T) {
	service := newTestService(t)
	sourceDir, contents := makeSourceTree(t)

	cfg := newTestBackupConfig(t, sourceDir)
	cfg.EncryptBackup = true
	cfg.EncryptionPassword = "strong-password"

	info, err := service.CreateBackup(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.True(t, info.Encrypted)
	assert.Contains(t, info.BackupPath, ".encrypted")
	assert.FileExists(t, info.BackupPath)

	// Незашифрованный архив удален
	plain := filepath.Join(cfg.BackupDirectory, info.BackupID+".zip")
	assert.NoFileExists(t, plain)

	// Проверка с верным паролем
	ok, err := service.VerifyBackup(context.Background(), cfg.BackupDirectory, info.BackupID, "strong-password")
	require.NoError(t, err)
	assert.True(t, ok)

	// Неверный пароль дает отрицательный результат без ошибки
	ok, err = service.VerifyBackup(context.Background(), cfg.BackupDirectory, info.BackupID, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	// Восстановление без пароля невозможно
	err = service.RestoreBackup(context.Background(), cfg.BackupDirectory, info.BackupID, t.TempDir(), "")
	assert.Error(t, err)

	restoreDir := t.TempDir()
	require.NoError(t, service.RestoreBackup(context.Background(), cfg.BackupDirectory, info.BackupID, restoreDir, "strong-password"))
	for rel, expected := range contents {
		restored, err := os.ReadFile(filepath.Join(restoreDir, rel))
		require.NoError(t, err, rel)
		assert.Equal(t, expected, string(restored), rel)
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	service := newTestService(t)
	sourceDir, _ := makeSourceTree(t)
	cfg := newTestBackupConfig(t, sourceDir)

	info, err := service.CreateBackup(context.Background(), cfg, nil)
	require.NoError(t, err)

	// Портим архив после создания
	require.NoError(t, os.WriteFile(info.BackupPath, []byte("мусор"), 0644))

	ok, err := service.VerifyBackup(context.Background(), cfg.BackupDirectory, info.BackupID, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyMissingArtifact(t *testing.T) {
	service := newTestService(t)
	sourceDir, _ := makeSourceTree(t)
	cfg := newTestBackupConfig(t, sourceDir)

	info, err := service.CreateBackup(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, os.Remove(info.BackupPath))

	ok, err := service.VerifyBackup(context.Background(), cfg.BackupDirectory, info.BackupID, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIncrementalBackup(t *testing.T) {
	service := newTestService(t)
	sourceDir, _ := makeSourceTree(t)
	cfg := newTestBackupConfig(t, sourceDir)

	full, err := service.CreateBackup(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, full)

	// Без изменений инкрементальный бэкап не создается
	info, err := service.CreateIncrementalBackup(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, info)

	// Меняем один файл
	changed := filepath.Join(sourceDir, "readme.txt")
	writeTestFile(t, changed, "обновленное содержимое")
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(changed, future, future))

	info, err = service.CreateIncrementalBackup(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, types.BackupTypeIncremental, info.BackupType)
	assert.Equal(t, 1, info.FileCount)
}

func TestDifferentialBackup(t *testing.T) {
	service := newTestService(t)
	sourceDir, _ := makeSourceTree(t)
	cfg := newTestBackupConfig(t, sourceDir)

	_, err := service.CreateBackup(context.Background(), cfg, nil)
	require.NoError(t, err)

	// Меняем файл: попадет и в первый, и во второй дифференциальный бэкап
	changed := filepath.Join(sourceDir, "docs", "guide.md")
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(changed, future, future))

	first, err := service.CreateDifferentialBackup(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 1, first.FileCount)

	// Опорная точка осталась на полном бэкапе
	second, err := service.CreateDifferentialBackup(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, 1, second.FileCount)
}

func TestCleanupOldBackups(t *testing.T) {
	service := newTestService(t)
	sourceDir, _ := makeSourceTree(t)

	cfg := newTestBackupConfig(t, sourceDir)
	cfg.AutoCleanup = false

	var oldest *types.BackupInfo
	for i := 0; i < 3; i++ {
		info, err := service.CreateBackup(context.Background(), cfg, nil)
		require.NoError(t, err)
		if oldest == nil {
			oldest = info
		}
		time.Sleep(10 * time.Millisecond)
	}

	deleted, err := service.CleanupOldBackups(cfg.BackupDirectory, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.NoFileExists(t, oldest.BackupPath)

	entries, err := service.ListBackups(cfg.BackupDirectory)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// Повторная очистка ничего не удаляет
	deleted, err = service.CleanupOldBackups(cfg.BackupDirectory, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestAutoCleanupAfterCreate(t *testing.T) {
	service := newTestService(t)
	sourceDir, _ := makeSourceTree(t)

	cfg := newTestBackupConfig(t, sourceDir)
	cfg.MaxBackups = 1

	for i := 0; i < 3; i++ {
		_, err := service.CreateBackup(context.Background(), cfg, nil)
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}

	entries, err := service.ListBackups(cfg.BackupDirectory)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDeleteBackup(t *testing.T) {
	service := newTestService(t)
	sourceDir, _ := makeSourceTree(t)
	cfg := newTestBackupConfig(t, sourceDir)

	info, err := service.CreateBackup(context.Background(), cfg, nil)
	require.NoError(t, err)

	require.NoError(t, service.DeleteBackup(cfg.BackupDirectory, info.BackupID))
	assert.NoFileExists(t, info.BackupPath)

	entries, err := service.ListBackups(cfg.BackupDirectory)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Повторное удаление сообщает об отсутствии
	assert.Error(t, service.DeleteBackup(cfg.BackupDirectory, info.BackupID))
}

func TestSyncBackups(t *testing.T) {
	service := newTestService(t)
	sourceDir, _ := makeSourceTree(t)
	cfg := newTestBackupConfig(t, sourceDir)

	info, err := service.CreateBackup(context.Background(), cfg, nil)
	require.NoError(t, err)

	targetDir := t.TempDir()
	copied, err := service.SyncBackups(context.Background(), cfg.BackupDirectory, targetDir, false)
	require.NoError(t, err)
	assert.Equal(t, 1, copied)
	assert.FileExists(t, filepath.Join(targetDir, filepath.Base(info.BackupPath)))

	// Повторная синхронизация ничего не копирует
	copied, err = service.SyncBackups(context.Background(), cfg.BackupDirectory, targetDir, false)
	require.NoError(t, err)
	assert.Equal(t, 0, copied)

	// После удаления в источнике delete-extra подчищает цель
	require.NoError(t, service.DeleteBackup(cfg.BackupDirectory, info.BackupID))
	_, err = service.SyncBackups(context.Background(), cfg.BackupDirectory, targetDir, true)
	require.NoError(t, err)

	entries, err := service.ListBackups(targetDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExportImportConfig(t *testing.T) {
	service := newTestService(t)

	cfg := types.NewBackupConfig([]string{"/data"}, "/backups")
	cfg.BackupType = types.BackupTypeIncremental
	cfg.CompressionType = types.CompressionTarBz2
	cfg.EncryptBackup = true
	cfg.EncryptionPassword = "never-exported"

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, service.ExportConfig(cfg, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "never-exported")
	assert.Contains(t, string(raw), "exported_at")

	imported, err := service.ImportConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.SourcePaths, imported.SourcePaths)
	assert.Equal(t, types.BackupTypeIncremental, imported.BackupType)
	assert.Equal(t, types.CompressionTarBz2, imported.CompressionType)
	assert.True(t, imported.EncryptBackup)
	assert.Empty(t, imported.EncryptionPassword)
}

func TestImportConfigRejectsBadEnums(t *testing.T) {
	service := newTestService(t)

	path := filepath.Join(t.TempDir(), "bad.json")
	body := `{"exported_at":"2026-08-30T12:00:00Z","backup_config":{"source_paths":["/data"],"backup_directory":"/backups","backup_type":"weekly","compression_type":"zip","max_backups":5}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	_, err := service.ImportConfig(path)
	assert.Error(t, err)
}

func TestGetStatistics(t *testing.T) {
	service := newTestService(t)
	sourceDir, _ := makeSourceTree(t)
	cfg := newTestBackupConfig(t, sourceDir)

	empty, err := service.GetStatistics(cfg.BackupDirectory)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalBackups)

	_, err = service.CreateBackup(context.Background(), cfg, nil)
	require.NoError(t, err)

	stats, err := service.GetStatistics(cfg.BackupDirectory)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalBackups)
	assert.Greater(t, stats.TotalSize, int64(0))
	assert.Equal(t, 1, stats.BackupTypes[types.BackupTypeFull])
	assert.Equal(t, 1, stats.CompressionTypes[types.CompressionZip])
	assert.NotNil(t, stats.NewestBackup)
}

func TestDirectoryBackupSkipsEncryption(t *testing.T) {
	service := newTestService(t)
	sourceDir, _ := makeSourceTree(t)

	cfg := newTestBackupConfig(t, sourceDir)
	cfg.CompressionType = types.CompressionNone
	cfg.EncryptBackup = true
	cfg.EncryptionPassword = "pw"

	// Валидатор отклоняет шифрование директорных бэкапов
	_, err := service.CreateBackup(context.Background(), cfg, nil)
	assert.Error(t, err)

	cfg.EncryptBackup = false
	cfg.EncryptionPassword = ""
	info, err := service.CreateBackup(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.False(t, info.Encrypted)
	assert.DirExists(t, info.BackupPath)
	assert.Empty(t, info.Checksum)
}
