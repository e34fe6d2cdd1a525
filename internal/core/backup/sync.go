package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"archivarius/pkg/types"
)

// SyncBackups переносит в целевую директорию бэкапы, отсутствующие в ее
// журнале. При deleteExtra из целевой директории удаляются бэкапы,
// которых нет в исходной. Возвращает количество скопированных бэкапов.
func (s *Service) SyncBackups(ctx context.Context, sourceDir, targetDir string, deleteExtra bool) (int, error) {
	sourceEntries, err := s.history.Load(sourceDir)
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения исходного журнала: %w", err)
	}

	targetEntries, err := s.history.Load(targetDir)
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения целевого журнала: %w", err)
	}

	targetIDs := make(map[string]bool, len(targetEntries))
	for _, entry := range targetEntries {
		targetIDs[entry.BackupID] = true
	}

	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return 0, fmt.Errorf("ошибка создания целевой директории: %w", err)
	}

	copied := 0
	for _, entry := range sourceEntries {
		select {
		case <-ctx.Done():
			return copied, ctx.Err()
		default:
		}

		if targetIDs[entry.BackupID] {
			continue
		}

		destPath := filepath.Join(targetDir, filepath.Base(entry.BackupPath))
		if err := s.copyArtifact(ctx, entry.BackupPath, destPath); err != nil {
			s.logger.Warn("Ошибка копирования бэкапа при синхронизации",
				"backup_id", entry.BackupID,
				"error", err)
			continue
		}

		synced := entry
		synced.BackupPath = destPath
		if err := s.history.Append(targetDir, synced); err != nil {
			return copied, err
		}

		copied++
		s.logger.InfoContext(ctx, "Бэкап синхронизирован",
			"backup_id", entry.BackupID,
			"target", destPath)
	}

	if deleteExtra {
		sourceIDs := make(map[string]bool, len(sourceEntries))
		for _, entry := range sourceEntries {
			sourceIDs[entry.BackupID] = true
		}

		for _, entry := range targetEntries {
			if sourceIDs[entry.BackupID] {
				continue
			}
			if err := s.DeleteBackup(targetDir, entry.BackupID); err != nil {
				s.logger.Warn("Ошибка удаления лишнего бэкапа при синхронизации",
					"backup_id", entry.BackupID,
					"error", err)
			}
		}
	}

	return copied, nil
}

// copyArtifact копирует артефакт бэкапа: файл или директорию целиком
func (s *Service) copyArtifact(ctx context.Context, source, destination string) error {
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("артефакт бэкапа недоступен: %w", err)
	}

	if info.IsDir() {
		if err := os.MkdirAll(destination, info.Mode()); err != nil {
			return fmt.Errorf("ошибка создания директории: %w", err)
		}
		return s.writer.copyDirectory(ctx, source, destination)
	}

	if _, err := copyFile(source, destination); err != nil {
		return fmt.Errorf("ошибка копирования файла: %w", err)
	}
	return nil
}

// configExport формат файла экспорта конфигурации бэкапа.
// Пароль шифрования в экспорт никогда не попадает.
type configExport struct {
	ExportedAt   time.Time           `json:"exported_at"`
	BackupConfig *types.BackupConfig `json:"backup_config"`
}

// ExportConfig сохраняет конфигурацию бэкапа в JSON-файл
func (s *Service) ExportConfig(cfg *types.BackupConfig, path string) error {
	export := configExport{
		ExportedAt:   time.Now(),
		BackupConfig: cfg,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации конфигурации: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("ошибка создания директории: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("ошибка записи файла конфигурации: %w", err)
	}

	s.logger.Info("Конфигурация экспортирована", "path", path)
	return nil
}

// ImportConfig загружает конфигурацию бэкапа из JSON-файла и проверяет
// корректность значений
func (s *Service) ImportConfig(path string) (*types.BackupConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	var export configExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
	}
	if export.BackupConfig == nil {
		return nil, fmt.Errorf("файл %s не содержит конфигурации бэкапа", path)
	}

	cfg := export.BackupConfig
	if _, err := types.ParseBackupType(string(cfg.BackupType)); err != nil {
		return nil, err
	}
	if _, err := types.ParseCompressionType(string(cfg.CompressionType)); err != nil {
		return nil, err
	}

	s.logger.Info("Конфигурация импортирована",
		"path", path,
		"exported_at", export.ExportedAt.Format(time.RFC3339))

	return cfg, nil
}
