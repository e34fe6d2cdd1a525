package backup

import (
	"fmt"
	"os"
)

// CleanupOldBackups удаляет самые старые бэкапы, оставляя не более
// maxBackups записей. Возвращает количество удаленных бэкапов.
// Повторный вызов с тем же лимитом ничего не удаляет.
func (s *Service) CleanupOldBackups(backupDir string, maxBackups int) (int, error) {
	if maxBackups < 1 {
		return 0, fmt.Errorf("лимит бэкапов должен быть не меньше 1, получено %d", maxBackups)
	}

	entries, err := s.history.Load(backupDir)
	if err != nil {
		return 0, err
	}
	if len(entries) <= maxBackups {
		return 0, nil
	}

	sorted := SortedByTime(entries)
	excess := sorted[maxBackups:]

	deleted := 0
	for _, entry := range excess {
		if err := s.DeleteBackup(backupDir, entry.BackupID); err != nil {
			s.logger.Warn("Ошибка удаления старого бэкапа",
				"backup_id", entry.BackupID,
				"error", err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Info("Очистка старых бэкапов завершена",
			"deleted", deleted,
			"kept", maxBackups)
	}

	return deleted, nil
}

// DeleteBackup удаляет артефакт бэкапа и его запись из журнала.
// Отсутствующий артефакт не считается ошибкой: запись все равно
// удаляется.
func (s *Service) DeleteBackup(backupDir, backupID string) error {
	entry, err := s.history.Find(backupDir, backupID)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("бэкап не найден: %s", backupID)
	}

	if err := os.RemoveAll(entry.BackupPath); err != nil {
		return fmt.Errorf("ошибка удаления артефакта бэкапа %s: %w", backupID, err)
	}

	removed, err := s.history.Remove(backupDir, backupID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("запись о бэкапе %s отсутствует в журнале", backupID)
	}

	s.logger.Info("Бэкап удален",
		"backup_id", backupID,
		"path", entry.BackupPath)

	return nil
}
