package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"archivarius/pkg/types"
)

// HistoryFileName имя файла журнала бэкапов в целевой директории
const HistoryFileName = "backup_history.json"

// HistoryStore управляет журналом бэкапов backup_history.json.
// Журнал хранится как JSON-массив записей и является единственным
// источником правды о созданных бэкапах.
type HistoryStore struct {
	mu sync.Mutex
}

// NewHistoryStore создает новое хранилище журнала
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{}
}

// historyPath возвращает путь к файлу журнала для директории бэкапов
func (h *HistoryStore) historyPath(backupDir string) string {
	return filepath.Join(backupDir, HistoryFileName)
}

// Load читает журнал из директории бэкапов. Отсутствующий файл
// трактуется как пустой журнал.
func (h *HistoryStore) Load(backupDir string) ([]types.BackupInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loadLocked(backupDir)
}

func (h *HistoryStore) loadLocked(backupDir string) ([]types.BackupInfo, error) {
	data, err := os.ReadFile(h.historyPath(backupDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []types.BackupInfo{}, nil
		}
		return nil, fmt.Errorf("ошибка чтения журнала бэкапов: %w", err)
	}

	var entries []types.BackupInfo
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("ошибка разбора журнала бэкапов: %w", err)
	}

	return entries, nil
}

// Append добавляет запись в конец журнала
func (h *HistoryStore) Append(backupDir string, info types.BackupInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries, err := h.loadLocked(backupDir)
	if err != nil {
		return err
	}

	entries = append(entries, info)
	return h.writeLocked(backupDir, entries)
}

// Rewrite полностью перезаписывает журнал переданным набором записей
func (h *HistoryStore) Rewrite(backupDir string, entries []types.BackupInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writeLocked(backupDir, entries)
}

func (h *HistoryStore) writeLocked(backupDir string, entries []types.BackupInfo) error {
	if entries == nil {
		entries = []types.BackupInfo{}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации журнала бэкапов: %w", err)
	}

	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return fmt.Errorf("ошибка создания директории бэкапов: %w", err)
	}

	if err := os.WriteFile(h.historyPath(backupDir), data, 0644); err != nil {
		return fmt.Errorf("ошибка записи журнала бэкапов: %w", err)
	}

	return nil
}

// Find ищет запись по идентификатору бэкапа.
// Возвращает nil, если запись не найдена.
func (h *HistoryStore) Find(backupDir, backupID string) (*types.BackupInfo, error) {
	entries, err := h.Load(backupDir)
	if err != nil {
		return nil, err
	}

	for i := range entries {
		if entries[i].BackupID == backupID {
			return &entries[i], nil
		}
	}

	return nil, nil
}

// Remove удаляет запись из журнала по идентификатору.
// Возвращает true, если запись существовала.
func (h *HistoryStore) Remove(backupDir, backupID string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries, err := h.loadLocked(backupDir)
	if err != nil {
		return false, err
	}

	filtered := entries[:0]
	removed := false
	for _, entry := range entries {
		if entry.BackupID == backupID {
			removed = true
			continue
		}
		filtered = append(filtered, entry)
	}

	if !removed {
		return false, nil
	}

	return true, h.writeLocked(backupDir, filtered)
}

// SortedByTime возвращает копию записей, отсортированную по времени
// создания от новых к старым
func SortedByTime(entries []types.BackupInfo) []types.BackupInfo {
	sorted := make([]types.BackupInfo, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	return sorted
}
