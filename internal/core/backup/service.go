package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"archivarius/internal/core/config"
	"archivarius/internal/core/crypto"
	"archivarius/internal/core/progress"
	"archivarius/internal/logger"
	"archivarius/pkg/types"

	"github.com/google/uuid"
)

var (
	// ErrNothingToBackup возвращается, когда после применения фильтров
	// не осталось ни одного файла для полного бэкапа
	ErrNothingToBackup = errors.New("нет файлов для резервного копирования")

	// ErrInterrupted возвращается при отмене операции пользователем
	ErrInterrupted = errors.New("операция прервана пользователем")
)

// backupIDTimeLayout формат временной части идентификатора бэкапа
const backupIDTimeLayout = "20060102_150405"

// Service оркестратор операций резервного копирования.
// Все зависимости передаются явно при создании.
type Service struct {
	config   *config.Config
	logger   *logger.StructuredLogger
	crypto   *crypto.Engine
	selector *Selector
	writer   *Writer
	history  *HistoryStore
}

// NewService создает сервис бэкапов с зависимостями из конфигурации
func NewService(cfg *config.Config, log *logger.StructuredLogger) *Service {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if log == nil {
		log = logger.NewStructuredLogger("backup")
	}

	cryptoEngine := crypto.NewEngine(
		cfg.Encryption.KeyDerivation.Iterations,
		cfg.Encryption.KeyDerivation.SaltSize,
		log.WithFields(map[string]any{"subsystem": "crypto"}),
	)

	return &Service{
		config:   cfg,
		logger:   log,
		crypto:   cryptoEngine,
		selector: NewSelector(log),
		writer:   NewWriter(log, cfg.Compression.Level),
		history:  NewHistoryStore(),
	}
}

// Crypto возвращает движок шифрования сервиса
func (s *Service) Crypto() *crypto.Engine {
	return s.crypto
}

// generateBackupID создает идентификатор бэкапа на основе текущего
// времени. При коллизии к идентификатору добавляется случайный суффикс.
func (s *Service) generateBackupID(backupDir string, compression types.CompressionType) string {
	id := "backup_" + time.Now().Format(backupIDTimeLayout)

	if s.idTaken(backupDir, id, compression) {
		id = id + "_" + uuid.NewString()[:8]
	}

	return id
}

// idTaken проверяет существование артефакта или записи с таким же ID
func (s *Service) idTaken(backupDir, id string, compression types.CompressionType) bool {
	artifact := filepath.Join(backupDir, id+compression.Extension())
	if _, err := os.Stat(artifact); err == nil {
		return true
	}
	if _, err := os.Stat(artifact + ".encrypted"); err == nil {
		return true
	}

	existing, err := s.history.Find(backupDir, id)
	return err == nil && existing != nil
}

// CreateBackup выполняет полный бэкап согласно конфигурации.
// Если после фильтрации не осталось файлов, возвращает ErrNothingToBackup.
// При отмене через tracker частичный артефакт удаляется и возвращается
// ErrInterrupted.
func (s *Service) CreateBackup(ctx context.Context, cfg *types.BackupConfig, tracker *progress.Tracker) (*types.BackupInfo, error) {
	if err := config.ValidateBackupConfig(cfg); err != nil {
		return nil, err
	}

	files := s.selector.Select(cfg.SourcePaths, cfg)
	if len(files) == 0 {
		return nil, ErrNothingToBackup
	}

	return s.runBackup(ctx, cfg, tracker, files, types.BackupTypeFull)
}

// CreateIncrementalBackup выполняет инкрементальный бэкап: включаются
// только файлы, измененные после последнего бэкапа любого типа.
// Если измененных файлов нет, операция завершается без создания бэкапа
// и возвращает (nil, nil).
func (s *Service) CreateIncrementalBackup(ctx context.Context, cfg *types.BackupConfig, tracker *progress.Tracker) (*types.BackupInfo, error) {
	if err := config.ValidateBackupConfig(cfg); err != nil {
		return nil, err
	}

	since, err := s.referenceTime(cfg.BackupDirectory, false)
	if err != nil {
		return nil, err
	}

	files := s.selector.Select(cfg.SourcePaths, cfg)
	files = s.selector.FilterModifiedSince(files, since)
	if len(files) == 0 {
		s.logger.InfoContext(ctx, "Нет измененных файлов для инкрементального бэкапа",
			"since", since.Format(time.RFC3339))
		return nil, nil
	}

	return s.runBackup(ctx, cfg, tracker, files, types.BackupTypeIncremental)
}

// CreateDifferentialBackup выполняет дифференциальный бэкап: включаются
// файлы, измененные после последнего ПОЛНОГО бэкапа.
// Если измененных файлов нет, возвращает (nil, nil).
func (s *Service) CreateDifferentialBackup(ctx context.Context, cfg *types.BackupConfig, tracker *progress.Tracker) (*types.BackupInfo, error) {
	if err := config.ValidateBackupConfig(cfg); err != nil {
		return nil, err
	}

	since, err := s.referenceTime(cfg.BackupDirectory, true)
	if err != nil {
		return nil, err
	}

	files := s.selector.Select(cfg.SourcePaths, cfg)
	files = s.selector.FilterModifiedSince(files, since)
	if len(files) == 0 {
		s.logger.InfoContext(ctx, "Нет измененных файлов для дифференциального бэкапа",
			"since", since.Format(time.RFC3339))
		return nil, nil
	}

	return s.runBackup(ctx, cfg, tracker, files, types.BackupTypeDifferential)
}

// referenceTime определяет опорное время по журналу: для инкрементального
// режима это время последнего бэкапа любого типа, для дифференциального —
// последнего полного. Пустой журнал дает нулевое время, что превращает
// операцию в полный охват файлов.
func (s *Service) referenceTime(backupDir string, fullOnly bool) (time.Time, error) {
	entries, err := s.history.Load(backupDir)
	if err != nil {
		return time.Time{}, err
	}

	var ref time.Time
	for _, entry := range entries {
		if fullOnly && entry.BackupType != types.BackupTypeFull {
			continue
		}
		if entry.Timestamp.After(ref) {
			ref = entry.Timestamp
		}
	}

	return ref, nil
}

// runBackup общая часть всех типов бэкапа: запись контейнера, проверка,
// шифрование и регистрация в журнале
func (s *Service) runBackup(ctx context.Context, cfg *types.BackupConfig, tracker *progress.Tracker, files []string, backupType types.BackupType) (*types.BackupInfo, error) {
	if tracker == nil {
		tracker = progress.NewTracker()
	}

	if err := os.MkdirAll(cfg.BackupDirectory, 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории бэкапов: %w", err)
	}

	var totalSize int64
	for _, file := range files {
		if info, err := os.Stat(file); err == nil {
			totalSize += info.Size()
		}
	}
	tracker.SetTotals(len(files), totalSize)

	backupID := s.generateBackupID(cfg.BackupDirectory, cfg.CompressionType)
	backupPath := filepath.Join(cfg.BackupDirectory, backupID+cfg.CompressionType.Extension())

	backupLog := logger.NewBackupLogger(s.logger, backupID)
	backupLog.LogBackupStart(ctx, cfg.SourcePaths, cfg.BackupDirectory)
	startTime := time.Now()

	writtenSize, err := s.writer.Write(ctx, files, cfg.SourcePaths, backupPath, cfg.CompressionType, tracker)
	if err != nil {
		s.removeArtifact(backupPath)
		if errors.Is(err, context.Canceled) {
			return nil, ErrInterrupted
		}
		backupLog.LogBackupError(ctx, err, "write")
		return nil, err
	}

	if tracker.Cancelled() {
		s.removeArtifact(backupPath)
		s.logger.WarnContext(ctx, "Бэкап прерван, частичный артефакт удален",
			"backup_id", backupID)
		return nil, ErrInterrupted
	}

	isDirectory := cfg.CompressionType == types.CompressionNone

	var checksum string
	if cfg.VerifyBackup && !isDirectory {
		checksum, err = s.crypto.HashFile(backupPath, s.config.Backup.HashAlgorithm)
		if err != nil {
			s.removeArtifact(backupPath)
			return nil, fmt.Errorf("ошибка вычисления контрольной суммы: %w", err)
		}
	}

	encrypted := false
	if cfg.EncryptBackup {
		if isDirectory {
			s.logger.WarnContext(ctx, "Шифрование директорных бэкапов не поддерживается, бэкап сохранен без шифрования",
				"backup_id", backupID)
		} else {
			encryptedPath, err := s.crypto.EncryptFile(
				backupPath,
				cfg.EncryptionPassword,
				backupPath+".encrypted",
				crypto.Method(s.config.Encryption.DefaultMethod),
			)
			if err != nil {
				s.removeArtifact(backupPath)
				return nil, fmt.Errorf("ошибка шифрования бэкапа: %w", err)
			}
			if err := os.Remove(backupPath); err != nil {
				return nil, fmt.Errorf("ошибка удаления незашифрованного архива: %w", err)
			}
			backupPath = encryptedPath
			encrypted = true
		}
	}

	compressedSize := writtenSize
	info := types.BackupInfo{
		BackupID:        backupID,
		Timestamp:       startTime,
		BackupType:      backupType,
		SourcePath:      strings.Join(cfg.SourcePaths, ";"),
		BackupPath:      backupPath,
		CompressionType: cfg.CompressionType,
		FileCount:       len(files),
		TotalSize:       totalSize,
		CompressedSize:  &compressedSize,
		Checksum:        checksum,
		Encrypted:       encrypted,
		Metadata: map[string]any{
			"exclude_patterns": cfg.ExcludePatterns,
			"include_patterns": cfg.IncludePatterns,
		},
	}

	if err := s.history.Append(cfg.BackupDirectory, info); err != nil {
		return nil, err
	}

	backupLog.LogBackupComplete(ctx, backupPath, len(files), totalSize, time.Since(startTime))

	if cfg.AutoCleanup {
		if _, err := s.CleanupOldBackups(cfg.BackupDirectory, cfg.MaxBackups); err != nil {
			s.logger.WarnContext(ctx, "Ошибка автоматической очистки старых бэкапов",
				"error", err)
		}
	}

	return &info, nil
}

// removeArtifact удаляет артефакт бэкапа (файл или директорию)
func (s *Service) removeArtifact(path string) {
	if err := os.RemoveAll(path); err != nil {
		s.logger.Warn("Ошибка удаления артефакта бэкапа",
			"path", path,
			"error", err)
	}
}

// RestoreBackup восстанавливает бэкап в указанную директорию.
// Для зашифрованных бэкапов требуется пароль. Существующие файлы
// в целевой директории перезаписываются.
func (s *Service) RestoreBackup(ctx context.Context, backupDir, backupID, targetDir, password string) error {
	entry, err := s.history.Find(backupDir, backupID)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("бэкап не найден: %s", backupID)
	}

	archivePath := entry.BackupPath
	if _, err := os.Stat(archivePath); err != nil {
		return fmt.Errorf("артефакт бэкапа недоступен: %w", err)
	}

	if entry.Encrypted {
		if password == "" {
			return fmt.Errorf("бэкап %s зашифрован, требуется пароль", backupID)
		}

		tempDir, err := os.MkdirTemp("", "archivarius-restore-")
		if err != nil {
			return fmt.Errorf("ошибка создания временной директории: %w", err)
		}
		defer os.RemoveAll(tempDir)

		decryptedPath := filepath.Join(tempDir, backupID+entry.CompressionType.Extension())
		if _, err := s.crypto.DecryptFile(archivePath, password, decryptedPath); err != nil {
			return err
		}
		archivePath = decryptedPath
	}

	if err := s.writer.Extract(ctx, archivePath, targetDir, entry.CompressionType); err != nil {
		return fmt.Errorf("ошибка извлечения бэкапа %s: %w", backupID, err)
	}

	s.logger.InfoContext(ctx, "Бэкап восстановлен",
		"backup_id", backupID,
		"target", targetDir)

	return nil
}

// VerifyBackup проверяет целостность бэкапа: сверяет контрольную сумму
// с журналом и валидирует структуру контейнера. Возвращает false без
// ошибки при несовпадении суммы, поврежденном контейнере или неверном
// пароле; ошибка означает сбой самой проверки.
func (s *Service) VerifyBackup(ctx context.Context, backupDir, backupID, password string) (bool, error) {
	entry, err := s.history.Find(backupDir, backupID)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, fmt.Errorf("бэкап не найден: %s", backupID)
	}

	archivePath := entry.BackupPath
	if _, err := os.Stat(archivePath); err != nil {
		if os.IsNotExist(err) {
			s.logger.WarnContext(ctx, "Артефакт бэкапа отсутствует",
				"backup_id", backupID,
				"path", archivePath)
			return false, nil
		}
		return false, fmt.Errorf("ошибка доступа к артефакту: %w", err)
	}

	if entry.Encrypted {
		if password == "" {
			return false, fmt.Errorf("бэкап %s зашифрован, требуется пароль", backupID)
		}

		tempDir, err := os.MkdirTemp("", "archivarius-verify-")
		if err != nil {
			return false, fmt.Errorf("ошибка создания временной директории: %w", err)
		}
		defer os.RemoveAll(tempDir)

		decryptedPath := filepath.Join(tempDir, backupID+entry.CompressionType.Extension())
		if _, err := s.crypto.DecryptFile(archivePath, password, decryptedPath); err != nil {
			if errors.Is(err, crypto.ErrDecryption) {
				s.logger.WarnContext(ctx, "Расшифровка не удалась при проверке бэкапа",
					"backup_id", backupID)
				return false, nil
			}
			return false, err
		}
		archivePath = decryptedPath
	}

	if entry.Checksum != "" {
		actual, err := s.crypto.HashFile(archivePath, s.config.Backup.HashAlgorithm)
		if err != nil {
			return false, fmt.Errorf("ошибка вычисления контрольной суммы: %w", err)
		}
		if actual != entry.Checksum {
			s.logger.WarnContext(ctx, "Контрольная сумма бэкапа не совпадает",
				"backup_id", backupID,
				"expected", entry.Checksum,
				"actual", actual)
			return false, nil
		}
	}

	if err := s.writer.Validate(ctx, archivePath, entry.CompressionType); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, err
		}
		s.logger.WarnContext(ctx, "Контейнер бэкапа поврежден",
			"backup_id", backupID,
			"error", err)
		return false, nil
	}

	return true, nil
}

// ListBackups возвращает записи журнала, отсортированные от новых к старым
func (s *Service) ListBackups(backupDir string) ([]types.BackupInfo, error) {
	entries, err := s.history.Load(backupDir)
	if err != nil {
		return nil, err
	}
	return SortedByTime(entries), nil
}

// GetStatistics собирает сводную статистику по журналу бэкапов
func (s *Service) GetStatistics(backupDir string) (*types.BackupStatistics, error) {
	entries, err := s.history.Load(backupDir)
	if err != nil {
		return nil, err
	}

	stats := &types.BackupStatistics{
		TotalBackups:     len(entries),
		BackupTypes:      make(map[types.BackupType]int),
		CompressionTypes: make(map[types.CompressionType]int),
	}

	if len(entries) == 0 {
		return stats, nil
	}

	oldest := entries[0].Timestamp
	newest := entries[0].Timestamp

	for _, entry := range entries {
		stats.TotalSize += entry.TotalSize
		if entry.CompressedSize != nil {
			stats.CompressedSize += *entry.CompressedSize
		}
		stats.BackupTypes[entry.BackupType]++
		stats.CompressionTypes[entry.CompressionType]++

		if entry.Timestamp.Before(oldest) {
			oldest = entry.Timestamp
		}
		if entry.Timestamp.After(newest) {
			newest = entry.Timestamp
		}
	}

	stats.OldestBackup = &oldest
	stats.NewestBackup = &newest
	stats.AverageSize = stats.TotalSize / int64(len(entries))
	stats.AverageCompressedSize = stats.CompressedSize / int64(len(entries))
	if stats.TotalSize > 0 {
		stats.CompressionRatio = float64(stats.CompressedSize) / float64(stats.TotalSize)
	}

	return stats, nil
}
