package types

import (
	"fmt"
	"time"
)

// BackupType тип бэкапа
type BackupType string

const (
	BackupTypeFull         BackupType = "full"
	BackupTypeIncremental  BackupType = "incremental"
	BackupTypeDifferential BackupType = "differential"
)

// ParseBackupType разбирает строковое значение типа бэкапа
func ParseBackupType(s string) (BackupType, error) {
	switch BackupType(s) {
	case BackupTypeFull, BackupTypeIncremental, BackupTypeDifferential:
		return BackupType(s), nil
	default:
		return "", fmt.Errorf("неизвестный тип бэкапа: %s", s)
	}
}

// CompressionType тип сжатия (он же формат контейнера)
type CompressionType string

const (
	CompressionNone   CompressionType = "none"
	CompressionZip    CompressionType = "zip"
	CompressionTarGz  CompressionType = "tar.gz"
	CompressionTarBz2 CompressionType = "tar.bz2"
)

// ParseCompressionType разбирает строковое значение типа сжатия
func ParseCompressionType(s string) (CompressionType, error) {
	switch CompressionType(s) {
	case CompressionNone, CompressionZip, CompressionTarGz, CompressionTarBz2:
		return CompressionType(s), nil
	default:
		return "", fmt.Errorf("неизвестный тип сжатия: %s", s)
	}
}

// Extension возвращает расширение файла контейнера.
// Для CompressionNone бэкап является директорией и расширения не имеет.
func (c CompressionType) Extension() string {
	switch c {
	case CompressionZip:
		return ".zip"
	case CompressionTarGz:
		return ".tar.gz"
	case CompressionTarBz2:
		return ".tar.bz2"
	default:
		return ""
	}
}

// BackupConfig определяет политику одного запуска бэкапа.
// После передачи в операцию конфигурация движком не изменяется.
type BackupConfig struct {
	SourcePaths        []string        `json:"source_paths" validate:"required,min=1"`
	BackupDirectory    string          `json:"backup_directory" validate:"required"`
	BackupType         BackupType      `json:"backup_type" validate:"backup_type"`
	CompressionType    CompressionType `json:"compression_type" validate:"compression"`
	MaxBackups         int             `json:"max_backups" validate:"min=1,max=1000"`
	ExcludePatterns    []string        `json:"exclude_patterns"`
	IncludePatterns    []string        `json:"include_patterns"`
	EncryptBackup      bool            `json:"encrypt_backup"`
	EncryptionPassword string          `json:"-"` // Не сериализуем пароль
	AutoCleanup        bool            `json:"auto_cleanup"`
	VerifyBackup       bool            `json:"verify_backup"`
}

// DefaultExcludePatterns паттерны, исключаемые по умолчанию
var DefaultExcludePatterns = []string{
	"*.tmp", "*.log", "*.cache", "__pycache__", ".git",
	"node_modules", ".DS_Store", "Thumbs.db",
}

// NewBackupConfig создает конфигурацию со значениями по умолчанию
func NewBackupConfig(sourcePaths []string, backupDirectory string) *BackupConfig {
	return &BackupConfig{
		SourcePaths:     sourcePaths,
		BackupDirectory: backupDirectory,
		BackupType:      BackupTypeFull,
		CompressionType: CompressionZip,
		MaxBackups:      10,
		ExcludePatterns: append([]string(nil), DefaultExcludePatterns...),
		IncludePatterns: []string{"*"},
		AutoCleanup:     true,
		VerifyBackup:    true,
	}
}

// BackupInfo запись о созданном бэкапе. Сохраняется в журнале
// backup_history.json и после записи не изменяется (кроме удаления).
type BackupInfo struct {
	BackupID        string          `json:"backup_id"`
	Timestamp       time.Time       `json:"timestamp"`
	BackupType      BackupType      `json:"backup_type"`
	SourcePath      string          `json:"source_path"`
	BackupPath      string          `json:"backup_path"`
	CompressionType CompressionType `json:"compression_type"`
	FileCount       int             `json:"file_count"`
	TotalSize       int64           `json:"total_size"`
	CompressedSize  *int64          `json:"compressed_size,omitempty"`
	Checksum        string          `json:"checksum,omitempty"`
	Encrypted       bool            `json:"encrypted"`
	Description     string          `json:"description,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

// BackupStatistics сводная статистика по журналу бэкапов
type BackupStatistics struct {
	TotalBackups          int                     `json:"total_backups"`
	TotalSize             int64                   `json:"total_size"`
	CompressedSize        int64                   `json:"compressed_size"`
	CompressionRatio      float64                 `json:"compression_ratio"`
	OldestBackup          *time.Time              `json:"oldest_backup,omitempty"`
	NewestBackup          *time.Time              `json:"newest_backup,omitempty"`
	BackupTypes           map[BackupType]int      `json:"backup_types"`
	CompressionTypes      map[CompressionType]int `json:"compression_types"`
	AverageSize           int64                   `json:"average_size"`
	AverageCompressedSize int64                   `json:"average_compressed_size"`
}
