package logger

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// StructuredLogger обертка над zap с дополнительной функциональностью
type StructuredLogger struct {
	logger    *zap.SugaredLogger
	component string
}

// LogConfig конфигурация логирования
type LogConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"` // "json" или "console"
	OutputFile string `json:"output_file,omitempty"`
	MaxSize    int    `json:"max_size"` // МБ
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // дни
	Compress   bool   `json:"compress"`
}

// NewStructuredLogger создает новый структурированный логгер
func NewStructuredLogger(component string) *StructuredLogger {
	config := &LogConfig{
		Level:      "info",
		Format:     "json",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}

	return NewStructuredLoggerWithConfig(component, config)
}

// NewStructuredLoggerWithConfig создает логгер с кастомной конфигурацией
func NewStructuredLoggerWithConfig(component string, config *LogConfig) *StructuredLogger {
	var sink zapcore.WriteSyncer

	if config.OutputFile != "" {
		// Создаем директорию для логов если нужно
		dir := filepath.Dir(config.OutputFile)
		os.MkdirAll(dir, 0755)

		// Настройка ротации логов
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   config.OutputFile,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	level := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(config.Level); err == nil {
		level = parsed
	}

	// Выбор кодировщика в зависимости от формата
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if config.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, sink, level)
	options := []zap.Option{}
	if level <= zapcore.DebugLevel {
		options = append(options, zap.AddCaller())
	}

	return &StructuredLogger{
		logger:    zap.New(core, options...).Sugar(),
		component: component,
	}
}

// withComponent добавляет компонент в контекст логирования
func (l *StructuredLogger) withComponent() *zap.SugaredLogger {
	return l.logger.With("component", l.component)
}

// Debug логирование на уровне DEBUG
func (l *StructuredLogger) Debug(msg string, args ...any) {
	l.withComponent().Debugw(msg, args...)
}

// DebugContext логирование на уровне DEBUG с контекстом
func (l *StructuredLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.withComponent().Debugw(msg, args...)
}

// Info логирование на уровне INFO
func (l *StructuredLogger) Info(msg string, args ...any) {
	l.withComponent().Infow(msg, args...)
}

// InfoContext логирование на уровне INFO с контекстом
func (l *StructuredLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.withComponent().Infow(msg, args...)
}

// Warn логирование на уровне WARN
func (l *StructuredLogger) Warn(msg string, args ...any) {
	l.withComponent().Warnw(msg, args...)
}

// WarnContext логирование на уровне WARN с контекстом
func (l *StructuredLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.withComponent().Warnw(msg, args...)
}

// Error логирование на уровне ERROR
func (l *StructuredLogger) Error(msg string, args ...any) {
	l.withComponent().Errorw(msg, args...)
}

// ErrorContext логирование на уровне ERROR с контекстом
func (l *StructuredLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.withComponent().Errorw(msg, args...)
}

// Sync сбрасывает буферизованные записи
func (l *StructuredLogger) Sync() error {
	return l.logger.Sync()
}

// WithFields создает логгер с предустановленными полями
func (l *StructuredLogger) WithFields(fields map[string]any) *StructuredLogger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}

	return &StructuredLogger{
		logger:    l.logger.With(args...),
		component: l.component,
	}
}

// BackupLogger специализированный логгер для операций бэкапа
type BackupLogger struct {
	*StructuredLogger
	backupID string
}

// NewBackupLogger создает логгер для операций бэкапа
func NewBackupLogger(base *StructuredLogger, backupID string) *BackupLogger {
	return &BackupLogger{
		StructuredLogger: base.WithFields(map[string]any{
			"backup_id": backupID,
		}),
		backupID: backupID,
	}
}

// LogBackupStart логирует начало бэкапа
func (bl *BackupLogger) LogBackupStart(ctx context.Context, sourcePaths []string, backupDirectory string) {
	bl.InfoContext(ctx, "Начало выполнения бэкапа",
		"source_paths", sourcePaths,
		"backup_directory", backupDirectory)
}

// LogBackupProgress логирует прогресс бэкапа
func (bl *BackupLogger) LogBackupProgress(ctx context.Context, processed, total int64, currentFile string) {
	var percent float64
	if total > 0 {
		percent = float64(processed) / float64(total) * 100
	}
	bl.DebugContext(ctx, "Прогресс бэкапа",
		"files_processed", processed,
		"total_files", total,
		"progress_percent", percent,
		"current_file", currentFile)
}

// LogBackupComplete логирует завершение бэкапа
func (bl *BackupLogger) LogBackupComplete(ctx context.Context, backupPath string, fileCount int, totalSize int64, duration time.Duration) {
	bl.InfoContext(ctx, "Бэкап завершен успешно",
		"backup_path", backupPath,
		"file_count", fileCount,
		"total_size", totalSize,
		"duration", duration)
}

// LogBackupError логирует ошибку бэкапа
func (bl *BackupLogger) LogBackupError(ctx context.Context, err error, operation string) {
	bl.ErrorContext(ctx, "Ошибка при выполнении бэкапа",
		"error", err.Error(),
		"operation", operation)
}
