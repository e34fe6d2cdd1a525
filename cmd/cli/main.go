package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"archivarius/internal/core/backup"
	"archivarius/internal/core/config"
	"archivarius/internal/core/progress"
	"archivarius/internal/logger"
	"archivarius/pkg/types"

	"github.com/adhocore/gronx"
	"github.com/spf13/cobra"
)

var (
	// Параметры командной строки
	cfgFile         string
	sourcePaths     []string
	backupDir       string
	backupType      string
	compression     string
	maxBackups      int
	excludePatterns []string
	includePatterns []string
	encryptEnabled  bool
	encryptPassword string
	noCleanup       bool
	noVerify        bool
	showProgress    bool
	targetDir       string
	deleteExtra     bool
	schedule        string
	interval        time.Duration
	watchMode       bool
	debounce        time.Duration
)

// Корневая команда
var rootCmd = &cobra.Command{
	Use:   "archivarius",
	Short: "Archivarius - движок резервного копирования с шифрованием",
	Long: `Archivarius - приложение для создания бэкапов файлов и директорий.
Поддерживает полные, инкрементальные и дифференциальные бэкапы,
форматы zip/tar.gz/tar.bz2, шифрование и планирование.`,
}

// Команда создания бэкапа
var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Создать бэкап",
	Long: `Создает бэкап указанных путей.

Пример использования:
  archivarius create --source /home/user/documents --dir /backups
  archivarius create -s /data --dir /backups --type incremental --compression tar.gz
  archivarius create -s /data --dir /backups --encrypt --password secret`,
	PreRunE: validateCreateFlags,
	RunE:    runCreate,
}

// Команда восстановления
var restoreCmd = &cobra.Command{
	Use:   "restore <backup_id>",
	Short: "Восстановить бэкап",
	Long: `Восстанавливает бэкап в указанную директорию.
Существующие файлы перезаписываются.

Пример использования:
  archivarius restore backup_20260830_120000 --dir /backups --target /restore`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

// Команда списка бэкапов
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Показать список бэкапов",
	RunE:  runList,
}

// Команда проверки целостности
var verifyCmd = &cobra.Command{
	Use:          "verify <backup_id>",
	Short:        "Проверить целостность бэкапа",
	Args:         cobra.ExactArgs(1),
	RunE:         runVerify,
	SilenceUsage: true,
}

// Команда удаления бэкапа
var deleteCmd = &cobra.Command{
	Use:   "delete <backup_id>",
	Short: "Удалить бэкап",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

// Команда очистки старых бэкапов
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Удалить старые бэкапы сверх лимита",
	RunE:  runCleanup,
}

// Команда синхронизации директорий бэкапов
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Синхронизировать бэкапы между директориями",
	Long: `Копирует в целевую директорию бэкапы, отсутствующие в ее журнале.

Пример использования:
  archivarius sync --dir /backups --target /mnt/external/backups
  archivarius sync --dir /backups --target /mnt/external/backups --delete-extra`,
	RunE: runSync,
}

// Команда статистики
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Показать статистику по бэкапам",
	RunE:  runStats,
}

// Команда экспорта конфигурации бэкапа
var exportConfigCmd = &cobra.Command{
	Use:   "export-config <file>",
	Short: "Экспортировать конфигурацию бэкапа в JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runExportConfig,
}

// Команда импорта конфигурации бэкапа
var importConfigCmd = &cobra.Command{
	Use:   "import-config <file>",
	Short: "Создать бэкап по конфигурации из JSON-файла",
	Args:  cobra.ExactArgs(1),
	RunE:  runImportConfig,
}

// Команда планировщика
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Запустить бэкапы по расписанию",
	Long: `Выполняет бэкапы по cron-расписанию, с фиксированным интервалом
или при изменении файлов в исходных путях.

Пример использования:
  archivarius schedule -s /data --dir /backups --cron "0 2 * * *"
  archivarius schedule -s /data --dir /backups --interval 1h
  archivarius schedule -s /data --dir /backups --watch`,
	PreRunE: validateScheduleFlags,
	RunE:    runSchedule,
}

func init() {
	// Глобальные флаги
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "путь к файлу конфигурации")
	rootCmd.PersistentFlags().StringVar(&backupDir, "dir", "", "директория бэкапов")

	// Флаги команды create
	createCmd.Flags().StringSliceVarP(&sourcePaths, "source", "s", nil, "путь к исходным файлам (можно указать несколько раз)")
	createCmd.Flags().StringVarP(&backupType, "type", "t", "full", "тип бэкапа: full, incremental, differential")
	createCmd.Flags().StringVarP(&compression, "compression", "c", "zip", "тип сжатия: zip, tar.gz, tar.bz2, none")
	createCmd.Flags().IntVarP(&maxBackups, "max-backups", "m", 10, "максимальное количество хранимых бэкапов")
	createCmd.Flags().StringSliceVar(&excludePatterns, "exclude", nil, "паттерны исключения файлов")
	createCmd.Flags().StringSliceVar(&includePatterns, "include", nil, "паттерны включения файлов")
	createCmd.Flags().BoolVarP(&encryptEnabled, "encrypt", "e", false, "шифровать бэкап")
	createCmd.Flags().StringVarP(&encryptPassword, "password", "p", "", "пароль для шифрования")
	createCmd.Flags().BoolVar(&noCleanup, "no-cleanup", false, "отключить автоматическую очистку старых бэкапов")
	createCmd.Flags().BoolVar(&noVerify, "no-verify", false, "не вычислять контрольную сумму")
	createCmd.Flags().BoolVar(&showProgress, "progress", false, "показывать прогресс")
	createCmd.MarkFlagRequired("source")

	// Флаги команды restore
	restoreCmd.Flags().StringVar(&targetDir, "target", "", "директория восстановления (обязательный)")
	restoreCmd.Flags().StringVarP(&encryptPassword, "password", "p", "", "пароль для зашифрованных бэкапов")
	restoreCmd.MarkFlagRequired("target")

	// Флаги команды verify
	verifyCmd.Flags().StringVarP(&encryptPassword, "password", "p", "", "пароль для зашифрованных бэкапов")

	// Флаги команды cleanup
	cleanupCmd.Flags().IntVarP(&maxBackups, "max-backups", "m", 10, "количество бэкапов, которое нужно оставить")

	// Флаги команды sync
	syncCmd.Flags().StringVar(&targetDir, "target", "", "целевая директория синхронизации (обязательный)")
	syncCmd.Flags().BoolVar(&deleteExtra, "delete-extra", false, "удалять в целевой директории бэкапы, отсутствующие в исходной")
	syncCmd.MarkFlagRequired("target")

	// Флаги команды export-config
	exportConfigCmd.Flags().StringSliceVarP(&sourcePaths, "source", "s", nil, "путь к исходным файлам")
	exportConfigCmd.Flags().StringVarP(&backupType, "type", "t", "full", "тип бэкапа")
	exportConfigCmd.Flags().StringVarP(&compression, "compression", "c", "zip", "тип сжатия")
	exportConfigCmd.Flags().IntVarP(&maxBackups, "max-backups", "m", 10, "максимальное количество хранимых бэкапов")
	exportConfigCmd.Flags().StringSliceVar(&excludePatterns, "exclude", nil, "паттерны исключения файлов")
	exportConfigCmd.Flags().StringSliceVar(&includePatterns, "include", nil, "паттерны включения файлов")
	exportConfigCmd.Flags().BoolVarP(&encryptEnabled, "encrypt", "e", false, "шифровать бэкап")

	// Флаги команды import-config
	importConfigCmd.Flags().StringVarP(&encryptPassword, "password", "p", "", "пароль для шифрования")
	importConfigCmd.Flags().BoolVar(&showProgress, "progress", false, "показывать прогресс")

	// Флаги команды schedule
	scheduleCmd.Flags().StringSliceVarP(&sourcePaths, "source", "s", nil, "путь к исходным файлам (можно указать несколько раз)")
	scheduleCmd.Flags().StringVarP(&backupType, "type", "t", "full", "тип бэкапа")
	scheduleCmd.Flags().StringVarP(&compression, "compression", "c", "zip", "тип сжатия")
	scheduleCmd.Flags().IntVarP(&maxBackups, "max-backups", "m", 10, "максимальное количество хранимых бэкапов")
	scheduleCmd.Flags().StringVar(&schedule, "cron", "", "cron-расписание")
	scheduleCmd.Flags().DurationVar(&interval, "interval", 0, "фиксированный интервал между бэкапами")
	scheduleCmd.Flags().BoolVar(&watchMode, "watch", false, "запускать бэкап при изменении файлов")
	scheduleCmd.Flags().DurationVar(&debounce, "debounce", 5*time.Second, "пауза после последнего изменения в режиме watch")
	scheduleCmd.Flags().BoolVarP(&encryptEnabled, "encrypt", "e", false, "шифровать бэкап")
	scheduleCmd.Flags().StringVarP(&encryptPassword, "password", "p", "", "пароль для шифрования")
	scheduleCmd.MarkFlagRequired("source")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(exportConfigCmd)
	rootCmd.AddCommand(importConfigCmd)
	rootCmd.AddCommand(scheduleCmd)
}

// validateCreateFlags проверяет флаги команды create
func validateCreateFlags(cmd *cobra.Command, args []string) error {
	for _, path := range sourcePaths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("исходный путь не существует: %s", path)
		}
	}

	if _, err := types.ParseBackupType(backupType); err != nil {
		return err
	}
	if _, err := types.ParseCompressionType(compression); err != nil {
		return err
	}

	if encryptEnabled && encryptPassword == "" {
		return fmt.Errorf("для шифрования необходимо указать пароль (--password)")
	}

	if maxBackups < 1 {
		return fmt.Errorf("количество хранимых бэкапов должно быть не менее 1")
	}

	return nil
}

// validateScheduleFlags проверяет флаги команды schedule
func validateScheduleFlags(cmd *cobra.Command, args []string) error {
	if err := validateCreateFlags(cmd, args); err != nil {
		return err
	}

	modes := 0
	if schedule != "" {
		modes++
	}
	if interval > 0 {
		modes++
	}
	if watchMode {
		modes++
	}
	if modes != 1 {
		return fmt.Errorf("укажите ровно один режим: --cron, --interval или --watch")
	}

	if schedule != "" {
		gron := gronx.New()
		if !gron.IsValid(schedule) {
			return fmt.Errorf("неверный формат cron-выражения: %s", schedule)
		}
	}

	return nil
}

// newContext создает контекст, отменяемый по сигналам прерывания
func newContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		fmt.Println("\nПолучен сигнал прерывания, завершаем работу...")
		cancel()
	}()

	return ctx, cancel
}

// newService загружает конфигурацию и создает сервис бэкапов
func newService() (*backup.Service, *config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	log := logger.NewStructuredLogger("main")
	return backup.NewService(cfg, log), cfg, nil
}

// resolveBackupDir подставляет директорию бэкапов по умолчанию
func resolveBackupDir(cfg *config.Config) string {
	if backupDir != "" {
		return backupDir
	}
	return cfg.Backup.DefaultDirectory
}

// buildBackupConfig собирает конфигурацию бэкапа из флагов
func buildBackupConfig(cfg *config.Config) *types.BackupConfig {
	backupCfg := types.NewBackupConfig(sourcePaths, resolveBackupDir(cfg))
	backupCfg.BackupType = types.BackupType(backupType)
	backupCfg.CompressionType = types.CompressionType(compression)
	backupCfg.MaxBackups = maxBackups
	backupCfg.EncryptBackup = encryptEnabled
	backupCfg.EncryptionPassword = encryptPassword
	backupCfg.AutoCleanup = !noCleanup
	backupCfg.VerifyBackup = !noVerify

	if len(excludePatterns) > 0 {
		backupCfg.ExcludePatterns = excludePatterns
	}
	if len(includePatterns) > 0 {
		backupCfg.IncludePatterns = includePatterns
	}

	return backupCfg
}

// newTracker создает трекер прогресса с выводом в консоль
func newTracker(ctx context.Context) *progress.Tracker {
	tracker := progress.NewTracker()

	go func() {
		select {
		case <-ctx.Done():
			tracker.Cancel()
		case <-tracker.Done():
		}
	}()

	if showProgress {
		tracker.AddCallback(func(snap progress.Snapshot) {
			percent := 0.0
			if snap.TotalSize > 0 {
				percent = float64(snap.ProcessedSize) / float64(snap.TotalSize) * 100
			}
			fmt.Printf("\r[%6.2f%%] %d/%d файлов", percent, snap.ProcessedFiles, snap.TotalFiles)
		})
	}

	return tracker
}

// printBackupInfo выводит сведения о созданном бэкапе
func printBackupInfo(info *types.BackupInfo) {
	fmt.Println("\nБэкап успешно завершен:")
	fmt.Printf("Идентификатор: %s\n", info.BackupID)
	fmt.Printf("Путь к бэкапу: %s\n", info.BackupPath)
	fmt.Printf("Тип: %s\n", info.BackupType)
	fmt.Printf("Обработано файлов: %d\n", info.FileCount)
	fmt.Printf("Общий размер: %d байт (%.2f МБ)\n", info.TotalSize, float64(info.TotalSize)/1024/1024)
	if info.CompressedSize != nil {
		fmt.Printf("Размер после сжатия: %d байт (%.2f МБ)\n", *info.CompressedSize, float64(*info.CompressedSize)/1024/1024)
	}
	if info.Checksum != "" {
		fmt.Printf("Контрольная сумма: %s\n", info.Checksum)
	}
	if info.Encrypted {
		fmt.Println("Бэкап зашифрован.")
	}
}

// executeBackup запускает бэкап нужного типа
func executeBackup(ctx context.Context, service *backup.Service, backupCfg *types.BackupConfig, tracker *progress.Tracker) (*types.BackupInfo, error) {
	switch backupCfg.BackupType {
	case types.BackupTypeIncremental:
		return service.CreateIncrementalBackup(ctx, backupCfg, tracker)
	case types.BackupTypeDifferential:
		return service.CreateDifferentialBackup(ctx, backupCfg, tracker)
	default:
		return service.CreateBackup(ctx, backupCfg, tracker)
	}
}

// runCreate выполняет команду create
func runCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := newContext()
	defer cancel()

	service, cfg, err := newService()
	if err != nil {
		return err
	}

	backupCfg := buildBackupConfig(cfg)
	tracker := newTracker(ctx)

	fmt.Println("Запуск процесса бэкапа...")
	info, err := executeBackup(ctx, service, backupCfg, tracker)
	if err != nil {
		if errors.Is(err, backup.ErrInterrupted) {
			fmt.Println("Бэкап прерван, частичные данные удалены.")
			return nil
		}
		return fmt.Errorf("ошибка выполнения бэкапа: %w", err)
	}

	if info == nil {
		fmt.Println("Нет измененных файлов, бэкап не создан.")
		return nil
	}

	printBackupInfo(info)
	return nil
}

// runRestore выполняет команду restore
func runRestore(cmd *cobra.Command, args []string) error {
	ctx, cancel := newContext()
	defer cancel()

	service, cfg, err := newService()
	if err != nil {
		return err
	}

	backupID := args[0]
	fmt.Printf("Восстановление бэкапа %s в %s...\n", backupID, targetDir)

	if err := service.RestoreBackup(ctx, resolveBackupDir(cfg), backupID, targetDir, encryptPassword); err != nil {
		return fmt.Errorf("ошибка восстановления: %w", err)
	}

	fmt.Println("Восстановление завершено.")
	return nil
}

// runList выполняет команду list
func runList(cmd *cobra.Command, args []string) error {
	service, cfg, err := newService()
	if err != nil {
		return err
	}

	entries, err := service.ListBackups(resolveBackupDir(cfg))
	if err != nil {
		return fmt.Errorf("ошибка чтения журнала бэкапов: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("Бэкапы не найдены.")
		return nil
	}

	fmt.Printf("%-32s %-20s %-13s %-8s %10s  %s\n",
		"ID", "ВРЕМЯ", "ТИП", "ФАЙЛОВ", "РАЗМЕР", "ШИФР")
	for _, entry := range entries {
		encrypted := "-"
		if entry.Encrypted {
			encrypted = "да"
		}
		fmt.Printf("%-32s %-20s %-13s %-8d %10d  %s\n",
			entry.BackupID,
			entry.Timestamp.Format("2006-01-02 15:04:05"),
			entry.BackupType,
			entry.FileCount,
			entry.TotalSize,
			encrypted)
	}

	return nil
}

// runVerify выполняет команду verify
func runVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := newContext()
	defer cancel()

	service, cfg, err := newService()
	if err != nil {
		return err
	}

	backupID := args[0]
	ok, err := service.VerifyBackup(ctx, resolveBackupDir(cfg), backupID, encryptPassword)
	if err != nil {
		return fmt.Errorf("ошибка проверки бэкапа: %w", err)
	}

	if ok {
		fmt.Printf("Бэкап %s цел.\n", backupID)
		return nil
	}

	// Ненулевой код возврата через обычный путь ошибок cobra
	return fmt.Errorf("бэкап %s поврежден или пароль неверен", backupID)
}

// runDelete выполняет команду delete
func runDelete(cmd *cobra.Command, args []string) error {
	service, cfg, err := newService()
	if err != nil {
		return err
	}

	backupID := args[0]
	if err := service.DeleteBackup(resolveBackupDir(cfg), backupID); err != nil {
		return fmt.Errorf("ошибка удаления бэкапа: %w", err)
	}

	fmt.Printf("Бэкап %s удален.\n", backupID)
	return nil
}

// runCleanup выполняет команду cleanup
func runCleanup(cmd *cobra.Command, args []string) error {
	service, cfg, err := newService()
	if err != nil {
		return err
	}

	deleted, err := service.CleanupOldBackups(resolveBackupDir(cfg), maxBackups)
	if err != nil {
		return fmt.Errorf("ошибка очистки: %w", err)
	}

	fmt.Printf("Удалено бэкапов: %d\n", deleted)
	return nil
}

// runSync выполняет команду sync
func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := newContext()
	defer cancel()

	service, cfg, err := newService()
	if err != nil {
		return err
	}

	copied, err := service.SyncBackups(ctx, resolveBackupDir(cfg), targetDir, deleteExtra)
	if err != nil {
		return fmt.Errorf("ошибка синхронизации: %w", err)
	}

	fmt.Printf("Скопировано бэкапов: %d\n", copied)
	return nil
}

// runStats выполняет команду stats
func runStats(cmd *cobra.Command, args []string) error {
	service, cfg, err := newService()
	if err != nil {
		return err
	}

	stats, err := service.GetStatistics(resolveBackupDir(cfg))
	if err != nil {
		return fmt.Errorf("ошибка сбора статистики: %w", err)
	}

	fmt.Printf("Всего бэкапов: %d\n", stats.TotalBackups)
	if stats.TotalBackups == 0 {
		return nil
	}

	fmt.Printf("Общий размер: %d байт (%.2f МБ)\n", stats.TotalSize, float64(stats.TotalSize)/1024/1024)
	fmt.Printf("Размер после сжатия: %d байт (%.2f МБ)\n", stats.CompressedSize, float64(stats.CompressedSize)/1024/1024)
	fmt.Printf("Коэффициент сжатия: %.2f\n", stats.CompressionRatio)
	fmt.Printf("Средний размер: %d байт\n", stats.AverageSize)
	if stats.OldestBackup != nil {
		fmt.Printf("Самый старый: %s\n", stats.OldestBackup.Format("2006-01-02 15:04:05"))
	}
	if stats.NewestBackup != nil {
		fmt.Printf("Самый новый: %s\n", stats.NewestBackup.Format("2006-01-02 15:04:05"))
	}

	fmt.Println("По типам:")
	for backupType, count := range stats.BackupTypes {
		fmt.Printf("  %s: %d\n", backupType, count)
	}

	return nil
}

// runExportConfig выполняет команду export-config
func runExportConfig(cmd *cobra.Command, args []string) error {
	service, cfg, err := newService()
	if err != nil {
		return err
	}

	backupCfg := buildBackupConfig(cfg)
	if err := service.ExportConfig(backupCfg, args[0]); err != nil {
		return fmt.Errorf("ошибка экспорта конфигурации: %w", err)
	}

	fmt.Printf("Конфигурация сохранена в %s\n", args[0])
	return nil
}

// runImportConfig выполняет команду import-config
func runImportConfig(cmd *cobra.Command, args []string) error {
	ctx, cancel := newContext()
	defer cancel()

	service, _, err := newService()
	if err != nil {
		return err
	}

	backupCfg, err := service.ImportConfig(args[0])
	if err != nil {
		return fmt.Errorf("ошибка импорта конфигурации: %w", err)
	}

	// Пароль в экспорт не попадает, поэтому берем его из флага
	if backupCfg.EncryptBackup {
		if encryptPassword == "" {
			return fmt.Errorf("конфигурация требует шифрования, укажите пароль (--password)")
		}
		backupCfg.EncryptionPassword = encryptPassword
	}

	tracker := newTracker(ctx)

	fmt.Println("Запуск процесса бэкапа по импортированной конфигурации...")
	info, err := executeBackup(ctx, service, backupCfg, tracker)
	if err != nil {
		if errors.Is(err, backup.ErrInterrupted) {
			fmt.Println("Бэкап прерван, частичные данные удалены.")
			return nil
		}
		return fmt.Errorf("ошибка выполнения бэкапа: %w", err)
	}

	if info == nil {
		fmt.Println("Нет измененных файлов, бэкап не создан.")
		return nil
	}

	printBackupInfo(info)
	return nil
}

// runSchedule выполняет команду schedule
func runSchedule(cmd *cobra.Command, args []string) error {
	ctx, cancel := newContext()
	defer cancel()

	service, cfg, err := newService()
	if err != nil {
		return err
	}

	backupCfg := buildBackupConfig(cfg)
	log := logger.NewStructuredLogger("scheduler")
	scheduler := backup.NewScheduler(service, log)

	if watchMode {
		fmt.Printf("Наблюдение за %v, бэкап через %s после последнего изменения...\n", sourcePaths, debounce)
		if err := scheduler.Watch(ctx, backupCfg, debounce); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("ошибка наблюдения: %w", err)
		}
		return nil
	}

	if schedule != "" {
		if _, err := scheduler.AddCronJob(schedule, backupCfg); err != nil {
			return err
		}
		fmt.Printf("Бэкап по расписанию %q запущен. Ctrl+C для остановки.\n", schedule)
	} else {
		if _, err := scheduler.AddIntervalJob(interval, backupCfg); err != nil {
			return err
		}
		fmt.Printf("Бэкап каждые %s запущен. Ctrl+C для остановки.\n", interval)
	}

	scheduler.Start()
	<-ctx.Done()
	scheduler.Stop()

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
