package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"archivarius/internal/core/progress"
	"archivarius/internal/logger"
	"archivarius/pkg/types"

	"github.com/adhocore/gronx"
	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
)

// defaultDebounce пауза после последнего события файловой системы
// перед запуском бэкапа в режиме наблюдения
const defaultDebounce = 5 * time.Second

// Scheduler выполняет бэкапы по расписанию: cron-выражения, фиксированный
// интервал или наблюдение за изменениями исходных путей
type Scheduler struct {
	service *Service
	logger  *logger.StructuredLogger
	cron    *cron.Cron
	gron    *gronx.Gronx
}

// NewScheduler создает планировщик поверх сервиса бэкапов
func NewScheduler(service *Service, log *logger.StructuredLogger) *Scheduler {
	if log == nil {
		log = logger.NewStructuredLogger("scheduler")
	}

	return &Scheduler{
		service: service,
		logger:  log,
		cron:    cron.New(),
		gron:    gronx.New(),
	}
}

// AddCronJob регистрирует бэкап по cron-выражению
func (sc *Scheduler) AddCronJob(expr string, cfg *types.BackupConfig) (cron.EntryID, error) {
	if !sc.gron.IsValid(expr) {
		return 0, fmt.Errorf("некорректное cron-выражение: %s", expr)
	}

	id, err := sc.cron.AddFunc(expr, func() {
		sc.runScheduled(context.Background(), cfg)
	})
	if err != nil {
		return 0, fmt.Errorf("ошибка регистрации задачи: %w", err)
	}

	sc.logger.Info("Задача бэкапа по расписанию добавлена",
		"cron", expr,
		"backup_type", string(cfg.BackupType))

	return id, nil
}

// AddIntervalJob регистрирует бэкап с фиксированным интервалом
func (sc *Scheduler) AddIntervalJob(interval time.Duration, cfg *types.BackupConfig) (cron.EntryID, error) {
	if interval < time.Minute {
		return 0, fmt.Errorf("интервал не может быть меньше минуты, получено %s", interval)
	}

	expr := fmt.Sprintf("@every %s", interval)
	id, err := sc.cron.AddFunc(expr, func() {
		sc.runScheduled(context.Background(), cfg)
	})
	if err != nil {
		return 0, fmt.Errorf("ошибка регистрации задачи: %w", err)
	}

	sc.logger.Info("Задача бэкапа по интервалу добавлена",
		"interval", interval.String(),
		"backup_type", string(cfg.BackupType))

	return id, nil
}

// Start запускает планировщик
func (sc *Scheduler) Start() {
	sc.cron.Start()
	sc.logger.Info("Планировщик запущен", "jobs", len(sc.cron.Entries()))
}

// Stop останавливает планировщик и дожидается завершения текущих задач
func (sc *Scheduler) Stop() {
	ctx := sc.cron.Stop()
	<-ctx.Done()
	sc.logger.Info("Планировщик остановлен")
}

// runScheduled выполняет один запуск бэкапа согласно типу из конфигурации
func (sc *Scheduler) runScheduled(ctx context.Context, cfg *types.BackupConfig) {
	tracker := progress.NewTracker()

	var (
		info *types.BackupInfo
		err  error
	)

	switch cfg.BackupType {
	case types.BackupTypeIncremental:
		info, err = sc.service.CreateIncrementalBackup(ctx, cfg, tracker)
	case types.BackupTypeDifferential:
		info, err = sc.service.CreateDifferentialBackup(ctx, cfg, tracker)
	default:
		info, err = sc.service.CreateBackup(ctx, cfg, tracker)
	}

	switch {
	case errors.Is(err, ErrNothingToBackup):
		sc.logger.Warn("Плановый бэкап пропущен: нет файлов для копирования")
	case err != nil:
		sc.logger.Error("Ошибка планового бэкапа", "error", err)
	case info == nil:
		sc.logger.Info("Плановый бэкап пропущен: нет измененных файлов")
	default:
		sc.logger.Info("Плановый бэкап завершен",
			"backup_id", info.BackupID,
			"files", info.FileCount)
	}
}

// Watch наблюдает за исходными путями и запускает бэкап после затишья
// в изменениях. Блокируется до отмены контекста.
func (sc *Scheduler) Watch(ctx context.Context, cfg *types.BackupConfig, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ошибка создания наблюдателя: %w", err)
	}
	defer watcher.Close()

	for _, sourcePath := range cfg.SourcePaths {
		if err := sc.watchRecursive(watcher, sourcePath); err != nil {
			return err
		}
	}

	sc.logger.InfoContext(ctx, "Наблюдение за изменениями запущено",
		"paths", cfg.SourcePaths,
		"debounce", debounce.String())

	backupRoot := filepath.Clean(cfg.BackupDirectory)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			// Журнал и артефакты бэкапов (сколь угодно глубоко внутри
			// директории бэкапов) изменениями не считаем
			if underDirectory(event.Name, backupRoot) {
				continue
			}

			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}

			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			sc.logger.WarnContext(ctx, "Ошибка наблюдателя файловой системы", "error", err)

		case <-timerC:
			timer = nil
			timerC = nil
			sc.logger.InfoContext(ctx, "Изменения обнаружены, запуск бэкапа")
			sc.runScheduled(ctx, cfg)
		}
	}
}

// underDirectory сообщает, лежит ли путь внутри директории root
// (или совпадает с ней)
func underDirectory(path, root string) bool {
	path = filepath.Clean(path)
	return path == root || strings.HasPrefix(path, root+string(os.PathSeparator))
}

// watchRecursive добавляет путь и все его поддиректории в наблюдатель
func (sc *Scheduler) watchRecursive(watcher *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("путь недоступен для наблюдения: %w", err)
	}

	if !info.IsDir() {
		if err := watcher.Add(filepath.Dir(root)); err != nil {
			return fmt.Errorf("ошибка добавления пути в наблюдатель: %w", err)
		}
		return nil
	}

	return filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if fi.IsDir() {
			if err := watcher.Add(path); err != nil {
				sc.logger.Warn("Не удалось добавить директорию в наблюдатель",
					"path", path,
					"error", err)
			}
		}
		return nil
	})
}
