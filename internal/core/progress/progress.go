package progress

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot неизменяемый срез состояния прогресса, передаваемый наблюдателям
type Snapshot struct {
	TotalFiles     int
	ProcessedFiles int
	TotalSize      int64
	ProcessedSize  int64
	CurrentFile    string
	StartTime      time.Time
	Cancelled      bool
}

// Callback наблюдатель прогресса
type Callback func(Snapshot)

// Tracker отслеживает ход операции бэкапа или восстановления.
// Создается на одну операцию; запись ведет Archive Writer,
// чтение — вызывающая сторона (UI или CLI).
type Tracker struct {
	mu             sync.Mutex
	totalFiles     int
	processedFiles int
	totalSize      int64
	processedSize  int64
	currentFile    string
	startTime      time.Time
	callbacks      []Callback

	cancelled atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewTracker создает новый трекер прогресса
func NewTracker() *Tracker {
	return &Tracker{
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
}

// AddCallback добавляет наблюдателя прогресса
func (t *Tracker) AddCallback(cb Callback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// SetTotals задает общий объем работы перед началом записи
func (t *Tracker) SetTotals(totalFiles int, totalSize int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalFiles = totalFiles
	t.totalSize = totalSize
}

// Update фиксирует обработанный файл и оповещает наблюдателей
func (t *Tracker) Update(filePath string, fileSize int64) {
	t.mu.Lock()
	if filePath != "" {
		t.currentFile = filePath
		t.processedFiles++
	}
	t.processedSize += fileSize
	snapshot := t.snapshotLocked()
	callbacks := append([]Callback(nil), t.callbacks...)
	t.mu.Unlock()

	for _, cb := range callbacks {
		func() {
			// Ошибки наблюдателей не прерывают операцию
			defer func() { recover() }()
			cb(snapshot)
		}()
	}
}

// Snapshot возвращает текущий срез состояния
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{
		TotalFiles:     t.totalFiles,
		ProcessedFiles: t.processedFiles,
		TotalSize:      t.totalSize,
		ProcessedSize:  t.processedSize,
		CurrentFile:    t.currentFile,
		StartTime:      t.startTime,
		Cancelled:      t.cancelled.Load(),
	}
}

// Cancel запрашивает кооперативную отмену операции.
// Writer проверяет флаг на границе файлов, не посреди записи файла.
func (t *Tracker) Cancel() {
	t.cancelled.Store(true)
	t.closeOnce.Do(func() { close(t.done) })
}

// Cancelled сообщает, была ли запрошена отмена
func (t *Tracker) Cancelled() bool {
	return t.cancelled.Load()
}

// Done возвращает канал, закрываемый при отмене
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// Percent возвращает процент обработанных файлов
func (t *Tracker) Percent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.totalFiles == 0 {
		return 0
	}
	return float64(t.processedFiles) / float64(t.totalFiles) * 100
}

// Speed возвращает скорость обработки в МБ/с
func (t *Tracker) Speed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	elapsed := time.Since(t.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(t.processedSize) / (1024 * 1024) / elapsed
}

// ETA возвращает оценку оставшегося времени
func (t *Tracker) ETA() time.Duration {
	speed := t.Speed()
	if speed == 0 {
		return 0
	}

	t.mu.Lock()
	remaining := t.totalSize - t.processedSize
	t.mu.Unlock()
	if remaining <= 0 {
		return 0
	}

	seconds := float64(remaining) / (1024 * 1024) / speed
	return time.Duration(seconds * float64(time.Second))
}
