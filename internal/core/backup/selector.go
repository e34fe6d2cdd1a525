package backup

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"archivarius/internal/logger"
	"archivarius/pkg/types"
)

// Selector отбирает файлы для бэкапа по include/exclude паттернам
type Selector struct {
	logger *logger.StructuredLogger
}

// NewSelector создает новый селектор файлов
func NewSelector(log *logger.StructuredLogger) *Selector {
	if log == nil {
		log = logger.NewStructuredLogger("selector")
	}
	return &Selector{logger: log}
}

// Select рекурсивно обходит исходные пути и возвращает упорядоченный
// список абсолютных путей без дубликатов. Нечитаемые директории
// логируются и пропускаются, операция из-за них не прерывается.
func (s *Selector) Select(sourcePaths []string, cfg *types.BackupConfig) []string {
	var files []string
	seen := make(map[string]struct{})

	add := func(path string) {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		files = append(files, abs)
	}

	for _, sourcePath := range sourcePaths {
		info, err := os.Stat(sourcePath)
		if err != nil {
			s.logger.Warn("Исходный путь недоступен",
				"path", sourcePath,
				"error", err.Error())
			continue
		}

		// Одиночный файл включается напрямую
		if !info.IsDir() {
			if s.shouldInclude(sourcePath, cfg) {
				add(sourcePath)
			}
			continue
		}

		err = filepath.WalkDir(sourcePath, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				s.logger.Warn("Ошибка при обходе пути",
					"path", path,
					"error", err.Error())
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if d.IsDir() {
				return nil
			}

			if s.shouldInclude(path, cfg) {
				add(path)
			}
			return nil
		})
		if err != nil {
			s.logger.Warn("Обход директории прерван",
				"path", sourcePath,
				"error", err.Error())
		}
	}

	return files
}

// shouldInclude проверяет файл по паттернам конфигурации.
// Паттерн сопоставляется и с полным путем, и с именем файла.
func (s *Selector) shouldInclude(filePath string, cfg *types.BackupConfig) bool {
	name := filepath.Base(filePath)

	for _, pattern := range cfg.ExcludePatterns {
		if matchPathPattern(pattern, filePath) || matchPattern(pattern, name) {
			return false
		}
	}

	for _, pattern := range cfg.IncludePatterns {
		if matchPathPattern(pattern, filePath) || matchPattern(pattern, name) {
			return true
		}
	}

	return false
}

// FilterModifiedSince оставляет файлы, измененные строго позже
// опорного времени. Используется для инкрементальных и
// дифференциальных бэкапов.
func (s *Selector) FilterModifiedSince(files []string, since time.Time) []string {
	var modified []string
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if info.ModTime().After(since) {
			modified = append(modified, file)
		}
	}
	return modified
}

// matchPattern сопоставляет строку с glob-паттерном.
// Некорректный паттерн трактуется как несовпадение.
func matchPattern(pattern, value string) bool {
	matched, err := filepath.Match(pattern, value)
	if err != nil {
		return false
	}
	return matched
}

var pathPatternCache sync.Map // pattern -> *regexp.Regexp

// matchPathPattern сопоставляет полный путь с glob-паттерном, в котором
// * и ? не останавливаются на разделителе пути: `*cache*` исключает и
// dir/mycache/file.txt. Именно так паттерны применяются к путям в целом,
// в отличие от сопоставления с именем файла.
func matchPathPattern(pattern, value string) bool {
	if cached, ok := pathPatternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp).MatchString(value)
	}

	re, err := regexp.Compile(globToRegexp(pattern))
	if err != nil {
		return false
	}
	pathPatternCache.Store(pattern, re)

	return re.MatchString(value)
}

// globToRegexp переводит glob-паттерн в регулярное выражение:
// * -> .*, ? -> ., [seq] и [!seq] сохраняются как класс символов
func globToRegexp(pattern string) string {
	var b strings.Builder
	b.WriteString(`(?s)^`)

	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		case '[':
			j := i + 1
			if j < len(pattern) && (pattern[j] == '!' || pattern[j] == '^') {
				j++
			}
			if j < len(pattern) && pattern[j] == ']' {
				j++
			}
			for j < len(pattern) && pattern[j] != ']' {
				j++
			}
			if j >= len(pattern) {
				// Незакрытая скобка трактуется буквально
				b.WriteString(regexp.QuoteMeta("["))
				continue
			}
			class := pattern[i+1 : j]
			class = strings.ReplaceAll(class, `\`, `\\`)
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i = j
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	b.WriteString(`$`)
	return b.String()
}
