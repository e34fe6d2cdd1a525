package backup

import (
	"archive/tar"
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"archivarius/internal/core/progress"
	"archivarius/internal/logger"
	"archivarius/pkg/types"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// Writer строит контейнер бэкапа из отобранного набора файлов
type Writer struct {
	logger *logger.StructuredLogger
	level  int // уровень сжатия deflate/gzip
}

// NewWriter создает новый писатель архивов
func NewWriter(log *logger.StructuredLogger, level int) *Writer {
	if log == nil {
		log = logger.NewStructuredLogger("archive")
	}
	if level <= 0 || level > 9 {
		level = 6
	}
	return &Writer{logger: log, level: level}
}

// Write записывает файлы в контейнер выбранного формата и возвращает
// итоговый размер контейнера в байтах. Отмена проверяется на границе
// файлов: прерванная запись оставляет частичный артефакт, который
// удаляет оркестратор.
func (w *Writer) Write(ctx context.Context, files, sourcePaths []string, destination string, compression types.CompressionType, pr *progress.Tracker) (int64, error) {
	switch compression {
	case types.CompressionZip:
		return w.writeZip(ctx, files, sourcePaths, destination, pr)
	case types.CompressionTarGz, types.CompressionTarBz2:
		return w.writeTar(ctx, files, sourcePaths, destination, compression, pr)
	case types.CompressionNone:
		return w.writeDirectory(ctx, files, sourcePaths, destination, pr)
	default:
		return 0, fmt.Errorf("неподдерживаемый тип сжатия: %s", compression)
	}
}

// relativePath вычисляет относительный путь файла от первого исходного
// пути, который его содержит. Если ни один путь не является предком,
// используется голое имя файла.
func relativePath(filePath string, sourcePaths []string) string {
	for _, sourcePath := range sourcePaths {
		abs, err := filepath.Abs(sourcePath)
		if err != nil {
			continue
		}

		info, err := os.Stat(abs)
		if err != nil {
			continue
		}

		if !info.IsDir() {
			if abs == filePath {
				return filepath.Base(filePath)
			}
			continue
		}

		rel, err := filepath.Rel(abs, filePath)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		return rel
	}

	return filepath.Base(filePath)
}

// checkCancelled проверяет контекст и флаг отмены перед очередным файлом
func checkCancelled(ctx context.Context, pr *progress.Tracker) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	default:
	}
	return pr.Cancelled(), nil
}

// writeZip создает ZIP-контейнер со сжатием DEFLATE
func (w *Writer) writeZip(ctx context.Context, files, sourcePaths []string, destination string, pr *progress.Tracker) (int64, error) {
	outFile, err := os.Create(destination)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания файла архива: %w", err)
	}
	defer outFile.Close()

	zipWriter := zip.NewWriter(outFile)
	level := w.level
	zipWriter.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	for _, file := range files {
		cancelled, err := checkCancelled(ctx, pr)
		if err != nil {
			zipWriter.Close()
			return 0, err
		}
		if cancelled {
			break
		}

		if err := w.addZipEntry(zipWriter, file, sourcePaths, pr); err != nil {
			zipWriter.Close()
			return 0, err
		}
	}

	if err := zipWriter.Close(); err != nil {
		return 0, fmt.Errorf("ошибка завершения ZIP архива: %w", err)
	}

	return fileSize(destination)
}

// addZipEntry добавляет один файл в ZIP архив
func (w *Writer) addZipEntry(zipWriter *zip.Writer, filePath string, sourcePaths []string, pr *progress.Tracker) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("ошибка получения информации о файле %s: %w", filePath, err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("ошибка создания заголовка zip для %s: %w", filePath, err)
	}
	header.Name = filepath.ToSlash(relativePath(filePath, sourcePaths))
	header.Method = zip.Deflate

	entry, err := zipWriter.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("ошибка записи заголовка zip: %w", err)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("ошибка открытия файла %s: %w", filePath, err)
	}
	defer file.Close()

	if _, err := io.Copy(entry, file); err != nil {
		return fmt.Errorf("ошибка записи файла %s в архив: %w", filePath, err)
	}

	pr.Update(filePath, info.Size())
	return nil
}

// writeTar создает TAR-контейнер, опционально сжатый gzip или bzip2
func (w *Writer) writeTar(ctx context.Context, files, sourcePaths []string, destination string, compression types.CompressionType, pr *progress.Tracker) (int64, error) {
	outFile, err := os.Create(destination)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания файла архива: %w", err)
	}
	defer outFile.Close()

	var compressed io.WriteCloser
	switch compression {
	case types.CompressionTarGz:
		gzWriter, err := gzip.NewWriterLevel(outFile, w.level)
		if err != nil {
			return 0, fmt.Errorf("ошибка создания gzip writer: %w", err)
		}
		compressed = gzWriter
	case types.CompressionTarBz2:
		bz2Writer, err := bzip2.NewWriter(outFile, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
		if err != nil {
			return 0, fmt.Errorf("ошибка создания bzip2 writer: %w", err)
		}
		compressed = bz2Writer
	default:
		compressed = nopWriteCloser{outFile}
	}

	tarWriter := tar.NewWriter(compressed)

	for _, file := range files {
		cancelled, err := checkCancelled(ctx, pr)
		if err != nil {
			tarWriter.Close()
			compressed.Close()
			return 0, err
		}
		if cancelled {
			break
		}

		if err := w.addTarEntry(tarWriter, file, sourcePaths, pr); err != nil {
			tarWriter.Close()
			compressed.Close()
			return 0, err
		}
	}

	if err := tarWriter.Close(); err != nil {
		return 0, fmt.Errorf("ошибка завершения tar архива: %w", err)
	}
	if err := compressed.Close(); err != nil {
		return 0, fmt.Errorf("ошибка завершения сжатия: %w", err)
	}

	return fileSize(destination)
}

// addTarEntry добавляет один файл в TAR архив
func (w *Writer) addTarEntry(tarWriter *tar.Writer, filePath string, sourcePaths []string, pr *progress.Tracker) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("ошибка получения информации о файле %s: %w", filePath, err)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("ошибка создания заголовка tar для %s: %w", filePath, err)
	}
	header.Name = filepath.ToSlash(relativePath(filePath, sourcePaths))

	if err := tarWriter.WriteHeader(header); err != nil {
		return fmt.Errorf("ошибка записи заголовка tar: %w", err)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("ошибка открытия файла %s: %w", filePath, err)
	}
	defer file.Close()

	if _, err := io.Copy(tarWriter, file); err != nil {
		return fmt.Errorf("ошибка записи файла %s в архив: %w", filePath, err)
	}

	pr.Update(filePath, info.Size())
	return nil
}

// writeDirectory создает зеркальную копию файлов без архивирования.
// Используется, когда важна возможность просмотра бэкапа напрямую.
func (w *Writer) writeDirectory(ctx context.Context, files, sourcePaths []string, destination string, pr *progress.Tracker) (int64, error) {
	if err := os.MkdirAll(destination, 0755); err != nil {
		return 0, fmt.Errorf("ошибка создания директории бэкапа: %w", err)
	}

	var totalSize int64
	for _, file := range files {
		cancelled, err := checkCancelled(ctx, pr)
		if err != nil {
			return 0, err
		}
		if cancelled {
			break
		}

		destPath := filepath.Join(destination, relativePath(file, sourcePaths))
		if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			return 0, fmt.Errorf("ошибка создания директории: %w", err)
		}

		size, err := copyFile(file, destPath)
		if err != nil {
			return 0, fmt.Errorf("ошибка копирования файла %s: %w", file, err)
		}

		totalSize += size
		pr.Update(file, size)
	}

	return totalSize, nil
}

// Extract распаковывает контейнер в указанную директорию.
// Существующие файлы перезаписываются.
func (w *Writer) Extract(ctx context.Context, archivePath, destination string, compression types.CompressionType) error {
	if err := os.MkdirAll(destination, 0755); err != nil {
		return fmt.Errorf("ошибка создания директории восстановления: %w", err)
	}

	switch compression {
	case types.CompressionZip:
		return w.extractZip(ctx, archivePath, destination)
	case types.CompressionTarGz, types.CompressionTarBz2:
		return w.extractTar(ctx, archivePath, destination, compression)
	case types.CompressionNone:
		return w.copyDirectory(ctx, archivePath, destination)
	default:
		return fmt.Errorf("неподдерживаемый тип сжатия: %s", compression)
	}
}

// extractZip извлекает ZIP архив
func (w *Writer) extractZip(ctx context.Context, archivePath, destination string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("ошибка открытия архива: %w", err)
	}
	defer reader.Close()

	reader.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})

	for _, entry := range reader.File {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fullPath, err := safeJoin(destination, entry.Name)
		if err != nil {
			return err
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(fullPath, 0755); err != nil {
				return fmt.Errorf("ошибка создания директории %s: %w", fullPath, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			return fmt.Errorf("ошибка создания директории для файла %s: %w", fullPath, err)
		}

		src, err := entry.Open()
		if err != nil {
			return fmt.Errorf("ошибка открытия элемента архива %s: %w", entry.Name, err)
		}

		dst, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, entry.Mode())
		if err != nil {
			src.Close()
			return fmt.Errorf("ошибка создания файла %s: %w", fullPath, err)
		}

		_, err = io.Copy(dst, src)
		src.Close()
		dst.Close()
		if err != nil {
			return fmt.Errorf("ошибка записи файла %s: %w", fullPath, err)
		}
	}

	return nil
}

// extractTar извлекает TAR архив с учетом типа сжатия
func (w *Writer) extractTar(ctx context.Context, archivePath, destination string, compression types.CompressionType) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("ошибка открытия архива: %w", err)
	}
	defer file.Close()

	var reader io.Reader = file
	switch compression {
	case types.CompressionTarGz:
		gzReader, err := gzip.NewReader(file)
		if err != nil {
			return fmt.Errorf("ошибка создания gzip reader: %w", err)
		}
		defer gzReader.Close()
		reader = gzReader
	case types.CompressionTarBz2:
		bz2Reader, err := bzip2.NewReader(file, nil)
		if err != nil {
			return fmt.Errorf("ошибка создания bzip2 reader: %w", err)
		}
		defer bz2Reader.Close()
		reader = bz2Reader
	}

	tarReader := tar.NewReader(reader)

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("ошибка чтения заголовка tar: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fullPath, err := safeJoin(destination, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(fullPath, os.FileMode(header.Mode)); err != nil {
				return fmt.Errorf("ошибка создания директории %s: %w", fullPath, err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
				return fmt.Errorf("ошибка создания директории для файла %s: %w", fullPath, err)
			}

			outFile, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return fmt.Errorf("ошибка создания файла %s: %w", fullPath, err)
			}

			if _, err := io.Copy(outFile, tarReader); err != nil {
				outFile.Close()
				return fmt.Errorf("ошибка записи файла %s: %w", fullPath, err)
			}
			outFile.Close()

		default:
			w.logger.Warn("Неподдерживаемый тип элемента в архиве",
				"type", header.Typeflag,
				"name", header.Name)
		}
	}

	return nil
}

// copyDirectory копирует дерево директорного бэкапа с перезаписью
func (w *Writer) copyDirectory(ctx context.Context, source, destination string) error {
	return filepath.Walk(source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rel, err := filepath.Rel(source, path)
		if err != nil {
			return fmt.Errorf("ошибка вычисления относительного пути: %w", err)
		}
		if rel == "." {
			return nil
		}

		destPath := filepath.Join(destination, rel)
		if info.IsDir() {
			return os.MkdirAll(destPath, info.Mode())
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			return fmt.Errorf("ошибка создания директории: %w", err)
		}

		if _, err := copyFile(path, destPath); err != nil {
			return fmt.Errorf("ошибка копирования файла %s: %w", path, err)
		}
		return nil
	})
}

// Validate проверяет структурную целостность контейнера без извлечения:
// для ZIP читается содержимое каждого элемента (проверка CRC),
// для TAR перечисляются все элементы
func (w *Writer) Validate(ctx context.Context, archivePath string, compression types.CompressionType) error {
	switch compression {
	case types.CompressionZip:
		return w.validateZip(ctx, archivePath)
	case types.CompressionTarGz, types.CompressionTarBz2:
		return w.validateTar(ctx, archivePath, compression)
	case types.CompressionNone:
		info, err := os.Stat(archivePath)
		if err != nil {
			return fmt.Errorf("ошибка доступа к бэкапу: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("бэкап без сжатия должен быть директорией: %s", archivePath)
		}
		return nil
	default:
		return fmt.Errorf("неподдерживаемый тип сжатия: %s", compression)
	}
}

// validateZip читает все элементы ZIP архива; несовпадение CRC
// проявляется как ошибка чтения
func (w *Writer) validateZip(ctx context.Context, archivePath string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("ошибка открытия архива: %w", err)
	}
	defer reader.Close()

	reader.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})

	for _, entry := range reader.File {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("ошибка открытия элемента %s: %w", entry.Name, err)
		}

		_, err = io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("ошибка чтения элемента %s: %w", entry.Name, err)
		}
	}

	return nil
}

// validateTar перечисляет элементы TAR архива
func (w *Writer) validateTar(ctx context.Context, archivePath string, compression types.CompressionType) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("ошибка открытия архива: %w", err)
	}
	defer file.Close()

	var reader io.Reader = file
	switch compression {
	case types.CompressionTarGz:
		gzReader, err := gzip.NewReader(file)
		if err != nil {
			return fmt.Errorf("ошибка чтения gzip заголовка: %w", err)
		}
		defer gzReader.Close()
		reader = gzReader
	case types.CompressionTarBz2:
		bz2Reader, err := bzip2.NewReader(file, nil)
		if err != nil {
			return fmt.Errorf("ошибка чтения bzip2 заголовка: %w", err)
		}
		defer bz2Reader.Close()
		reader = bz2Reader
	}

	tarReader := tar.NewReader(reader)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("ошибка чтения tar заголовка: %w", err)
		}

		if header.Typeflag == tar.TypeReg {
			if _, err := io.Copy(io.Discard, tarReader); err != nil {
				return fmt.Errorf("ошибка чтения содержимого %s: %w", header.Name, err)
			}
		}
	}

	return nil
}

// safeJoin соединяет пути с защитой от выхода за пределы целевой
// директории (zip slip)
func safeJoin(destination, name string) (string, error) {
	fullPath := filepath.Join(destination, name)
	cleanDest := filepath.Clean(destination)
	if fullPath != cleanDest && !strings.HasPrefix(fullPath, cleanDest+string(os.PathSeparator)) {
		return "", fmt.Errorf("небезопасный путь в архиве: %s", name)
	}
	return fullPath, nil
}

// copyFile копирует один файл с сохранением прав доступа
func copyFile(src, dst string) (int64, error) {
	source, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer source.Close()

	info, err := source.Stat()
	if err != nil {
		return 0, err
	}

	destination, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return 0, err
	}
	defer destination.Close()

	return io.Copy(destination, source)
}

// fileSize возвращает размер файла в байтах
func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения информации о файле: %w", err)
	}
	return info.Size(), nil
}

// nopWriteCloser оборачивает writer без собственного Close
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
