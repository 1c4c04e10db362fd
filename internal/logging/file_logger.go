package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/pgzip"
)

// fileSink is the open log file shared by a FileLogger and its traced copies
type fileSink struct {
	mu              sync.Mutex
	file            *os.File
	filePath        string
	maxFileSize     int64
	currentSize     int64
	rotateEnabled   bool
	compressRotated bool
}

// FileLogger writes JSON lines to a file, rotating it once it grows past MaxFileSize
type FileLogger struct {
	sink            *fileSink
	level           *LogLevel
	traceID         string
	redactSensitive bool
}

// FileLoggerConfig contains configuration for file logger
type FileLoggerConfig struct {
	FilePath        string
	Level           LogLevel
	MaxFileSize     int64 // in bytes, 0 means no rotation
	RotateEnabled   bool
	CompressRotated bool
	RedactSensitive bool
}

// NewFileLogger opens (or creates) the log file
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	dir := filepath.Dir(config.FilePath)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("log directory %s: %w", dir, err)
	}

	file, err := os.OpenFile(config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		if closeErr := file.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to close log file after stat error: %w", closeErr)
		}
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	level := config.Level
	return &FileLogger{
		sink: &fileSink{
			file:            file,
			filePath:        config.FilePath,
			maxFileSize:     config.MaxFileSize,
			currentSize:     info.Size(),
			rotateEnabled:   config.RotateEnabled && config.MaxFileSize > 0,
			compressRotated: config.CompressRotated,
		},
		level:           &level,
		redactSensitive: config.RedactSensitive,
	}, nil
}

func (l *FileLogger) log(level LogLevel, msg string, fields ...Field) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	if level < *l.level || s.file == nil {
		return
	}

	if s.rotateEnabled && s.currentSize >= s.maxFileSize {
		if err := s.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to rotate log file: %v\n", err)
			if s.file == nil {
				return
			}
		}
	}

	if l.redactSensitive {
		msg = redactSensitiveData(msg)
	}
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level.String(),
		Message:   msg,
		TraceID:   l.traceID,
	}
	if len(fields) > 0 {
		entry.Fields = make(map[string]interface{}, len(fields))
		for _, field := range fields {
			value := field.Value
			if err, ok := value.(error); ok {
				value = err.Error()
			}
			if str, ok := value.(string); ok && l.redactSensitive {
				value = redactSensitiveData(str)
			}
			entry.Fields[field.Key] = value
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal log entry: %v\n", err)
		return
	}

	data = append(data, '\n')
	n, err := s.file.Write(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write log entry: %v\n", err)
		return
	}
	s.currentSize += int64(n)
}

// rotate moves the current file aside and starts a fresh one. Caller holds mu.
func (s *fileSink) rotate() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	s.file = nil

	rotatedPath := fmt.Sprintf("%s.%s", s.filePath, time.Now().UTC().Format("20060102-150405.000000"))
	renameErr := os.Rename(s.filePath, rotatedPath)

	file, err := os.OpenFile(s.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create new log file: %w", err)
	}
	s.file = file
	s.currentSize = 0
	if renameErr != nil {
		return fmt.Errorf("failed to rename log file: %w", renameErr)
	}

	if s.compressRotated {
		if err := compressFile(rotatedPath); err != nil {
			return err
		}
	}
	return nil
}

// compressFile gzips path into path.gz and removes the original
func compressFile(path string) (err error) {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open rotated log: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(path+".gz", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create compressed log: %w", err)
	}
	defer func() {
		if closeErr := dst.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(path + ".gz")
		}
	}()

	zw := pgzip.NewWriter(dst)
	if _, err = io.Copy(zw, src); err != nil {
		_ = zw.Close()
		return fmt.Errorf("failed to compress rotated log: %w", err)
	}
	if err = zw.Close(); err != nil {
		return fmt.Errorf("failed to finish compressed log: %w", err)
	}
	_ = src.Close()
	return os.Remove(path)
}

func (l *FileLogger) Debug(msg string, fields ...Field) { l.log(DEBUG, msg, fields...) }
func (l *FileLogger) Info(msg string, fields ...Field)  { l.log(INFO, msg, fields...) }
func (l *FileLogger) Warn(msg string, fields ...Field)  { l.log(WARN, msg, fields...) }
func (l *FileLogger) Error(msg string, fields ...Field) { l.log(ERROR, msg, fields...) }

// WithTraceID returns a logger writing to the same file with traceID on every entry
func (l *FileLogger) WithTraceID(traceID string) Logger {
	return &FileLogger{
		sink:            l.sink,
		level:           l.level,
		traceID:         traceID,
		redactSensitive: l.redactSensitive,
	}
}

func (l *FileLogger) WithContext(ctx context.Context) Logger {
	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		return l
	}
	return l.WithTraceID(traceID)
}

// SetLevel changes the level for this logger and every traced copy
func (l *FileLogger) SetLevel(level LogLevel) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	*l.level = level
}

// Close closes the underlying file. Further calls are no-ops.
func (l *FileLogger) Close() error {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
