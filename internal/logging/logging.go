// Package logging builds the process logger: a standard *log.Logger writing
// to a size rotated file.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/config"
)

const flags = log.LstdFlags | log.Lmicroseconds

// Logger owns the rotating file behind a *log.Logger.
type Logger struct {
	*log.Logger
	file *lumberjack.Logger
}

// New opens the log file named in cfg, creating its directory. Every line is
// also written to extra, and to stderr when cfg.Stderr is set.
func New(cfg config.LogConfig, extra ...io.Writer) (*Logger, error) {
	if cfg.File == "" {
		return nil, errors.New("logging: no log file configured")
	}
	if dir := filepath.Dir(cfg.File); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	writers := append([]io.Writer{file}, extra...)
	if cfg.Stderr {
		writers = append(writers, os.Stderr)
	}
	return &Logger{Logger: log.New(io.MultiWriter(writers...), "", flags), file: file}, nil
}

// Rotate starts a new log file, keeping the current one as a backup.
func (l *Logger) Rotate() error {
	return l.file.Rotate()
}

func (l *Logger) Close() error {
	return l.file.Close()
}
