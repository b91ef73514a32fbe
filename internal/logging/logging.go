// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	// Level overrides Verbosity when set (debug, info, warn, ...).
	Level string
	// Verbosity 0 logs warnings only, 1 adds progress, 2 and up adds debug detail.
	Verbosity int
	// File additionally writes to a rotating log file.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func LevelFor(level string, verbosity int) (logrus.Level, error) {
	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return logrus.InfoLevel, fmt.Errorf("log level: %w", err)
		}
		return lvl, nil
	}
	switch {
	case verbosity <= 0:
		return logrus.WarnLevel, nil
	case verbosity == 1:
		return logrus.InfoLevel, nil
	default:
		return logrus.DebugLevel, nil
	}
}

// New returns a logger writing to out and, if configured, to a log file.
// The returned closer releases the file.
func New(cfg Config, out io.Writer) (*logrus.Logger, io.Closer, error) {
	level, err := LevelFor(cfg.Level, cfg.Verbosity)
	if err != nil {
		return nil, nil, err
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(level)
	if out == nil {
		out = os.Stderr
	}
	logger.SetOutput(out)

	if cfg.File == "" {
		return logger, nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    orDefault(cfg.MaxSizeMB, 50),
		MaxBackups: orDefault(cfg.MaxBackups, 5),
		MaxAge:     orDefault(cfg.MaxAgeDays, 30),
		Compress:   true,
	}
	logger.SetOutput(io.MultiWriter(out, file))
	return logger, file, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
