// Package logging builds the logrus logger used by every boardd component.
package logging

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/config"
)

// New creates a logger from cfg. When cfg.File is set, output goes to a
// size-rotated file instead of stderr. The returned closer releases the
// file and is a no-op otherwise.
func New(cfg config.LogConfig) (*log.Logger, io.Closer, error) {
	logger := log.New()

	if err := SetLevel(logger, cfg.Level); err != nil {
		return nil, nil, err
	}

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	if cfg.File == "" {
		logger.SetOutput(os.Stderr)
		return logger, nopCloser{}, nil
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	logger.SetOutput(rotator)
	return logger, rotator, nil
}

// SetLevel parses level and applies it. An empty level means info.
func SetLevel(logger *log.Logger, level string) error {
	if level == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(lvl)
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
