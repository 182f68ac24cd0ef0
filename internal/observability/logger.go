package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"

	"github.com/jonathan/fewknow/internal/config"
)

const logTimeFormat = "15:04:05"

func consoleWriter() models.WriterConfiguration {
	return models.WriterConfiguration{
		Type:             models.LogWriterTypeConsole,
		TimeFormat:       logTimeFormat,
		TextOutput:       true,
		DisableTimestamp: false,
	}
}

// NewLogger builds the arbor logger described by cfg.
// Console output is used when no writer is enabled so that errors are never silently dropped.
func NewLogger(cfg config.LogConfig) arbor.ILogger {
	logger := arbor.NewLogger()

	hasFile := slices.Contains(cfg.Output, "file")
	hasConsole := slices.Contains(cfg.Output, "console") || slices.Contains(cfg.Output, "stdout")

	if hasFile {
		path := cfg.File
		if path == "" {
			path = filepath.Join("logs", "fewknow.log")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to create log directory: %v\n", err)
			hasFile = false
		} else {
			logger = logger.WithFileWriter(models.WriterConfiguration{
				Type:             models.LogWriterTypeFile,
				FileName:         path,
				TimeFormat:       logTimeFormat,
				MaxSize:          100 * 1024 * 1024,
				MaxBackups:       3,
				TextOutput:       true,
				DisableTimestamp: false,
			})
		}
	}

	if hasConsole || !hasFile {
		logger = logger.WithConsoleWriter(consoleWriter())
	}

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	return logger.WithLevelFromString(level)
}

// NewConsoleLogger returns an info-level console logger for CLI commands run without a config file
func NewConsoleLogger() arbor.ILogger {
	return arbor.NewLogger().WithConsoleWriter(consoleWriter()).WithLevelFromString("info")
}
