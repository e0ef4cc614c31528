package common

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	arborcommon "github.com/ternarybob/arbor/common"
	"github.com/ternarybob/arbor/models"
)

var (
	globalLogger arbor.ILogger
	loggerMutex  sync.RWMutex
)

// GetLogger returns the global logger instance
// If InitLogger() hasn't been called yet, returns a fallback console logger
func GetLogger() arbor.ILogger {
	loggerMutex.RLock()
	if globalLogger != nil {
		loggerMutex.RUnlock()
		return globalLogger
	}
	loggerMutex.RUnlock()

	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	if globalLogger == nil {
		globalLogger = arbor.NewLogger().WithConsoleWriter(writerConfig(nil, models.LogWriterTypeConsole, ""))
		globalLogger.Warn().Msg("Using fallback logger - InitLogger() should be called during startup")
	}
	return globalLogger
}

// InitLogger stores the provided logger as the global singleton instance
func InitLogger(logger arbor.ILogger) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	globalLogger = logger
}

// SetupLogger builds the global logger from configuration. Writers follow
// logging.output; when file logging cannot be set up, or no outputs are
// configured, the logger keeps a console writer so startup is never silent.
func SetupLogger(config *Config) arbor.ILogger {
	logger := arbor.NewLogger()

	console, file := false, false
	for _, output := range config.Logging.Output {
		switch output {
		case "file":
			file = true
		case "stdout", "console":
			console = true
		}
	}

	var fileErr error
	if file {
		var logFile string
		logFile, fileErr = resolveLogFile()
		if fileErr != nil {
			file = false
		} else {
			logger = logger.WithFileWriter(writerConfig(config, models.LogWriterTypeFile, logFile))
		}
	}
	if console || !file {
		logger = logger.WithConsoleWriter(writerConfig(config, models.LogWriterTypeConsole, ""))
	}

	logger = logger.WithLevelFromString(config.Logging.Level)

	InitLogger(logger)

	if fileErr != nil {
		logger.Warn().Err(fileErr).Msg("File logging unavailable, using console")
	}
	return logger
}

// resolveLogFile places conductor.log in a logs directory beside the binary
func resolveLogFile() (string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return "", err
	}
	logsDir := filepath.Join(filepath.Dir(execPath), "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(logsDir, "conductor.log"), nil
}

// writerConfig creates a standard writer configuration with user preferences
func writerConfig(config *Config, writerType models.LogWriterType, filename string) models.WriterConfiguration {
	timeFormat := "15:04:05.000"
	if config != nil && config.Logging.TimeFormat != "" {
		timeFormat = config.Logging.TimeFormat
	}

	return models.WriterConfiguration{
		Type:             writerType,
		FileName:         filename,
		TimeFormat:       timeFormat,
		DisableTimestamp: false,
		MaxSize:          100 * 1024 * 1024, // 100 MB (only used for file writer)
		MaxBackups:       3,                 // (only used for file writer)
	}
}

// Stop flushes any remaining context logs before application shutdown
// Safe to call multiple times (Arbor's Stop is idempotent)
func Stop() {
	arborcommon.Stop()
}
