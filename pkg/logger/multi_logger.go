package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogCategory represents different log categories
type LogCategory string

const (
	CategoryQueue    LogCategory = "queue"    // Queue lifecycle events (JSON)
	CategoryDownload LogCategory = "download" // Strategy, fallback and outcome events (JSON)
	CategoryError    LogCategory = "error"    // Application errors (JSON)
)

// Categories lists every category with its own file
var Categories = []LogCategory{CategoryQueue, CategoryDownload, CategoryError}

// ParseCategory validates a category name
func ParseCategory(s string) (LogCategory, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown log category: %s", s)
}

// LogFileName is the daily file name of a category
func LogFileName(category LogCategory, date time.Time) string {
	return fmt.Sprintf("%s-%s.log", category, date.Format("20060102"))
}

// MultiLogger writes each category to its own daily JSON file.
// Raw yt-dlp output goes to the extractor's own log, not through here.
type MultiLogger struct {
	config MultiLoggerConfig
	level  zapcore.Level

	mu          sync.RWMutex
	loggers     map[LogCategory]*zap.Logger
	files       map[LogCategory]*os.File
	currentDate string
	now         func() time.Time
}

// MultiLoggerConfig contains configuration for multi-output logging
type MultiLoggerConfig struct {
	Level   string // debug, info, warn, error
	LogsDir string // Directory for log files
}

// NewMultiLogger creates a new multi-output logger
func NewMultiLogger(config MultiLoggerConfig) (*MultiLogger, error) {
	if config.LogsDir == "" {
		return nil, fmt.Errorf("logs_dir must be specified")
	}
	if err := os.MkdirAll(config.LogsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	ml := &MultiLogger{
		config: config,
		level:  level,
		now:    time.Now,
	}
	if err := ml.open(ml.now()); err != nil {
		return nil, err
	}
	return ml, nil
}

// open creates the loggers for the given day. Callers hold mu or own ml exclusively.
func (ml *MultiLogger) open(day time.Time) error {
	loggers := make(map[LogCategory]*zap.Logger, len(Categories))
	files := make(map[LogCategory]*os.File, len(Categories))

	for _, category := range Categories {
		level := ml.level
		if category == CategoryError {
			level = zapcore.ErrorLevel
		}
		file, err := os.OpenFile(filepath.Join(ml.config.LogsDir, LogFileName(category, day)),
			os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			for _, f := range files {
				f.Close()
			}
			return fmt.Errorf("failed to open %s log: %w", category, err)
		}
		files[category] = file
		loggers[category] = zap.New(zapcore.NewCore(jsonEncoder(), zapcore.AddSync(file), level))
	}

	ml.loggers = loggers
	ml.files = files
	ml.currentDate = day.Format("20060102")
	return nil
}

func jsonEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "msg"
	encoderConfig.LevelKey = "level"
	encoderConfig.CallerKey = ""
	return zapcore.NewJSONEncoder(encoderConfig)
}

// rotate reopens the files when the date has changed
func (ml *MultiLogger) rotate() {
	today := ml.now()
	ml.mu.RLock()
	same := ml.currentDate == today.Format("20060102")
	ml.mu.RUnlock()
	if same {
		return
	}

	ml.mu.Lock()
	defer ml.mu.Unlock()
	if ml.currentDate == today.Format("20060102") {
		return
	}
	old := ml.files
	if err := ml.open(today); err != nil {
		return
	}
	for _, f := range old {
		f.Close()
	}
}

// GetLogsDir returns the logs directory path
func (ml *MultiLogger) GetLogsDir() string {
	return ml.config.LogsDir
}

// GetLogger returns the structured logger for a specific category
func (ml *MultiLogger) GetLogger(category LogCategory) *zap.Logger {
	ml.rotate()

	ml.mu.RLock()
	defer ml.mu.RUnlock()
	if logger, ok := ml.loggers[category]; ok {
		return logger
	}
	if logger, ok := ml.loggers[CategoryError]; ok {
		return logger
	}
	return zap.NewNop()
}

// Queue returns the queue logger
func (ml *MultiLogger) Queue() *zap.Logger {
	return ml.GetLogger(CategoryQueue)
}

// Download returns the download logger
func (ml *MultiLogger) Download() *zap.Logger {
	return ml.GetLogger(CategoryDownload)
}

// Error returns the error logger
func (ml *MultiLogger) Error() *zap.Logger {
	return ml.GetLogger(CategoryError)
}

// LogAppError logs an application-level error
func (ml *MultiLogger) LogAppError(msg string, fields ...zap.Field) {
	ml.Error().Error(msg, fields...)
}

// LogQueueEvent logs a queue lifecycle event
func (ml *MultiLogger) LogQueueEvent(event string, fields ...zap.Field) {
	ml.Queue().Info(event, fields...)
}

// LogDownloadEvent logs a per-download event such as a strategy choice or fallback
func (ml *MultiLogger) LogDownloadEvent(event string, fields ...zap.Field) {
	ml.Download().Info(event, fields...)
}

// Sync flushes all loggers
func (ml *MultiLogger) Sync() error {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	var err error
	for _, logger := range ml.loggers {
		err = multierr.Append(err, logger.Sync())
	}
	return err
}

// Close flushes and closes all log files
func (ml *MultiLogger) Close() error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	var err error
	for category, logger := range ml.loggers {
		err = multierr.Append(err, logger.Sync())
		err = multierr.Append(err, ml.files[category].Close())
	}
	ml.loggers = map[LogCategory]*zap.Logger{}
	ml.files = map[LogCategory]*os.File{}
	return err
}
