// Package logger provides structured logging with file rotation support.
// It uses a simple custom logger implementation to avoid external dependencies.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/warden-project/warden/internal/config"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	CRITICAL
	FATAL
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value interface{}
}

// Logger is the main logger structure
type Logger struct {
	mu          sync.Mutex
	level       LogLevel
	formatJSON  bool
	outputs     []io.Writer
	fileWriter  io.WriteCloser
	logDir      string
	maxSize     int64 // MB
	maxAge      int   // days
	currentSize int64
	currentDate string
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// InitLogger initializes the global logger with the given configuration
func InitLogger(cfg *config.LogConfig) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	defaultLogger = logger
	return nil
}

// NewLogger creates a new logger instance
func NewLogger(cfg *config.LogConfig) (*Logger, error) {
	l := &Logger{
		level:       parseLevel(cfg.Level),
		formatJSON:  cfg.Format == "json",
		outputs:     []io.Writer{},
		logDir:      cfg.Directory,
		maxSize:     int64(cfg.MaxSize),
		maxAge:      cfg.MaxAge,
		currentDate: time.Now().Format("2006-01-02"),
	}

	switch strings.ToLower(cfg.Output) {
	case "stdout":
		l.outputs = append(l.outputs, os.Stdout)
	case "file":
		if err := l.setupFileWriter(); err != nil {
			return nil, err
		}
	case "both":
		l.outputs = append(l.outputs, os.Stdout)
		if err := l.setupFileWriter(); err != nil {
			return nil, err
		}
	default:
		l.outputs = append(l.outputs, os.Stdout)
	}

	return l, nil
}

func (l *Logger) setupFileWriter() error {
	if err := os.MkdirAll(l.logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile := filepath.Join(l.logDir, fmt.Sprintf("warden-%s.log", l.currentDate))
	if info, err := os.Stat(logFile); err == nil {
		l.currentSize = info.Size()
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.fileWriter = f
	l.outputs = append(l.outputs, f)

	go l.rotationChecker()

	return nil
}

// rotationChecker periodically checks if log rotation is needed
func (l *Logger) rotationChecker() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		l.checkRotation()
	}
}

func (l *Logger) checkRotation() {
	l.mu.Lock()
	defer l.mu.Unlock()

	currentDate := time.Now().Format("2006-01-02")
	if currentDate != l.currentDate {
		l.rotateLog("date")
		l.currentDate = currentDate
		return
	}

	if l.currentSize >= l.maxSize*1024*1024 {
		l.rotateLog("size")
	}
}

func (l *Logger) rotateLog(reason string) {
	if l.fileWriter == nil {
		return
	}

	l.fileWriter.Close()

	logFile := filepath.Join(l.logDir, fmt.Sprintf("warden-%s.log", l.currentDate))
	timestamp := time.Now().Format("20060102-150405")
	backupFile := filepath.Join(l.logDir, fmt.Sprintf("warden-%s-%s-%s.log", l.currentDate, timestamp, reason))
	os.Rename(logFile, backupFile)

	l.cleanOldBackups()

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}

	newOutputs := []io.Writer{}
	for _, w := range l.outputs {
		if wc, ok := w.(io.WriteCloser); ok && wc == l.fileWriter {
			continue
		}
		newOutputs = append(newOutputs, w)
	}
	l.fileWriter = f
	l.currentSize = 0
	l.outputs = append(newOutputs, f)
}

func (l *Logger) cleanOldBackups() {
	files, err := os.ReadDir(l.logDir)
	if err != nil {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -l.maxAge)
	for _, file := range files {
		name := file.Name()
		if !strings.HasPrefix(name, "warden-") || !strings.HasSuffix(name, ".log") {
			continue
		}
		// warden-{date}-{timestamp}-{reason}.log
		parts := strings.SplitN(strings.TrimSuffix(strings.TrimPrefix(name, "warden-"), ".log"), "-", 4)
		if len(parts) < 4 {
			continue
		}
		fileDate, err := time.Parse("2006-01-02", strings.Join(parts[0:3], "-"))
		if err != nil {
			continue
		}
		if fileDate.Before(cutoff) {
			os.Remove(filepath.Join(l.logDir, name))
		}
	}
}

// parseLevel converts string level to LogLevel
func parseLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "CRITICAL":
		return CRITICAL
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	if defaultLogger == nil {
		once.Do(func() {
			defaultLogger, _ = NewLogger(&config.LogConfig{
				Level:  "info",
				Format: "text",
				Output: "stdout",
			})
		})
	}
	return defaultLogger
}

// log is the internal logging method
func (l *Logger) log(level LogLevel, msg string, fields []Field) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	var logLine string

	if l.formatJSON {
		fieldStr := ""
		if len(fields) > 0 {
			pairs := make([]string, 0, len(fields))
			for _, f := range fields {
				pairs = append(pairs, fmt.Sprintf(`"%s":"%v"`, f.Key, f.Value))
			}
			fieldStr = "," + strings.Join(pairs, ",")
		}
		logLine = fmt.Sprintf(`{"time":"%s","level":"%s","msg":"%s"%s}`+"\n", timestamp, level, msg, fieldStr)
	} else {
		fieldStr := ""
		if len(fields) > 0 {
			pairs := make([]string, 0, len(fields))
			for _, f := range fields {
				pairs = append(pairs, fmt.Sprintf("%s=%v", f.Key, f.Value))
			}
			fieldStr = " " + strings.Join(pairs, " ")
		}
		logLine = fmt.Sprintf("[%s] %s %s%s\n", timestamp, level, msg, fieldStr)
	}

	for _, w := range l.outputs {
		n, err := w.Write([]byte(logLine))
		if err != nil {
			fmt.Fprintf(os.Stderr, "[ERROR] log write failed: %v\n", err)
			continue
		}
		if w == l.fileWriter {
			l.currentSize += int64(n)
		}
	}
}

// WithField creates a log entry with a single field
func (l *Logger) WithField(key string, value interface{}) *LogEntry {
	return &LogEntry{logger: l, fields: []Field{{Key: key, Value: value}}}
}

// WithFields creates a log entry with multiple fields
func (l *Logger) WithFields(fields map[string]interface{}) *LogEntry {
	fieldList := make([]Field, 0, len(fields))
	for k, v := range fields {
		fieldList = append(fieldList, Field{Key: k, Value: v})
	}
	return &LogEntry{logger: l, fields: fieldList}
}

// WithError creates a log entry with an error field
func (l *Logger) WithError(err error) *LogEntry {
	return &LogEntry{logger: l, fields: []Field{{Key: "error", Value: err.Error()}}}
}

// LogEntry represents a log entry with fields
type LogEntry struct {
	logger *Logger
	fields []Field
}

// WithField adds a field to the log entry
func (e *LogEntry) WithField(key string, value interface{}) *LogEntry {
	e.fields = append(e.fields, Field{Key: key, Value: value})
	return e
}

// Debugf logs a formatted message at debug level
func (e *LogEntry) Debugf(format string, args ...interface{}) {
	e.logger.log(DEBUG, fmt.Sprintf(format, args...), e.fields)
}

// Infof logs a formatted message at info level
func (e *LogEntry) Infof(format string, args ...interface{}) {
	e.logger.log(INFO, fmt.Sprintf(format, args...), e.fields)
}

// Warnf logs a formatted message at warning level
func (e *LogEntry) Warnf(format string, args ...interface{}) {
	e.logger.log(WARN, fmt.Sprintf(format, args...), e.fields)
}

// Errorf logs a formatted message at error level
func (e *LogEntry) Errorf(format string, args ...interface{}) {
	e.logger.log(ERROR, fmt.Sprintf(format, args...), e.fields)
}

// Criticalf logs a formatted message at critical level
func (e *LogEntry) Criticalf(format string, args ...interface{}) {
	e.logger.log(CRITICAL, fmt.Sprintf(format, args...), e.fields)
}

// Close closes the logger and releases resources
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileWriter != nil {
		return l.fileWriter.Close()
	}
	return nil
}

// Logger instance methods

// Debug logs a message at debug level
func (l *Logger) Debug(args ...interface{}) {
	l.log(DEBUG, fmt.Sprint(args...), nil)
}

// Debugf logs a formatted message at debug level
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DEBUG, fmt.Sprintf(format, args...), nil)
}

// Info logs a message at info level
func (l *Logger) Info(args ...interface{}) {
	l.log(INFO, fmt.Sprint(args...), nil)
}

// Infof logs a formatted message at info level
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(INFO, fmt.Sprintf(format, args...), nil)
}

// Warn logs a message at warning level
func (l *Logger) Warn(args ...interface{}) {
	l.log(WARN, fmt.Sprint(args...), nil)
}

// Warnf logs a formatted message at warning level
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WARN, fmt.Sprintf(format, args...), nil)
}

// Error logs a message at error level
func (l *Logger) Error(args ...interface{}) {
	l.log(ERROR, fmt.Sprint(args...), nil)
}

// Errorf logs a formatted message at error level
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ERROR, fmt.Sprintf(format, args...), nil)
}

// Critical logs a message at critical level
func (l *Logger) Critical(args ...interface{}) {
	l.log(CRITICAL, fmt.Sprint(args...), nil)
}

// Criticalf logs a formatted message at critical level
func (l *Logger) Criticalf(format string, args ...interface{}) {
	l.log(CRITICAL, fmt.Sprintf(format, args...), nil)
}

// Global convenience functions

// Debug logs a message at debug level
func Debug(args ...interface{}) {
	GetLogger().log(DEBUG, fmt.Sprint(args...), nil)
}

// Debugf logs a formatted message at debug level
func Debugf(format string, args ...interface{}) {
	GetLogger().log(DEBUG, fmt.Sprintf(format, args...), nil)
}

// Info logs a message at info level
func Info(args ...interface{}) {
	GetLogger().log(INFO, fmt.Sprint(args...), nil)
}

// Infof logs a formatted message at info level
func Infof(format string, args ...interface{}) {
	GetLogger().log(INFO, fmt.Sprintf(format, args...), nil)
}

// Warn logs a message at warning level
func Warn(args ...interface{}) {
	GetLogger().log(WARN, fmt.Sprint(args...), nil)
}

// Warnf logs a formatted message at warning level
func Warnf(format string, args ...interface{}) {
	GetLogger().log(WARN, fmt.Sprintf(format, args...), nil)
}

// Error logs a message at error level
func Error(args ...interface{}) {
	GetLogger().log(ERROR, fmt.Sprint(args...), nil)
}

// Errorf logs a formatted message at error level
func Errorf(format string, args ...interface{}) {
	GetLogger().log(ERROR, fmt.Sprintf(format, args...), nil)
}

// Critical logs a message at critical level
func Critical(args ...interface{}) {
	GetLogger().log(CRITICAL, fmt.Sprint(args...), nil)
}

// Criticalf logs a formatted message at critical level
func Criticalf(format string, args ...interface{}) {
	GetLogger().log(CRITICAL, fmt.Sprintf(format, args...), nil)
}

// Fatalf logs a formatted message at fatal level and exits
func Fatalf(format string, args ...interface{}) {
	GetLogger().log(FATAL, fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}

// Fatal logs a message at fatal level and exits
func Fatal(args ...interface{}) {
	GetLogger().log(FATAL, fmt.Sprint(args...), nil)
	os.Exit(1)
}
