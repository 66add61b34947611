package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
)

// LoggerInterface defines the logging methods components depend on
type LoggerInterface interface {
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warning(format string, v ...interface{})
	Error(format string, v ...interface{})
	Fatal(format string, v ...interface{})
	SetLevel(level LogLevel)
}

// Logger writes leveled lines to stdout and a size-rotated file
type Logger struct {
	logger *log.Logger
	file   *lumberjack.Logger
	level  LogLevel
}

// NewLogger creates a logger writing to logFile (rotated by lumberjack) and stdout.
func NewLogger(logFile string, maxSize, maxBackups, maxAge int, compress bool, level LogLevel) (*Logger, error) {
	if logFile == "" {
		return nil, fmt.Errorf("empty log file path")
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   compress,
	}

	w := io.MultiWriter(file, os.Stdout)
	return &Logger{
		logger: log.New(w, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile),
		file:   file,
		level:  level,
	}, nil
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	if l.level <= DEBUG {
		l.logger.Output(2, fmt.Sprintf("[DEBUG] "+format, v...))
	}
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	if l.level <= INFO {
		l.logger.Output(2, fmt.Sprintf("[INFO]  "+format, v...))
	}
}

// Warning logs a warning message
func (l *Logger) Warning(format string, v ...interface{}) {
	if l.level <= WARNING {
		l.logger.Output(2, fmt.Sprintf("[WARN]  "+format, v...))
	}
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	if l.level <= ERROR {
		l.logger.Output(2, fmt.Sprintf("[ERROR] "+format, v...))
	}
}

// Fatal logs an error message and exits
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.logger.Output(2, fmt.Sprintf("[FATAL] "+format, v...))
	os.Exit(1)
}

// SetLevel changes the logging level at runtime
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
}

// Close flushes and closes the rotated file
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Nop is a no-op logger for tests
type Nop struct{}

func (Nop) Debug(string, ...interface{})   {}
func (Nop) Info(string, ...interface{})    {}
func (Nop) Warning(string, ...interface{}) {}
func (Nop) Error(string, ...interface{})   {}
func (Nop) Fatal(string, ...interface{})   {}
func (Nop) SetLevel(LogLevel)              {}
