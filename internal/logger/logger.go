// Package logger provides the aggregator's own operational logging: leveled
// printf-style output to stdout and a rotated file, a bounded in-memory ring
// buffer of recent entries, and subscriber channels for live streaming.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the severity level of a log message.
type LogLevel string

const (
	Debug LogLevel = "DEBUG"
	Info  LogLevel = "INFO"
	Warn  LogLevel = "WARN"
	Error LogLevel = "ERROR"
)

// levelPriority returns the numeric priority of a log level (higher = more severe)
func levelPriority(level LogLevel) int {
	switch level {
	case Debug:
		return 0
	case Info:
		return 1
	case Warn:
		return 2
	case Error:
		return 3
	default:
		return 1
	}
}

// Entry represents a single log message with metadata, as kept in the ring
// buffer and streamed to clients.
type Entry struct {
	Timestamp string   `json:"timestamp"`
	Level     LogLevel `json:"level"`
	Message   string   `json:"message"`
}

// Options configure a Logger.
type Options struct {
	// Level is the minimum level to emit: "debug", "info", "warn", "error".
	Level string
	// Dir is the directory for rotated log files. Empty disables file output.
	Dir string
	// BufferSize is the ring buffer capacity. Values < 1 default to 500.
	BufferSize int
}

// Logger writes leveled log lines and retains the most recent entries in a
// fixed-capacity ring buffer. The buffer is append-only; once full, the
// oldest entry is overwritten. A single Logger is created in main and
// injected into every component that logs.
type Logger struct {
	mu        sync.Mutex
	minLevel  LogLevel
	out       *log.Logger
	ring      []Entry
	ringNext  int
	ringFull  bool
	listeners []chan Entry
}

// New creates a Logger writing to stdout and, when opts.Dir is set, to a
// size-rotated file in that directory.
func New(opts Options) *Logger {
	size := opts.BufferSize
	if size < 1 {
		size = 500
	}

	w := io.Writer(os.Stdout)
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
			log.Printf("Failed to create log directory: %v", err)
		} else {
			w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
				Filename:   filepath.Join(opts.Dir, "hydrarr.log"),
				MaxSize:    100, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			})
		}
	}

	l := &Logger{
		minLevel: Info,
		out:      log.New(w, "", 0),
		ring:     make([]Entry, size),
	}
	l.SetLevel(opts.Level)
	return l
}

// SetLevel sets the minimum log level. Valid values: "debug", "info", "warn", "error"
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch level {
	case "debug":
		l.minLevel = Debug
	case "info":
		l.minLevel = Info
	case "warn":
		l.minLevel = Warn
	case "error":
		l.minLevel = Error
	default:
		l.minLevel = Info
	}
}

// Subscribe returns a channel that receives all emitted entries for
// real-time streaming.
func (l *Logger) Subscribe() chan Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := make(chan Entry, 100)
	l.listeners = append(l.listeners, ch)
	return ch
}

// Unsubscribe removes a listener channel and closes it.
func (l *Logger) Unsubscribe(ch chan Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, c := range l.listeners {
		if c == ch {
			l.listeners = append(l.listeners[:i], l.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// Recent returns the buffered entries, oldest first. The result is a copy.
func (l *Logger) Recent() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	if l.ringFull {
		out = append(out, l.ring[l.ringNext:]...)
	}
	out = append(out, l.ring[:l.ringNext]...)
	return out
}

// Log writes a formatted message at the specified level.
func (l *Logger) Log(level LogLevel, format string, v ...interface{}) {
	l.mu.Lock()
	if levelPriority(level) < levelPriority(l.minLevel) {
		l.mu.Unlock()
		return
	}

	entry := Entry{
		Timestamp: time.Now().Format(time.RFC3339),
		Level:     level,
		Message:   fmt.Sprintf(format, v...),
	}

	// Format: timestamp [LEVEL] message
	l.out.Printf("%s [%s] %s", entry.Timestamp, entry.Level, entry.Message)

	l.ring[l.ringNext] = entry
	l.ringNext++
	if l.ringNext == len(l.ring) {
		l.ringNext = 0
		l.ringFull = true
	}

	listeners := l.listeners
	l.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- entry:
		default:
			// Drop message if channel is full to prevent blocking
		}
	}
}

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(format string, v ...interface{}) {
	l.Log(Info, format, v...)
}

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.Log(Error, format, v...)
}

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.Log(Debug, format, v...)
}

// Warnf logs a formatted message at WARN level.
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.Log(Warn, format, v...)
}

// Discard returns a logger whose output goes nowhere. Useful in tests.
func Discard() *Logger {
	return &Logger{
		minLevel: Debug,
		out:      log.New(io.Discard, "", 0),
		ring:     make([]Entry, 16),
	}
}
