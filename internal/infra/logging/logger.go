// Package logging is a small key/value facade over a package-level zerolog logger.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// InitLogger writes JSON logs to stdout and, when file is set, to a rotated log file.
func InitLogger(file string, maxSizeMB, maxBackups, maxAgeDays int, compress bool, level string) {
	var w io.Writer = os.Stdout
	if file != "" {
		if dir := filepath.Dir(file); dir != "." && dir != "" {
			_ = os.MkdirAll(dir, 0o755)
		}
		w = zerolog.MultiLevelWriter(os.Stdout, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   compress,
		})
	}
	l := zerolog.New(w).With().Timestamp().Str("service", "html2image").Logger()

	mu.Lock()
	logger = l.Level(parseLevel(level))
	mu.Unlock()
}

// SetLogLevel changes the level of the current logger. Unknown levels fall back to info.
func SetLogLevel(level string) {
	mu.Lock()
	logger = logger.Level(parseLevel(level))
	mu.Unlock()
}

// SetLoggerForTest replaces the package logger.
func SetLoggerForTest(l zerolog.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func Debug(msg string, kv ...any) { emit(zerolog.DebugLevel, msg, kv) }
func Info(msg string, kv ...any)  { emit(zerolog.InfoLevel, msg, kv) }
func Warn(msg string, kv ...any)  { emit(zerolog.WarnLevel, msg, kv) }
func Error(msg string, kv ...any) { emit(zerolog.ErrorLevel, msg, kv) }

func emit(level zerolog.Level, msg string, kv []any) {
	mu.RLock()
	l := logger
	mu.RUnlock()

	ev := l.WithLevel(level)
	if ev == nil {
		return
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if err, isErr := kv[i+1].(error); isErr {
			ev = ev.AnErr(key, err)
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}
