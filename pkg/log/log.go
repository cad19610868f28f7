// Package log provides leveled logging for Muninn.
//
// The knowledge store and rule engine treat logging as a best-effort side
// channel: persistence failures and corrupt snapshots are logged and the
// process continues. Levels follow the usual DEBUG < INFO < WARN < ERROR
// ordering, and every call accepts an optional params map that is appended
// to the log line.
//
// Example Usage:
//
//	log.SetLevel("DEBUG")
//	log.Info("store rehydrated", map[string]interface{}{
//		"entities": 42,
//		"triples":  120,
//	})
//
//	stop := log.Timer("infer")
//	// ... run inference ...
//	stop()
package log

import (
	"fmt"
	stdlog "log"
	"os"
	"sync"
	"time"
)

// Level represents log levels.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu           sync.Mutex
	currentLevel = LevelInfo
	logger       = stdlog.New(os.Stdout, "", stdlog.LstdFlags)
)

// Debug logs a debug message.
func Debug(message string, params map[string]interface{}) {
	if level() <= LevelDebug {
		logMessage("DEBUG", message, params)
	}
}

// Info logs an info message.
func Info(message string, params map[string]interface{}) {
	if level() <= LevelInfo {
		logMessage("INFO", message, params)
	}
}

// Warn logs a warning message.
func Warn(message string, params map[string]interface{}) {
	if level() <= LevelWarn {
		logMessage("WARN", message, params)
	}
}

// Error logs an error message.
func Error(message string, params map[string]interface{}) {
	if level() <= LevelError {
		logMessage("ERROR", message, params)
	}
}

// SetLevel sets the logging level by name ("DEBUG", "INFO", "WARN", "ERROR").
// Unknown names are ignored.
func SetLevel(name string) {
	mu.Lock()
	defer mu.Unlock()

	switch name {
	case "DEBUG":
		currentLevel = LevelDebug
	case "INFO":
		currentLevel = LevelInfo
	case "WARN":
		currentLevel = LevelWarn
	case "ERROR":
		currentLevel = LevelError
	}
}

// GetLevel returns the current logging level name.
func GetLevel() string {
	switch level() {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// SetOutput redirects log output, primarily for tests.
func SetOutput(l *stdlog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// Timer starts a timer and returns a function that logs the elapsed time.
//
// Example:
//
//	stop := log.Timer("decay")
//	store.DecayConfidence()
//	stop()
func Timer(name string) func() {
	start := time.Now()
	return func() {
		Debug(fmt.Sprintf("Timer: %s", name), map[string]interface{}{
			"elapsed": time.Since(start).String(),
		})
	}
}

func level() Level {
	mu.Lock()
	defer mu.Unlock()
	return currentLevel
}

// logMessage formats and logs a message.
func logMessage(levelName string, message string, params map[string]interface{}) {
	logLine := fmt.Sprintf("%s: %s", levelName, message)
	if len(params) > 0 {
		logLine += fmt.Sprintf(" %v", params)
	}

	mu.Lock()
	l := logger
	mu.Unlock()
	l.Println(logLine)
}
