// Package logger provides prefixed, asynchronous logging so the hot path
// never blocks on log I/O, plus a duration helper for timing handlers.
package logger

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

const asyncBufferSize = 8192

var (
	prefix   string
	logLevel = levelInfo
	ch       chan string
	once     sync.Once
)

type level int

const (
	levelDebug level = iota
	levelInfo
)

func initLevel() {
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "trace":
		logLevel = levelDebug
	default:
		logLevel = levelInfo
	}
}

func initWorker() {
	initLevel()
	ch = make(chan string, asyncBufferSize)
	go func() {
		for msg := range ch {
			log.Print(msg)
		}
	}()
}

func enqueue(msg string) {
	once.Do(initWorker)
	select {
	case ch <- msg:
	default:
		// Buffer full: drop the line rather than block the caller.
	}
}

// SetPrefix sets the service prefix for all subsequent log lines.
func SetPrefix(p string) {
	prefix = p
}

func tag() string {
	if prefix == "" {
		return ""
	}
	return "[" + prefix + "] "
}

func Info(v ...any) {
	enqueue(tag() + fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	enqueue(tag() + fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprintf(format, v...))
}

// LogDuration logs a function name and elapsed milliseconds. At info level
// only calls slower than 100ms are logged; at debug level all of them.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if logLevel == levelDebug || elapsed >= 100*time.Millisecond {
		enqueue(fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration is meant for defer: defer logger.DeferLogDuration("Name", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
