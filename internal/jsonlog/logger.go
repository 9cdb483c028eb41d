package jsonlog

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// Level represents the severity level for a log entry.
type Level int8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
	LevelFatal
	LevelOff
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	case LevelOff:
		return "OFF"
	default:
		return ""
	}
}

// ParseLevel parses a log level string (case-insensitive).
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	case "OFF":
		return LevelOff, nil
	default:
		return LevelInfo, errors.New("invalid log level (allowed: DEBUG, INFO, ERROR, FATAL, OFF)")
	}
}

// sink is shared between a logger and the children created with With.
type sink struct {
	out      io.Writer
	minLevel Level
	traceFor Level

	mu sync.Mutex
}

// Logger writes structured JSON logs.
type Logger struct {
	s    *sink
	base map[string]string
}

func New(out io.Writer, minLevel Level) *Logger {
	return &Logger{
		s: &sink{
			out:      out,
			minLevel: minLevel,
			traceFor: LevelFatal,
		},
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, LevelOff)
}

// With returns a child logger that adds props to every entry.
// Per-call properties win on key collisions.
func (l *Logger) With(props map[string]string) *Logger {
	merged := make(map[string]string, len(l.base)+len(props))
	for k, v := range l.base {
		merged[k] = v
	}
	for k, v := range props {
		merged[k] = v
	}
	return &Logger{s: l.s, base: merged}
}

func (l *Logger) SetTraceFor(level Level) {
	l.s.mu.Lock()
	l.s.traceFor = level
	l.s.mu.Unlock()
}

func (l *Logger) Enabled(level Level) bool {
	l.s.mu.Lock()
	minLevel := l.s.minLevel
	l.s.mu.Unlock()
	return minLevel != LevelOff && level >= minLevel
}

func (l *Logger) PrintDebug(message string, properties map[string]string) {
	l.print(LevelDebug, message, properties, false)
}

func (l *Logger) PrintInfo(message string, properties map[string]string) {
	l.print(LevelInfo, message, properties, false)
}

func (l *Logger) PrintError(err error, properties map[string]string) {
	if err == nil {
		return
	}
	// Avoid stack traces on every error; use PrintErrorWithTrace for invariant breaks.
	l.print(LevelError, err.Error(), properties, false)
}

func (l *Logger) PrintErrorWithTrace(err error, properties map[string]string) {
	if err == nil {
		return
	}
	l.print(LevelError, err.Error(), properties, true)
}

func (l *Logger) PrintFatal(err error, properties map[string]string) {
	if err == nil {
		os.Exit(1)
	}
	l.print(LevelFatal, err.Error(), properties, true)
	os.Exit(1)
}

type entry struct {
	Level      string            `json:"level"`
	Time       string            `json:"time"`
	Message    string            `json:"message"`
	Properties map[string]string `json:"properties,omitempty"`
	Trace      string            `json:"trace,omitempty"`
}

func (l *Logger) print(level Level, message string, properties map[string]string, forceTrace bool) (int, error) {
	l.s.mu.Lock()
	minLevel := l.s.minLevel
	traceFor := l.s.traceFor
	l.s.mu.Unlock()

	if level < minLevel || minLevel == LevelOff {
		return 0, nil
	}

	e := entry{
		Level:      level.String(),
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Message:    message,
		Properties: l.merge(properties),
	}

	if forceTrace || (traceFor != LevelOff && level >= traceFor) {
		e.Trace = string(debug.Stack())
	}

	line, err := json.Marshal(e)
	if err != nil {
		line = []byte(LevelError.String() + `: unable to marshal log entry: ` + err.Error())
	}

	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.s.out.Write(append(line, '\n'))
}

func (l *Logger) merge(properties map[string]string) map[string]string {
	if len(l.base) == 0 {
		return properties
	}
	out := make(map[string]string, len(l.base)+len(properties))
	for k, v := range l.base {
		out[k] = v
	}
	for k, v := range properties {
		out[k] = v
	}
	return out
}

// Write lets the logger back a stdlib *log.Logger (http.Server.ErrorLog).
func (l *Logger) Write(p []byte) (n int, err error) {
	return l.print(LevelError, strings.TrimSpace(string(p)), nil, false)
}
