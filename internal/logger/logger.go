package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
}

type Logger struct {
	mu           sync.Mutex
	terminal     io.Writer
	jsonOut      io.Writer
	logFile      *os.File
	colorEnabled bool
	minLevel     LogLevel
}

// NewLogger writes colored lines to stdout and JSON lines to logs/checkout-<date>.log.
func NewLogger() *Logger {
	if err := os.MkdirAll("logs", 0755); err != nil {
		log.Fatal("Failed to create logs directory:", err)
	}

	timestamp := time.Now().Format("2006-01-02")
	logFileName := fmt.Sprintf("logs/checkout-%s.log", timestamp)

	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Fatal("Failed to create log file:", err)
	}

	l := &Logger{
		terminal:     os.Stdout,
		jsonOut:      logFile,
		logFile:      logFile,
		colorEnabled: true,
		minLevel:     levelFromEnv(),
	}

	l.Info("LOGGER", "Logging initialized")
	l.Info("LOGGER", fmt.Sprintf("Log file: %s", logFileName))

	return l
}

// NewWithWriter writes JSON lines only to w. Used by tests and the one-shot commands.
func NewWithWriter(w io.Writer) *Logger {
	return &Logger{jsonOut: w, minLevel: DEBUG}
}

// Nop discards everything.
func Nop() *Logger {
	return NewWithWriter(io.Discard)
}

func levelFromEnv() LogLevel {
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "DEBUG":
		return DEBUG
	case "WARN":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func (l *Logger) log(level LogLevel, category, message string) {
	if l == nil || level < l.minLevel {
		return
	}

	_, file, line, ok := runtime.Caller(3)
	if ok {
		file = filepath.Base(file)
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Level:     l.levelToString(level),
		Category:  strings.ToUpper(category),
		Message:   message,
		File:      file,
		Line:      line,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.terminal != nil {
		fmt.Fprint(l.terminal, l.formatTerminalOutput(entry))
	}
	if l.jsonOut != nil {
		io.WriteString(l.jsonOut, l.formatJSONOutput(entry)+"\n")
	}
}

func (l *Logger) formatTerminalOutput(entry LogEntry) string {
	timestamp := entry.Timestamp[11:19]

	if !l.colorEnabled {
		return fmt.Sprintf("%s %-5s [%-10s] %s (%s:%d)\n", timestamp, entry.Level, entry.Category, entry.Message, entry.File, entry.Line)
	}

	var levelColor, categoryColor *color.Color

	switch entry.Level {
	case "DEBUG":
		levelColor = color.New(color.FgCyan)
		categoryColor = color.New(color.FgCyan, color.Bold)
	case "INFO":
		levelColor = color.New(color.FgGreen)
		categoryColor = color.New(color.FgGreen, color.Bold)
	case "WARN":
		levelColor = color.New(color.FgYellow)
		categoryColor = color.New(color.FgYellow, color.Bold)
	case "ERROR", "FATAL":
		levelColor = color.New(color.FgRed, color.Bold)
		categoryColor = color.New(color.FgRed, color.Bold)
	default:
		levelColor = color.New(color.FgWhite)
		categoryColor = color.New(color.FgWhite, color.Bold)
	}

	timeStr := color.New(color.FgBlue).Sprintf("%s", timestamp)
	levelStr := levelColor.Sprintf("%-5s", entry.Level)
	categoryStr := categoryColor.Sprintf("[%-10s]", entry.Category)

	if entry.File != "" && entry.Line > 0 {
		fileInfo := color.New(color.FgMagenta).Sprintf(" (%s:%d)", entry.File, entry.Line)
		return fmt.Sprintf("%s %s %s %s%s\n", timeStr, levelStr, categoryStr, entry.Message, fileInfo)
	}

	return fmt.Sprintf("%s %s %s %s\n", timeStr, levelStr, categoryStr, entry.Message)
}

func (l *Logger) formatJSONOutput(entry LogEntry) string {
	jsonBytes, _ := json.Marshal(entry)
	return string(jsonBytes)
}

func (l *Logger) levelToString(level LogLevel) string {
	switch level {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "INFO"
	}
}

func (l *Logger) Debug(category, message string) {
	l.logf(DEBUG, category, "%s", message)
}

func (l *Logger) Info(category, message string) {
	l.logf(INFO, category, "%s", message)
}

func (l *Logger) Warn(category, message string) {
	l.logf(WARN, category, "%s", message)
}

func (l *Logger) Error(category, message string) {
	l.logf(ERROR, category, "%s", message)
}

func (l *Logger) Fatal(category, message string) {
	l.logf(FATAL, category, "%s", message)
	os.Exit(1)
}

// Component helpers. Each keeps the category fixed so log search stays simple.

func (l *Logger) LogOrder(action, orderID, message string) {
	l.logf(INFO, "ORDER", "[%s] %s - %s", action, orderID, message)
}

func (l *Logger) LogPayment(action, reference, message string) {
	l.logf(INFO, "PAYMENT", "[%s] %s - %s", action, reference, message)
}

func (l *Logger) LogFulfillment(action, orderID, message string) {
	l.logf(INFO, "FULFILL", "[%s] %s - %s", action, orderID, message)
}

func (l *Logger) LogStream(action, userID, message string) {
	l.logf(INFO, "STREAM", "[%s] %s - %s", action, userID, message)
}

func (l *Logger) LogAPI(method, path, status, duration string) {
	l.logf(INFO, "API", "%s %s - %s (%s)", method, path, status, duration)
}

func (l *Logger) LogKafka(action, topic, message string) {
	l.logf(INFO, "KAFKA", "[%s] %s - %s", action, topic, message)
}

func (l *Logger) LogProcess(processName, message string) {
	l.logf(INFO, "PROCESS", "[%s] %s", processName, message)
}

func (l *Logger) LogDatabase(operation, table, message string) {
	l.logf(INFO, "DATABASE", "[%s] %s - %s", operation, table, message)
}

func (l *Logger) LogSecurity(event, message string) {
	l.logf(WARN, "SECURITY", "[%s] %s", event, message)
}

func (l *Logger) logf(level LogLevel, category, format string, args ...interface{}) {
	l.log(level, category, fmt.Sprintf(format, args...))
}

func (l *Logger) Close() {
	if l.logFile != nil {
		l.Info("LOGGER", "Closing log file")
		l.logFile.Close()
	}
}
