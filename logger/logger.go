// logger/logger.go
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "debug"
	case INFO:
		return "info"
	case WARN:
		return "warn"
	default:
		return "error"
	}
}

// ParseLevel maps a level name onto a LogLevel. Unknown names fall back to INFO.
func ParseLevel(name string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return DEBUG, true
	case "info", "":
		return INFO, true
	case "warn", "warning":
		return WARN, true
	case "error":
		return ERROR, true
	}
	return INFO, false
}

type sink struct {
	console  [4]*log.Logger
	file     [4]*log.Logger
	handle   *os.File
	minLevel LogLevel
}

var (
	defaultSink *sink
	once        sync.Once
	mu          sync.RWMutex
)

var prefixes = [4]string{"[DEBUG] ", "[INFO]  ", "[WARN]  ", "[ERROR] "}
var colors = [4]string{colorGray, colorReset, colorYellow, colorRed}

func ensureInitialized() {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		if defaultSink == nil {
			defaultSink = newSink(os.Stdout, nil, INFO)
		}
	})
}

func newSink(console, file io.Writer, level LogLevel) *sink {
	flags := log.Ldate | log.Ltime | log.Lshortfile
	s := &sink{minLevel: level}
	for i := range prefixes {
		if console != nil {
			s.console[i] = log.New(console, colors[i]+prefixes[i]+colorReset, flags)
		}
		if file != nil {
			s.file[i] = log.New(file, prefixes[i], flags)
		}
	}
	return s
}

// Init configures the process-wide sink.
// If filename is empty, logs only to console.
// If console is false, logs only to file.
func Init(filename string, console bool, level LogLevel) error {
	var consoleOut io.Writer
	if console {
		consoleOut = os.Stdout
	}

	var handle *os.File
	var fileOut io.Writer
	if filename != "" {
		f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		handle = f
		fileOut = f
	}

	if consoleOut == nil && fileOut == nil {
		return fmt.Errorf("no output destination specified")
	}

	once.Do(func() {})
	mu.Lock()
	defer mu.Unlock()
	if defaultSink != nil && defaultSink.handle != nil {
		defaultSink.handle.Close()
	}
	defaultSink = newSink(consoleOut, fileOut, level)
	defaultSink.handle = handle
	return nil
}

// SetOutput redirects console output to w. Used by tests to capture lines.
func SetOutput(w io.Writer, level LogLevel) {
	once.Do(func() {})
	mu.Lock()
	defer mu.Unlock()
	defaultSink = newSink(w, nil, level)
}

// SetLevel sets the minimum log level. Messages below it are dropped.
func SetLevel(level LogLevel) {
	ensureInitialized()
	mu.Lock()
	defer mu.Unlock()
	defaultSink.minLevel = level
}

// Close closes the log file if one is open
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if defaultSink != nil && defaultSink.handle != nil {
		defaultSink.handle.Close()
		defaultSink.handle = nil
		defaultSink.file = [4]*log.Logger{}
	}
}

func emit(level LogLevel, msg string) {
	ensureInitialized()
	mu.RLock()
	s := defaultSink
	mu.RUnlock()
	if level < s.minLevel {
		return
	}
	if l := s.console[level]; l != nil {
		l.Output(4, msg)
	}
	if l := s.file[level]; l != nil {
		l.Output(4, msg)
	}
}

// Logger tags every line with a component name, e.g. "[runner] claimed job".
type Logger struct {
	component string
}

// With returns a logger whose lines carry the component tag.
func With(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) format(format string, v ...interface{}) string {
	return "[" + l.component + "] " + fmt.Sprintf(format, v...)
}

func (l *Logger) Debugf(format string, v ...interface{}) { emit(DEBUG, l.format(format, v...)) }
func (l *Logger) Infof(format string, v ...interface{})  { emit(INFO, l.format(format, v...)) }
func (l *Logger) Warnf(format string, v ...interface{})  { emit(WARN, l.format(format, v...)) }
func (l *Logger) Errorf(format string, v ...interface{}) { emit(ERROR, l.format(format, v...)) }

// Debugf logs a formatted debug message
func Debugf(format string, v ...interface{}) {
	emit(DEBUG, fmt.Sprintf(format, v...))
}

// Infof logs a formatted info message
func Infof(format string, v ...interface{}) {
	emit(INFO, fmt.Sprintf(format, v...))
}

// Info logs an info message
func Info(v ...interface{}) {
	emit(INFO, fmt.Sprint(v...))
}

// Warnf logs a formatted warning message
func Warnf(format string, v ...interface{}) {
	emit(WARN, fmt.Sprintf(format, v...))
}

// Errorf logs a formatted error message
func Errorf(format string, v ...interface{}) {
	emit(ERROR, fmt.Sprintf(format, v...))
}

// Fatalf logs a formatted error message and exits the program
func Fatalf(format string, v ...interface{}) {
	emit(ERROR, fmt.Sprintf(format, v...))
	os.Exit(1)
}
