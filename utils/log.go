package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileEnv overrides the log file used by the default logger.
const LogFileEnv = "INTERCEPTOR_LOG_FILE"

// CustomFormatter 自定义日志格式
type CustomFormatter struct {
	logrus.JSONFormatter
}

// Format 实现自定义格式化
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	if _, ok := entry.Data["file"]; !ok && entry.HasCaller() {
		entry.Data["file"] = filepath.Base(entry.Caller.File)
		entry.Data["line"] = entry.Caller.Line
		entry.Data["func"] = filepath.Base(entry.Caller.Function)
	}

	entry.Data["pid"] = os.Getpid()
	entry.Data["goroutine_id"] = getGoroutineID()

	return f.JSONFormatter.Format(entry)
}

var (
	Log  *logrus.Logger
	once sync.Once
	mu   sync.Mutex
)

// InitLogger (re)configures the process logger. An empty file logs to stdout only.
func InitLogger(level string, logFilePath string) error {
	lvl := logrus.InfoLevel
	if level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	var out io.Writer = os.Stdout
	if logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	}

	l := logrus.New()
	l.SetFormatter(&CustomFormatter{
		JSONFormatter: logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "@timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		},
	})
	l.SetOutput(out)
	l.SetLevel(lvl)
	l.SetReportCaller(true)

	mu.Lock()
	Log = l
	mu.Unlock()
	return nil
}

// GetLogger returns the singleton logger instance
func GetLogger() *logrus.Logger {
	once.Do(func() {
		mu.Lock()
		initialized := Log != nil
		mu.Unlock()
		if initialized {
			return
		}
		if err := InitLogger("info", os.Getenv(LogFileEnv)); err != nil {
			_ = InitLogger("info", "")
		}
	})
	mu.Lock()
	defer mu.Unlock()
	return Log
}

// getGoroutineID 获取当前协程ID
func getGoroutineID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	var id uint64
	fmt.Sscanf(string(b), "goroutine %d", &id)
	return id
}
