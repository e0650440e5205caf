package logger

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

type Fields = logrus.Fields

// Options configures the process logger
type Options struct {
	Level    string
	File     string // rotated log file, empty disables file output
	NoColors bool
}

// New builds the process logger once; later calls return the same instance
func New(opts Options) *logrus.Logger {
	once.Do(func() {
		logger = build(opts, os.Stderr)
	})
	return logger
}

// Get returns the process logger, building it with defaults if needed
func Get() *logrus.Logger {
	return New(Options{Level: "info"})
}

// NewWithWriter builds a standalone logger writing to w, used by tests and tools
func NewWithWriter(opts Options, w io.Writer) *logrus.Logger {
	return build(opts, w)
}

func build(opts Options, out io.Writer) *logrus.Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	l.SetFormatter(&formatter.Formatter{
		NoColors:        opts.NoColors,
		TimestampFormat: "02 Jan 06 - 15:04:05",
		HideKeys:        false,
		CallerFirst:     true,
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			funcName := s[len(s)-1]
			return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, funcName)
		},
	})

	writers := []io.Writer{out}
	if opts.File != "" && os.Getenv("APP_ENV") != "test" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    50,
			MaxAge:     14,
			MaxBackups: 3,
		})
	}

	l.SetOutput(io.MultiWriter(writers...))
	l.SetReportCaller(true)
	return l
}

func Debug(fields Fields, msg string) {
	Get().WithFields(fields).Debug(msg)
}

func Info(fields Fields, msg string) {
	Get().WithFields(fields).Info(msg)
}

func Warn(fields Fields, msg string) {
	Get().WithFields(fields).Warn(msg)
}

func Error(fields Fields, msg string) {
	Get().WithFields(fields).Error(msg)
}

// ErrorWithTraceID logs an error under a fresh trace ID and returns the ID so it
// can be shown to the user instead of raw error internals
func ErrorWithTraceID(log logrus.FieldLogger, fields Fields, msg string) string {
	if log == nil {
		log = Get()
	}

	traceID := "unknown"
	if id, err := uuid.NewRandom(); err == nil {
		traceID = id.String()
	}

	if fields == nil {
		fields = Fields{}
	}
	fields["trace_id"] = traceID
	log.WithFields(fields).Error(msg)

	return traceID
}
