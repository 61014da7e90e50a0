package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/pkg/errors"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
)

// Fields is an alias so callers don't import logrus directly.
type Fields = logrus.Fields

// Settings controls logger output.
type Settings struct {
	Format   string // json | text
	Level    string
	Filename string // empty disables the rotated file hook
	MaxAge   time.Duration
	Rotation time.Duration
	Stdout   io.Writer
}

var std = logrus.New()

// Init configures the package logger. It is safe to call more than once.
func Init(s Settings) error {
	if s.Format == "json" {
		std.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}
	if s.Stdout != nil {
		std.SetOutput(s.Stdout)
	} else {
		std.SetOutput(os.Stdout)
	}
	level := logrus.InfoLevel
	if s.Level != "" {
		lv, err := logrus.ParseLevel(s.Level)
		if err != nil {
			return errors.Wrapf(err, "parse log level %q", s.Level)
		}
		level = lv
	}
	std.SetLevel(level)
	std.ReplaceHooks(make(logrus.LevelHooks))
	if s.Filename == "" {
		return nil
	}
	if s.MaxAge <= 0 {
		s.MaxAge = 7 * 24 * time.Hour
	}
	if s.Rotation <= 0 {
		s.Rotation = 24 * time.Hour
	}
	if err := os.MkdirAll(filepath.Dir(s.Filename), 0o755); err != nil {
		return errors.Wrap(err, "create log dir")
	}
	writer, err := rotatelogs.New(
		s.Filename+".%Y%m%d",
		rotatelogs.WithLinkName(s.Filename),
		rotatelogs.WithMaxAge(s.MaxAge),
		rotatelogs.WithRotationTime(s.Rotation),
	)
	if err != nil {
		return errors.Wrap(err, "open rotated log")
	}
	std.AddHook(lfshook.NewHook(lfshook.WriterMap{
		logrus.DebugLevel: writer,
		logrus.InfoLevel:  writer,
		logrus.WarnLevel:  writer,
		logrus.ErrorLevel: writer,
		logrus.FatalLevel: writer,
		logrus.PanicLevel: writer,
	}, &logrus.JSONFormatter{TimestampFormat: time.RFC3339}))
	return nil
}

func WithFields(f Fields) *logrus.Entry { return std.WithFields(f) }

func WithError(err error) *logrus.Entry { return std.WithError(err) }
