package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

func init() {
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(textFormatter())
}

func textFormatter() logrus.Formatter {
	return &logrus.TextFormatter{
		TimestampFormat: "15:04:05",
		FullTimestamp:   true,
	}
}

func SetLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(logLevel)
	return nil
}

func GetLevel() string {
	return logger.GetLevel().String()
}

// SetFormat switches between the text and json formatters.
func SetFormat(format string) error {
	switch format {
	case "", "text":
		logger.SetFormatter(textFormatter())
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q (must be text or json)", format)
	}
	return nil
}

// SetOutput redirects log output. Stdout must not be used with the stdio
// transport.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

func WithFields(fields map[string]any) *logrus.Entry {
	return logger.WithFields(logrus.Fields(fields))
}

func Debug(args ...any) {
	logger.Debug(args...)
}

func Debugf(format string, args ...any) {
	logger.Debugf(format, args...)
}

func Info(args ...any) {
	logger.Info(args...)
}

func Infof(format string, args ...any) {
	logger.Infof(format, args...)
}

func Warn(args ...any) {
	logger.Warn(args...)
}

func Warnf(format string, args ...any) {
	logger.Warnf(format, args...)
}

func Error(args ...any) {
	logger.Error(args...)
}

func Errorf(format string, args ...any) {
	logger.Errorf(format, args...)
}
