// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
)

// Setup applies level and format to the standard logrus logger.
// format is "text" (default) or "json".
func Setup(level, format string, out io.Writer) error {
	if out == nil {
		out = os.Stdout
	}
	log.SetOutput(out)

	switch format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	if level == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	log.SetLevel(lvl)
	return nil
}

// AsynqLogger routes asynq's internal logging through logrus.
type AsynqLogger struct {
	Entry *log.Entry
}

var _ asynq.Logger = AsynqLogger{}

// NewAsynqLogger returns an asynq.Logger tagged with component=asynq.
func NewAsynqLogger() AsynqLogger {
	return AsynqLogger{Entry: log.WithField("component", "asynq")}
}

func (l AsynqLogger) Debug(args ...interface{}) { l.Entry.Debug(args...) }
func (l AsynqLogger) Info(args ...interface{})  { l.Entry.Info(args...) }
func (l AsynqLogger) Warn(args ...interface{})  { l.Entry.Warn(args...) }
func (l AsynqLogger) Error(args ...interface{}) { l.Entry.Error(args...) }
func (l AsynqLogger) Fatal(args ...interface{}) { l.Entry.Fatal(args...) }
