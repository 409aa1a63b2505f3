// Package logging wraps logrus the way the rest of this family of services
// configures structured logging: one shared Logger type, a component tag,
// and level/format controlled by environment.
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a *logrus.Entry scoped to one component (e.g. "node-agent",
// "routing-service").
type Logger struct {
	*logrus.Entry
}

// Config controls level and output format.
type Config struct {
	Level  string
	Format string
}

// ConfigFromEnv reads LOG_LEVEL and LOG_FORMAT, defaulting to info/text.
func ConfigFromEnv() Config {
	return Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
	}
}

// New creates a Logger for component, configured from cfg.
func New(component string, cfg Config) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return &Logger{Entry: base.WithField("component", component)}
}

// NewDefault creates a Logger for component using LOG_LEVEL/LOG_FORMAT from
// the environment.
func NewDefault(component string) *Logger {
	return New(component, ConfigFromEnv())
}

// With returns a child logger carrying an additional field, e.g. a node id
// or instance id, without mutating the receiver.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}
