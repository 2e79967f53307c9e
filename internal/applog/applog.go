// Package applog is the structured logging setup shared by every package,
// built on github.com/sirupsen/logrus, replacing the original's
// log::info!/log::warn!/log::debug! call sites.
package applog

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds a logrus.Logger configured from the environment: MODKIT_LOG_LEVEL
// ("debug"/"info"/"warn"/"error", default "info") and MODKIT_LOG_FORMAT
// ("text" or "json", default "text").
func New() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(levelFromEnv())
	log.SetFormatter(formatterFromEnv())
	return log
}

// NewEntry wraps New in a logrus.Entry carrying component, matching a
// single package's or operation's diagnostic scope (e.g. "patching",
// "modmanager").
func NewEntry(component string) *logrus.Entry {
	return New().WithField("component", component)
}

func levelFromEnv() logrus.Level {
	switch strings.ToLower(os.Getenv("MODKIT_LOG_LEVEL")) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "":
		return logrus.InfoLevel
	default:
		return logrus.InfoLevel
	}
}

func formatterFromEnv() logrus.Formatter {
	if strings.ToLower(os.Getenv("MODKIT_LOG_FORMAT")) == "json" {
		return &logrus.JSONFormatter{}
	}
	return &logrus.TextFormatter{FullTimestamp: true}
}

// Discard returns an entry that writes nowhere, for tests that don't want
// log noise but still need a non-nil *logrus.Entry to inject.
func Discard() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}
