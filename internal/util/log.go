// Package util provides logging and process-wide traffic counters.
package util

import (
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by the pterm default logger.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// SetLevel applies a level name from the config file: debug, info, warn or error.
func SetLevel(name string) error {
	switch strings.ToLower(name) {
	case "debug":
		pterm.DefaultLogger.Level = pterm.LogLevelDebug
	case "info", "":
		pterm.DefaultLogger.Level = pterm.LogLevelInfo
	case "warn", "warning":
		pterm.DefaultLogger.Level = pterm.LogLevelWarn
	case "error":
		pterm.DefaultLogger.Level = pterm.LogLevelError
	default:
		return fmt.Errorf("unknown log level %q", name)
	}
	return nil
}

// SetOutput redirects log output, e.g. to io.Discard in tests.
func SetOutput(w io.Writer) {
	pterm.DefaultLogger.Writer = w
}
