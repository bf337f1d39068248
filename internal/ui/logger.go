// Package ui provides terminal styling and rendering for pki.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// InitLogger initializes the charm logger with default settings.
func InitLogger() {
	InitLoggerTo(os.Stderr)
}

// InitLoggerTo sends log output to w. The MCP server uses this to keep
// stdout free for protocol messages.
func InitLoggerTo(w io.Writer) {
	log.SetOutput(w)
	log.SetLevel(log.InfoLevel)
	log.SetReportCaller(false)
	log.SetReportTimestamp(false)
}

// SetDebug enables debug logging.
func SetDebug(enabled bool) {
	if enabled {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// SetQuiet limits logging to errors.
func SetQuiet() {
	log.SetLevel(log.ErrorLevel)
}
