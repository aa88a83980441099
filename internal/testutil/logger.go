package testutil

import (
	"log/slog"

	"github.com/modsift/modsift/internal/log"
)

// QuietLogger returns a logger that discards all output, keeping test logs
// readable.
func QuietLogger() *slog.Logger {
	return log.NewNop()
}
