// Package bootlog provides the bootloader's diagnostic logger: a thin,
// leveled wrapper over the standard library's log/slog. No example in this
// codebase's dependency pack exercises a third-party structured-logging
// library (see DESIGN.md), so the device-side logger is built directly on
// slog, in the spirit of the original C logger's level macros (LOG_ERROR,
// LOG_INFO, LOG_WARN, LOG_DEBUG) but idiomatic for Go.
package bootlog

import (
	"io"
	"log/slog"
)

// New returns a logger writing text-formatted records to w at minLevel and
// above. The device's log UART is an external collaborator satisfied here
// by any io.Writer.
func New(w io.Writer, minLevel slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: minLevel})
	return slog.New(handler)
}
