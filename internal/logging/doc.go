// Package logging assembles structured slog loggers and formatting helpers used
// across anvil.
//
// It owns the console and JSON handlers, picks between them for the "auto"
// format based on whether stderr is a terminal, and exposes context helpers so
// request handlers tag their lines with the session they serve. A no-op logger
// is provided for tests and wiring code that cannot fail.
package logging
