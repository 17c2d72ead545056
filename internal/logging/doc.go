// Package logging assembles structured slog loggers and formatting helpers used
// across folio.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so engine code can tag log lines
// with the open book, page ids, scan job ids and API correlation ids. A no-op
// logger is provided for tests and wiring code that cannot fail.
package logging
