// Package bookdb persists per-book state that page file names cannot carry:
// reading order, page roles, stable page ids, cached OCR text and the last
// scan configuration.
//
// The database lives in the book folder as .folio.db (SQLite via
// modernc.org/sqlite) and is migrated forward on open with the SQL files
// embedded from migrations/.
package bookdb
