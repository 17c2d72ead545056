// Package engine owns the open book.
//
// A Manager holds the process-wide pieces (configuration, scanner catalog,
// thumbnail cache, OCR engine, metadata resolver) and at most one Engine.
// An Engine wires one book folder to its database, page store, scan session,
// assembly engine, artifact pipeline and metadata. Opening another book
// tears the current one down first: scans are cancelled, pipeline work is
// awaited and the folder lock is released.
//
// Page order and roles are written to the book database on every store
// mutation, so a crash loses at most the mutation in flight.
package engine
