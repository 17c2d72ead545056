// Package api serves the open book to a local UI over HTTP.
//
// Routes live under /api and are registered with gorilla/mux; CORS is
// handled by rs/cors for the configured origins. Handlers translate the
// engine's errors into HTTP statuses with a JSON body:
//
//	{"error": "...", "kind": "SessionBusy", "path": "...", "conflicts": [...]}
//
// kind is the taxonomy name from internal/services, so clients branch on it
// rather than on status codes. Scans run inside the request; a client that
// disconnects cancels its scan.
//
// # Design Notes
//
// Payloads reuse the domain types' snake_case JSON. Thumbnails of verso
// pages are turned upright when served; the cached file keeps the scanned
// orientation.
package api
