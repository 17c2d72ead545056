// Package config loads, normalizes, and validates folio configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// FOLIO_SCANNER_DEVICE and TESSDATA_PREFIX. The Config type centralizes every
// knob the CLI and the HTTP API need: the scanner backend, page file naming,
// the artifact worker pool, OCR data and the metadata resolver.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
