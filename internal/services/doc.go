// Package services defines the utilities shared by every engine component.
//
// Key responsibilities:
//   - Context helpers that stamp the open book, page ids, scan job ids and
//     API correlation identifiers for logging.
//   - The error taxonomy (DeviceUnavailable, SessionBusy, OverwriteConflict,
//     ...) plus the structured Error carrier and the Wrap helper, so callers
//     classify failures with errors.Is and read context with errors.As.
package services
