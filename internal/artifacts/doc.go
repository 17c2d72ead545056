// Package artifacts computes the derived artifacts of pages: thumbnails and
// OCR text.
//
// Work runs on a bounded pool (artifacts.workers) shared by every page.
// Requests for the same page and kind while one is pending join it instead of
// starting another. Results computed from a source revision that changed in
// the meantime are not stored.
package artifacts
