// Package assembly turns captured or imported leaves into pages of the open
// book.
//
// It owns the recto/verso role policies (alternation for a batch, forcing
// one page, re-alternating from a page to the end) and the materialisation
// of leaves as page image files. A batch is written all-or-nothing: every
// file is staged first, then moved into place, and a failure restores the
// folder to its previous state before the Page Store sees any change.
//
// Writing over an existing page file is never implicit. Commit reports every
// colliding path in a ConflictError and the caller resolves each one with
// Overwrite, Skip or Rename before committing again.
package assembly
