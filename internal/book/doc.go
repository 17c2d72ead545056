// Package book opens a book folder and owns its page file naming.
//
// A book is a directory of page images plus hidden bookkeeping files
// (metadata, page database, lock). Page files are named
// <title>.<index>.<r|v|s>.<ext>; the index is zero padded to at least three
// digits. Files carrying a printed page number (<title>.p<number>...) or no
// role letter are recognised when a folder is scanned.
package book
