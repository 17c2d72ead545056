// Command folio assembles scanned book pages from the command line and
// serves the open book to a local UI.
//
// Every command works on one book folder, given with --book (default: the
// current directory). The folder is locked while a command runs, so two
// folio processes never write the same book.
//
//	folio scan --count 20 --resolution 300
//	folio pages
//	folio flip --from 12 --start verso
//	folio ocr --out text/
//	folio serve
package main
