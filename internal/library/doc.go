// Package library discovers book folders below a library root.
//
// A folder is a book when it holds a metadata file or page images named
// after the page scheme. Discovery never opens or locks books; it only reads
// directory listings and metadata files, so it is safe to run while another
// process has a book open.
package library
