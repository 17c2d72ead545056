// Package metadata holds the bibliographic record of a book and persists it
// as .book-metadata.json in the book folder.
//
// The Facade tracks which fields the user edited since the book was opened;
// values obtained from an ISBN resolver never replace those fields.
package metadata
