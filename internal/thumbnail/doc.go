// Package thumbnail implements the freedesktop.org thumbnail cache.
//
// Thumbnails are PNG files named after the md5 of the source file URI and
// carry Thumb::URI and Thumb::MTime text chunks; a thumbnail whose MTime no
// longer matches its source is regenerated.
package thumbnail
