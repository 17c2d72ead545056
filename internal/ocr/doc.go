// Package ocr defines the text recognition contract used by the artifact
// pipeline and prepares page images for it.
//
// The production engine lives in ocr/tesseract so packages that only need
// the contract do not link libtesseract.
package ocr
