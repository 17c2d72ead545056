// Package language provides language code normalization and mapping.
//
// Book metadata stores a BCP 47 language tag while tesseract expects its own
// traineddata names; all conversions between the two (plus ISO 639-1/639-2
// codes and display names) live here.
package language
