package ocr

import (
	"context"
	"errors"
	"image"
	"strings"

	"folio/internal/imageio"
	"folio/internal/language"
	"folio/internal/pagestore"
)

// DefaultLanguage is the tesseract model used when the book language is
// unknown or has no model.
const DefaultLanguage = "eng"

// ErrNoText is returned by engines that recognised nothing on a page.
var ErrNoText = errors.New("no text recognised")

// Input is one page image submitted for recognition.
type Input struct {
	// Image is PNG encoded and already upright.
	Image []byte
	// Languages are tesseract model names, e.g. "eng" or "chi_sim".
	Languages []string
	// DPI is the scan resolution when known; zero lets the engine guess.
	DPI int
}

// Engine recognises the text of a page image.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, in Input) (string, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, in Input) (string, error)

func (f EngineFunc) Name() string { return "func" }

func (f EngineFunc) Recognize(ctx context.Context, in Input) (string, error) {
	return f(ctx, in)
}

// Prepare returns the PNG payload for a page. Verso leaves are scanned upside
// down and are turned before recognition.
func Prepare(img image.Image, role pagestore.Role) ([]byte, error) {
	if role == pagestore.Verso {
		img = imageio.Rotate180(img)
	}
	return imageio.EncodePNG(img)
}

// Languages maps a book language (BCP 47 tag, ISO code or English name) to
// tesseract models. fallback is used when the language has no known model.
func Languages(bookLanguage, fallback string) []string {
	if model := language.Tesseract(bookLanguage); model != "" {
		return []string{model}
	}
	if model := language.Tesseract(fallback); model != "" {
		return []string{model}
	}
	if fallback = strings.TrimSpace(fallback); fallback != "" {
		return []string{fallback}
	}
	return []string{DefaultLanguage}
}

// Clean normalises recognised text: trailing spaces are dropped from each
// line and runs of blank lines collapse to one.
func Clean(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\f\v")
		if line == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
