// Package tesseract recognises page text with libtesseract through
// gosseract.
package tesseract

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"folio/internal/ocr"
)

// Engine implements ocr.Engine. A client is created per page; tesseract
// clients are not safe for concurrent use.
type Engine struct {
	tessdataPrefix string
	run            func(ocr.Input) (string, error)
}

// New returns an engine reading models below tessdataPrefix. An empty
// prefix leaves the choice to tesseract (TESSDATA_PREFIX or its build
// default).
func New(tessdataPrefix string) *Engine {
	e := &Engine{tessdataPrefix: strings.TrimSpace(tessdataPrefix)}
	e.run = e.recognize
	return e
}

func (e *Engine) Name() string { return "tesseract" }

// Recognize runs tesseract on in. Tesseract cannot be interrupted, so a
// context ending mid-page only drops the result: the call still returns
// after the client is done, keeping the caller's worker slot accounted for.
func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := e.run(in)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	return text, err
}

func (e *Engine) recognize(in ocr.Input) (string, error) {
	c := gosseract.NewClient()
	defer c.Close()
	return e.recognizeWithClient(c, in)
}

func (e *Engine) recognizeWithClient(c *gosseract.Client, in ocr.Input) (string, error) {
	if e.tessdataPrefix != "" {
		if err := c.SetTessdataPrefix(e.tessdataPrefix); err != nil {
			return "", fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if len(in.Languages) > 0 {
		if err := c.SetLanguage(in.Languages...); err != nil {
			return "", fmt.Errorf("set languages: %w", err)
		}
	}
	if err := c.SetImageFromBytes(in.Image); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	if in.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), strconv.Itoa(in.DPI)); err != nil {
			return "", fmt.Errorf("set dpi: %w", err)
		}
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return text, nil
}

var _ ocr.Engine = (*Engine)(nil)
