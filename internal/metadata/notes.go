package metadata

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM, extension.Typographer),
)

// RenderNotes converts Markdown notes to HTML. Raw HTML in the notes is
// omitted.
func RenderNotes(notes string) (string, error) {
	if notes == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(notes), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// NotesHTML renders the current notes.
func (f *Facade) NotesHTML() (string, error) {
	return RenderNotes(f.Record().Notes)
}
