package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// FileName is the metadata file inside a book folder.
const FileName = ".book-metadata.json"

// Record is the bibliographic description of a book. The JSON layout is the
// one stored in .book-metadata.json.
type Record struct {
	Authors       []string `json:"authors"`
	Description   string   `json:"description"`
	ISBN          string   `json:"isbn"`
	Keywords      []string `json:"keywords"`
	Language      string   `json:"language"`
	NumberOfPages int      `json:"number_of_pages"`
	PageOffset    int      `json:"page_offset"`
	Path          string   `json:"path"`
	Publisher     string   `json:"publisher"`
	Title         string   `json:"title"`
	Year          int      `json:"year"`
	Notes         string   `json:"notes,omitempty"`
}

func (r Record) clone() Record {
	r.Authors = slices.Clone(r.Authors)
	r.Keywords = slices.Clone(r.Keywords)
	return r
}

// Load reads the metadata of the book in dir. A missing file yields an
// empty record carrying the path.
func Load(dir string) (Record, bool, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Record{Path: dir}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("parse %s: %w", path, err)
	}
	if rec.Path == "" {
		rec.Path = dir
	}
	return rec, true, nil
}

// write stores rec via a temporary file and rename so readers never see a
// partial file.
func write(dir string, rec Record) error {
	if rec.Authors == nil {
		rec.Authors = []string{}
	}
	if rec.Keywords == nil {
		rec.Keywords = []string{}
	}
	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, ".book-metadata-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, FileName)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
