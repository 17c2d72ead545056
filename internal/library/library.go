package library

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gofrs/flock"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"folio/internal/book"
	"folio/internal/logging"
	"folio/internal/metadata"
	"folio/internal/services"
)

// DefaultMaxDepth bounds how deep below the root books are searched.
const DefaultMaxDepth = 4

// Entry summarises one book folder.
type Entry struct {
	Path        string   `json:"path"`
	Title       string   `json:"title"`
	Authors     []string `json:"authors,omitempty"`
	ISBN        string   `json:"isbn,omitempty"`
	Pages       int      `json:"pages"`
	HasMetadata bool     `json:"has_metadata"`
	Locked      bool     `json:"locked"`
}

// Options tune discovery.
type Options struct {
	MaxDepth int
	Logger   *slog.Logger
}

// Discover walks root and returns the books found, sorted by title without
// regard to case, then by path. Book folders are not descended into.
func Discover(root string, opts Options) ([]Entry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	depth := opts.MaxDepth
	if depth <= 0 {
		depth = DefaultMaxDepth
	}
	abs, err := book.ValidateFolder(root)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == abs {
				return err
			}
			logger.Debug("skipping unreadable folder", logging.String("path", path), logging.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != abs && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		entry, ok, err := inspect(path)
		if err != nil {
			logging.WarnWithContext(logger, "book folder unreadable", "library_book_unreadable",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "book is not listed"),
			)
			return filepath.SkipDir
		}
		if ok {
			entries = append(entries, entry)
			if path != abs {
				return filepath.SkipDir
			}
		}
		if rel, _ := filepath.Rel(abs, path); rel != "." && strings.Count(rel, string(filepath.Separator))+1 >= depth {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, services.WrapPath(services.ErrPersistence, "library", "discover", abs, err)
	}
	Sort(entries)
	logger.Debug("library scanned", logging.String("root", abs), logging.Int("books", len(entries)))
	return entries, nil
}

// Inspect summarises the book folder at path. ok is false when the folder
// holds neither metadata nor page files.
func Inspect(path string) (Entry, bool, error) {
	abs, err := book.ValidateFolder(path)
	if err != nil {
		return Entry{}, false, err
	}
	return inspect(abs)
}

func inspect(dir string) (Entry, bool, error) {
	rec, found, err := metadata.Load(dir)
	if err != nil {
		return Entry{}, false, err
	}
	pages, _, err := book.ScanFolder(dir)
	if err != nil {
		return Entry{}, false, err
	}
	if !found && len(pages) == 0 {
		return Entry{}, false, nil
	}
	entry := Entry{
		Path:        dir,
		Title:       strings.TrimSpace(rec.Title),
		Authors:     rec.Authors,
		ISBN:        rec.ISBN,
		Pages:       len(pages),
		HasMetadata: found,
	}
	if entry.Title == "" {
		entry.Title = titleFromFolder(filepath.Base(dir))
	}
	locked, err := isLocked(filepath.Join(dir, book.LockFileName))
	if err != nil {
		return Entry{}, false, err
	}
	entry.Locked = locked
	return entry, true, nil
}

// isLocked reports whether a folio process holds the lock file. The file
// outlives the lock, so its presence alone says nothing.
func isLocked(path string) (bool, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	lock := flock.New(path)
	ok, err := lock.TryRLock()
	if err != nil {
		return false, err
	}
	if ok {
		_ = lock.Unlock()
	}
	return !ok, nil
}

// titleFromFolder turns a folder name such as "war_and-peace" into
// "War And Peace".
func titleFromFolder(name string) string {
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	return cases.Title(language.Und).String(strings.Join(strings.Fields(name), " "))
}

// Sort orders entries by case-folded title, then path.
func Sort(entries []Entry) {
	fold := cases.Fold()
	slices.SortStableFunc(entries, func(a, b Entry) int {
		if c := strings.Compare(fold.String(a.Title), fold.String(b.Title)); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
}
