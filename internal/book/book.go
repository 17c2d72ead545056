package book

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"folio/internal/imageio"
	"folio/internal/logging"
	"folio/internal/pagestore"
	"folio/internal/services"
)

// LockFileName is created in the book folder while the book is open.
const LockFileName = ".folio.lock"

const defaultTitle = "page"

// Options controls how a book folder is opened.
type Options struct {
	// Title is the file name prefix for new pages. Empty keeps the prefix
	// used by the existing pages, then falls back to "page".
	Title string
	// Extension is the format of new pages. Empty guesses from the folder.
	Extension string
	// DefaultTitle and DefaultExtension apply to folders without pages.
	DefaultTitle     string
	DefaultExtension string
	Logger           *slog.Logger
}

// Book is an open book folder. The folder is locked against other folio
// processes until Close.
type Book struct {
	path      string
	title     string
	extension string
	lock      *flock.Flock
	logger    *slog.Logger
}

// ValidateFolder returns the absolute form of path, or an InvalidFolder
// error when it does not exist, is not a directory or cannot be listed.
func ValidateFolder(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", services.Wrap(services.ErrInvalidFolder, "book", "open", "no folder given", nil)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", services.WrapPath(services.ErrInvalidFolder, "book", "open", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", services.WrapPath(services.ErrInvalidFolder, "book", "open", abs, err)
	}
	if !info.IsDir() {
		return "", &services.Error{Kind: services.ErrInvalidFolder, Component: "book", Op: "open", Message: "not a directory", Path: abs}
	}
	if err := unix.Access(abs, unix.R_OK|unix.X_OK); err != nil {
		return "", &services.Error{Kind: services.ErrInvalidFolder, Component: "book", Op: "open", Message: "not readable", Path: abs, Err: err}
	}
	return abs, nil
}

// Open validates and locks a book folder.
func Open(path string, opts Options) (*Book, error) {
	abs, err := ValidateFolder(path)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldBook, abs))

	lock := flock.New(filepath.Join(abs, LockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, services.WrapPath(services.ErrPersistence, "book", "lock", lock.Path(), err)
	}
	if !ok {
		return nil, &services.Error{
			Kind:      services.ErrSessionBusy,
			Component: "book",
			Op:        "lock",
			Message:   "book is open in another folio process",
			Path:      abs,
		}
	}

	b := &Book{path: abs, lock: lock, logger: logger}
	pages, ignored, err := ScanFolder(abs)
	if err != nil {
		_ = lock.Unlock()
		return nil, services.WrapPath(services.ErrInvalidFolder, "book", "scan", abs, err)
	}
	for _, name := range ignored {
		logger.Warn("image file does not follow page naming; ignored",
			logging.String("file", name),
			logging.String(logging.FieldEventType, "page_name_unrecognised"),
			logging.String(logging.FieldErrorHint, "rename to <title>.<index>.<r|v|s>.<ext> to include it"),
		)
	}

	b.extension = normalizeExtension(opts.Extension)
	if b.extension == "" {
		fallback := normalizeExtension(opts.DefaultExtension)
		if fallback == "" {
			fallback = ".png"
		}
		b.extension = GuessExtension(pages, fallback)
	}
	if !imageio.CanEncode(b.extension) {
		logger.Info("new pages will be written as png",
			logging.String("extension", b.extension),
			logging.String(logging.FieldEventType, "page_format_fallback"),
		)
		b.extension = ".png"
	}
	b.title = strings.TrimSpace(opts.Title)
	if b.title == "" && len(pages) > 0 {
		b.title = pages[0].Title
	}
	if b.title == "" {
		b.title = strings.TrimSpace(opts.DefaultTitle)
	}
	if b.title == "" {
		b.title = defaultTitle
	}
	logger.Debug("book opened",
		logging.Int("page_files", len(pages)),
		logging.String("extension", b.extension),
		logging.String("title", b.title),
	)
	return b, nil
}

func normalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Path returns the absolute book folder.
func (b *Book) Path() string { return b.path }

// Title returns the file name prefix of new pages.
func (b *Book) Title() string { return b.title }

// Extension returns the extension of new pages, with its dot.
func (b *Book) Extension() string { return b.extension }

// Join returns the path of name inside the book folder.
func (b *Book) Join(name string) string { return filepath.Join(b.path, name) }

// Pages rescans the folder.
func (b *Book) Pages() ([]PageFile, error) {
	pages, _, err := b.Scan()
	return pages, err
}

// Scan rescans the folder and also returns the image files whose names do
// not follow the page naming scheme.
func (b *Book) Scan() ([]PageFile, []string, error) {
	pages, ignored, err := ScanFolder(b.path)
	if err != nil {
		return nil, nil, services.WrapPath(services.ErrPersistence, "book", "scan", b.path, err)
	}
	return pages, ignored, nil
}

// PagePath returns where a new page with the given index and role is stored
// when the book holds count pages.
func (b *Book) PagePath(index int, role pagestore.Role, count int) string {
	return b.Join(FileName(b.title, index, role, b.extension, PadWidth(count)))
}

// Close releases the folder lock.
func (b *Book) Close() error {
	if b == nil || b.lock == nil {
		return nil
	}
	err := b.lock.Unlock()
	b.lock = nil
	if err != nil {
		return fmt.Errorf("release book lock: %w", err)
	}
	b.logger.Debug("book closed")
	return nil
}
