package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"folio/internal/language"
	"folio/internal/logging"
	"folio/internal/services"
)

// Field names one editable metadata attribute.
type Field string

const (
	FieldISBN        Field = "isbn"
	FieldTitle       Field = "title"
	FieldAuthors     Field = "authors"
	FieldPublisher   Field = "publisher"
	FieldLanguage    Field = "language"
	FieldPageCount   Field = "number_of_pages"
	FieldYear        Field = "year"
	FieldKeywords    Field = "keywords"
	FieldDescription Field = "description"
	FieldNotes       Field = "notes"
	FieldPageOffset  Field = "page_offset"
)

// Fields lists every editable field in display order.
var Fields = []Field{
	FieldISBN, FieldTitle, FieldAuthors, FieldPublisher, FieldLanguage,
	FieldPageCount, FieldYear, FieldKeywords, FieldDescription, FieldNotes, FieldPageOffset,
}

// ParseField accepts a field name, with "pages" and "offset" as shorthands.
func ParseField(name string) (Field, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "pages", "page_count":
		return FieldPageCount, nil
	case "offset":
		return FieldPageOffset, nil
	}
	for _, f := range Fields {
		if string(f) == name {
			return f, nil
		}
	}
	return "", services.Wrap(services.ErrInvalidParameters, "metadata", "parse field", fmt.Sprintf("unknown field %q", name), nil)
}

// Facade is the metadata of the open book. Setters record that the user
// edited a field; ApplyResolved never overwrites such fields.
type Facade struct {
	mu     sync.Mutex
	dir    string
	rec    Record
	edited map[Field]bool
	dirty  bool
	logger *slog.Logger
}

// Open loads the metadata of the book in dir.
func Open(dir string, logger *slog.Logger) (*Facade, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	rec, found, err := Load(dir)
	if err != nil {
		return nil, services.WrapPath(services.ErrPersistence, "metadata", "load", dir, err)
	}
	if !found {
		logger.Debug("no metadata file; starting empty", logging.String("path", dir))
	}
	return &Facade{dir: dir, rec: rec, edited: map[Field]bool{}, dirty: !found, logger: logger}, nil
}

// Record returns a copy of the current metadata.
func (f *Facade) Record() Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rec.clone()
}

// PageOffset returns the printed number of the first page.
func (f *Facade) PageOffset() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rec.PageOffset
}

// Edited reports whether the user changed field since the book was opened.
func (f *Facade) Edited(field Field) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.edited[field]
}

// Dirty reports whether there are unsaved changes.
func (f *Facade) Dirty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty
}

func invalid(field Field, format string, args ...any) error {
	return services.Wrap(services.ErrInvalidParameters, "metadata", "set "+string(field), fmt.Sprintf(format, args...), nil)
}

// Set parses value for field and stores it as a user edit. Lists are comma
// separated; an empty value clears the field.
func (f *Facade) Set(field Field, value string) error {
	value = strings.TrimSpace(value)
	switch field {
	case FieldISBN:
		return f.SetISBN(value)
	case FieldLanguage:
		return f.SetLanguage(value)
	case FieldTitle, FieldPublisher, FieldDescription, FieldNotes:
		f.edit(field, func(r *Record) { *stringField(r, field) = value })
		return nil
	case FieldAuthors, FieldKeywords:
		list := splitList(value)
		f.edit(field, func(r *Record) { *listField(r, field) = list })
		return nil
	case FieldPageCount, FieldYear, FieldPageOffset:
		n := 0
		if value != "" {
			parsed, err := strconv.Atoi(value)
			if err != nil {
				return invalid(field, "%q is not a number", value)
			}
			n = parsed
		}
		return f.SetNumber(field, n)
	default:
		return invalid(field, "unknown field")
	}
}

// SetISBN stores a validated ISBN in its 13 digit form.
func (f *Facade) SetISBN(value string) error {
	isbn := ""
	if strings.TrimSpace(value) != "" {
		var err error
		if isbn, err = NormalizeISBN(value); err != nil {
			return invalid(FieldISBN, "%q is not a valid ISBN", value)
		}
	}
	f.edit(FieldISBN, func(r *Record) { r.ISBN = isbn })
	return nil
}

// SetLanguage stores a BCP 47 tag; English language names are accepted.
func (f *Facade) SetLanguage(value string) error {
	tag := ""
	if strings.TrimSpace(value) != "" {
		var ok bool
		if tag, ok = language.CanonicalTag(value); !ok {
			return invalid(FieldLanguage, "%q is not a language tag", value)
		}
	}
	f.edit(FieldLanguage, func(r *Record) { r.Language = tag })
	return nil
}

// SetNumber stores page count, year or page offset. Page count and year
// must not be negative; the offset may be.
func (f *Facade) SetNumber(field Field, n int) error {
	switch field {
	case FieldPageCount, FieldYear:
		if n < 0 {
			return invalid(field, "must not be negative")
		}
	case FieldPageOffset:
	default:
		return invalid(field, "not a numeric field")
	}
	f.edit(field, func(r *Record) {
		switch field {
		case FieldPageCount:
			r.NumberOfPages = n
		case FieldYear:
			r.Year = n
		default:
			r.PageOffset = n
		}
	})
	return nil
}

// SetTitle stores the title as a user edit.
func (f *Facade) SetTitle(title string) { _ = f.Set(FieldTitle, title) }

// SetAuthors stores the author list as a user edit.
func (f *Facade) SetAuthors(authors []string) {
	list := cleanList(authors)
	f.edit(FieldAuthors, func(r *Record) { r.Authors = list })
}

// SetKeywords stores the keyword list as a user edit.
func (f *Facade) SetKeywords(keywords []string) {
	list := cleanList(keywords)
	f.edit(FieldKeywords, func(r *Record) { r.Keywords = list })
}

func (f *Facade) edit(field Field, apply func(*Record)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	apply(&f.rec)
	f.edited[field] = true
	f.dirty = true
}

func stringField(r *Record, field Field) *string {
	switch field {
	case FieldTitle:
		return &r.Title
	case FieldPublisher:
		return &r.Publisher
	case FieldDescription:
		return &r.Description
	default:
		return &r.Notes
	}
}

func listField(r *Record, field Field) *[]string {
	if field == FieldAuthors {
		return &r.Authors
	}
	return &r.Keywords
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	return cleanList(strings.Split(value, ","))
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Resolved is a partial record returned by a resolver. Nil pointers and
// empty lists mean the resolver had no value for the field.
type Resolved struct {
	Title       *string
	Authors     []string
	Publisher   *string
	Language    *string
	PageCount   *int
	Year        *int
	Keywords    []string
	Description *string
}

// ApplyResolved merges the fields present in r. Fields the user edited since
// open keep their value. It returns the fields that changed.
func (f *Facade) ApplyResolved(isbn string, r Resolved) []Field {
	f.mu.Lock()
	defer f.mu.Unlock()

	var applied []Field
	setString := func(field Field, dst *string, v *string) {
		if v == nil || f.edited[field] {
			return
		}
		if s := strings.TrimSpace(*v); s != "" && s != *dst {
			*dst = s
			applied = append(applied, field)
		}
	}
	setInt := func(field Field, dst *int, v *int) {
		if v == nil || f.edited[field] || *v <= 0 || *v == *dst {
			return
		}
		*dst = *v
		applied = append(applied, field)
	}
	setList := func(field Field, dst *[]string, v []string) {
		list := cleanList(v)
		if len(list) == 0 || f.edited[field] || slices.Equal(list, *dst) {
			return
		}
		*dst = list
		applied = append(applied, field)
	}

	if normalized, err := NormalizeISBN(isbn); err == nil && !f.edited[FieldISBN] && normalized != f.rec.ISBN {
		f.rec.ISBN = normalized
		applied = append(applied, FieldISBN)
	}
	setString(FieldTitle, &f.rec.Title, r.Title)
	setList(FieldAuthors, &f.rec.Authors, r.Authors)
	setString(FieldPublisher, &f.rec.Publisher, r.Publisher)
	if r.Language != nil {
		if tag, ok := language.CanonicalTag(language.ToISO2(*r.Language)); ok {
			setString(FieldLanguage, &f.rec.Language, &tag)
		}
	}
	setInt(FieldPageCount, &f.rec.NumberOfPages, r.PageCount)
	setInt(FieldYear, &f.rec.Year, r.Year)
	setList(FieldKeywords, &f.rec.Keywords, r.Keywords)
	setString(FieldDescription, &f.rec.Description, r.Description)

	if len(applied) > 0 {
		f.dirty = true
	}
	return applied
}

// Resolver looks up bibliographic data by ISBN.
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, isbn string) (Resolved, error)
}

// Resolve asks resolver for the record's ISBN and merges the answer. Any
// resolver failure leaves the metadata unchanged.
func (f *Facade) Resolve(ctx context.Context, resolver Resolver) ([]Field, error) {
	isbn := f.Record().ISBN
	if isbn == "" {
		return nil, services.Wrap(services.ErrMetadataResolutionFailed, "metadata", "resolve", "no ISBN set", nil)
	}
	if resolver == nil {
		return nil, services.Wrap(services.ErrMetadataResolutionFailed, "metadata", "resolve", "no resolver configured", nil)
	}
	resolved, err := resolver.Resolve(ctx, isbn)
	if err != nil {
		logging.WarnWithContext(f.logger, "metadata resolution failed", "metadata_resolve_failed",
			logging.String("isbn", isbn),
			logging.String("resolver", resolver.Name()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check network access or enter the fields by hand"),
		)
		return nil, services.Wrap(services.ErrMetadataResolutionFailed, "metadata", "resolve", resolver.Name()+" "+isbn, err)
	}
	applied := f.ApplyResolved(isbn, resolved)
	f.logger.Info("metadata resolved",
		logging.String("isbn", isbn),
		logging.String("resolver", resolver.Name()),
		logging.Int("fields_applied", len(applied)),
	)
	return applied, nil
}

// Save writes the metadata file. It does not retry.
func (f *Facade) Save() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.rec.clone()
	rec.Path = f.dir
	if err := write(f.dir, rec); err != nil {
		return services.WrapPath(services.ErrPersistence, "metadata", "save", f.dir, err)
	}
	f.dirty = false
	return nil
}
