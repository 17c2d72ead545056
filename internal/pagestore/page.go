package pagestore

import (
	"fmt"
	"strings"
)

// Role is a page's side of the leaf.
type Role int

const (
	// Recto is the front of a leaf (right-hand page).
	Recto Role = iota
	// Verso is the back of a leaf; its scan is upside down and rendered rotated 180°.
	Verso
	// Single is a page with no facing partner (covers, plates, fold-outs).
	Single
)

func (r Role) String() string {
	switch r {
	case Recto:
		return "recto"
	case Verso:
		return "verso"
	case Single:
		return "single"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Letter is the one-letter form used in page file names.
func (r Role) Letter() string {
	switch r {
	case Verso:
		return "v"
	case Single:
		return "s"
	default:
		return "r"
	}
}

// Opposite returns the role a following page takes when alternating.
func (r Role) Opposite() Role {
	if r == Recto {
		return Verso
	}
	return Recto
}

// ParseRole accepts "recto", "verso", "single" or their first letters.
func ParseRole(value string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "recto", "r":
		return Recto, nil
	case "verso", "v":
		return Verso, nil
	case "single", "s":
		return Single, nil
	default:
		return Recto, fmt.Errorf("unknown page role %q", value)
	}
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(data []byte) error {
	parsed, err := ParseRole(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Source locates a page's image: a file in the book folder, or an in-memory
// encoded buffer for leaves that have not been written yet.
type Source struct {
	Path   string `json:"path,omitempty"`
	Buffer []byte `json:"-"`
}

// IsFile reports whether the source is a file on disk.
func (s Source) IsFile() bool { return s.Path != "" }

// Kind names a derived artifact.
type Kind string

const (
	KindThumbnail Kind = "thumbnail"
	KindOCR       Kind = "ocr"
)

// Derived is a cached artifact computed from a page's source. Dirty is set
// until a value computed from the current source revision has been stored.
type Derived struct {
	Value string `json:"value,omitempty"`
	Dirty bool   `json:"dirty"`
}

// Page is one page of the book. Values handed out by the store are copies.
// Revision increments whenever the source or the orientation OCR reads it
// in changes; derived values computed from an older revision are discarded.
type Page struct {
	ID        int64   `json:"id"`
	Source    Source  `json:"source"`
	Role      Role    `json:"role"`
	Position  int     `json:"position"`
	Revision  int64   `json:"revision"`
	Thumbnail Derived `json:"thumbnail"`
	OCR       Derived `json:"ocr"`
}

// Artifact returns the derived entry of the given kind.
func (p Page) Artifact(kind Kind) Derived {
	if kind == KindOCR {
		return p.OCR
	}
	return p.Thumbnail
}

func (p *Page) artifact(kind Kind) *Derived {
	if kind == KindOCR {
		return &p.OCR
	}
	return &p.Thumbnail
}

func (p Page) clone() Page {
	if p.Source.Buffer != nil {
		p.Source.Buffer = append([]byte(nil), p.Source.Buffer...)
	}
	return p
}
