package book

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"folio/internal/imageio"
	"folio/internal/pagestore"
)

// MinPadWidth is the smallest zero padding used for page indexes.
const MinPadWidth = 3

// PageFile is a page image file name decomposed into its parts.
//
//	<title>.<index>.<role>.<ext>    page.012.v.png
//	<title>.p<number>.<role>.<ext>  page.p012.r.png (printed page number)
//	<title>.<index>.<ext>           page.012.png    (role unset)
type PageFile struct {
	Name    string
	Title   string
	Number  int
	Printed bool
	Role    pagestore.Role
	RoleSet bool
	Ext     string
}

// PadWidth returns the index width for a book holding count pages.
func PadWidth(count int) int {
	return max(MinPadWidth, len(strconv.Itoa(max(count, 0))))
}

// FileName builds the name of a page file. ext may be given with or without
// its leading dot.
func FileName(title string, index int, role pagestore.Role, ext string, width int) string {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%s.%0*d.%s%s", title, max(width, 1), index, role.Letter(), ext)
}

// ParseFileName decomposes name. It reports false for names that do not
// follow the page naming scheme or carry an extension folio cannot decode.
func ParseFileName(name string) (PageFile, bool) {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || !imageio.IsImageFile(base) {
		return PageFile{}, false
	}
	ext := filepath.Ext(base)
	parts := strings.Split(strings.TrimSuffix(base, ext), ".")
	if len(parts) < 2 {
		return PageFile{}, false
	}
	pf := PageFile{Name: base, Ext: strings.ToLower(ext)}

	last := parts[len(parts)-1]
	if len(parts) >= 3 && isRoleToken(last) {
		if last != "x" {
			role, err := pagestore.ParseRole(last)
			if err != nil {
				return PageFile{}, false
			}
			pf.Role = role
			pf.RoleSet = true
		}
		parts = parts[:len(parts)-1]
	}

	number := parts[len(parts)-1]
	if strings.HasPrefix(number, "p") {
		pf.Printed = true
		number = number[1:]
	}
	n, err := strconv.Atoi(number)
	if err != nil || n < 0 || strings.HasPrefix(number, "+") {
		return PageFile{}, false
	}
	pf.Number = n
	pf.Title = strings.Join(parts[:len(parts)-1], ".")
	if pf.Title == "" {
		return PageFile{}, false
	}
	return pf, true
}

// WithRole returns name with its role letter set to role's, adding one when
// the name carries none. Everything else in the name is kept. It reports
// false for names outside the page naming scheme.
func WithRole(name string, role pagestore.Role) (string, bool) {
	pf, ok := ParseFileName(name)
	if !ok {
		return "", false
	}
	ext := filepath.Ext(pf.Name)
	stem := strings.TrimSuffix(pf.Name, ext)
	parts := strings.Split(stem, ".")
	if len(parts) >= 3 && isRoleToken(parts[len(parts)-1]) {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, ".") + "." + role.Letter() + ext, true
}

func isRoleToken(s string) bool {
	switch s {
	case "r", "v", "s", "x":
		return true
	}
	return false
}

// PrintedNumber maps a zero-based reading position to the number printed on
// the page. offset is the number of the first page and may be zero or
// negative for unnumbered front matter.
func PrintedNumber(offset, position int) int {
	return offset + position
}

// ScanFolder lists the page files of dir sorted by number then name. Names
// that look like images but do not follow the scheme are returned separately
// so callers can report them.
func ScanFolder(dir string) ([]PageFile, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	var (
		pages   []PageFile
		ignored []string
	)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		pf, ok := ParseFileName(name)
		if !ok {
			if imageio.IsImageFile(name) {
				ignored = append(ignored, name)
			}
			continue
		}
		pages = append(pages, pf)
	}
	slices.SortFunc(pages, func(a, b PageFile) int {
		if a.Number != b.Number {
			return a.Number - b.Number
		}
		return strings.Compare(a.Name, b.Name)
	})
	return pages, ignored, nil
}

// GuessExtension returns the most frequent image extension among pages, or
// fallback when there are none.
func GuessExtension(pages []PageFile, fallback string) string {
	counts := map[string]int{}
	best, bestCount := fallback, 0
	for _, p := range pages {
		counts[p.Ext]++
	}
	for ext, n := range counts {
		if n > bestCount || (n == bestCount && ext < best) {
			best, bestCount = ext, n
		}
	}
	return best
}

// NextIndex returns the first file index greater than every index in pages.
// Printed page numbers do not take part.
func NextIndex(pages []PageFile) int {
	next := 1
	for _, p := range pages {
		if !p.Printed && p.Number >= next {
			next = p.Number + 1
		}
	}
	return next
}
