package assembly

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"slices"
	"time"

	"folio/internal/book"
	"folio/internal/imageio"
	"folio/internal/logging"
	"folio/internal/pagestore"
	"folio/internal/services"
)

// RenumberOrder selects the order Renumber hands out file indexes in.
type RenumberOrder string

const (
	// ByPosition numbers pages in reading order.
	ByPosition RenumberOrder = "position"
	// ByMTime numbers pages in the order their files were written and
	// rearranges the book to match.
	ByMTime RenumberOrder = "mtime"
)

// ParseRenumberOrder accepts position or mtime.
func ParseRenumberOrder(value string) (RenumberOrder, error) {
	switch o := RenumberOrder(value); o {
	case ByPosition, ByMTime:
		return o, nil
	case "":
		return ByPosition, nil
	}
	return "", services.Wrap(services.ErrInvalidParameters, "assembly", "renumber",
		fmt.Sprintf("%q is not one of position, mtime", value), nil)
}

// RenumberOptions configure Renumber.
type RenumberOptions struct {
	Order RenumberOrder
	// DryRun plans the renames without touching the folder or the book.
	DryRun bool
	// Resolutions answers conflicts with files outside the book by path.
	// Overwrite replaces the file, Skip keeps the page's current name.
	Resolutions map[string]Resolution
}

// Rename is one page file rename.
type Rename struct {
	ID   int64  `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
}

// RenumberResult describes what Renumber did, or would do on a dry run.
type RenumberResult struct {
	Renamed  []Rename `json:"renamed"`
	Replaced []string `json:"replaced,omitempty"`
	Skipped  []string `json:"skipped,omitempty"`
	DryRun   bool     `json:"dry_run,omitempty"`
}

type numbered struct {
	page  pagestore.Page
	mtime time.Time
	// file is false for pages without a readable file; they keep their name.
	file bool
}

// Renumber rewrites the file indexes of the book densely from 1 in the
// chosen order. Printed page numbers are replaced by indexes. Page titles,
// roles and extensions are kept. Targets taken by files the book does not
// track raise a *ConflictError unless resolved.
func (e *Engine) Renumber(ctx context.Context, opts RenumberOptions) (RenumberResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := e.store.Snapshot()
	pages := make([]numbered, 0, len(snapshot))
	for _, p := range snapshot {
		n := numbered{page: p}
		if p.Source.IsFile() {
			if info, err := os.Stat(p.Source.Path); err == nil {
				n.mtime, n.file = info.ModTime(), true
			}
		}
		pages = append(pages, n)
	}
	arrange := false
	if opts.Order == ByMTime {
		slices.SortStableFunc(pages, func(a, b numbered) int {
			if a.file != b.file {
				if a.file {
					return -1
				}
				return 1
			}
			return a.mtime.Compare(b.mtime)
		})
		for i, n := range pages {
			if n.page.ID != snapshot[i].ID {
				arrange = true
				break
			}
		}
	}

	count := 0
	for _, n := range pages {
		if n.file {
			count++
		}
	}
	width := book.PadWidth(count)
	var (
		moves  []move
		index  int
		result = RenumberResult{DryRun: opts.DryRun}
	)
	for _, n := range pages {
		if !n.file {
			continue
		}
		index++
		name := filepath.Base(n.page.Source.Path)
		title, ext := e.book.Title(), filepath.Ext(name)
		if pf, ok := book.ParseFileName(name); ok {
			title = pf.Title
		}
		to := filepath.Join(filepath.Dir(n.page.Source.Path), book.FileName(title, index, n.page.Role, ext, width))
		if to != n.page.Source.Path {
			moves = append(moves, move{id: n.page.ID, from: n.page.Source.Path, to: to})
		}
	}

	moves, evict, skipped, err := resolveTargets(moves, opts.Resolutions)
	if err != nil {
		return RenumberResult{}, err
	}
	result.Replaced, result.Skipped = evict, skipped
	for _, m := range moves {
		result.Renamed = append(result.Renamed, Rename{ID: m.id, From: filepath.Base(m.from), To: filepath.Base(m.to)})
	}
	if opts.DryRun {
		return result, nil
	}

	updates := make([]pagestore.RoleUpdate, 0, len(moves))
	for _, m := range moves {
		page, _ := e.store.Get(m.id)
		updates = append(updates, pagestore.RoleUpdate{ID: m.id, Role: page.Role, Path: m.to})
	}
	order := make([]int64, len(pages))
	for i, n := range pages {
		order[i] = n.page.ID
	}
	err = e.relocate(ctx, moves, evict, func() error {
		if arrange {
			if err := e.store.Arrange(order); err != nil {
				return err
			}
		}
		return e.store.SetRoles(updates)
	})
	if err != nil {
		return RenumberResult{}, err
	}
	e.logger.Info("pages renumbered",
		logging.String("order", string(cmp.Or(opts.Order, ByPosition))),
		logging.Int("renamed", len(moves)),
		logging.Int("replaced", len(evict)),
		logging.Int("skipped", len(skipped)),
	)
	return result, nil
}

// resolveTargets applies resolutions to targets taken by files that are not
// moving away. It returns the moves to perform, the files to replace and
// the files whose page keeps its name.
func resolveTargets(moves []move, resolutions map[string]Resolution) ([]move, []string, []string, error) {
	leaving := make(map[string]bool, len(moves))
	for _, m := range moves {
		leaving[m.from] = true
	}
	var (
		kept      []move
		evict     []string
		skipped   []string
		conflicts []string
	)
	for _, m := range moves {
		if leaving[m.to] {
			kept = append(kept, m)
			continue
		}
		if _, err := os.Lstat(m.to); err != nil {
			kept = append(kept, m)
			continue
		}
		res, ok := resolutions[m.to]
		if !ok {
			conflicts = append(conflicts, m.to)
			continue
		}
		switch res {
		case Overwrite:
			evict = append(evict, m.to)
			kept = append(kept, m)
		case Skip:
			skipped = append(skipped, m.to)
		default:
			return nil, nil, nil, services.Wrap(services.ErrInvalidParameters, "assembly", "renumber",
				fmt.Sprintf("%s cannot resolve %s while renumbering", res, m.to), nil)
		}
	}
	if len(conflicts) > 0 {
		return nil, nil, nil, &ConflictError{Paths: conflicts}
	}
	if len(skipped) > 0 {
		// a page left in place may sit on another page's target
		staying := map[string]bool{}
		for _, m := range moves {
			staying[m.from] = true
		}
		for _, m := range kept {
			delete(staying, m.from)
		}
		var clash []string
		for _, m := range kept {
			if staying[m.to] {
				clash = append(clash, m.to)
			}
		}
		if len(clash) > 0 {
			return nil, nil, nil, &ConflictError{Paths: clash}
		}
	}
	return kept, evict, skipped, nil
}

// Duplicate is a page number used by more than one file.
type Duplicate struct {
	Number  int      `json:"number"`
	Printed bool     `json:"printed,omitempty"`
	Files   []string `json:"files"`
}

// Report lists the inconsistencies Check found in the book folder.
type Report struct {
	Duplicates []Duplicate `json:"duplicates"`
	// Gaps are file indexes missing between 1 and the highest index.
	Gaps []int `json:"gaps"`
	// PrintedGaps are printed page numbers missing between the lowest and
	// the highest printed number.
	PrintedGaps []int `json:"printed_gaps"`
	// Unrecognised are image files outside the page naming scheme.
	Unrecognised []string `json:"unrecognised"`
	// MissingFiles are pages whose file is gone.
	MissingFiles []int64 `json:"missing_files"`
}

// Clean reports whether the book has no inconsistency.
func (r Report) Clean() bool {
	return len(r.Duplicates) == 0 && len(r.Gaps) == 0 && len(r.PrintedGaps) == 0 &&
		len(r.Unrecognised) == 0 && len(r.MissingFiles) == 0
}

// Check looks for duplicate page numbers and missing pages.
func (e *Engine) Check() (Report, error) {
	files, ignored, err := e.book.Scan()
	if err != nil {
		return Report{}, err
	}
	report := Report{Unrecognised: ignored}

	type key struct {
		number  int
		printed bool
	}
	names := map[key][]string{}
	var (
		order         []key
		maxIndex      int
		minPrinted    = -1
		maxPrinted    int
		indexes       = map[int]bool{}
		printedNumber = map[int]bool{}
	)
	for _, f := range files {
		k := key{f.Number, f.Printed}
		if _, seen := names[k]; !seen {
			order = append(order, k)
		}
		names[k] = append(names[k], f.Name)
		if f.Printed {
			printedNumber[f.Number] = true
			if minPrinted < 0 || f.Number < minPrinted {
				minPrinted = f.Number
			}
			maxPrinted = max(maxPrinted, f.Number)
			continue
		}
		indexes[f.Number] = true
		maxIndex = max(maxIndex, f.Number)
	}
	for _, k := range order {
		if len(names[k]) > 1 {
			report.Duplicates = append(report.Duplicates, Duplicate{Number: k.number, Printed: k.printed, Files: names[k]})
		}
	}
	for i := 1; i < maxIndex; i++ {
		if !indexes[i] {
			report.Gaps = append(report.Gaps, i)
		}
	}
	for i := minPrinted + 1; minPrinted >= 0 && i < maxPrinted; i++ {
		if !printedNumber[i] {
			report.PrintedGaps = append(report.PrintedGaps, i)
		}
	}
	for _, p := range e.store.Snapshot() {
		if !p.Source.IsFile() {
			continue
		}
		if _, err := os.Stat(p.Source.Path); errors.Is(err, os.ErrNotExist) {
			report.MissingFiles = append(report.MissingFiles, p.ID)
		}
	}
	if !report.Clean() {
		e.logger.Info("book check found problems",
			logging.Int("duplicates", len(report.Duplicates)),
			logging.Int("gaps", len(report.Gaps)),
			logging.Int("printed_gaps", len(report.PrintedGaps)),
			logging.Int("unrecognised", len(report.Unrecognised)),
			logging.Int("missing_files", len(report.MissingFiles)),
			logging.String(logging.FieldEventType, "book_check"),
		)
	}
	return report, nil
}

// Orientation guessing compares the ink in a band at the top of the page
// with the same band at the bottom.
const (
	orientBandHeight = 100
	orientBandWidth  = 400
)

// GuessRole returns Recto when the top band of img carries more ink than
// the bottom band, Verso otherwise. invert swaps the answer for scanners
// that feed leaves the other way up.
func GuessRole(img image.Image, invert bool) pagestore.Role {
	b := img.Bounds()
	height := min(orientBandHeight, b.Dy()/2)
	width := min(orientBandWidth, b.Dx())
	ink := func(y0 int) int64 {
		var sum int64
		for y := y0; y < y0+height; y++ {
			for x := b.Min.X; x < b.Min.X+width; x++ {
				sum += 255 - int64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
			}
		}
		return sum
	}
	recto := ink(b.Min.Y) > ink(b.Max.Y-height)
	if invert {
		recto = !recto
	}
	if recto {
		return pagestore.Recto
	}
	return pagestore.Verso
}

// Orient guesses the role of pages whose file name carries no role letter
// and renames them to record it. It returns the ids of the pages it set.
func (e *Engine) Orient(ctx context.Context, invert bool) ([]int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		updates []pagestore.RoleUpdate
		ids     []int64
	)
	for _, p := range e.store.Snapshot() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !p.Source.IsFile() {
			continue
		}
		pf, ok := book.ParseFileName(filepath.Base(p.Source.Path))
		if !ok || pf.RoleSet {
			continue
		}
		img, err := imageio.Load(p.Source.Path)
		if err != nil {
			return nil, services.WrapPath(services.ErrPersistence, "assembly", "orient", p.Source.Path, err)
		}
		role := GuessRole(img, invert)
		updates = append(updates, pagestore.RoleUpdate{ID: p.ID, Role: role})
		ids = append(ids, p.ID)
		e.logger.Debug("page orientation guessed",
			logging.Int64(logging.FieldPageID, p.ID),
			logging.String("role", role.String()),
		)
	}
	if err := e.setRoles(ctx, updates); err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		e.logger.Info("page orientation set", logging.Int("pages", len(ids)))
	}
	return ids, nil
}
