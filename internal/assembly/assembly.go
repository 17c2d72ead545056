package assembly

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"folio/internal/book"
	"folio/internal/imageio"
	"folio/internal/logging"
	"folio/internal/pagestore"
	"folio/internal/services"
)

// Resolution answers one overwrite conflict.
type Resolution string

const (
	// Overwrite replaces the existing file; the page keeps its id and role
	// and its derived artifacts are recomputed.
	Overwrite Resolution = "overwrite"
	// Skip drops the leaf and leaves the existing file alone.
	Skip Resolution = "skip"
	// Rename writes the leaf under the next free index, right after the
	// existing page.
	Rename Resolution = "rename"
)

// ParseResolution accepts overwrite, skip or rename.
func ParseResolution(value string) (Resolution, error) {
	switch r := Resolution(strings.ToLower(strings.TrimSpace(value))); r {
	case Overwrite, Skip, Rename:
		return r, nil
	}
	return "", services.Wrap(services.ErrInvalidParameters, "assembly", "parse resolution",
		fmt.Sprintf("%q is not one of overwrite, skip, rename", value), nil)
}

// ConflictError lists the existing page files a commit would write over.
// It matches services.ErrOverwriteConflict.
type ConflictError struct {
	Paths []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %d page file(s) already exist: %s",
		services.ErrOverwriteConflict, len(e.Paths), strings.Join(e.Paths, ", "))
}

func (e *ConflictError) Is(target error) bool { return target == services.ErrOverwriteConflict }

// Batch is a set of leaves to add to the book in capture order.
type Batch struct {
	Leaves []image.Image
	// FirstIndex is the file index of the first leaf; zero appends after the
	// highest index in use.
	FirstIndex int
	// StartRole is the role of the first leaf; following leaves alternate.
	StartRole pagestore.Role
	// Resolutions answers conflicts by existing file path.
	Resolutions map[string]Resolution
}

// Result describes what a commit did to the book.
type Result struct {
	Added    []int64  `json:"added"`
	Replaced []int64  `json:"replaced"`
	Skipped  []string `json:"skipped"`
	Files    []string `json:"files"`
}

type action int

const (
	actionAppend action = iota
	actionReplace
	actionInsertAfter
)

type placement struct {
	leaf   image.Image
	role   pagestore.Role
	path   string
	action action
	// pageID is the replaced page, or the anchor of a renamed leaf.
	pageID int64
	// old is the file being replaced.
	old string
}

// Engine materialises leaves into the open book and applies role policies
// to its pages.
type Engine struct {
	book   *book.Book
	store  *pagestore.Store
	logger *slog.Logger

	// mu serializes commits and removals against the folder.
	mu sync.Mutex
}

// New returns an engine writing into b and recording pages in store.
func New(b *book.Book, store *pagestore.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{book: b, store: store, logger: logger}
}

// Commit writes the batch. Unresolved collisions with existing files fail
// with a *ConflictError before anything is written. Files are written
// all-or-nothing; the store only changes once every file is in place.
func (e *Engine) Commit(ctx context.Context, batch Batch) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(batch.Leaves) == 0 {
		return Result{}, services.Wrap(services.ErrInvalidParameters, "assembly", "commit", "no leaves to commit", nil)
	}
	placements, skipped, err := e.plan(batch)
	if err != nil {
		return Result{}, err
	}
	if err := e.materialise(ctx, placements); err != nil {
		logging.WarnWithContext(e.logger, "commit aborted; book folder left unchanged", "commit_failed",
			logging.Int("leaves", len(batch.Leaves)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "no pages were added"),
		)
		return Result{}, err
	}
	result := e.apply(placements)
	result.Skipped = skipped
	e.logger.Info("leaves committed",
		logging.Int("added", len(result.Added)),
		logging.Int("replaced", len(result.Replaced)),
		logging.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

// Import adds existing image files of any readable format, converted to
// the book's page format.
func (e *Engine) Import(ctx context.Context, paths []string, start pagestore.Role, resolutions map[string]Resolution) (Result, error) {
	leaves := make([]image.Image, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		img, err := imageio.Load(path)
		if err != nil {
			return Result{}, &services.Error{
				Kind:      services.ErrInvalidParameters,
				Component: "assembly",
				Op:        "import",
				Message:   "cannot read image",
				Path:      path,
				Err:       err,
			}
		}
		leaves = append(leaves, img)
	}
	return e.Commit(ctx, Batch{Leaves: leaves, StartRole: start, Resolutions: resolutions})
}

func (e *Engine) plan(batch Batch) ([]placement, []string, error) {
	files, err := e.book.Pages()
	if err != nil {
		return nil, nil, err
	}
	tracked := map[string]pagestore.Page{}
	for _, p := range e.store.Snapshot() {
		if p.Source.IsFile() {
			tracked[p.Source.Path] = p
		}
	}
	existing := map[int]string{}
	for _, f := range files {
		if f.Printed {
			continue
		}
		if _, ok := existing[f.Number]; !ok {
			existing[f.Number] = e.book.Join(f.Name)
		}
	}

	next := book.NextIndex(files)
	first := batch.FirstIndex
	if first <= 0 {
		first = next
	}
	count := max(len(files)+len(batch.Leaves), first+len(batch.Leaves))
	renameNext := max(next, first+len(batch.Leaves))
	roles := FlipAll(len(batch.Leaves), batch.StartRole)

	var (
		placements []placement
		skipped    []string
		conflicts  []string
	)
	for i, leaf := range batch.Leaves {
		index := first + i
		role := roles[i]
		old, clash := existing[index]
		if !clash {
			placements = append(placements, placement{leaf: leaf, role: role, path: e.book.PagePath(index, role, count)})
			continue
		}
		res, ok := batch.Resolutions[old]
		if !ok {
			conflicts = append(conflicts, old)
			continue
		}
		switch res {
		case Skip:
			skipped = append(skipped, old)
		case Overwrite:
			p := placement{leaf: leaf, role: role, old: old}
			if page, ok := tracked[old]; ok {
				// the replaced page keeps its side of the leaf
				p.role = page.Role
				p.action = actionReplace
				p.pageID = page.ID
			}
			p.path = e.book.PagePath(index, p.role, count)
			placements = append(placements, p)
		case Rename:
			for {
				if _, used := existing[renameNext]; !used {
					break
				}
				renameNext++
			}
			p := placement{leaf: leaf, role: role, path: e.book.PagePath(renameNext, role, max(count, renameNext))}
			if page, ok := tracked[old]; ok {
				p.action = actionInsertAfter
				p.pageID = page.ID
			}
			placements = append(placements, p)
			renameNext++
		default:
			return nil, nil, services.Wrap(services.ErrInvalidParameters, "assembly", "commit",
				fmt.Sprintf("unknown resolution %q for %s", res, old), nil)
		}
	}
	if len(conflicts) > 0 {
		return nil, nil, &ConflictError{Paths: conflicts}
	}
	return placements, skipped, nil
}

type stage struct {
	tmp    string
	final  string
	old    string
	backup string
	placed bool
}

func (s *stage) undo() {
	if s.placed {
		_ = os.Remove(s.final)
	} else if s.tmp != "" {
		_ = os.Remove(s.tmp)
	}
	if s.backup != "" {
		_ = os.Rename(s.backup, s.old)
	}
}

// materialise encodes every leaf to a temporary file, moves replaced files
// aside, then renames the temporaries into place. Any failure undoes all
// steps taken so far.
func (e *Engine) materialise(ctx context.Context, placements []placement) (err error) {
	stages := make([]*stage, 0, len(placements))
	defer func() {
		if err == nil {
			return
		}
		for i := len(stages) - 1; i >= 0; i-- {
			stages[i].undo()
		}
	}()

	for _, p := range placements {
		if err := ctx.Err(); err != nil {
			return err
		}
		tmp, err := e.encode(p.leaf)
		if err != nil {
			return err
		}
		stages = append(stages, &stage{tmp: tmp, final: p.path, old: p.old})
	}
	for _, s := range stages {
		if s.old == "" {
			continue
		}
		backup, err := reserveName(filepath.Dir(s.old), ".folio-backup-*")
		if err != nil {
			return services.WrapPath(services.ErrPersistence, "assembly", "back up page", s.old, err)
		}
		if err := os.Rename(s.old, backup); err != nil {
			_ = os.Remove(backup)
			return services.WrapPath(services.ErrPersistence, "assembly", "back up page", s.old, err)
		}
		s.backup = backup
	}
	for _, s := range stages {
		if _, err := os.Lstat(s.final); err == nil {
			return &ConflictError{Paths: []string{s.final}}
		}
		if err := os.Rename(s.tmp, s.final); err != nil {
			return services.WrapPath(services.ErrPersistence, "assembly", "write page", s.final, err)
		}
		s.placed = true
	}
	for _, s := range stages {
		if s.backup == "" {
			continue
		}
		if err := os.Remove(s.backup); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.logger.Warn("replaced page file left behind",
				logging.String("path", s.backup),
				logging.Error(err),
				logging.String(logging.FieldEventType, "backup_cleanup_failed"),
			)
		}
	}
	return nil
}

func (e *Engine) encode(leaf image.Image) (string, error) {
	ext := e.book.Extension()
	tmp, err := os.CreateTemp(e.book.Path(), ".folio-*"+ext)
	if err != nil {
		return "", services.WrapPath(services.ErrPersistence, "assembly", "stage page", e.book.Path(), err)
	}
	name := tmp.Name()
	if err := imageio.Encode(tmp, leaf, ext); err != nil {
		tmp.Close()
		os.Remove(name)
		return "", services.WrapPath(services.ErrPersistence, "assembly", "encode page", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return "", services.WrapPath(services.ErrPersistence, "assembly", "stage page", name, err)
	}
	return name, nil
}

func reserveName(dir, pattern string) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// apply records written files in the store. The files are already in
// place, so store failures are logged rather than rolled back; the pages
// are picked up again when the book is reopened.
func (e *Engine) apply(placements []placement) Result {
	var result Result
	lastAfter := map[int64]int64{}
	warn := func(path string, err error) {
		logging.WarnWithContext(e.logger, "page written but not recorded", "page_record_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "page appears after reopening the book"),
		)
	}
	for _, p := range placements {
		result.Files = append(result.Files, p.path)
		page := pagestore.Page{Source: pagestore.Source{Path: p.path}, Role: p.role}
		switch p.action {
		case actionReplace:
			if err := e.store.SetSource(p.pageID, page.Source); err != nil {
				warn(p.path, err)
				continue
			}
			result.Replaced = append(result.Replaced, p.pageID)
		case actionInsertAfter:
			anchor := p.pageID
			if last, ok := lastAfter[p.pageID]; ok {
				anchor = last
			}
			position := e.store.Len()
			if existing, ok := e.store.Get(anchor); ok {
				position = existing.Position + 1
			}
			stored, err := e.store.InsertAt(position, page)
			if err != nil {
				warn(p.path, err)
				continue
			}
			lastAfter[p.pageID] = stored.ID
			result.Added = append(result.Added, stored.ID)
		default:
			stored, err := e.store.Append(page)
			if err != nil {
				warn(p.path, err)
				continue
			}
			result.Added = append(result.Added, stored.ID)
		}
	}
	return result
}

// Remove deletes a page from the book and its image file from the folder.
func (e *Engine) Remove(id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	page, ok := e.store.Get(id)
	if !ok {
		return services.Wrap(services.ErrNotFound, "assembly", "remove", fmt.Sprintf("page %d", id), nil)
	}
	if !page.Source.IsFile() {
		return e.store.Remove(id)
	}
	backup, err := reserveName(e.book.Path(), ".folio-backup-*")
	if err != nil {
		return services.WrapPath(services.ErrPersistence, "assembly", "remove", page.Source.Path, err)
	}
	moved := true
	if err := os.Rename(page.Source.Path, backup); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			_ = os.Remove(backup)
			return services.WrapPath(services.ErrPersistence, "assembly", "remove", page.Source.Path, err)
		}
		moved = false
	}
	if err := e.store.Remove(id); err != nil {
		if moved {
			_ = os.Rename(backup, page.Source.Path)
		} else {
			_ = os.Remove(backup)
		}
		return err
	}
	_ = os.Remove(backup)
	e.logger.Info("page removed",
		logging.Int64(logging.FieldPageID, id),
		logging.String("path", page.Source.Path),
	)
	return nil
}
