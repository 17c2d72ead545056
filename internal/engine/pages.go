package engine

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"folio/internal/book"
	"folio/internal/bookdb"
	"folio/internal/logging"
	"folio/internal/pagestore"
)

// load fills the store from the database and the folder. Stored pages whose
// file is gone are dropped; page files the database does not know are
// appended in file order with the role their name carries.
func (e *Engine) load(ctx context.Context) error {
	records, err := e.db.Pages(ctx)
	if err != nil {
		return err
	}
	files, err := e.book.Pages()
	if err != nil {
		return err
	}
	next, err := e.db.NextPageID(ctx)
	if err != nil {
		return err
	}

	onDisk := make(map[string]book.PageFile, len(files))
	for _, f := range files {
		onDisk[f.Name] = f
	}
	known := make(map[string]bool, len(records))
	pages := make([]pagestore.Page, 0, len(files))
	for _, rec := range records {
		if known[rec.File] {
			continue
		}
		if _, ok := onDisk[rec.File]; !ok {
			e.logger.Info("page file missing; dropping page",
				logging.Int64(logging.FieldPageID, rec.ID),
				logging.String("file", rec.File),
				logging.String(logging.FieldEventType, "page_file_missing"),
			)
			continue
		}
		known[rec.File] = true
		pages = append(pages, newPage(rec.ID, e.book.Join(rec.File), rec.Role))
		next = max(next, rec.ID+1)
	}
	adopted := 0
	for _, f := range files {
		if known[f.Name] {
			continue
		}
		role := pagestore.Recto
		if f.RoleSet {
			role = f.Role
		}
		pages = append(pages, newPage(next, e.book.Join(f.Name), role))
		next++
		adopted++
	}

	if err := e.store.Load(pages); err != nil {
		return err
	}
	e.store.Reserve(next)
	if adopted > 0 || len(pages) != len(records) {
		e.logger.Debug("page order reconciled with folder",
			logging.Int("stored", len(records)),
			logging.Int("adopted", adopted),
			logging.Int("pages", len(pages)),
		)
		return e.persistPages(ctx)
	}
	return nil
}

// adoptStoredText marks pages whose stored text still matches their file as
// recognised.
func (e *Engine) adoptStoredText(ctx context.Context) {
	adopted := 0
	for _, p := range e.store.Snapshot() {
		_, ok, err := e.pipeline.Text(ctx, p.ID)
		if err != nil {
			e.logger.Debug("stored text unavailable", logging.Int64(logging.FieldPageID, p.ID), logging.Error(err))
			continue
		}
		if ok {
			adopted++
		}
	}
	if adopted > 0 {
		e.logger.Debug("stored text adopted", logging.Int("pages", adopted))
	}
}

func newPage(id int64, path string, role pagestore.Role) pagestore.Page {
	return pagestore.Page{
		ID:        id,
		Source:    pagestore.Source{Path: path},
		Role:      role,
		Thumbnail: pagestore.Derived{Dirty: true},
		OCR:       pagestore.Derived{Dirty: true},
	}
}

// observe persists one mutating call. Role, rename and source changes
// rewrite only the touched rows; changes to the order store it whole.
func (e *Engine) observe(events []pagestore.Event) {
	var (
		touched    []int64
		dropText   []int64
		structural bool
		mutation   pagestore.Mutation
	)
	for _, ev := range events {
		switch ev.Mutation {
		case pagestore.ArtifactChanged:
			continue
		case pagestore.SourceChanged:
			touched = append(touched, ev.PageID)
			dropText = append(dropText, ev.PageID)
		case pagestore.RoleChanged:
			touched = append(touched, ev.PageID)
			// text read in the old orientation
			if page, ok := e.store.Get(ev.PageID); ok && page.OCR.Dirty {
				dropText = append(dropText, ev.PageID)
			}
		case pagestore.Renamed:
			touched = append(touched, ev.PageID)
		default:
			structural = true
		}
		mutation = ev.Mutation
	}
	if len(touched) == 0 && !structural {
		return
	}

	ctx := context.Background()
	var err error
	if structural {
		for _, id := range dropText {
			if dropErr := e.db.DeleteOCR(ctx, id); dropErr != nil {
				e.logger.Debug("dropping stored text failed", logging.Int64(logging.FieldPageID, id), logging.Error(dropErr))
			}
		}
		err = e.persistPages(ctx)
	} else {
		err = e.persistRows(ctx, touched, dropText)
	}
	if err != nil {
		logging.WarnWithContext(e.logger, "page order not stored", "page_order_persist_failed",
			logging.String("mutation", string(mutation)),
			logging.Int("events", len(events)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "page order falls back to file names when the book is reopened"),
		)
	}
}

// persistRows rewrites the stored file and role of ids.
func (e *Engine) persistRows(ctx context.Context, ids, dropText []int64) error {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	records := make([]bookdb.PageRecord, 0, len(ids))
	for _, id := range ids {
		p, ok := e.store.Get(id)
		if !ok || !p.Source.IsFile() {
			continue
		}
		records = append(records, bookdb.PageRecord{
			ID:       p.ID,
			Position: p.Position,
			File:     filepath.Base(p.Source.Path),
			Role:     p.Role,
		})
	}
	return e.db.UpdatePages(ctx, records, dropText)
}

// persistPages writes the store order and the id floor. Pages without a
// file are not stored.
func (e *Engine) persistPages(ctx context.Context) error {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	snapshot := e.store.Snapshot()
	records := make([]bookdb.PageRecord, 0, len(snapshot))
	for _, p := range snapshot {
		if !p.Source.IsFile() {
			continue
		}
		records = append(records, bookdb.PageRecord{
			ID:       p.ID,
			Position: p.Position,
			File:     filepath.Base(p.Source.Path),
			Role:     p.Role,
		})
	}
	if err := e.db.SavePages(ctx, records); err != nil {
		return err
	}
	return e.db.SetNextPageID(ctx, e.store.NextID())
}

// PageView is a page as shown to users.
type PageView struct {
	ID       int64          `json:"id"`
	Position int            `json:"position"`
	Number   int            `json:"number"`
	File     string         `json:"file,omitempty"`
	Role     pagestore.Role `json:"role"`
	Revision int64          `json:"revision"`
	HasText  bool           `json:"has_text"`
	Missing  bool           `json:"missing,omitempty"`
}

// Pages lists the pages in reading order with their printed numbers.
func (e *Engine) Pages() []PageView {
	offset := e.metadata.PageOffset()
	snapshot := e.store.Snapshot()
	out := make([]PageView, 0, len(snapshot))
	for _, p := range snapshot {
		view := PageView{
			ID:       p.ID,
			Position: p.Position,
			Number:   book.PrintedNumber(offset, p.Position),
			Role:     p.Role,
			Revision: p.Revision,
			HasText:  !p.OCR.Dirty,
		}
		if p.Source.IsFile() {
			view.File = filepath.Base(p.Source.Path)
			if _, err := os.Stat(p.Source.Path); errors.Is(err, fs.ErrNotExist) {
				view.Missing = true
			}
		}
		out = append(out, view)
	}
	return out
}
