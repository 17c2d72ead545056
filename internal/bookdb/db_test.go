package bookdb_test

import (
	"context"
	"testing"
	"time"

	"folio/internal/bookdb"
	"folio/internal/pagestore"
)

func openDB(t *testing.T, dir string) *bookdb.DB {
	t.Helper()
	db, err := bookdb.Open(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	first, err := bookdb.Open(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := first.PutSetting(context.Background(), "k", "v"); err != nil {
		t.Fatalf("PutSetting: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := openDB(t, dir)
	value, ok, err := second.Setting(context.Background(), "k")
	if err != nil || !ok || value != "v" {
		t.Fatalf("Setting after reopen = %q, %v, %v", value, ok, err)
	}
}

func TestSavePagesReplacesOrder(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, t.TempDir())

	records := []bookdb.PageRecord{
		{ID: 1, Position: 0, File: "page.001.r.png", Role: pagestore.Recto},
		{ID: 2, Position: 1, File: "page.002.v.png", Role: pagestore.Verso},
		{ID: 3, Position: 2, File: "page.003.s.png", Role: pagestore.Single},
	}
	if err := db.SavePages(ctx, records); err != nil {
		t.Fatalf("SavePages: %v", err)
	}
	if err := db.PutOCR(ctx, bookdb.OCRRecord{PageID: 2, Language: "eng", Content: "hello", SourceMTime: time.Unix(100, 5)}); err != nil {
		t.Fatalf("PutOCR: %v", err)
	}

	// page 2 removed, page 3 moved first
	if err := db.SavePages(ctx, []bookdb.PageRecord{
		{ID: 3, Position: 0, File: "page.003.s.png", Role: pagestore.Single},
		{ID: 1, Position: 1, File: "page.001.r.png", Role: pagestore.Verso},
	}); err != nil {
		t.Fatalf("SavePages: %v", err)
	}

	got, err := db.Pages(ctx)
	if err != nil {
		t.Fatalf("Pages: %v", err)
	}
	if len(got) != 2 || got[0].ID != 3 || got[1].ID != 1 || got[1].Role != pagestore.Verso {
		t.Fatalf("unexpected pages %+v", got)
	}
	if _, ok, err := db.OCR(ctx, 2); err != nil || ok {
		t.Fatalf("expected OCR of removed page to cascade, got ok=%v err=%v", ok, err)
	}
}

func TestSavePagesEmptyClearsTable(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, t.TempDir())
	if err := db.SavePages(ctx, []bookdb.PageRecord{{ID: 1, File: "a.001.r.png"}}); err != nil {
		t.Fatal(err)
	}
	if err := db.SavePages(ctx, nil); err != nil {
		t.Fatal(err)
	}
	got, err := db.Pages(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("Pages = %v, %v", got, err)
	}
}

func TestOCRRoundTripKeepsMTime(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, t.TempDir())
	if err := db.SavePages(ctx, []bookdb.PageRecord{{ID: 7, File: "p.007.r.png"}}); err != nil {
		t.Fatal(err)
	}
	mtime := time.Unix(1700000000, 123456789)
	if err := db.PutOCR(ctx, bookdb.OCRRecord{PageID: 7, Language: "fra", Content: "bonjour", SourceMTime: mtime}); err != nil {
		t.Fatal(err)
	}
	rec, ok, err := db.OCR(ctx, 7)
	if err != nil || !ok {
		t.Fatalf("OCR = %v, %v", ok, err)
	}
	if rec.Content != "bonjour" || rec.Language != "fra" || !rec.SourceMTime.Equal(mtime) {
		t.Fatalf("unexpected record %+v", rec)
	}
	if err := db.DeleteOCR(ctx, 7); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := db.OCR(ctx, 7); ok {
		t.Fatal("expected OCR to be deleted")
	}
}

func TestPutOCRRequiresPersistedPage(t *testing.T) {
	db := openDB(t, t.TempDir())
	err := db.PutOCR(context.Background(), bookdb.OCRRecord{PageID: 99, Language: "eng", Content: "x"})
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestNextPageID(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, t.TempDir())
	next, err := db.NextPageID(ctx)
	if err != nil || next != 1 {
		t.Fatalf("NextPageID = %d, %v", next, err)
	}
	if err := db.SetNextPageID(ctx, 42); err != nil {
		t.Fatal(err)
	}
	if next, _ := db.NextPageID(ctx); next != 42 {
		t.Fatalf("NextPageID = %d, want 42", next)
	}
}

func TestUpdatePagesRewritesRowsInPlace(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, t.TempDir())
	if err := db.SavePages(ctx, []bookdb.PageRecord{
		{ID: 1, Position: 0, File: "page.001.r.png", Role: pagestore.Recto},
		{ID: 2, Position: 1, File: "page.002.r.png", Role: pagestore.Recto},
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.PutOCR(ctx, bookdb.OCRRecord{PageID: 2, Content: "upright", SourceMTime: time.Unix(1, 0)}); err != nil {
		t.Fatal(err)
	}

	err := db.UpdatePages(ctx, []bookdb.PageRecord{{ID: 2, Position: 99, File: "page.002.v.png", Role: pagestore.Verso}}, []int64{2})
	if err != nil {
		t.Fatalf("UpdatePages: %v", err)
	}
	pages, err := db.Pages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 2 || pages[1].File != "page.002.v.png" || pages[1].Role != pagestore.Verso || pages[1].Position != 1 {
		t.Fatalf("pages = %+v", pages)
	}
	if _, ok, err := db.OCR(ctx, 2); err != nil || ok {
		t.Fatalf("text kept: ok=%v err=%v", ok, err)
	}
}
