package assembly

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"folio/internal/book"
	"folio/internal/pagestore"
	"folio/internal/services"
	"folio/internal/testsupport"
)

// openBook writes the named page files (shades 10, 20, ...) and loads them
// into a store in file order.
func openBook(t *testing.T, names ...string) (*book.Book, *pagestore.Store, *Engine) {
	t.Helper()
	dir := t.TempDir()
	for i, name := range names {
		testsupport.WriteImage(t, dir, name, uint8(10*(i+1)))
	}
	return openFolder(t, dir)
}

// openFolder loads the page files already in dir.
func openFolder(t *testing.T, dir string) (*book.Book, *pagestore.Store, *Engine) {
	t.Helper()
	b := testsupport.MustOpenBook(t, dir)
	files, err := b.Pages()
	if err != nil {
		t.Fatal(err)
	}
	pages := make([]pagestore.Page, 0, len(files))
	for i, f := range files {
		pages = append(pages, pagestore.Page{ID: int64(i + 1), Source: pagestore.Source{Path: b.Join(f.Name)}, Role: f.Role})
	}
	store := pagestore.New()
	if err := store.Load(pages); err != nil {
		t.Fatal(err)
	}
	return b, store, New(b, store, nil)
}

func leaves(shades ...uint8) []image.Image {
	out := make([]image.Image, len(shades))
	for i, s := range shades {
		out[i] = testsupport.Leaf(30, 50, s)
	}
	return out
}

func roles(store *pagestore.Store) []pagestore.Role {
	var out []pagestore.Role
	for _, p := range store.Snapshot() {
		out = append(out, p.Role)
	}
	return out
}

func folder(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

const (
	R = pagestore.Recto
	V = pagestore.Verso
	S = pagestore.Single
)

func TestFlipAll(t *testing.T) {
	if got := FlipAll(5, R); !slices.Equal(got, []pagestore.Role{R, V, R, V, R}) {
		t.Fatalf("FlipAll(5) = %v", got)
	}
	if got := FlipAll(3, V); !slices.Equal(got, []pagestore.Role{V, R, V}) {
		t.Fatalf("FlipAll(3, verso) = %v", got)
	}
	if got := FlipAll(0, R); len(got) != 0 {
		t.Fatalf("FlipAll(0) = %v", got)
	}
}

func TestFlipFromPageSkipsSinglePages(t *testing.T) {
	_, store, engine := openBook(t,
		"page.001.r.png", "page.002.r.png", "page.003.s.png", "page.004.r.png", "page.005.r.png")

	changed, err := engine.FlipFromPage(2, R)
	if err != nil {
		t.Fatalf("FlipFromPage: %v", err)
	}
	if want := []pagestore.Role{R, R, S, V, R}; !slices.Equal(roles(store), want) {
		t.Fatalf("roles = %v, want %v", roles(store), want)
	}
	if changed != 1 {
		t.Fatalf("changed = %d", changed)
	}

	if _, err := engine.FlipFromPage(4, V); err != nil {
		t.Fatal(err)
	}
	if want := []pagestore.Role{R, R, S, V, R}; !slices.Equal(roles(store), want) {
		t.Fatalf("roles after verso start = %v, want %v", roles(store), want)
	}
	if _, err := engine.FlipFromPage(99, R); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("unknown page = %v", err)
	}
	if _, err := engine.FlipFromPage(1, S); !errors.Is(err, services.ErrInvalidParameters) {
		t.Fatalf("single start = %v", err)
	}
}

func TestFlipAsVersoKeepsPositions(t *testing.T) {
	_, store, engine := openBook(t, "page.001.r.png", "page.002.v.png", "page.003.r.png")
	if err := engine.FlipAsVerso(3); err != nil {
		t.Fatal(err)
	}
	if err := engine.FlipAsRecto(2); err != nil {
		t.Fatal(err)
	}
	pages := store.Snapshot()
	for i, p := range pages {
		if p.ID != int64(i+1) || p.Position != i {
			t.Fatalf("page %d moved: %+v", p.ID, p)
		}
	}
	if want := []pagestore.Role{R, R, V}; !slices.Equal(roles(store), want) {
		t.Fatalf("roles = %v", roles(store))
	}
}

func TestFlipBookOddCount(t *testing.T) {
	_, store, engine := openBook(t, "page.001.v.png", "page.002.v.png", "page.003.v.png")
	if _, err := engine.FlipBook(); err != nil {
		t.Fatal(err)
	}
	if want := []pagestore.Role{R, V, R}; !slices.Equal(roles(store), want) {
		t.Fatalf("roles = %v", roles(store))
	}
}

func TestCommitAppendsAlternatingPages(t *testing.T) {
	b, store, engine := openBook(t, "page.001.r.png", "page.002.v.png")

	result, err := engine.Commit(context.Background(), Batch{Leaves: leaves(100, 110, 120)})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(result.Added) != 3 || len(result.Replaced) != 0 {
		t.Fatalf("result = %+v", result)
	}
	wantFiles := []string{b.Join("page.003.r.png"), b.Join("page.004.v.png"), b.Join("page.005.r.png")}
	if !slices.Equal(result.Files, wantFiles) {
		t.Fatalf("files = %v", result.Files)
	}
	if store.Len() != 5 {
		t.Fatalf("store holds %d pages", store.Len())
	}
	if want := []pagestore.Role{R, V, R, V, R}; !slices.Equal(roles(store), want) {
		t.Fatalf("roles = %v", roles(store))
	}
	if got := testsupport.Shade(t, wantFiles[1]); got != 110 {
		t.Fatalf("second leaf shade = %d", got)
	}
	last, _ := store.At(4)
	if last.ID != 5 || last.Source.Path != wantFiles[2] || !last.Thumbnail.Dirty {
		t.Fatalf("last page = %+v", last)
	}
}

func TestCommitConflictNeedsExplicitResolution(t *testing.T) {
	b, store, engine := openBook(t, "page.001.r.png", "page.002.v.png", "page.003.r.png")
	before := folder(t, b.Path())

	_, err := engine.Commit(context.Background(), Batch{Leaves: leaves(200, 210), FirstIndex: 2})
	var conflict *ConflictError
	if !errors.As(err, &conflict) || !errors.Is(err, services.ErrOverwriteConflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if want := []string{b.Join("page.002.v.png"), b.Join("page.003.r.png")}; !slices.Equal(conflict.Paths, want) {
		t.Fatalf("conflict paths = %v", conflict.Paths)
	}
	if services.KindName(err) != "OverwriteConflict" {
		t.Fatalf("kind = %s", services.KindName(err))
	}
	if after := folder(t, b.Path()); !slices.Equal(before, after) {
		t.Fatalf("folder changed on conflict: %v", after)
	}

	result, err := engine.Commit(context.Background(), Batch{
		Leaves:     leaves(200, 210),
		FirstIndex: 2,
		Resolutions: map[string]Resolution{
			b.Join("page.002.v.png"): Overwrite,
			b.Join("page.003.r.png"): Rename,
		},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !slices.Equal(result.Replaced, []int64{2}) || len(result.Added) != 1 {
		t.Fatalf("result = %+v", result)
	}

	replaced, _ := store.Get(2)
	if replaced.Source.Path != b.Join("page.002.v.png") || replaced.Role != V || replaced.Revision != 1 || !replaced.OCR.Dirty {
		t.Fatalf("replaced page = %+v", replaced)
	}
	if got := testsupport.Shade(t, b.Join("page.002.v.png")); got != 200 {
		t.Fatalf("overwritten shade = %d", got)
	}

	renamed, _ := store.Get(result.Added[0])
	if renamed.Source.Path != b.Join("page.004.v.png") || renamed.Position != 3 {
		t.Fatalf("renamed page = %+v", renamed)
	}
	if got := testsupport.Shade(t, b.Join("page.003.r.png")); got != 30 {
		t.Fatalf("renamed-around file changed: shade %d", got)
	}
}

func TestCommitRenameLandsAfterConflictingPage(t *testing.T) {
	b, store, engine := openBook(t, "page.001.r.png", "page.002.v.png", "page.003.r.png", "page.004.v.png")

	result, err := engine.Commit(context.Background(), Batch{
		Leaves:     leaves(1, 2),
		FirstIndex: 1,
		Resolutions: map[string]Resolution{
			b.Join("page.001.r.png"): Rename,
			b.Join("page.002.v.png"): Rename,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	var order []int64
	for _, p := range store.Snapshot() {
		order = append(order, p.ID)
	}
	want := []int64{1, result.Added[0], 2, result.Added[1], 3, 4}
	if !slices.Equal(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	if !slices.Equal(result.Files, []string{b.Join("page.005.r.png"), b.Join("page.006.v.png")}) {
		t.Fatalf("files = %v", result.Files)
	}
}

func TestCommitSkipLeavesFileAlone(t *testing.T) {
	b, store, engine := openBook(t, "page.001.r.png")
	path := b.Join("page.001.r.png")
	result, err := engine.Commit(context.Background(), Batch{
		Leaves:      leaves(99),
		FirstIndex:  1,
		Resolutions: map[string]Resolution{path: Skip},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(result.Skipped, []string{path}) || len(result.Files) != 0 {
		t.Fatalf("result = %+v", result)
	}
	if got := testsupport.Shade(t, path); got != 10 || store.Len() != 1 {
		t.Fatalf("skip changed the book: shade %d, %d pages", got, store.Len())
	}
}

func TestCommitIsAllOrNothing(t *testing.T) {
	b, store, engine := openBook(t, "page.001.r.png", "page.002.v.png")
	before := folder(t, b.Path())
	events := 0
	store.Subscribe(func(pagestore.Event) { events++ })

	batch := Batch{
		Leaves:      []image.Image{testsupport.Leaf(10, 10, 1), image.NewGray(image.Rect(0, 0, 0, 0))},
		FirstIndex:  2,
		Resolutions: map[string]Resolution{b.Join("page.002.v.png"): Overwrite},
	}
	if _, err := engine.Commit(context.Background(), batch); !errors.Is(err, services.ErrPersistence) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if after := folder(t, b.Path()); !slices.Equal(before, after) {
		t.Fatalf("folder changed: %v -> %v", before, after)
	}
	if got := testsupport.Shade(t, b.Join("page.002.v.png")); got != 20 {
		t.Fatalf("overwritten file damaged: shade %d", got)
	}
	if events != 0 || store.Len() != 2 {
		t.Fatalf("store touched: %d events, %d pages", events, store.Len())
	}
}

func TestCommitHonoursCancellation(t *testing.T) {
	b, store, engine := openBook(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.Commit(ctx, Batch{Leaves: leaves(1, 2)}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if names := folder(t, b.Path()); len(names) != 1 || store.Len() != 0 {
		t.Fatalf("cancelled commit wrote %v", names)
	}
}

func TestImportConvertsToBookFormat(t *testing.T) {
	b, store, engine := openBook(t, "page.001.r.png")
	src := t.TempDir()
	first := testsupport.WriteImage(t, src, "photo-a.jpg", 128)
	second := testsupport.WriteImage(t, src, "photo-b.tiff", 64)

	result, err := engine.Import(context.Background(), []string{first, second}, V, nil)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if !slices.Equal(result.Files, []string{b.Join("page.002.v.png"), b.Join("page.003.r.png")}) {
		t.Fatalf("files = %v", result.Files)
	}
	if store.Len() != 3 {
		t.Fatalf("store holds %d pages", store.Len())
	}
	if got := testsupport.Shade(t, b.Join("page.003.r.png")); got != 64 {
		t.Fatalf("tiff import shade = %d", got)
	}

	missing := filepath.Join(src, "missing.png")
	if _, err := engine.Import(context.Background(), []string{missing}, R, nil); !errors.Is(err, services.ErrInvalidParameters) {
		t.Fatalf("missing import = %v", err)
	}
}

func TestRemoveDeletesPageFile(t *testing.T) {
	b, store, engine := openBook(t, "page.001.r.png", "page.002.v.png")
	if err := engine.Remove(1); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(b.Join("page.001.r.png")); !os.IsNotExist(err) {
		t.Fatalf("file kept: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("store holds %d pages", store.Len())
	}
	if first, _ := store.At(0); first.ID != 2 {
		t.Fatalf("first page = %+v", first)
	}
	if err := engine.Remove(1); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("second remove = %v", err)
	}
	if names := folder(t, b.Path()); slices.ContainsFunc(names, func(n string) bool { return strings.HasPrefix(n, ".folio-backup-") }) {
		t.Fatalf("backup left behind: %v", names)
	}
}

func TestParseResolution(t *testing.T) {
	for _, v := range []string{"overwrite", " Skip ", "RENAME"} {
		if _, err := ParseResolution(v); err != nil {
			t.Fatalf("ParseResolution(%q): %v", v, err)
		}
	}
	if _, err := ParseResolution("merge"); !errors.Is(err, services.ErrInvalidParameters) {
		t.Fatalf("merge accepted: %v", err)
	}
}
