package artifacts

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"folio/internal/bookdb"
	"folio/internal/imageio"
	"folio/internal/ocr"
	"folio/internal/pagestore"
	"folio/internal/services"
	"folio/internal/testsupport"
	"folio/internal/thumbnail"
)

type fixture struct {
	dir   string
	store *pagestore.Store
	cache *thumbnail.Cache
}

func newFixture(t *testing.T, pages int) *fixture {
	t.Helper()
	dir := t.TempDir()
	cache, err := thumbnail.NewCache(filepath.Join(t.TempDir(), "thumbs"), thumbnail.Normal, nil)
	if err != nil {
		t.Fatal(err)
	}
	store := pagestore.New()
	for i := range pages {
		path := testsupport.WriteImage(t, dir, "page."+string(rune('a'+i))+".png", uint8(40*i))
		if _, err := store.Append(pagestore.Page{Source: pagestore.Source{Path: path}}); err != nil {
			t.Fatal(err)
		}
	}
	return &fixture{dir: dir, store: store, cache: cache}
}

func (f *fixture) pipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()
	if opts.Thumbnails == nil {
		opts.Thumbnails = f.cache
	}
	p := New(f.store, opts)
	t.Cleanup(p.Close)
	return p
}

func TestThumbnailIsGeneratedOnceAndCached(t *testing.T) {
	f := newFixture(t, 1)
	p := f.pipeline(t, Options{Workers: 2})

	path, err := p.Thumbnail(context.Background(), 1)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	page, _ := f.store.Get(1)
	if page.Thumbnail.Dirty || page.Thumbnail.Value != path {
		t.Fatalf("page entry not updated: %+v", page.Thumbnail)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	again, err := p.Thumbnail(context.Background(), 1)
	if err != nil || again != path {
		t.Fatalf("second Thumbnail = %q, %v", again, err)
	}
	info2, _ := os.Stat(path)
	if !info2.ModTime().Equal(info.ModTime()) {
		t.Fatal("thumbnail regenerated although clean")
	}
	if _, err := p.Thumbnail(context.Background(), 42); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("unknown page = %v", err)
	}
}

func TestSourceChangeInvalidatesThumbnail(t *testing.T) {
	f := newFixture(t, 1)
	p := f.pipeline(t, Options{})
	path, err := p.Thumbnail(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	page, _ := f.store.Get(1)
	if err := f.store.SetSource(1, page.Source); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("stale thumbnail kept: %v", err)
	}
	page, _ = f.store.Get(1)
	if !page.Thumbnail.Dirty {
		t.Fatal("thumbnail entry not dirty")
	}
	if _, err := p.Thumbnail(context.Background(), 1); err != nil {
		t.Fatalf("regenerate: %v", err)
	}
}

func TestBufferSourceThumbnail(t *testing.T) {
	f := newFixture(t, 0)
	data, err := imageio.EncodePNG(testsupport.Leaf(200, 400, 9))
	if err != nil {
		t.Fatal(err)
	}
	page, err := f.store.Append(pagestore.Page{Source: pagestore.Source{Buffer: data}})
	if err != nil {
		t.Fatal(err)
	}
	p := f.pipeline(t, Options{})
	path, err := p.Thumbnail(context.Background(), page.ID)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	img, err := imageio.Load(path)
	if err != nil || img.Bounds().Dy() != 128 {
		t.Fatalf("thumbnail %v, %v", img, err)
	}
}

func TestConcurrentRequestsCoalesce(t *testing.T) {
	f := newFixture(t, 1)
	release := make(chan struct{})
	var calls atomic.Int32
	engine := ocr.EngineFunc(func(ctx context.Context, in ocr.Input) (string, error) {
		calls.Add(1)
		<-release
		return "Chapter One", nil
	})
	p := f.pipeline(t, Options{Workers: 4, OCR: engine})

	var wg sync.WaitGroup
	results := make([]string, 5)
	errs := make([]error, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = p.OCR(context.Background(), 1)
		}()
	}
	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("engine ran %d times", n)
	}
	for i := range results {
		if errs[i] != nil || results[i] != "Chapter One" {
			t.Fatalf("request %d = %q, %v", i, results[i], errs[i])
		}
	}
	page, _ := f.store.Get(1)
	if page.OCR.Dirty || page.OCR.Value != "Chapter One" {
		t.Fatalf("page entry = %+v", page.OCR)
	}
}

func TestPoolIsBounded(t *testing.T) {
	f := newFixture(t, 5)
	var running, peak atomic.Int32
	engine := ocr.EngineFunc(func(ctx context.Context, in ocr.Input) (string, error) {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		running.Add(-1)
		return "x", nil
	})
	p := f.pipeline(t, Options{Workers: 2, OCR: engine})

	var wg sync.WaitGroup
	for id := int64(1); id <= 5; id++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.OCR(context.Background(), id); err != nil {
				t.Errorf("OCR(%d): %v", id, err)
			}
		}()
	}
	wg.Wait()
	if got := peak.Load(); got > 2 || got == 0 {
		t.Fatalf("peak concurrency %d, want 1..2", got)
	}
}

func TestVersoIsRotatedAndLanguageFollowsBook(t *testing.T) {
	f := newFixture(t, 0)
	img := image.NewGray(image.Rect(0, 0, 20, 20))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.SetGray(0, 0, color.Gray{Y: 0})
	path := filepath.Join(f.dir, "verso.png")
	if err := imageio.Save(path, img); err != nil {
		t.Fatal(err)
	}
	page, _ := f.store.Append(pagestore.Page{Source: pagestore.Source{Path: path}, Role: pagestore.Verso})

	var got ocr.Input
	engine := ocr.EngineFunc(func(ctx context.Context, in ocr.Input) (string, error) {
		got = in
		return "texte", nil
	})
	p := f.pipeline(t, Options{OCR: engine, Language: func() string { return "fr" }, FallbackLanguage: "en"})
	if _, err := p.OCR(context.Background(), page.ID); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got.Languages, []string{"fra"}) {
		t.Fatalf("languages = %v", got.Languages)
	}
	decoded, err := imageio.Decode(got.Image)
	if err != nil {
		t.Fatal(err)
	}
	dark := func(x, y int) bool {
		return color.GrayModel.Convert(decoded.At(x, y)).(color.Gray).Y < 128
	}
	if dark(0, 0) || !dark(19, 19) {
		t.Fatal("verso page was not rotated before recognition")
	}
}

func TestEngineFailureIsOcrUnavailable(t *testing.T) {
	f := newFixture(t, 1)
	engine := ocr.EngineFunc(func(ctx context.Context, in ocr.Input) (string, error) {
		return "", errors.New("missing traineddata")
	})
	p := f.pipeline(t, Options{OCR: engine})
	if _, err := p.OCR(context.Background(), 1); !errors.Is(err, services.ErrOcrUnavailable) {
		t.Fatalf("expected OcrUnavailable, got %v", err)
	}
	page, _ := f.store.Get(1)
	if page.OCR.Value != "" || !page.OCR.Dirty {
		t.Fatalf("failure cached text: %+v", page.OCR)
	}

	noEngine := New(f.store, Options{})
	defer noEngine.Close()
	if _, err := noEngine.OCR(context.Background(), 1); !errors.Is(err, services.ErrOcrUnavailable) {
		t.Fatalf("no engine = %v", err)
	}
}

func TestUndecodableImageIsOcrUnavailable(t *testing.T) {
	f := newFixture(t, 2)
	var calls atomic.Int32
	engine := ocr.EngineFunc(func(ctx context.Context, in ocr.Input) (string, error) {
		calls.Add(1)
		return "text", nil
	})
	p := f.pipeline(t, Options{OCR: engine})

	garbled, _ := f.store.Get(1)
	if err := os.WriteFile(garbled.Source.Path, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := p.OCR(context.Background(), 1)
	if !errors.Is(err, services.ErrOcrUnavailable) || errors.Is(err, services.ErrPersistence) {
		t.Fatalf("undecodable page = %v", err)
	}

	missing, _ := f.store.Get(2)
	if err := os.Remove(missing.Source.Path); err != nil {
		t.Fatal(err)
	}
	if _, err := p.OCR(context.Background(), 2); !errors.Is(err, services.ErrPersistence) {
		t.Fatalf("missing page file = %v", err)
	}
	if n := calls.Load(); n != 0 {
		t.Fatalf("engine ran %d times", n)
	}
}

func TestNoTextIsNotAFailure(t *testing.T) {
	f := newFixture(t, 1)
	engine := ocr.EngineFunc(func(ctx context.Context, in ocr.Input) (string, error) {
		return "", ocr.ErrNoText
	})
	p := f.pipeline(t, Options{OCR: engine})
	text, err := p.OCR(context.Background(), 1)
	if err != nil || text != "" {
		t.Fatalf("OCR = %q, %v", text, err)
	}
	page, _ := f.store.Get(1)
	if page.OCR.Dirty {
		t.Fatal("empty result not cached")
	}
}

func TestResultOfStaleRevisionIsDropped(t *testing.T) {
	f := newFixture(t, 1)
	started := make(chan struct{})
	release := make(chan struct{})
	engine := ocr.EngineFunc(func(ctx context.Context, in ocr.Input) (string, error) {
		close(started)
		<-release
		return "old text", nil
	})
	p := f.pipeline(t, Options{OCR: engine})

	done := make(chan error, 1)
	go func() {
		_, err := p.OCR(context.Background(), 1)
		done <- err
	}()
	<-started
	page, _ := f.store.Get(1)
	if err := f.store.SetSource(1, page.Source); err != nil {
		t.Fatal(err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	page, _ = f.store.Get(1)
	if !page.OCR.Dirty || page.OCR.Value != "" {
		t.Fatalf("stale text stored: %+v", page.OCR)
	}
}

func TestRoleFlipDuringRecognitionDropsText(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	db, err := bookdb.Open(ctx, f.dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	page, _ := f.store.Get(1)
	if err := db.SavePages(ctx, []bookdb.PageRecord{{ID: 1, Position: 0, File: filepath.Base(page.Source.Path), Role: pagestore.Recto}}); err != nil {
		t.Fatal(err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	engine := ocr.EngineFunc(func(ctx context.Context, in ocr.Input) (string, error) {
		close(started)
		<-release
		return "upright text", nil
	})
	p := f.pipeline(t, Options{OCR: engine, Texts: db})

	done := make(chan error, 1)
	go func() {
		_, err := p.OCR(ctx, 1)
		done <- err
	}()
	<-started
	if err := f.store.SetRole(1, pagestore.Verso); err != nil {
		t.Fatal(err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	page, _ = f.store.Get(1)
	if !page.OCR.Dirty || page.OCR.Value != "" {
		t.Fatalf("text read as recto cached for a verso page: %+v", page.OCR)
	}
	if _, ok, err := db.OCR(ctx, 1); err != nil || ok {
		t.Fatalf("stale text persisted: ok=%v err=%v", ok, err)
	}
}

func TestTextSurvivesReopenUntilFileChanges(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	db, err := bookdb.Open(ctx, f.dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	page, _ := f.store.Get(1)
	if err := db.SavePages(ctx, []bookdb.PageRecord{{ID: 1, Position: 0, File: filepath.Base(page.Source.Path), Role: pagestore.Recto}}); err != nil {
		t.Fatal(err)
	}

	engine := ocr.EngineFunc(func(ctx context.Context, in ocr.Input) (string, error) {
		return "Preface\n\n\n\nIt was a dark night.  ", nil
	})
	first := New(f.store, Options{OCR: engine, Texts: db})
	text, err := first.OCR(ctx, 1)
	first.Close()
	if err != nil || text != "Preface\n\nIt was a dark night." {
		t.Fatalf("OCR = %q, %v", text, err)
	}

	reopened := pagestore.New()
	if err := reopened.Load([]pagestore.Page{{ID: 1, Source: page.Source, OCR: pagestore.Derived{Dirty: true}}}); err != nil {
		t.Fatal(err)
	}
	second := New(reopened, Options{Texts: db})
	defer second.Close()
	cached, ok, err := second.Text(ctx, 1)
	if err != nil || !ok || cached != text {
		t.Fatalf("Text = %q, %v, %v", cached, ok, err)
	}

	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(page.Source.Path, later, later); err != nil {
		t.Fatal(err)
	}
	if err := reopened.MarkDirty(1, pagestore.KindOCR); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := second.Text(ctx, 1); err != nil || ok {
		t.Fatalf("text of a changed file served: ok=%v err=%v", ok, err)
	}
}

func TestSaveTextWritesFile(t *testing.T) {
	f := newFixture(t, 1)
	engine := ocr.EngineFunc(func(ctx context.Context, in ocr.Input) (string, error) {
		return "Hello", nil
	})
	p := f.pipeline(t, Options{OCR: engine})
	out := filepath.Join(t.TempDir(), "page.txt")
	if err := p.SaveText(context.Background(), 1, out); err != nil {
		t.Fatalf("SaveText: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil || string(data) != "Hello\n" {
		t.Fatalf("file = %q, %v", data, err)
	}
	if err := p.SaveText(context.Background(), 1, filepath.Join(f.dir, "missing", "x.txt")); !errors.Is(err, services.ErrPersistence) {
		t.Fatalf("unwritable path = %v", err)
	}
}

func TestClosedPipelineRejectsWork(t *testing.T) {
	f := newFixture(t, 1)
	p := New(f.store, Options{Thumbnails: f.cache})
	p.Close()
	p.Close()
	if _, err := p.Thumbnail(context.Background(), 1); !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("Thumbnail after close = %v", err)
	}
}
