package thumbnail

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"folio/internal/imageio"
)

func writeImage(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	if err := imageio.Save(path, img); err != nil {
		t.Fatalf("save %s: %v", path, err)
	}
}

func TestNameIsMD5OfURI(t *testing.T) {
	got := Name("/home/user/book/page.001.r.png")
	if got != "05b805d6ba95f1224c7df5cbf4bcba39.png" {
		t.Fatalf("unexpected name %q", got)
	}
	if URI("/tmp/a b.png") != "file:///tmp/a%20b.png" {
		t.Fatalf("URI did not escape space: %q", URI("/tmp/a b.png"))
	}
	if Name("/a.png") == Name("/b.png") {
		t.Fatal("names of different paths collide")
	}
}

func TestGenerateWritesScaledThumbnailWithTextChunks(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "page.001.r.png")
	writeImage(t, src, 600, 900)

	cache, err := NewCache(filepath.Join(dir, "thumbs"), Normal, nil)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	path, err := cache.Get(src)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if path != filepath.Join(dir, "thumbs", "normal", Name(src)) {
		t.Fatalf("unexpected thumbnail path %q", path)
	}
	img, err := imageio.Load(path)
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if b := img.Bounds(); b.Dy() != 128 || b.Dx() != 85 {
		t.Fatalf("thumbnail size %v, want 85x128", b.Size())
	}

	meta, err := Metadata(path)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	info, _ := os.Stat(src)
	if meta["Thumb::URI"] != URI(src) {
		t.Fatalf("Thumb::URI = %q", meta["Thumb::URI"])
	}
	if meta["Thumb::MTime"] != strconv.FormatInt(info.ModTime().Unix(), 10) {
		t.Fatalf("Thumb::MTime = %q", meta["Thumb::MTime"])
	}
	if meta["Thumb::Mimetype"] != "image/png" {
		t.Fatalf("Thumb::Mimetype = %q", meta["Thumb::Mimetype"])
	}
}

func TestLookupRejectsStaleThumbnail(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "page.001.r.png")
	writeImage(t, src, 40, 60)
	cache, err := NewCache(filepath.Join(dir, "thumbs"), Large, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cache.Lookup(src); ok {
		t.Fatal("expected miss before generation")
	}
	if _, err := cache.Generate(src); err != nil {
		t.Fatal(err)
	}
	if _, ok := cache.Lookup(src); !ok {
		t.Fatal("expected hit after generation")
	}

	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(src, later, later); err != nil {
		t.Fatal(err)
	}
	if _, ok := cache.Lookup(src); ok {
		t.Fatal("expected miss after source changed")
	}
	if _, err := cache.Get(src); err != nil {
		t.Fatal(err)
	}
	if _, ok := cache.Lookup(src); !ok {
		t.Fatal("expected Get to refresh the stale thumbnail")
	}
}

func TestSmallImagesAreNotUpscaled(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tiny.001.r.png")
	writeImage(t, src, 20, 10)
	cache, err := NewCache(dir, Large, nil)
	if err != nil {
		t.Fatal(err)
	}
	path, err := cache.Generate(src)
	if err != nil {
		t.Fatal(err)
	}
	img, err := imageio.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 20 || img.Bounds().Dy() != 10 {
		t.Fatalf("unexpected size %v", img.Bounds())
	}
}

func TestDeleteRemovesBothSizes(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "page.001.r.png")
	writeImage(t, src, 10, 10)
	normal, _ := NewCache(dir, Normal, nil)
	large, _ := NewCache(dir, Large, nil)
	for _, c := range []*Cache{normal, large} {
		if _, err := c.Generate(src); err != nil {
			t.Fatal(err)
		}
	}
	if err := normal.Delete(src); err != nil {
		t.Fatal(err)
	}
	for _, c := range []*Cache{normal, large} {
		if _, err := os.Stat(c.PathFor(src)); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed, got %v", c.PathFor(src), err)
		}
	}
	if err := normal.Delete(src); err != nil {
		t.Fatalf("second Delete should be a no-op, got %v", err)
	}
}

func TestInsertTextRejectsNonPNG(t *testing.T) {
	if _, err := insertText([]byte("GIF89a"), nil); err == nil {
		t.Fatal("expected error")
	}
	if _, err := ParseSize("huge"); err == nil {
		t.Fatal("expected error for unknown size")
	}
}

func TestScratchThumbnailOfBuffer(t *testing.T) {
	cache, err := NewCache(t.TempDir(), Normal, nil)
	if err != nil {
		t.Fatal(err)
	}
	img := image.NewGray(image.Rect(0, 0, 300, 150))
	data, err := imageio.EncodePNG(img)
	if err != nil {
		t.Fatal(err)
	}
	path, err := cache.Scratch(data)
	if err != nil {
		t.Fatalf("Scratch: %v", err)
	}
	thumb, err := imageio.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if b := thumb.Bounds(); b.Dx() != 128 || b.Dy() != 64 {
		t.Fatalf("thumbnail is %v", b)
	}
	again, err := cache.Scratch(data)
	if err != nil || again != path {
		t.Fatalf("second Scratch = %q, %v", again, err)
	}
	if filepath.Base(filepath.Dir(path)) != "folio" {
		t.Fatalf("scratch thumbnail stored in %s", path)
	}
}
