package imageio

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 10), G: uint8(y * 10), B: 0, A: 255})
		}
	}
	return img
}

func TestRotate180SwapsCorners(t *testing.T) {
	src := gradient(4, 3)
	rotated := Rotate180(src)

	if rotated.Bounds().Dx() != 4 || rotated.Bounds().Dy() != 3 {
		t.Fatalf("unexpected bounds %v", rotated.Bounds())
	}
	want := src.NRGBAAt(0, 0)
	got := color.NRGBAModel.Convert(rotated.At(3, 2)).(color.NRGBA)
	if got != want {
		t.Fatalf("bottom-right after rotation = %v, want %v", got, want)
	}
	want = src.NRGBAAt(3, 0)
	got = color.NRGBAModel.Convert(rotated.At(0, 2)).(color.NRGBA)
	if got != want {
		t.Fatalf("bottom-left after rotation = %v, want %v", got, want)
	}
}

func TestRotate180TwiceIsIdentity(t *testing.T) {
	src := gradient(5, 7)
	back := Rotate180(Rotate180(src))
	for y := 0; y < 7; y++ {
		for x := 0; x < 5; x++ {
			if color.NRGBAModel.Convert(back.At(x, y)) != src.NRGBAAt(x, y) {
				t.Fatalf("pixel (%d,%d) differs after double rotation", x, y)
			}
		}
	}
}

func TestFitKeepsAspectRatio(t *testing.T) {
	fitted := Fit(gradient(400, 200), 128)
	if b := fitted.Bounds(); b.Dx() != 128 || b.Dy() != 64 {
		t.Fatalf("unexpected fitted bounds %v", b)
	}
	portrait := Fit(gradient(100, 300), 150)
	if b := portrait.Bounds(); b.Dx() != 50 || b.Dy() != 150 {
		t.Fatalf("unexpected portrait bounds %v", b)
	}
	small := gradient(10, 10)
	if Fit(small, 128) != image.Image(small) {
		t.Fatal("expected small image returned unchanged")
	}
}

func TestSaveAndLoadRoundTripFormats(t *testing.T) {
	dir := t.TempDir()
	src := gradient(16, 8)
	for _, ext := range []string{".png", ".jpg", ".tiff"} {
		path := filepath.Join(dir, "page"+ext)
		if err := Save(path, src); err != nil {
			t.Fatalf("Save %s: %v", ext, err)
		}
		img, err := Load(path)
		if err != nil {
			t.Fatalf("Load %s: %v", ext, err)
		}
		if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 8 {
			t.Fatalf("%s: unexpected bounds %v", ext, img.Bounds())
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected only the three saved files, got %d entries", len(entries))
	}
}

func TestSaveRejectsUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.webp")
	if err := Save(path, gradient(2, 2)); err == nil {
		t.Fatal("expected error for webp output")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no file written, stat err=%v", err)
	}
}

func TestIsImageFile(t *testing.T) {
	for _, name := range []string{"a.PNG", "b.jpeg", "c.webp", "d.tif", "e.bmp"} {
		if !IsImageFile(name) {
			t.Fatalf("expected %s recognised", name)
		}
	}
	for _, name := range []string{".book-metadata.json", "notes.txt", "page"} {
		if IsImageFile(name) {
			t.Fatalf("expected %s rejected", name)
		}
	}
}
