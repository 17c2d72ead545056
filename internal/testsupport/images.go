package testsupport

import (
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"testing"

	"folio/internal/book"
	"folio/internal/imageio"
)

// Leaf returns a w×h grey image filled with shade. Different shades make
// leaves distinguishable after a round trip through disk.
func Leaf(w, h int, shade uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Gray{Y: shade}}, image.Point{}, draw.Src)
	return img
}

// Shade returns the grey level of the top-left pixel of the image at path.
func Shade(t testing.TB, path string) uint8 {
	t.Helper()
	img, err := imageio.Load(path)
	if err != nil {
		t.Fatalf("load %s: %v", path, err)
	}
	b := img.Bounds()
	return color.GrayModel.Convert(img.At(b.Min.X, b.Min.Y)).(color.Gray).Y
}

// WriteImage saves a small leaf of the given shade at dir/name.
func WriteImage(t testing.TB, dir, name string, shade uint8) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := imageio.Save(path, Leaf(40, 60, shade)); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// MustOpenBook opens the book folder dir and registers cleanup.
func MustOpenBook(t testing.TB, dir string) *book.Book {
	t.Helper()
	b, err := book.Open(dir, book.Options{})
	if err != nil {
		t.Fatalf("book.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = b.Close()
	})
	return b
}
