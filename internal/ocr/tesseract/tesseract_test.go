package tesseract

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"os/exec"
	"strings"
	"testing"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"folio/internal/imageio"
	"folio/internal/ocr"
	"folio/internal/pagestore"
)

func ensureTesseractAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}
}

func renderText(text string) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 240, 80))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	d := &font.Drawer{Dst: img, Src: image.Black, Face: basicfont.Face7x13, Dot: fixed.P(10, 45)}
	d.DrawString(text)
	return img
}

func TestRecognizeReadsVersoAfterRotation(t *testing.T) {
	ensureTesseractAvailable(t)

	upsideDown := imageio.Rotate180(renderText("HELLO FOLIO"))
	payload, err := ocr.Prepare(upsideDown, pagestore.Verso)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	text, err := New("").Recognize(context.Background(), ocr.Input{Image: payload, Languages: []string{"eng"}, DPI: 300})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if !strings.Contains(strings.ToUpper(text), "HELLO") {
		t.Fatalf("expected HELLO in %q", text)
	}
}

func TestRecognizeHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New("").Recognize(ctx, ocr.Input{}); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRecognizeReturnsOnlyAfterClientFinishes(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	e := New("")
	e.run = func(ocr.Input) (string, error) {
		close(started)
		<-release
		return "late", nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	returned := make(chan error, 1)
	go func() {
		_, err := e.Recognize(ctx, ocr.Input{})
		returned <- err
	}()
	<-started
	cancel()
	select {
	case err := <-returned:
		t.Fatalf("Recognize returned %v while tesseract was still running", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	if err := <-returned; err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
