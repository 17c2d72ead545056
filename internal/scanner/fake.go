package scanner

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"folio/internal/services"
)

// FakeDeviceID is the id the fake backend advertises.
const FakeDeviceID = "fake:0"

// FakeDescriptor is the device the fake backend exposes: an A4-ish bed with
// three resolutions and two modes.
func FakeDescriptor() DeviceDescriptor {
	return DeviceDescriptor{
		ID:          FakeDeviceID,
		Vendor:      "Folio",
		Model:       "Virtual flatbed",
		Type:        "flatbed scanner",
		Resolutions: []int{100, 200, 400},
		Modes:       []Mode{ModeColor, ModeGrayscale},
		MaxArea:     Rect{BRX: 14149222, BRY: 19475988},
	}
}

// FakeOptions tune the fake backend.
type FakeOptions struct {
	// Delay is spent inside each Acquire, honouring cancellation.
	Delay time.Duration
	// FailAt makes the n-th acquisition (1-based, counted across handles) fail with FailWith.
	FailAt   int
	FailWith error
	// Absent hides the device from enumeration.
	Absent bool
}

// Fake is an in-process backend that draws the capture number on a blank page.
type Fake struct {
	mu       sync.Mutex
	opts     FakeOptions
	captured int
}

// NewFake constructs a fake backend.
func NewFake(opts FakeOptions) *Fake {
	return &Fake{opts: opts}
}

func (f *Fake) Name() string { return "fake" }

// SetOptions replaces the options for subsequent calls.
func (f *Fake) SetOptions(opts FakeOptions) {
	f.mu.Lock()
	f.opts = opts
	f.mu.Unlock()
}

// Captured returns the number of successful acquisitions so far.
func (f *Fake) Captured() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captured
}

func (f *Fake) Enumerate(ctx context.Context) ([]DeviceDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opts.Absent {
		return nil, nil
	}
	return []DeviceDescriptor{FakeDescriptor()}, nil
}

func (f *Fake) Open(ctx context.Context, id string) (Handle, error) {
	devices, err := f.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.ID == id {
			return &fakeHandle{backend: f, desc: d}, nil
		}
	}
	return nil, &services.Error{Kind: services.ErrDeviceUnavailable, Component: "scanner", Op: "open", Device: id, Message: "device not found"}
}

type fakeHandle struct {
	backend *Fake
	desc    DeviceDescriptor
}

func (h *fakeHandle) Descriptor() DeviceDescriptor { return h.desc }

func (h *fakeHandle) Close() error { return nil }

func (h *fakeHandle) Acquire(ctx context.Context, req ScanRequest) (image.Image, error) {
	if err := Validate(h.desc, req); err != nil {
		return nil, err
	}

	f := h.backend
	f.mu.Lock()
	opts := f.opts
	f.mu.Unlock()

	if opts.Delay > 0 {
		timer := time.NewTimer(opts.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	n := f.captured + 1
	if opts.FailAt > 0 && n == opts.FailAt {
		f.mu.Unlock()
		failure := opts.FailWith
		if failure == nil {
			failure = services.ErrDeviceDisconnected
		}
		return nil, &services.Error{Kind: failure, Component: "scanner", Op: "acquire", Device: h.desc.ID, Message: fmt.Sprintf("leaf %d", n)}
	}
	f.captured = n
	f.mu.Unlock()

	return renderLeaf(n, req), nil
}

// renderLeaf paints a white page sized like the requested area at a
// tenth of the requested resolution, with the capture number in the middle.
func renderLeaf(n int, req ScanRequest) image.Image {
	area := req.Area.Resolve(FakeDescriptor())
	w := max(1, int(unitsToMM(area.Width())/25.4*float64(req.Resolution)/10))
	h := max(1, int(unitsToMM(area.Height())/25.4*float64(req.Resolution)/10))

	label := image.NewGray(image.Rect(0, 0, 7*len(fmt.Sprint(n))+4, 17))
	draw.Draw(label, label.Bounds(), image.White, image.Point{}, draw.Src)
	d := font.Drawer{
		Dst:  label,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(2, 13),
	}
	d.DrawString(fmt.Sprint(n))

	var page draw.Image
	if req.Mode == ModeColor {
		page = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		page = image.NewGray(image.Rect(0, 0, w, h))
	}
	draw.Draw(page, page.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	lw := max(1, w/3)
	lh := max(1, lw*label.Bounds().Dy()/label.Bounds().Dx())
	target := image.Rect((w-lw)/2, (h-lh)/2, (w-lw)/2+lw, (h-lh)/2+lh)
	xdraw.NearestNeighbor.Scale(page, target, label, label.Bounds(), xdraw.Src, nil)
	return page
}
