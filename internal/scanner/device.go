package scanner

import (
	"context"
	"fmt"
	"image"
	"slices"
	"strings"
)

// UnitsPerMM is the number of device units in one millimetre.
const UnitsPerMM = 65536

// Mode is a colour mode a device can scan in.
type Mode string

const (
	ModeColor     Mode = "Color"
	ModeGrayscale Mode = "Grayscale"
	ModeLineart   Mode = "Lineart"
)

// ParseMode accepts the common spellings of a scan mode.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "color", "colour", "rgb":
		return ModeColor, nil
	case "grayscale", "greyscale", "gray", "grey":
		return ModeGrayscale, nil
	case "lineart", "binary", "bw":
		return ModeLineart, nil
	default:
		return "", fmt.Errorf("unknown scan mode %q", value)
	}
}

// Rect is a rectangle in device units, top-left inclusive.
type Rect struct {
	TLX int64 `json:"tl_x"`
	TLY int64 `json:"tl_y"`
	BRX int64 `json:"br_x"`
	BRY int64 `json:"br_y"`
}

// Width returns the horizontal extent in device units.
func (r Rect) Width() int64 { return r.BRX - r.TLX }

// Height returns the vertical extent in device units.
func (r Rect) Height() int64 { return r.BRY - r.TLY }

// Empty reports whether the rectangle covers no area.
func (r Rect) Empty() bool { return r.Width() <= 0 || r.Height() <= 0 }

// Within reports whether r lies inside bounds.
func (r Rect) Within(bounds Rect) bool {
	return r.TLX >= bounds.TLX && r.TLY >= bounds.TLY && r.BRX <= bounds.BRX && r.BRY <= bounds.BRY
}

// RectMM builds a Rect from millimetre coordinates.
func RectMM(left, top, right, bottom float64) Rect {
	return Rect{TLX: mmToUnits(left), TLY: mmToUnits(top), BRX: mmToUnits(right), BRY: mmToUnits(bottom)}
}

func mmToUnits(mm float64) int64 { return int64(mm * UnitsPerMM) }

func unitsToMM(units int64) float64 { return float64(units) / UnitsPerMM }

// Area is either the whole bed or a custom rectangle.
type Area struct {
	Maximised bool `json:"maximised"`
	Custom    Rect `json:"custom"`
}

// MaximisedArea selects the full scan bed.
func MaximisedArea() Area { return Area{Maximised: true} }

// CustomArea selects a rectangle of the bed.
func CustomArea(r Rect) Area { return Area{Custom: r} }

// Resolve returns the concrete rectangle the area covers on a device.
func (a Area) Resolve(d DeviceDescriptor) Rect {
	if a.Maximised {
		return d.MaxArea
	}
	return a.Custom
}

func (a Area) String() string {
	if a.Maximised {
		return "maximised"
	}
	return fmt.Sprintf("%.1fx%.1fmm+%.1f+%.1f",
		unitsToMM(a.Custom.Width()), unitsToMM(a.Custom.Height()),
		unitsToMM(a.Custom.TLX), unitsToMM(a.Custom.TLY))
}

// DeviceDescriptor describes a scanner and the options it supports.
type DeviceDescriptor struct {
	ID          string `json:"id"`
	Vendor      string `json:"vendor"`
	Model       string `json:"model"`
	Type        string `json:"type,omitempty"`
	Resolutions []int  `json:"resolutions"`
	Modes       []Mode `json:"modes"`
	MaxArea     Rect   `json:"max_area"`
}

// SupportsResolution reports whether dpi is advertised.
func (d DeviceDescriptor) SupportsResolution(dpi int) bool {
	return slices.Contains(d.Resolutions, dpi)
}

// SupportsMode reports whether mode is advertised.
func (d DeviceDescriptor) SupportsMode(mode Mode) bool {
	return slices.Contains(d.Modes, mode)
}

// LowestResolution returns the cheapest advertised resolution, used for previews.
func (d DeviceDescriptor) LowestResolution() int {
	if len(d.Resolutions) == 0 {
		return 0
	}
	return slices.Min(d.Resolutions)
}

// Label is a short human-readable device name.
func (d DeviceDescriptor) Label() string {
	label := strings.TrimSpace(d.Vendor + " " + d.Model)
	if label == "" {
		return d.ID
	}
	return label
}

// ScanRequest carries the parameters of one acquisition.
type ScanRequest struct {
	Resolution int  `json:"resolution"`
	Mode       Mode `json:"mode"`
	Area       Area `json:"area"`
}

// Backend enumerates and opens devices.
type Backend interface {
	Name() string
	// Enumerate lists the devices currently attached.
	Enumerate(ctx context.Context) ([]DeviceDescriptor, error)
	// Open claims a device. It fails with services.ErrDeviceUnavailable when
	// the id is not enumerable.
	Open(ctx context.Context, id string) (Handle, error)
}

// Handle is an opened device. Acquire is never called concurrently on the
// same handle.
type Handle interface {
	Descriptor() DeviceDescriptor
	// Acquire captures one leaf. Failures match services.ErrDeviceDisconnected,
	// services.ErrTimeout or services.ErrInvalidParameters; a cancelled ctx
	// returns ctx.Err().
	Acquire(ctx context.Context, req ScanRequest) (image.Image, error)
	Close() error
}
