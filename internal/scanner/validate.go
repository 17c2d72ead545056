package scanner

import (
	"fmt"

	"folio/internal/services"
)

// Validate checks req against the capabilities d advertises.
func Validate(d DeviceDescriptor, req ScanRequest) error {
	if req.Resolution <= 0 {
		return invalid(d, fmt.Sprintf("resolution must be positive, got %d", req.Resolution))
	}
	if !d.SupportsResolution(req.Resolution) {
		return invalid(d, fmt.Sprintf("resolution %d dpi not supported (supported: %v)", req.Resolution, d.Resolutions))
	}
	if !d.SupportsMode(req.Mode) {
		return invalid(d, fmt.Sprintf("mode %q not supported (supported: %v)", req.Mode, d.Modes))
	}
	if !req.Area.Maximised {
		if req.Area.Custom.Empty() {
			return invalid(d, "scan area is empty")
		}
		if !req.Area.Custom.Within(d.MaxArea) {
			return invalid(d, fmt.Sprintf("scan area %s exceeds the bed", req.Area))
		}
	}
	return nil
}

func invalid(d DeviceDescriptor, message string) error {
	return &services.Error{
		Kind:      services.ErrInvalidParameters,
		Component: "scanner",
		Op:        "validate",
		Message:   message,
		Device:    d.ID,
	}
}
