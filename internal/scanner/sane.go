package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"folio/internal/imageio"
	"folio/internal/logging"
	"folio/internal/services"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Output(ctx context.Context, binary string, args []string) ([]byte, error)
}

// Option configures the SANE backend.
type Option func(*Sane)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(s *Sane) {
		if exec != nil {
			s.exec = exec
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sane) {
		s.logger = logging.NewComponentLogger(logger, "scanner")
	}
}

// Sane drives scanners through the scanimage command line frontend.
type Sane struct {
	binary         string
	acquireTimeout time.Duration
	exec           Executor
	logger         *slog.Logger
}

// NewSane constructs a SANE backend.
func NewSane(binary string, acquireTimeout time.Duration, opts ...Option) (*Sane, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("scanimage binary required")
	}
	s := &Sane{
		binary:         binary,
		acquireTimeout: acquireTimeout,
		exec:           commandExecutor{},
		logger:         logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Sane) Name() string { return "sane" }

// listFormat asks scanimage for one tab separated line per device.
const listFormat = "%d\t%v\t%m\t%t%n"

func (s *Sane) Enumerate(ctx context.Context) ([]DeviceDescriptor, error) {
	out, err := s.exec.Output(ctx, s.binary, []string{"--formatted-device-list=" + listFormat})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, services.Wrap(services.ErrDeviceUnavailable, "scanner", "enumerate", "scanimage failed", err)
	}
	return parseDeviceList(out), nil
}

func (s *Sane) Open(ctx context.Context, id string) (Handle, error) {
	devices, err := s.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	var desc *DeviceDescriptor
	for i := range devices {
		if devices[i].ID == id {
			desc = &devices[i]
			break
		}
	}
	if desc == nil {
		return nil, &services.Error{Kind: services.ErrDeviceUnavailable, Component: "scanner", Op: "open", Device: id, Message: "device not found"}
	}

	out, err := s.exec.Output(ctx, s.binary, []string{"--device-name=" + id, "--all-options"})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &services.Error{Kind: services.ErrDeviceUnavailable, Component: "scanner", Op: "open", Device: id, Message: "read options", Err: err}
	}
	caps := parseOptions(out)
	desc.Resolutions = caps.resolutions
	desc.Modes = caps.modes
	desc.MaxArea = caps.maxArea

	s.logger.Debug("device opened",
		logging.String(logging.FieldDevice, id),
		logging.Any("resolutions", desc.Resolutions),
		logging.Any("modes", desc.Modes),
	)
	return &saneHandle{backend: s, desc: *desc, modeNames: caps.modeNames}, nil
}

type saneHandle struct {
	mu        sync.Mutex
	backend   *Sane
	desc      DeviceDescriptor
	modeNames map[Mode]string
}

func (h *saneHandle) Descriptor() DeviceDescriptor { return h.desc }

func (h *saneHandle) Close() error { return nil }

func (h *saneHandle) Acquire(ctx context.Context, req ScanRequest) (image.Image, error) {
	if err := Validate(h.desc, req); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.backend
	acqCtx := ctx
	if s.acquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.acquireTimeout)
		defer cancel()
	}

	started := time.Now()
	out, err := s.exec.Output(acqCtx, s.binary, h.acquireArgs(req))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(acqCtx.Err(), context.DeadlineExceeded) {
			return nil, &services.Error{Kind: services.ErrTimeout, Component: "scanner", Op: "acquire", Device: h.desc.ID,
				Message: fmt.Sprintf("no image after %s", s.acquireTimeout), Err: err}
		}
		return nil, h.classifyFailure(ctx, err)
	}

	img, err := imageio.Decode(out)
	if err != nil {
		return nil, &services.Error{Kind: services.ErrDeviceDisconnected, Component: "scanner", Op: "acquire", Device: h.desc.ID,
			Message: "truncated image data", Err: err}
	}
	s.logger.Debug("leaf acquired",
		logging.String(logging.FieldDevice, h.desc.ID),
		logging.Int("resolution", req.Resolution),
		logging.Duration("elapsed", time.Since(started)),
	)
	return img, nil
}

// classifyFailure decides whether a failed acquisition means the device went
// away. It re-enumerates: a device that is no longer listed is disconnected.
func (h *saneHandle) classifyFailure(ctx context.Context, cause error) error {
	devices, err := h.backend.Enumerate(ctx)
	present := false
	if err == nil {
		for _, d := range devices {
			if d.ID == h.desc.ID {
				present = true
				break
			}
		}
	}
	if !present {
		return &services.Error{Kind: services.ErrDeviceDisconnected, Component: "scanner", Op: "acquire", Device: h.desc.ID,
			Message: "device vanished during acquisition", Err: cause}
	}
	return &services.Error{Kind: services.ErrDeviceUnavailable, Component: "scanner", Op: "acquire", Device: h.desc.ID,
		Message: "device reported an error", Err: cause}
}

func (h *saneHandle) acquireArgs(req ScanRequest) []string {
	mode := h.modeNames[req.Mode]
	if mode == "" {
		mode = string(req.Mode)
	}
	args := []string{
		"--device-name=" + h.desc.ID,
		"--format=tiff",
		"--mode", mode,
		"--resolution", strconv.Itoa(req.Resolution),
	}
	if !req.Area.Maximised {
		r := req.Area.Custom
		args = append(args,
			"-l", formatMM(r.TLX),
			"-t", formatMM(r.TLY),
			"-x", formatMM(r.Width()),
			"-y", formatMM(r.Height()),
		)
	}
	return args
}

func formatMM(units int64) string {
	return strconv.FormatFloat(unitsToMM(units), 'f', 2, 64)
}

// CommandError carries the stderr of a failed scanimage invocation.
type CommandError struct {
	Binary string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: %v", e.Binary, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Binary, e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

type commandExecutor struct{}

func (commandExecutor) Output(ctx context.Context, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &CommandError{Binary: binary, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return stdout.Bytes(), nil
}
