package services

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error that leaves a component matches exactly one of
// these with errors.Is.
var (
	ErrDeviceUnavailable        = errors.New("device unavailable")
	ErrDeviceDisconnected       = errors.New("device disconnected")
	ErrInvalidParameters        = errors.New("invalid parameters")
	ErrTimeout                  = errors.New("timeout")
	ErrSessionBusy              = errors.New("session busy")
	ErrInvalidTransition        = errors.New("invalid transition")
	ErrOverwriteConflict        = errors.New("overwrite conflict")
	ErrOcrUnavailable           = errors.New("ocr unavailable")
	ErrPersistence              = errors.New("persistence error")
	ErrInvalidFolder            = errors.New("invalid folder")
	ErrMetadataResolutionFailed = errors.New("metadata resolution failed")
	ErrNotFound                 = errors.New("not found")
)

var kindNames = []struct {
	kind error
	name string
}{
	{ErrDeviceUnavailable, "DeviceUnavailable"},
	{ErrDeviceDisconnected, "DeviceDisconnected"},
	{ErrInvalidParameters, "InvalidParameters"},
	{ErrTimeout, "Timeout"},
	{ErrSessionBusy, "SessionBusy"},
	{ErrInvalidTransition, "InvalidTransition"},
	{ErrOverwriteConflict, "OverwriteConflict"},
	{ErrOcrUnavailable, "OcrUnavailable"},
	{ErrPersistence, "PersistenceError"},
	{ErrInvalidFolder, "InvalidFolder"},
	{ErrMetadataResolutionFailed, "MetadataResolutionFailed"},
	{ErrNotFound, "NotFound"},
}

// Error is the structured carrier for failures crossing component
// boundaries. Optional fields are left empty when they do not apply.
type Error struct {
	Kind      error
	Component string
	Op        string
	Message   string
	Device    string
	Path      string
	JobState  string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	kind := e.Kind
	if kind == nil {
		kind = ErrPersistence
	}
	b.WriteString(kind.Error())
	b.WriteString(": ")
	b.WriteString(buildDetail(e.Component, e.Op, e.Message))
	if e.Device != "" {
		fmt.Fprintf(&b, " (device %s)", e.Device)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (path %s)", e.Path)
	}
	if e.JobState != "" {
		fmt.Fprintf(&b, " (job %s)", e.JobState)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Wrap builds a structured error tagged with marker. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	return &Error{Kind: marker, Component: component, Op: operation, Message: message, Err: err}
}

// WrapPath is Wrap with the offending filesystem path attached.
func WrapPath(marker error, component, operation, path string, err error) error {
	return &Error{Kind: marker, Component: component, Op: operation, Path: path, Err: err}
}

// KindName returns the taxonomy name of err ("SessionBusy", ...), or
// "Internal" when err matches none of the kinds.
func KindName(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range kindNames {
		if errors.Is(err, entry.kind) {
			return entry.name
		}
	}
	return "Internal"
}

// Details returns the structured carrier inside err, if any.
func Details(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "engine failure"
	}
	return strings.Join(parts, ": ")
}
