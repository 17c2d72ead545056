package api

import (
	"context"
	"errors"
	"net/http"

	"folio/internal/assembly"
	"folio/internal/services"
	"folio/internal/session"
)

var statusByKind = []struct {
	kind   error
	status int
}{
	{services.ErrInvalidParameters, http.StatusBadRequest},
	{services.ErrInvalidFolder, http.StatusBadRequest},
	{services.ErrNotFound, http.StatusNotFound},
	{services.ErrOverwriteConflict, http.StatusConflict},
	{services.ErrSessionBusy, http.StatusConflict},
	{services.ErrInvalidTransition, http.StatusConflict},
	{services.ErrDeviceUnavailable, http.StatusServiceUnavailable},
	{services.ErrDeviceDisconnected, http.StatusServiceUnavailable},
	{services.ErrOcrUnavailable, http.StatusServiceUnavailable},
	{services.ErrTimeout, http.StatusGatewayTimeout},
	{services.ErrMetadataResolutionFailed, http.StatusBadGateway},
	{services.ErrPersistence, http.StatusInternalServerError},
}

// statusFor maps an engine error to an HTTP status.
func statusFor(err error) int {
	for _, entry := range statusByKind {
		if errors.Is(err, entry.kind) {
			return entry.status
		}
	}
	if errors.Is(err, context.Canceled) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func errorResponse(err error) ErrorResponse {
	resp := ErrorResponse{Error: err.Error(), Kind: services.KindName(err)}
	if resp.Kind == "Internal" && errors.Is(err, context.Canceled) {
		resp.Kind = "Cancelled"
	}
	if detail, ok := services.Details(err); ok {
		resp.Component = detail.Component
		resp.Path = detail.Path
		resp.Device = detail.Device
		resp.JobState = detail.JobState
	}
	var conflict *assembly.ConflictError
	if errors.As(err, &conflict) {
		resp.Conflicts = conflict.Paths
	}
	var scanErr *session.ScanError
	if errors.As(err, &scanErr) {
		captured, target := scanErr.Captured, scanErr.Target
		resp.Captured = &captured
		resp.Target = &target
	}
	return resp
}

func noBook() error {
	return services.Wrap(services.ErrInvalidTransition, "api", "book", "no book is open", nil)
}
