package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"folio/internal/bookdb"
	"folio/internal/logging"
	"folio/internal/scanner"
	"folio/internal/services"
)

// saveScanConfig stores the session's device and parameters in the book.
func (e *Engine) saveScanConfig(ctx context.Context) error {
	device, req, ok := e.session.Configuration()
	if !ok {
		return nil
	}
	data, err := json.Marshal(req)
	if err != nil {
		return services.Wrap(services.ErrPersistence, "engine", "save scan config", "encode", err)
	}
	if err := e.db.PutSetting(ctx, bookdb.SettingScanDevice, device); err != nil {
		return err
	}
	return e.db.PutSetting(ctx, bookdb.SettingScanConfig, string(data))
}

// StoredScanConfig returns the device and parameters last used for this book.
func (e *Engine) StoredScanConfig(ctx context.Context) (string, scanner.ScanRequest, bool, error) {
	device, ok, err := e.db.Setting(ctx, bookdb.SettingScanDevice)
	if err != nil || !ok || device == "" {
		return "", scanner.ScanRequest{}, false, err
	}
	raw, ok, err := e.db.Setting(ctx, bookdb.SettingScanConfig)
	if err != nil || !ok {
		return "", scanner.ScanRequest{}, false, err
	}
	var req scanner.ScanRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return "", scanner.ScanRequest{}, false, services.Wrap(services.ErrPersistence, "engine", "load scan config", fmt.Sprintf("decode %q", raw), err)
	}
	return device, req, true, nil
}

// RestoreScanConfig selects the stored device and applies the stored
// parameters. It reports false when nothing was stored.
func (e *Engine) RestoreScanConfig(ctx context.Context) (bool, error) {
	device, req, ok, err := e.StoredScanConfig(ctx)
	if err != nil || !ok {
		return false, err
	}
	if _, err := e.session.SelectDevice(ctx, device); err != nil {
		return false, err
	}
	if err := e.session.Configure(req); err != nil {
		return false, err
	}
	e.logger.Info("scan configuration restored",
		logging.String(logging.FieldDevice, device),
		logging.Int("resolution", req.Resolution),
		logging.String("mode", string(req.Mode)),
		logging.String("area", req.Area.String()),
	)
	return true, nil
}
