package api

import (
	"bytes"
	"net/http"
	"time"

	"folio/internal/imageio"
	"folio/internal/scanner"
	"folio/internal/services"
	"folio/internal/session"
)

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	catalog := s.manager.Catalog()
	if r.URL.Query().Get("refresh") != "" {
		catalog.Invalidate()
	}
	devices, err := catalog.Devices(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if devices == nil {
		devices = []scanner.DeviceDescriptor{}
	}
	s.writeJSON(w, http.StatusOK, DevicesResponse{Devices: devices})
}

func (s *Server) sessionResponse(c *session.Controller) SessionResponse {
	resp := SessionResponse{Status: c.Status()}
	if job := resp.Job; job != nil && resp.State == session.StateScanning && job.Captured < job.Target {
		if eta, ok := c.Estimate(job.Captured, job.Target); ok {
			resp.ETA = &eta
		}
	}
	return resp
}

func (s *Server) controller(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	e, err := s.current()
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return e.Session(), true
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.sessionResponse(c))
}

func (s *Server) handleSelectDevice(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	var req DeviceRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := c.SelectDevice(r.Context(), req.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.sessionResponse(c))
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	var req scanner.ScanRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := c.Configure(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.sessionResponse(c))
}

// handlePreview acquires a preview and returns it as PNG.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	img, err := c.Preview(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := imageio.EncodePNG(img)
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrPersistence, "api", "preview", "encode", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	http.ServeContent(w, r, "preview.png", time.Time{}, bytes.NewReader(data))
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	var req ScanRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := c.Scan(r.Context(), req.Count); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.sessionResponse(c))
}

func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	var req RescanRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := c.Rescan(r.Context(), req.FirstIndex, req.Count); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.sessionResponse(c))
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	res, err := c.Commit(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, CommitResponse{Result: res, Session: c.Status()})
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	var req ConflictsRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resolutions, err := parseResolutions(req.Resolutions)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	for path, res := range resolutions {
		if err := c.Resolve(path, res); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, s.sessionResponse(c))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	if err := c.Cancel(); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.sessionResponse(c))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	if err := c.Reset(); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.sessionResponse(c))
}
