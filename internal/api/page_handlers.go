package api

import (
	"bytes"
	"net/http"
	"time"

	"folio/internal/assembly"
	"folio/internal/imageio"
	"folio/internal/pagestore"
	"folio/internal/services"
)

func (s *Server) handlePages(w http.ResponseWriter, r *http.Request) {
	e, err := s.current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, PagesResponse{Pages: e.Pages()})
}

func (s *Server) handleRole(w http.ResponseWriter, r *http.Request) {
	e, err := s.current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pageID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req RoleRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	role, err := parseRole(req.Role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := e.Assembly().SetRole(id, role); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, PagesResponse{Pages: e.Pages()})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	e, err := s.current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pageID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req MoveRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := e.Store().Reorder(id, req.Position); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, PagesResponse{Pages: e.Pages()})
}

func (s *Server) handleRemovePage(w http.ResponseWriter, r *http.Request) {
	e, err := s.current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pageID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := e.Assembly().Remove(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFlip(w http.ResponseWriter, r *http.Request) {
	e, err := s.current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req FlipRequest
	if err := decodeOptional(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	start := pagestore.Recto
	if req.Start != "" {
		if start, err = parseRole(req.Start); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	var changed int
	if req.From == nil {
		if start != pagestore.Recto {
			first, ok := e.Store().At(0)
			if !ok {
				s.writeJSON(w, http.StatusOK, FlipResponse{})
				return
			}
			changed, err = e.Assembly().FlipFromPage(first.ID, start)
		} else {
			changed, err = e.Assembly().FlipBook()
		}
	} else {
		changed, err = e.Assembly().FlipFromPage(*req.From, start)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, FlipResponse{Changed: changed})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	e, err := s.current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ImportRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	start := pagestore.Recto
	if req.Start != "" {
		if start, err = parseRole(req.Start); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	resolutions, err := parseResolutions(req.Resolutions)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := e.Assembly().Import(r.Context(), req.Paths, start, resolutions)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRenumber(w http.ResponseWriter, r *http.Request) {
	e, err := s.current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req RenumberRequest
	if err := decodeOptional(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	order, err := assembly.ParseRenumberOrder(req.Order)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resolutions, err := parseResolutions(req.Resolutions)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := e.Assembly().Renumber(r.Context(), assembly.RenumberOptions{Order: order, DryRun: req.DryRun, Resolutions: resolutions})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleOrient(w http.ResponseWriter, r *http.Request) {
	e, err := s.current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req OrientRequest
	if err := decodeOptional(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	oriented, err := e.Assembly().Orient(r.Context(), req.Invert)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if oriented == nil {
		oriented = []int64{}
	}
	s.writeJSON(w, http.StatusOK, OrientResponse{Oriented: oriented})
}

func parseRole(value string) (pagestore.Role, error) {
	role, err := pagestore.ParseRole(value)
	if err != nil {
		return role, services.Wrap(services.ErrInvalidParameters, "api", "role", value, err)
	}
	return role, nil
}

func parseResolutions(raw map[string]string) (map[string]assembly.Resolution, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]assembly.Resolution, len(raw))
	for path, value := range raw {
		res, err := assembly.ParseResolution(value)
		if err != nil {
			return nil, err
		}
		out[path] = res
	}
	return out, nil
}

// handleThumbnail serves the page thumbnail, turning verso pages upright.
func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	e, err := s.current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pageID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	path, err := e.Artifacts().Thumbnail(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, ok := e.Store().Get(id)
	if !ok {
		s.writeError(w, r, services.Wrap(services.ErrNotFound, "api", "thumbnail", "page removed", nil))
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	if page.Role != pagestore.Verso {
		w.Header().Set("Content-Type", "image/png")
		http.ServeFile(w, r, path)
		return
	}
	img, err := imageio.Load(path)
	if err != nil {
		s.writeError(w, r, services.WrapPath(services.ErrPersistence, "api", "thumbnail", path, err))
		return
	}
	data, err := imageio.EncodePNG(imageio.Rotate180(img))
	if err != nil {
		s.writeError(w, r, services.WrapPath(services.ErrPersistence, "api", "thumbnail", path, err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	http.ServeContent(w, r, "thumbnail.png", time.Time{}, bytes.NewReader(data))
}

func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request) {
	e, err := s.current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pageID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := services.WithPageID(r.Context(), id)
	if r.URL.Query().Get("refresh") == "" {
		text, ok, err := e.Artifacts().Text(ctx, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if ok {
			s.writeJSON(w, http.StatusOK, TextResponse{ID: id, Text: text, Cached: true})
			return
		}
	}
	text, err := e.Artifacts().OCR(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TextResponse{ID: id, Text: text})
}
