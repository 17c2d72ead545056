package api

import (
	"net/http"

	"folio/internal/metadata"
)

func metadataResponse(f *metadata.Facade) MetadataResponse {
	resp := MetadataResponse{Record: f.Record(), Edited: []string{}, Dirty: f.Dirty()}
	for _, field := range metadata.Fields {
		if f.Edited(field) {
			resp.Edited = append(resp.Edited, string(field))
		}
	}
	return resp
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	e, err := s.current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, metadataResponse(e.Metadata()))
}

// handleUpdateMetadata applies a map of field name to value. Unknown field
// names reject the whole request before anything is stored.
func (s *Server) handleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	e, err := s.current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req map[string]string
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	fields := make(map[metadata.Field]string, len(req))
	for name, value := range req {
		field, err := metadata.ParseField(name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		fields[field] = value
	}
	facade := e.Metadata()
	for _, field := range metadata.Fields {
		value, ok := fields[field]
		if !ok {
			continue
		}
		if err := facade.Set(field, value); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, metadataResponse(facade))
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	e, err := s.current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	applied, err := e.Resolve(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := ResolveResponse{Applied: []string{}, Metadata: metadataResponse(e.Metadata())}
	for _, f := range applied {
		resp.Applied = append(resp.Applied, string(f))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSaveMetadata(w http.ResponseWriter, r *http.Request) {
	e, err := s.current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := e.Metadata().Save(); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, metadataResponse(e.Metadata()))
}
