package api

import (
	"net/http"

	"folio/internal/library"
)

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	root := s.manager.Config().Paths.LibraryDir
	if q := r.URL.Query().Get("root"); q != "" {
		root = q
	}
	entries, err := library.Discover(root, library.Options{Logger: s.logger})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []library.Entry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"root": root, "books": entries})
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	e, err := s.current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, BookResponse{
		Path:      e.Path(),
		Title:     e.Book().Title(),
		Extension: e.Book().Extension(),
		Pages:     e.Store().Len(),
		Metadata:  e.Metadata().Record(),
	})
}

func (s *Server) handleOpenBook(w http.ResponseWriter, r *http.Request) {
	var req OpenBookRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.manager.Open(r.Context(), req.Path); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.handleBook(w, r)
}

func (s *Server) handleCloseBook(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.CloseBook(); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	e, err := s.current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := e.Assembly().Check()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}
