package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"folio/internal/engine"
	"folio/internal/logging"
	"folio/internal/services"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Server exposes a Manager over HTTP.
type Server struct {
	manager *engine.Manager
	logger  *slog.Logger
	handler http.Handler

	listener net.Listener
	server   *http.Server
}

// New builds the router for manager.
func New(manager *engine.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{manager: manager, logger: logging.NewComponentLogger(logger, "api")}

	router := mux.NewRouter()
	router.Use(s.requestID)
	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/library", s.handleLibrary).Methods(http.MethodGet)
	api.HandleFunc("/book", s.handleBook).Methods(http.MethodGet)
	api.HandleFunc("/book", s.handleOpenBook).Methods(http.MethodPost)
	api.HandleFunc("/book", s.handleCloseBook).Methods(http.MethodDelete)
	api.HandleFunc("/book/check", s.handleCheck).Methods(http.MethodGet)

	api.HandleFunc("/pages", s.handlePages).Methods(http.MethodGet)
	api.HandleFunc("/pages/flip", s.handleFlip).Methods(http.MethodPost)
	api.HandleFunc("/pages/import", s.handleImport).Methods(http.MethodPost)
	api.HandleFunc("/pages/renumber", s.handleRenumber).Methods(http.MethodPost)
	api.HandleFunc("/pages/orient", s.handleOrient).Methods(http.MethodPost)
	api.HandleFunc("/pages/{id:[0-9]+}", s.handleRemovePage).Methods(http.MethodDelete)
	api.HandleFunc("/pages/{id:[0-9]+}/role", s.handleRole).Methods(http.MethodPost)
	api.HandleFunc("/pages/{id:[0-9]+}/move", s.handleMove).Methods(http.MethodPost)
	api.HandleFunc("/pages/{id:[0-9]+}/thumbnail", s.handleThumbnail).Methods(http.MethodGet)
	api.HandleFunc("/pages/{id:[0-9]+}/ocr", s.handleOCR).Methods(http.MethodPost)

	api.HandleFunc("/scanner/devices", s.handleDevices).Methods(http.MethodGet)
	api.HandleFunc("/session", s.handleSession).Methods(http.MethodGet)
	api.HandleFunc("/session/device", s.handleSelectDevice).Methods(http.MethodPost)
	api.HandleFunc("/session/configure", s.handleConfigure).Methods(http.MethodPost)
	api.HandleFunc("/session/preview", s.handlePreview).Methods(http.MethodPost)
	api.HandleFunc("/session/scan", s.handleScan).Methods(http.MethodPost)
	api.HandleFunc("/session/rescan", s.handleRescan).Methods(http.MethodPost)
	api.HandleFunc("/session/commit", s.handleCommit).Methods(http.MethodPost)
	api.HandleFunc("/session/cancel", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/session/reset", s.handleReset).Methods(http.MethodPost)
	api.HandleFunc("/session/conflicts", s.handleConflicts).Methods(http.MethodPost)

	api.HandleFunc("/metadata", s.handleMetadata).Methods(http.MethodGet)
	api.HandleFunc("/metadata", s.handleUpdateMetadata).Methods(http.MethodPut)
	api.HandleFunc("/metadata/resolve", s.handleResolve).Methods(http.MethodPost)
	api.HandleFunc("/metadata/save", s.handleSaveMetadata).Methods(http.MethodPost)

	origins := manager.Config().API.AllowedOrigins
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	})
	s.handler = c.Handler(router)
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens on bind and serves until ctx ends or Stop is called. The
// returned address is the one actually bound.
func (s *Server) Start(ctx context.Context, bind string) (string, error) {
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return "", fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	addr := listener.Addr().String()
	s.logger.Info("api server listening", logging.String("address", addr))
	return addr, nil
}

// Stop shuts the server down, giving running requests five seconds.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) current() (*engine.Engine, error) {
	e, ok := s.manager.Current()
	if !ok {
		return nil, noBook()
	}
	return e, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := logging.WithContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logging.WarnWithContext(logger, "api request failed", "api_request_failed",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Error(err),
		)
	} else {
		logger.Debug("api request rejected",
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Error(err),
		)
	}
	s.writeJSON(w, status, errorResponse(err))
}

func decode(r *http.Request, dst any) error {
	return decodeBody(r, dst, false)
}

// decodeOptional accepts an empty body and leaves dst untouched.
func decodeOptional(r *http.Request, dst any) error {
	return decodeBody(r, dst, true)
}

func decodeBody(r *http.Request, dst any, optional bool) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return services.Wrap(services.ErrInvalidParameters, "api", "decode", "malformed request body", err)
	}
	return nil
}

func pageID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, services.Wrap(services.ErrInvalidParameters, "api", "page id", raw, err)
	}
	return id, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "folio"})
}
