package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"folio/internal/config"
	"folio/internal/logging"
	"folio/internal/metadata"
	"folio/internal/ocr"
	"folio/internal/scanner"
	"folio/internal/services"
	"folio/internal/session"
	"folio/internal/thumbnail"
)

// Options configure a Manager. Zero fields are built from Config.
type Options struct {
	Config   *config.Config
	Logger   *slog.Logger
	Backend  scanner.Backend
	// OCR may be nil; text recognition then reports OcrUnavailable.
	OCR      ocr.Engine
	Resolver metadata.Resolver
	// NoResolver disables metadata resolution even when Config names one.
	NoResolver bool

	OnTransition func(session.Transition)
	OnProgress   func(session.Progress)
}

// Manager holds the process-wide services and the currently open book.
type Manager struct {
	cfg        *config.Config
	logger     *slog.Logger
	catalog    *scanner.Catalog
	thumbnails *thumbnail.Cache
	ocr        ocr.Engine
	resolver   metadata.Resolver
	hotplug    *scanner.HotplugMonitor
	onTrans    func(session.Transition)
	onProg     func(session.Progress)

	mu      sync.Mutex
	current *Engine
}

// NewManager builds the shared services described by the configuration.
func NewManager(opts Options) (*Manager, error) {
	if opts.Config == nil {
		return nil, errors.New("engine requires configuration")
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	backend := opts.Backend
	if backend == nil {
		var err error
		backend, err = newBackend(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	size, err := thumbnail.ParseSize(cfg.Artifacts.ThumbnailSize)
	if err != nil {
		return nil, services.Wrap(services.ErrInvalidParameters, "engine", "thumbnails", cfg.Artifacts.ThumbnailSize, err)
	}
	thumbs, err := thumbnail.NewCache(cfg.Paths.ThumbnailDir, size, logging.NewComponentLogger(logger, "thumbnail"))
	if err != nil {
		return nil, services.WrapPath(services.ErrPersistence, "engine", "thumbnails", cfg.Paths.ThumbnailDir, err)
	}

	resolver := opts.Resolver
	if resolver == nil && !opts.NoResolver {
		resolver = newResolver(cfg)
	}

	m := &Manager{
		cfg:        cfg,
		logger:     logger,
		catalog:    scanner.NewCatalog(backend),
		thumbnails: thumbs,
		ocr:        opts.OCR,
		resolver:   resolver,
		onTrans:    opts.OnTransition,
		onProg:     opts.OnProgress,
	}
	if cfg.Scanner.Hotplug {
		m.hotplug = scanner.NewHotplugMonitor(logger, func(action string) {
			m.catalog.Invalidate()
			logger.Debug("scanner list invalidated", logging.String("action", action))
		})
	}
	return m, nil
}

func newBackend(cfg *config.Config, logger *slog.Logger) (scanner.Backend, error) {
	switch strings.ToLower(cfg.Scanner.Backend) {
	case "fake":
		return scanner.NewFake(scanner.FakeOptions{}), nil
	case "sane", "":
		sane, err := scanner.NewSane(cfg.Scanner.Binary, cfg.AcquireTimeout(),
			scanner.WithLogger(logging.NewComponentLogger(logger, "sane")))
		if err != nil {
			return nil, services.Wrap(services.ErrInvalidParameters, "engine", "scanner backend", "sane", err)
		}
		return sane, nil
	default:
		return nil, services.Wrap(services.ErrInvalidParameters, "engine", "scanner backend", fmt.Sprintf("unknown backend %q", cfg.Scanner.Backend), nil)
	}
}

func newResolver(cfg *config.Config) metadata.Resolver {
	switch strings.ToLower(cfg.Metadata.Resolver) {
	case "openlibrary":
		return metadata.NewOpenLibrary(cfg.Metadata.BaseURL, cfg.MetadataTimeout())
	default:
		return nil
	}
}

// Config returns the configuration the manager was built with.
func (m *Manager) Config() *config.Config { return m.cfg }

// Catalog returns the scanner catalog shared by every book.
func (m *Manager) Catalog() *scanner.Catalog { return m.catalog }

// Thumbnails returns the shared thumbnail cache.
func (m *Manager) Thumbnails() *thumbnail.Cache { return m.thumbnails }

// Resolver returns the metadata resolver, or nil when resolution is disabled.
func (m *Manager) Resolver() metadata.Resolver { return m.resolver }

// Start begins hotplug monitoring when enabled.
func (m *Manager) Start(ctx context.Context) error {
	return m.hotplug.Start(ctx)
}

// Open closes the current book, if any, and opens the folder at path.
func (m *Manager) Open(ctx context.Context, path string) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		prev := m.current
		m.current = nil
		if err := prev.Close(); err != nil {
			logging.WarnWithContext(m.logger, "previous book did not close cleanly", "book_close_failed",
				logging.String(logging.FieldBook, prev.Path()),
				logging.Error(err),
			)
		}
	}
	e, err := open(ctx, m, path)
	if err != nil {
		return nil, err
	}
	m.current = e
	return e, nil
}

// Current returns the open book.
func (m *Manager) Current() (*Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.current != nil
}

// CloseBook closes the open book, if any.
func (m *Manager) CloseBook() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	err := m.current.Close()
	m.current = nil
	return err
}

// Close closes the open book and stops hotplug monitoring.
func (m *Manager) Close() error {
	err := m.CloseBook()
	m.hotplug.Stop()
	return err
}
