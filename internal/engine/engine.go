package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"folio/internal/artifacts"
	"folio/internal/assembly"
	"folio/internal/book"
	"folio/internal/bookdb"
	"folio/internal/logging"
	"folio/internal/metadata"
	"folio/internal/pagestore"
	"folio/internal/scanner"
	"folio/internal/services"
	"folio/internal/session"
)

// Engine is one open book and everything working on it.
type Engine struct {
	manager  *Manager
	logger   *slog.Logger
	book     *book.Book
	db       *bookdb.DB
	store    *pagestore.Store
	session  *session.Controller
	assembly *assembly.Engine
	pipeline *artifacts.Pipeline
	metadata *metadata.Facade

	progress    *logging.ProgressSampler
	unsubscribe func()

	persistMu sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func open(ctx context.Context, m *Manager, path string) (_ *Engine, err error) {
	cfg := m.cfg
	b, err := book.Open(path, book.Options{
		DefaultTitle:     cfg.Book.Title,
		DefaultExtension: cfg.Book.Extension,
		Logger:           logging.NewComponentLogger(m.logger, "book"),
	})
	if err != nil {
		return nil, err
	}
	logger := m.logger.With(logging.String(logging.FieldBook, b.Path()))
	ctx = services.WithBook(ctx, b.Path())

	e := &Engine{
		manager:  m,
		logger:   logger,
		book:     b,
		store:    pagestore.New(),
		progress: logging.NewProgressSampler(25),
	}
	defer func() {
		if err != nil {
			e.closeResources()
		}
	}()

	e.db, err = bookdb.Open(ctx, b.Path(), logging.NewComponentLogger(logger, "bookdb"))
	if err != nil {
		return nil, err
	}
	e.metadata, err = metadata.Open(b.Path(), logging.NewComponentLogger(logger, "metadata"))
	if err != nil {
		return nil, err
	}
	if err := e.load(ctx); err != nil {
		return nil, err
	}
	e.unsubscribe = e.store.SubscribeBatch(e.observe)

	e.assembly = assembly.New(b, e.store, logging.NewComponentLogger(logger, "assembly"))
	e.pipeline = artifacts.New(e.store, artifacts.Options{
		Workers:          cfg.Artifacts.Workers,
		Thumbnails:       m.thumbnails,
		OCR:              m.ocr,
		Texts:            e.db,
		Language:         func() string { return e.metadata.Record().Language },
		FallbackLanguage: cfg.OCR.DefaultLanguage,
		Logger:           logging.NewComponentLogger(logger, "artifacts"),
	})
	e.adoptStoredText(ctx)
	e.session = session.New(m.catalog, e.assembly, session.Options{
		Logger:       logging.NewComponentLogger(logger, "session"),
		OnTransition: e.onTransition,
		OnProgress:   e.onProgress,
	})

	logger.Info("book opened",
		logging.Int("pages", e.store.Len()),
		logging.String("title", b.Title()),
		logging.String("extension", b.Extension()),
		logging.String(logging.FieldEventType, "book_opened"),
	)
	return e, nil
}

// Path returns the book folder.
func (e *Engine) Path() string { return e.book.Path() }

// Book returns the book folder.
func (e *Engine) Book() *book.Book { return e.book }

// Store returns the page store.
func (e *Engine) Store() *pagestore.Store { return e.store }

// Session returns the scan session controller.
func (e *Engine) Session() *session.Controller { return e.session }

// Assembly returns the flip/assembly engine.
func (e *Engine) Assembly() *assembly.Engine { return e.assembly }

// Artifacts returns the derived artifact pipeline.
func (e *Engine) Artifacts() *artifacts.Pipeline { return e.pipeline }

// Metadata returns the metadata facade.
func (e *Engine) Metadata() *metadata.Facade { return e.metadata }

// Catalog returns the scanner catalog.
func (e *Engine) Catalog() *scanner.Catalog { return e.manager.catalog }

// Resolve looks up the book's ISBN with the configured resolver.
func (e *Engine) Resolve(ctx context.Context) ([]metadata.Field, error) {
	return e.metadata.Resolve(services.WithBook(ctx, e.Path()), e.manager.resolver)
}

func (e *Engine) onTransition(t session.Transition) {
	if t.To == session.StateScanning {
		e.progress.Reset()
	}
	if t.To == session.StateConfiguring {
		if err := e.saveScanConfig(context.Background()); err != nil {
			logging.WarnWithContext(e.logger, "scan configuration not stored", "scan_config_persist_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "scanner settings are not restored when the book is reopened"),
			)
		}
	}
	if hook := e.manager.onTrans; hook != nil {
		hook(t)
	}
}

func (e *Engine) onProgress(p session.Progress) {
	if e.progress.ShouldLog(p.Captured, p.Target) {
		attrs := []logging.Attr{
			logging.String(logging.FieldJobID, p.JobID),
			logging.Int("captured", p.Captured),
			logging.Int("target", p.Target),
		}
		if p.ETA != nil {
			attrs = append(attrs, logging.Duration("remaining", p.ETA.Remaining))
		}
		e.logger.Info("scan progress", logging.Args(attrs...)...)
	}
	if hook := e.manager.onProg; hook != nil {
		hook(p)
	}
}

// Save writes the page order and unsaved metadata.
func (e *Engine) Save(ctx context.Context) error {
	var errs []error
	if err := e.persistPages(ctx); err != nil {
		errs = append(errs, err)
	}
	if e.metadata.Dirty() {
		if err := e.metadata.Save(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops scans and pipeline work, stores the page order and releases
// the book. It is safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		var g errgroup.Group
		g.Go(func() error {
			e.session.Close()
			return nil
		})
		g.Go(func() error {
			e.pipeline.Close()
			return nil
		})
		_ = g.Wait()

		var errs []error
		if err := e.persistPages(context.Background()); err != nil {
			errs = append(errs, err)
		}
		if e.metadata.Dirty() && e.store.Len() > 0 {
			if err := e.metadata.Save(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := e.closeResources(); err != nil {
			errs = append(errs, err)
		}
		e.closeErr = errors.Join(errs...)
		e.logger.Info("book closed", logging.String(logging.FieldEventType, "book_closed"))
	})
	return e.closeErr
}

func (e *Engine) closeResources() error {
	var errs []error
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.book.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
