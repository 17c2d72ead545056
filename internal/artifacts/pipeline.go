package artifacts

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"folio/internal/bookdb"
	"folio/internal/imageio"
	"folio/internal/logging"
	"folio/internal/ocr"
	"folio/internal/pagestore"
	"folio/internal/services"
	"folio/internal/thumbnail"
)

// TextCache persists recognised text between sessions.
type TextCache interface {
	OCR(ctx context.Context, pageID int64) (bookdb.OCRRecord, bool, error)
	PutOCR(ctx context.Context, rec bookdb.OCRRecord) error
}

// Options configure a Pipeline.
type Options struct {
	Workers    int
	Thumbnails *thumbnail.Cache
	// OCR may be nil; OCR requests then fail with OcrUnavailable.
	OCR ocr.Engine
	// Texts may be nil.
	Texts TextCache
	// Language returns the book language used to pick OCR models.
	Language         func() string
	FallbackLanguage string
	Logger           *slog.Logger
}

// Pipeline derives page artifacts on demand.
type Pipeline struct {
	store      *pagestore.Store
	thumbnails *thumbnail.Cache
	engine     ocr.Engine
	texts      TextCache
	language   func() string
	fallback   string
	logger     *slog.Logger

	sem   *semaphore.Weighted
	group singleflight.Group

	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.Mutex
	closed      bool
	wg          sync.WaitGroup
	unsubscribe func()
}

// New starts a pipeline for store. It listens to source changes so stale
// thumbnails are never served.
func New(store *pagestore.Store, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	language := opts.Language
	if language == nil {
		language = func() string { return "" }
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		store:      store,
		thumbnails: opts.Thumbnails,
		engine:     opts.OCR,
		texts:      opts.Texts,
		language:   language,
		fallback:   opts.FallbackLanguage,
		logger:     logger,
		sem:        semaphore.NewWeighted(int64(workers)),
		ctx:        ctx,
		cancel:     cancel,
	}
	p.unsubscribe = store.Subscribe(p.observe)
	return p
}

func (p *Pipeline) observe(ev pagestore.Event) {
	if ev.Mutation != pagestore.SourceChanged || p.thumbnails == nil {
		return
	}
	page, ok := p.store.Get(ev.PageID)
	if !ok || !page.Source.IsFile() {
		return
	}
	// same-path overwrites can keep the mtime second the cache compares
	if err := p.thumbnails.Delete(page.Source.Path); err != nil {
		p.logger.Debug("dropping stale thumbnail failed", logging.Int64(logging.FieldPageID, page.ID), logging.Error(err))
	}
}

// Close stops accepting work, cancels pending derivations and waits for
// running ones.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
	p.unsubscribe()
}

func (p *Pipeline) enter() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return services.Wrap(services.ErrInvalidTransition, "artifacts", "derive", "pipeline closed", nil)
	}
	p.wg.Add(1)
	return nil
}

// computeFunc derives a value from page. keep, when not nil, runs only
// once the value has been stored for the revision it was computed from.
type computeFunc func(ctx context.Context, page pagestore.Page) (value string, keep func(), err error)

// derive computes kind for page id at most once at a time. The shared work
// runs on the pipeline context so one caller giving up does not fail the
// others.
func (p *Pipeline) derive(ctx context.Context, id int64, kind pagestore.Kind, compute computeFunc) (string, error) {
	key := fmt.Sprintf("%d/%s", id, kind)
	ch := p.group.DoChan(key, func() (any, error) {
		if err := p.enter(); err != nil {
			return "", err
		}
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return "", err
		}
		defer p.sem.Release(1)

		page, ok := p.store.Get(id)
		if !ok {
			return "", services.Wrap(services.ErrNotFound, "artifacts", string(kind), fmt.Sprintf("page %d", id), nil)
		}
		started := time.Now()
		value, keep, err := compute(p.ctx, page)
		if err != nil {
			return "", err
		}
		applied, err := p.store.SetArtifact(id, kind, value, page.Revision)
		if err != nil {
			return "", err
		}
		switch {
		case !applied:
			p.logger.Debug("derived value discarded; page changed",
				logging.Int64(logging.FieldPageID, id),
				logging.String("kind", string(kind)),
			)
		case keep != nil:
			keep()
		}
		p.logger.Debug("artifact derived",
			logging.Int64(logging.FieldPageID, id),
			logging.String("kind", string(kind)),
			logging.Duration("elapsed", time.Since(started)),
		)
		return value, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Thumbnail returns the path of the page's thumbnail, generating it when
// missing or stale.
func (p *Pipeline) Thumbnail(ctx context.Context, id int64) (string, error) {
	page, ok := p.store.Get(id)
	if !ok {
		return "", services.Wrap(services.ErrNotFound, "artifacts", "thumbnail", fmt.Sprintf("page %d", id), nil)
	}
	if p.thumbnails == nil {
		return "", services.Wrap(services.ErrInvalidParameters, "artifacts", "thumbnail", "no thumbnail cache configured", nil)
	}
	if !page.Thumbnail.Dirty && page.Thumbnail.Value != "" {
		if _, err := os.Stat(page.Thumbnail.Value); err == nil {
			return page.Thumbnail.Value, nil
		}
	}
	return p.derive(ctx, id, pagestore.KindThumbnail, p.thumbnail)
}

func (p *Pipeline) thumbnail(_ context.Context, page pagestore.Page) (string, func(), error) {
	var (
		path string
		err  error
	)
	if page.Source.IsFile() {
		path, err = p.thumbnails.Get(page.Source.Path)
	} else {
		path, err = p.thumbnails.Scratch(page.Source.Buffer)
	}
	if err != nil {
		return "", nil, &services.Error{Kind: services.ErrPersistence, Component: "artifacts", Op: "thumbnail", Path: page.Source.Path, Err: err}
	}
	return path, nil, nil
}

// Prefetch generates thumbnails of ids in the background. Errors are logged.
func (p *Pipeline) Prefetch(ids ...int64) {
	for _, id := range ids {
		if err := p.enter(); err != nil {
			return
		}
		go func() {
			defer p.wg.Done()
			if _, err := p.Thumbnail(p.ctx, id); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Debug("thumbnail prefetch failed", logging.Int64(logging.FieldPageID, id), logging.Error(err))
			}
		}()
	}
}

// Text returns the cached OCR text of a page without running the engine.
// Text stored by an earlier session is used when the page file has not
// changed since.
func (p *Pipeline) Text(ctx context.Context, id int64) (string, bool, error) {
	page, ok := p.store.Get(id)
	if !ok {
		return "", false, services.Wrap(services.ErrNotFound, "artifacts", "text", fmt.Sprintf("page %d", id), nil)
	}
	if !page.OCR.Dirty {
		return page.OCR.Value, true, nil
	}
	if p.texts == nil || !page.Source.IsFile() {
		return "", false, nil
	}
	rec, ok, err := p.texts.OCR(ctx, id)
	if err != nil || !ok {
		return "", false, err
	}
	info, err := os.Stat(page.Source.Path)
	if err != nil || !info.ModTime().Equal(rec.SourceMTime) {
		return "", false, nil
	}
	if _, err := p.store.SetArtifact(id, pagestore.KindOCR, rec.Content, page.Revision); err != nil {
		return "", false, err
	}
	return rec.Content, true, nil
}

// OCR recognises the text of a page and caches it in the page and the text
// cache. Engine failures and undecodable images are reported as
// OcrUnavailable and cache nothing.
func (p *Pipeline) OCR(ctx context.Context, id int64) (string, error) {
	if p.engine == nil {
		return "", services.Wrap(services.ErrOcrUnavailable, "artifacts", "ocr", "no OCR engine configured", nil)
	}
	return p.derive(ctx, id, pagestore.KindOCR, p.recognize)
}

func (p *Pipeline) recognize(ctx context.Context, page pagestore.Page) (string, func(), error) {
	logger := p.logger.With(logging.Int64(logging.FieldPageID, page.ID))
	img, mtime, err := loadSource(page.Source)
	if err != nil {
		return "", nil, err
	}
	payload, err := ocr.Prepare(img, page.Role)
	if err != nil {
		return "", nil, services.Wrap(services.ErrOcrUnavailable, "artifacts", "ocr", "prepare page image", err)
	}
	languages := ocr.Languages(p.language(), p.fallback)
	text, err := p.engine.Recognize(ctx, ocr.Input{Image: payload, Languages: languages})
	switch {
	case errors.Is(err, ocr.ErrNoText):
		text = ""
	case err != nil:
		logging.WarnWithContext(logger, "text recognition failed", "ocr_failed",
			logging.String("engine", p.engine.Name()),
			logging.String("languages", strings.Join(languages, "+")),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "install the tesseract language data or change the book language"),
			logging.String(logging.FieldImpact, "page has no text"),
		)
		return "", nil, &services.Error{Kind: services.ErrOcrUnavailable, Component: "artifacts", Op: "ocr", Message: p.engine.Name(), Path: page.Source.Path, Err: err}
	}
	text = ocr.Clean(text)
	logger.Info("text recognised",
		logging.String("languages", strings.Join(languages, "+")),
		logging.Int("characters", len(text)),
	)
	if p.texts == nil || !page.Source.IsFile() {
		return text, nil, nil
	}
	keep := func() {
		rec := bookdb.OCRRecord{PageID: page.ID, Language: strings.Join(languages, "+"), Content: text, SourceMTime: mtime}
		if err := p.texts.PutOCR(ctx, rec); err != nil {
			logging.WarnWithContext(logger, "recognised text not persisted", "ocr_persist_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "text is recomputed after reopening the book"),
			)
		}
	}
	return text, keep, nil
}

// loadSource decodes a page image. Files that cannot be read are a
// persistence error; content that cannot be decoded is OcrUnavailable.
func loadSource(src pagestore.Source) (image.Image, time.Time, error) {
	unsupported := func(err error) error {
		return &services.Error{Kind: services.ErrOcrUnavailable, Component: "artifacts", Op: "ocr", Message: "unsupported page image", Path: src.Path, Err: err}
	}
	if !src.IsFile() {
		img, err := imageio.Decode(src.Buffer)
		if err != nil {
			return nil, time.Time{}, unsupported(err)
		}
		return img, time.Time{}, nil
	}
	info, err := os.Stat(src.Path)
	if err != nil {
		return nil, time.Time{}, services.WrapPath(services.ErrPersistence, "artifacts", "ocr", src.Path, err)
	}
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, time.Time{}, services.WrapPath(services.ErrPersistence, "artifacts", "ocr", src.Path, err)
	}
	img, err := imageio.Decode(data)
	if err != nil {
		return nil, time.Time{}, unsupported(err)
	}
	return img, info.ModTime(), nil
}

// SaveText writes the OCR text of a page to path, recognising it first
// when nothing is cached.
func (p *Pipeline) SaveText(ctx context.Context, id int64, path string) error {
	text, ok, err := p.Text(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		if text, err = p.OCR(ctx, id); err != nil {
			return err
		}
	}
	if !strings.HasSuffix(text, "\n") && text != "" {
		text += "\n"
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return services.WrapPath(services.ErrPersistence, "artifacts", "save text", path, err)
	}
	return nil
}
