package bookdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"folio/internal/logging"
	"folio/internal/pagestore"
	"folio/internal/services"
)

// FileName is the database file inside a book folder.
const FileName = ".folio.db"

// Setting keys.
const (
	SettingNextPageID = "next_page_id"
	SettingScanDevice = "scan.device"
	SettingScanConfig = "scan.config"
)

// DB is the book database. It is safe for concurrent use.
type DB struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// PageRecord is the persisted part of a page.
type PageRecord struct {
	ID       int64
	Position int
	File     string
	Role     pagestore.Role
}

// OCRRecord is cached recognised text. SourceMTime is the page file's
// modification time when it was recognised; a newer file invalidates it.
type OCRRecord struct {
	PageID      int64
	Language    string
	Content     string
	SourceMTime time.Time
}

// Open creates or opens the database in dir and migrates it.
func Open(ctx context.Context, dir string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	dbPath := filepath.Join(dir, FileName)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, services.WrapPath(services.ErrPersistence, "bookdb", "open", dbPath, err)
	}
	// pragmas apply per connection
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, services.WrapPath(services.ErrPersistence, "bookdb", "open", dbPath, fmt.Errorf("apply pragma %q: %w", pragma, execErr))
		}
	}

	store := &DB{db: db, path: dbPath, logger: logger}
	applied, err := store.applyMigrations(ctx)
	if err != nil {
		_ = db.Close()
		return nil, services.WrapPath(services.ErrPersistence, "bookdb", "migrate", dbPath, err)
	}
	if len(applied) > 0 {
		logger.Debug("book database migrated",
			logging.String("path", dbPath),
			logging.String("versions", strings.Join(applied, ",")),
		)
	}
	return store, nil
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Close closes the underlying database connection.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return services.WrapPath(services.ErrPersistence, "bookdb", op, d.path, err)
}

// Pages returns the stored pages in reading order.
func (d *DB) Pages(ctx context.Context) ([]PageRecord, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT id, position, file, role FROM pages ORDER BY position, id")
	if err != nil {
		return nil, d.wrap("list pages", err)
	}
	defer rows.Close()

	var out []PageRecord
	for rows.Next() {
		var (
			rec  PageRecord
			role string
		)
		if err := rows.Scan(&rec.ID, &rec.Position, &rec.File, &role); err != nil {
			return nil, d.wrap("list pages", err)
		}
		parsed, err := pagestore.ParseRole(role)
		if err != nil {
			d.logger.Warn("stored page role unreadable; using recto",
				logging.Int64(logging.FieldPageID, rec.ID),
				logging.String("role", role),
				logging.String(logging.FieldEventType, "page_role_invalid"),
			)
		}
		rec.Role = parsed
		out = append(out, rec)
	}
	return out, d.wrap("list pages", rows.Err())
}

// SavePages replaces the stored order with records. Pages missing from
// records are deleted together with their OCR text.
func (d *DB) SavePages(ctx context.Context, records []PageRecord) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return d.wrap("save pages", err)
	}
	defer func() { _ = tx.Rollback() }()

	stamp := now()
	keep := make([]any, 0, len(records))
	for _, rec := range records {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO pages (id, position, file, role, updated_at) VALUES (?, ?, ?, ?, ?)
             ON CONFLICT(id) DO UPDATE SET
                position = excluded.position,
                file = excluded.file,
                role = excluded.role,
                updated_at = excluded.updated_at`,
			rec.ID, rec.Position, rec.File, rec.Role.String(), stamp,
		)
		if err != nil {
			return d.wrap("save pages", fmt.Errorf("page %d: %w", rec.ID, err))
		}
		keep = append(keep, rec.ID)
	}

	del := "DELETE FROM pages"
	if len(keep) > 0 {
		del += " WHERE id NOT IN (" + placeholders(len(keep)) + ")"
	}
	if _, err := tx.ExecContext(ctx, del, keep...); err != nil {
		return d.wrap("save pages", err)
	}
	return d.wrap("save pages", tx.Commit())
}

// UpdatePages rewrites the file and role of already stored pages and drops
// the OCR text of dropText, in one transaction. Positions are left alone.
func (d *DB) UpdatePages(ctx context.Context, records []PageRecord, dropText []int64) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return d.wrap("update pages", err)
	}
	defer func() { _ = tx.Rollback() }()

	stamp := now()
	for _, rec := range records {
		if _, err := tx.ExecContext(ctx,
			"UPDATE pages SET file = ?, role = ?, updated_at = ? WHERE id = ?",
			rec.File, rec.Role.String(), stamp, rec.ID,
		); err != nil {
			return d.wrap("update pages", fmt.Errorf("page %d: %w", rec.ID, err))
		}
	}
	for _, id := range dropText {
		if _, err := tx.ExecContext(ctx, "DELETE FROM ocr_text WHERE page_id = ?", id); err != nil {
			return d.wrap("update pages", fmt.Errorf("page %d: %w", id, err))
		}
	}
	return d.wrap("update pages", tx.Commit())
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// OCR returns the cached text of a page, if any.
func (d *DB) OCR(ctx context.Context, pageID int64) (OCRRecord, bool, error) {
	var (
		rec   OCRRecord
		mtime int64
	)
	err := d.db.QueryRowContext(ctx,
		"SELECT page_id, language, content, source_mtime FROM ocr_text WHERE page_id = ?", pageID,
	).Scan(&rec.PageID, &rec.Language, &rec.Content, &mtime)
	if errors.Is(err, sql.ErrNoRows) {
		return OCRRecord{}, false, nil
	}
	if err != nil {
		return OCRRecord{}, false, d.wrap("read ocr", err)
	}
	rec.SourceMTime = time.Unix(0, mtime)
	return rec, true, nil
}

// PutOCR stores recognised text for a page that is already persisted.
func (d *DB) PutOCR(ctx context.Context, rec OCRRecord) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO ocr_text (page_id, language, content, source_mtime, updated_at) VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(page_id) DO UPDATE SET
            language = excluded.language,
            content = excluded.content,
            source_mtime = excluded.source_mtime,
            updated_at = excluded.updated_at`,
		rec.PageID, rec.Language, rec.Content, rec.SourceMTime.UnixNano(), now(),
	)
	return d.wrap("write ocr", err)
}

// DeleteOCR drops cached text for a page.
func (d *DB) DeleteOCR(ctx context.Context, pageID int64) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM ocr_text WHERE page_id = ?", pageID)
	return d.wrap("delete ocr", err)
}

// Setting returns a stored value.
func (d *DB) Setting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := d.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, d.wrap("read setting", err)
	}
	return value, true, nil
}

// PutSetting stores a value.
func (d *DB) PutSetting(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return d.wrap("write setting", err)
}

// NextPageID returns the persisted id floor, or 1.
func (d *DB) NextPageID(ctx context.Context) (int64, error) {
	value, ok, err := d.Setting(ctx, SettingNextPageID)
	if err != nil || !ok {
		return 1, err
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 1 {
		return 1, nil
	}
	return n, nil
}

// SetNextPageID persists the id floor so deleted ids are never reused.
func (d *DB) SetNextPageID(ctx context.Context, next int64) error {
	return d.PutSetting(ctx, SettingNextPageID, strconv.FormatInt(next, 10))
}
