package assembly

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"folio/internal/logging"
	"folio/internal/services"
)

// move renames one page file.
type move struct {
	id   int64
	from string
	to   string
}

type moveStage struct {
	move
	tmp    string
	moved  bool
	placed bool
}

// relocate renames page files all-or-nothing. Every source is first parked
// under a reserved name, so a target may be the old name of another page in
// the same call. evict lists existing files that are replaced. record runs
// once every file is in place; when it fails the folder is put back.
func (e *Engine) relocate(ctx context.Context, moves []move, evict []string, record func() error) (err error) {
	if len(moves) == 0 && len(evict) == 0 {
		return record()
	}
	if err := checkTargets(moves, evict); err != nil {
		return err
	}

	stages := make([]*moveStage, 0, len(moves))
	backups := map[string]string{}
	defer func() {
		if err == nil {
			return
		}
		for i := len(stages) - 1; i >= 0; i-- {
			s := stages[i]
			if s.placed {
				_ = os.Rename(s.to, s.tmp)
			}
			if s.moved {
				_ = os.Rename(s.tmp, s.from)
			} else if s.tmp != "" {
				_ = os.Remove(s.tmp)
			}
		}
		for path, backup := range backups {
			_ = os.Rename(backup, path)
		}
	}()

	for _, path := range evict {
		backup, err := reserveName(filepath.Dir(path), ".folio-backup-*")
		if err != nil {
			return services.WrapPath(services.ErrPersistence, "assembly", "back up page", path, err)
		}
		if err := os.Rename(path, backup); err != nil {
			_ = os.Remove(backup)
			return services.WrapPath(services.ErrPersistence, "assembly", "back up page", path, err)
		}
		backups[path] = backup
	}
	for _, m := range moves {
		if err := ctx.Err(); err != nil {
			return err
		}
		s := &moveStage{move: m}
		stages = append(stages, s)
		if s.tmp, err = reserveName(filepath.Dir(m.from), ".folio-move-*"); err != nil {
			return services.WrapPath(services.ErrPersistence, "assembly", "rename page", m.from, err)
		}
		if err := os.Rename(m.from, s.tmp); err != nil {
			return services.WrapPath(services.ErrPersistence, "assembly", "rename page", m.from, err)
		}
		s.moved = true
	}
	for _, s := range stages {
		if _, err := os.Lstat(s.to); err == nil {
			return &ConflictError{Paths: []string{s.to}}
		}
		if err := os.Rename(s.tmp, s.to); err != nil {
			return services.WrapPath(services.ErrPersistence, "assembly", "rename page", s.to, err)
		}
		s.placed = true
	}
	if err := record(); err != nil {
		return err
	}

	for path, backup := range backups {
		if err := os.Remove(backup); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.logger.Warn("replaced page file left behind",
				logging.String("path", path),
				logging.String("backup", backup),
				logging.Error(err),
				logging.String(logging.FieldEventType, "backup_cleanup_failed"),
			)
		}
	}
	e.logger.Debug("page files renamed",
		logging.Int("renamed", len(moves)),
		logging.Int("replaced", len(evict)),
	)
	return nil
}

// checkTargets fails before anything moves when a target is taken by a file
// that is neither moving away nor being replaced.
func checkTargets(moves []move, evict []string) error {
	leaving := make(map[string]bool, len(moves)+len(evict))
	for _, m := range moves {
		leaving[m.from] = true
	}
	for _, path := range evict {
		leaving[path] = true
	}
	targets := make(map[string]bool, len(moves))
	var taken []string
	for _, m := range moves {
		if targets[m.to] {
			return services.Wrap(services.ErrInvalidParameters, "assembly", "rename pages",
				fmt.Sprintf("two pages would be named %s", filepath.Base(m.to)), nil)
		}
		targets[m.to] = true
		if leaving[m.to] {
			continue
		}
		if _, err := os.Lstat(m.to); err == nil {
			taken = append(taken, m.to)
		}
	}
	if len(taken) > 0 {
		return &ConflictError{Paths: taken}
	}
	return nil
}
