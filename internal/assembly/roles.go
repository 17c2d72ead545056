package assembly

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"folio/internal/book"
	"folio/internal/logging"
	"folio/internal/pagestore"
	"folio/internal/services"
)

// FlipAll returns the roles of count leaves in capture order, alternating
// from start. Single is treated as Recto.
func FlipAll(count int, start pagestore.Role) []pagestore.Role {
	if start == pagestore.Single {
		start = pagestore.Recto
	}
	roles := make([]pagestore.Role, count)
	role := start
	for i := range roles {
		roles[i] = role
		role = role.Opposite()
	}
	return roles
}

// SetRole changes one page's role without touching its neighbours. The
// page file is renamed so its role letter follows.
func (e *Engine) SetRole(id int64, role pagestore.Role) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setRoles(context.Background(), []pagestore.RoleUpdate{{ID: id, Role: role}})
}

// FlipAsRecto forces one page to Recto without touching its neighbours.
func (e *Engine) FlipAsRecto(id int64) error {
	return e.SetRole(id, pagestore.Recto)
}

// FlipAsVerso forces one page to Verso without touching its neighbours.
func (e *Engine) FlipAsVerso(id int64) error {
	return e.SetRole(id, pagestore.Verso)
}

// FlipFromPage re-alternates roles from page id to the end of the book,
// starting with start. Earlier pages are untouched. Single pages keep their
// role and do not advance the alternation. It returns the number of pages
// whose role changed.
func (e *Engine) FlipFromPage(id int64, start pagestore.Role) (int, error) {
	if start == pagestore.Single {
		return 0, services.Wrap(services.ErrInvalidParameters, "assembly", "flip from page", "alternation cannot start with single", nil)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	page, ok := e.store.Get(id)
	if !ok {
		return 0, services.Wrap(services.ErrNotFound, "assembly", "flip from page", fmt.Sprintf("page %d", id), nil)
	}
	pages := e.store.Snapshot()
	var updates []pagestore.RoleUpdate
	role := start
	for _, p := range pages[page.Position:] {
		if p.Role == pagestore.Single {
			continue
		}
		if p.Role != role {
			updates = append(updates, pagestore.RoleUpdate{ID: p.ID, Role: role})
		}
		role = role.Opposite()
	}
	if err := e.setRoles(context.Background(), updates); err != nil {
		return 0, err
	}
	e.logger.Info("roles re-alternated",
		logging.Int64(logging.FieldPageID, id),
		logging.String("start", start.String()),
		logging.Int("changed", len(updates)),
	)
	return len(updates), nil
}

// FlipBook re-alternates the whole book starting with Recto.
func (e *Engine) FlipBook() (int, error) {
	first, ok := e.store.At(0)
	if !ok {
		return 0, nil
	}
	return e.FlipFromPage(first.ID, pagestore.Recto)
}

// setRoles applies updates and renames page files whose role letter no
// longer matches. Pages whose file is gone only change role. Callers hold
// e.mu.
func (e *Engine) setRoles(ctx context.Context, updates []pagestore.RoleUpdate) error {
	updates = append([]pagestore.RoleUpdate(nil), updates...)
	var moves []move
	for i, u := range updates {
		if u.Role < pagestore.Recto || u.Role > pagestore.Single {
			return services.Wrap(services.ErrInvalidParameters, "assembly", "set role", u.Role.String(), nil)
		}
		page, ok := e.store.Get(u.ID)
		if !ok {
			return services.Wrap(services.ErrNotFound, "assembly", "set role", fmt.Sprintf("page %d", u.ID), nil)
		}
		if !page.Source.IsFile() {
			continue
		}
		name, ok := book.WithRole(filepath.Base(page.Source.Path), u.Role)
		if !ok {
			continue
		}
		to := filepath.Join(filepath.Dir(page.Source.Path), name)
		if to == page.Source.Path {
			continue
		}
		if _, err := os.Lstat(page.Source.Path); err != nil {
			continue
		}
		updates[i].Path = to
		moves = append(moves, move{id: u.ID, from: page.Source.Path, to: to})
	}
	return e.relocate(ctx, moves, nil, func() error {
		return e.store.SetRoles(updates)
	})
}
