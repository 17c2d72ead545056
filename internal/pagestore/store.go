package pagestore

import (
	"fmt"
	"slices"
	"sync"

	"folio/internal/services"
)

// Mutation names what happened to a page.
type Mutation string

const (
	Inserted        Mutation = "inserted"
	Removed         Mutation = "removed"
	Moved           Mutation = "moved"
	RoleChanged     Mutation = "role_changed"
	SourceChanged   Mutation = "source_changed"
	ArtifactChanged Mutation = "artifact_changed"
	// Renamed is emitted when only the path of a page's file changed.
	Renamed Mutation = "renamed"
	// Reloaded is emitted once (with PageID 0) when the whole order is replaced.
	Reloaded Mutation = "reloaded"
)

// Event is delivered to observers after a mutation has been applied.
type Event struct {
	Mutation Mutation
	PageID   int64
	Position int
	Kind     Kind
}

// Observer receives events synchronously, in mutation order, before the
// mutating call returns. Observers may read the store but must not mutate it.
type Observer func(Event)

// BatchObserver receives every event of one mutating call at once, after
// the per-event observers have seen them.
type BatchObserver func([]Event)

type subscriber struct {
	each  Observer
	batch BatchObserver
}

// Store holds the ordered pages of the open book. It is the single shared
// mutable resource of a book session: mutations are serialized and readers
// only ever receive copies.
type Store struct {
	// opMu serializes mutate-then-notify so observers see events in order.
	opMu sync.Mutex

	mu     sync.RWMutex
	pages  []Page
	index  map[int64]int
	nextID int64

	obsMu     sync.Mutex
	observers map[int]subscriber
	obsSeq    int
}

// New returns an empty store. Page ids start at 1.
func New() *Store {
	return &Store{index: map[int64]int{}, nextID: 1, observers: map[int]subscriber{}}
}

// Subscribe registers an observer and returns a function that removes it.
func (s *Store) Subscribe(o Observer) func() {
	return s.subscribe(subscriber{each: o})
}

// SubscribeBatch registers an observer that is called once per mutating
// call with all of its events.
func (s *Store) SubscribeBatch(o BatchObserver) func() {
	return s.subscribe(subscriber{batch: o})
}

func (s *Store) subscribe(sub subscriber) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.obsSeq++
	key := s.obsSeq
	s.observers[key] = sub
	return func() {
		s.obsMu.Lock()
		delete(s.observers, key)
		s.obsMu.Unlock()
	}
}

func (s *Store) notify(events []Event) {
	if len(events) == 0 {
		return
	}
	s.obsMu.Lock()
	var (
		each  []Observer
		batch []BatchObserver
	)
	// registration order
	for k := 1; k <= s.obsSeq; k++ {
		sub, ok := s.observers[k]
		switch {
		case !ok:
		case sub.each != nil:
			each = append(each, sub.each)
		case sub.batch != nil:
			batch = append(batch, sub.batch)
		}
	}
	s.obsMu.Unlock()
	for _, ev := range events {
		for _, o := range each {
			o(ev)
		}
	}
	for _, o := range batch {
		o(slices.Clone(events))
	}
}

// mutate runs fn under the write lock and then delivers the events it returns.
func (s *Store) mutate(fn func() ([]Event, error)) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	events, err := fn()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(events)
	return nil
}

// reindex rebuilds positions and the id index for pages[lo:hi].
func (s *Store) reindex(lo, hi int) {
	for i := lo; i < hi && i < len(s.pages); i++ {
		s.pages[i].Position = i
		s.index[s.pages[i].ID] = i
	}
}

func (s *Store) lookup(id int64) (int, error) {
	pos, ok := s.index[id]
	if !ok {
		return 0, notFound(id)
	}
	return pos, nil
}

func notFound(id int64) error {
	return services.Wrap(services.ErrNotFound, "pagestore", "lookup", fmt.Sprintf("page %d", id), nil)
}

func outOfRange(op string, position, limit int) error {
	return services.Wrap(services.ErrInvalidParameters, "pagestore", op,
		fmt.Sprintf("position %d outside 0..%d", position, limit), nil)
}

// InsertAt inserts p at position (0..Len) and returns the stored copy. The
// store assigns the id; ids are never reused. Derived entries start dirty.
func (s *Store) InsertAt(position int, p Page) (Page, error) {
	if position < 0 {
		return Page{}, outOfRange("insert", position, s.Len())
	}
	return s.insert(position, p)
}

// Append inserts p after the last page.
func (s *Store) Append(p Page) (Page, error) {
	return s.insert(-1, p)
}

// insert places p at position; -1 means after the last page at the time the
// mutation runs.
func (s *Store) insert(position int, p Page) (Page, error) {
	var stored Page
	err := s.mutate(func() ([]Event, error) {
		if position == -1 {
			position = len(s.pages)
		}
		if position < 0 || position > len(s.pages) {
			return nil, outOfRange("insert", position, len(s.pages))
		}
		p = p.clone()
		p.ID = s.nextID
		s.nextID++
		p.Thumbnail = Derived{Dirty: true}
		p.OCR = Derived{Dirty: true}
		s.pages = append(s.pages, Page{})
		copy(s.pages[position+1:], s.pages[position:])
		s.pages[position] = p
		s.reindex(position, len(s.pages))
		stored = s.pages[position].clone()
		return []Event{{Mutation: Inserted, PageID: p.ID, Position: position}}, nil
	})
	return stored, err
}

// Remove deletes a page; later pages move up by one.
func (s *Store) Remove(id int64) error {
	return s.mutate(func() ([]Event, error) {
		pos, err := s.lookup(id)
		if err != nil {
			return nil, err
		}
		s.pages = append(s.pages[:pos], s.pages[pos+1:]...)
		delete(s.index, id)
		s.reindex(pos, len(s.pages))
		return []Event{{Mutation: Removed, PageID: id, Position: pos}}, nil
	})
}

// Reorder moves a page to newPosition (0..Len-1), shifting the pages between.
func (s *Store) Reorder(id int64, newPosition int) error {
	return s.mutate(func() ([]Event, error) {
		from, err := s.lookup(id)
		if err != nil {
			return nil, err
		}
		if newPosition < 0 || newPosition >= len(s.pages) {
			return nil, outOfRange("reorder", newPosition, len(s.pages)-1)
		}
		if from == newPosition {
			return nil, nil
		}
		moving := s.pages[from]
		if from < newPosition {
			copy(s.pages[from:newPosition], s.pages[from+1:newPosition+1])
		} else {
			copy(s.pages[newPosition+1:from+1], s.pages[newPosition:from])
		}
		s.pages[newPosition] = moving
		s.reindex(min(from, newPosition), max(from, newPosition)+1)
		return []Event{{Mutation: Moved, PageID: id, Position: newPosition}}, nil
	})
}

// RoleUpdate is one entry of a bulk role change. A non-empty Path records
// that the page's file was renamed to it; the image itself is unchanged.
type RoleUpdate struct {
	ID   int64
	Role Role
	Path string
}

// SetRole changes one page's role without renumbering.
func (s *Store) SetRole(id int64, role Role) error {
	return s.SetRoles([]RoleUpdate{{ID: id, Role: role}})
}

// SetRoles applies several role changes atomically: either every id exists
// and all are applied, or none is. Entries changing neither role nor path
// emit no event. Switching to or from Verso dirties OCR, which depends on
// orientation, and bumps the revision so text read in the old orientation
// is discarded.
func (s *Store) SetRoles(updates []RoleUpdate) error {
	return s.mutate(func() ([]Event, error) {
		for _, u := range updates {
			pos, err := s.lookup(u.ID)
			if err != nil {
				return nil, err
			}
			if u.Role < Recto || u.Role > Single {
				return nil, services.Wrap(services.ErrInvalidParameters, "pagestore", "set role", u.Role.String(), nil)
			}
			if u.Path != "" && !s.pages[pos].Source.IsFile() {
				return nil, services.Wrap(services.ErrInvalidParameters, "pagestore", "set role",
					fmt.Sprintf("page %d has no file to rename", u.ID), nil)
			}
		}
		var events []Event
		for _, u := range updates {
			pos := s.index[u.ID]
			page := &s.pages[pos]
			renamed := u.Path != "" && u.Path != page.Source.Path
			if renamed {
				page.Source.Path = u.Path
			}
			if page.Role == u.Role {
				if renamed {
					events = append(events, Event{Mutation: Renamed, PageID: u.ID, Position: pos})
				}
				continue
			}
			if (page.Role == Verso) != (u.Role == Verso) {
				page.OCR.Dirty = true
				page.Revision++
			}
			page.Role = u.Role
			events = append(events, Event{Mutation: RoleChanged, PageID: u.ID, Position: pos})
		}
		return events, nil
	})
}

// Arrange puts the pages in the order of ids, which must name every page
// exactly once. Pages whose position changes emit Moved.
func (s *Store) Arrange(ids []int64) error {
	return s.mutate(func() ([]Event, error) {
		if len(ids) != len(s.pages) {
			return nil, services.Wrap(services.ErrInvalidParameters, "pagestore", "arrange",
				fmt.Sprintf("%d ids for %d pages", len(ids), len(s.pages)), nil)
		}
		seen := make(map[int64]struct{}, len(ids))
		order := make([]Page, 0, len(ids))
		for _, id := range ids {
			pos, err := s.lookup(id)
			if err != nil {
				return nil, err
			}
			if _, dup := seen[id]; dup {
				return nil, services.Wrap(services.ErrInvalidParameters, "pagestore", "arrange", fmt.Sprintf("page %d listed twice", id), nil)
			}
			seen[id] = struct{}{}
			order = append(order, s.pages[pos])
		}
		var events []Event
		for i, p := range order {
			if s.pages[i].ID != p.ID {
				events = append(events, Event{Mutation: Moved, PageID: p.ID, Position: i})
			}
		}
		s.pages = order
		s.reindex(0, len(s.pages))
		return events, nil
	})
}

// SetSource replaces a page's image and marks both derived entries dirty.
func (s *Store) SetSource(id int64, src Source) error {
	return s.mutate(func() ([]Event, error) {
		pos, err := s.lookup(id)
		if err != nil {
			return nil, err
		}
		page := &s.pages[pos]
		page.Source = Source{Path: src.Path, Buffer: append([]byte(nil), src.Buffer...)}
		page.Revision++
		page.Thumbnail.Dirty = true
		page.OCR.Dirty = true
		return []Event{{Mutation: SourceChanged, PageID: id, Position: pos}}, nil
	})
}

// MarkDirty flags a derived entry for recomputation.
func (s *Store) MarkDirty(id int64, kind Kind) error {
	return s.mutate(func() ([]Event, error) {
		pos, err := s.lookup(id)
		if err != nil {
			return nil, err
		}
		d := s.pages[pos].artifact(kind)
		if d.Dirty {
			return nil, nil
		}
		d.Dirty = true
		return []Event{{Mutation: ArtifactChanged, PageID: id, Position: pos, Kind: kind}}, nil
	})
}

// SetArtifact stores a derived value computed from the given source
// revision. It reports false, and changes nothing, when the source has
// changed since the computation started.
func (s *Store) SetArtifact(id int64, kind Kind, value string, revision int64) (bool, error) {
	applied := false
	err := s.mutate(func() ([]Event, error) {
		pos, err := s.lookup(id)
		if err != nil {
			return nil, err
		}
		page := &s.pages[pos]
		if page.Revision != revision {
			return nil, nil
		}
		*page.artifact(kind) = Derived{Value: value}
		applied = true
		return []Event{{Mutation: ArtifactChanged, PageID: id, Position: pos, Kind: kind}}, nil
	})
	return applied, err
}

// Load replaces the whole order with pages, keeping their ids. Used when a
// book is opened. Ids must be positive and unique.
func (s *Store) Load(pages []Page) error {
	return s.mutate(func() ([]Event, error) {
		seen := make(map[int64]struct{}, len(pages))
		next := int64(1)
		for _, p := range pages {
			if p.ID <= 0 {
				return nil, services.Wrap(services.ErrInvalidParameters, "pagestore", "load", fmt.Sprintf("invalid page id %d", p.ID), nil)
			}
			if _, dup := seen[p.ID]; dup {
				return nil, services.Wrap(services.ErrInvalidParameters, "pagestore", "load", fmt.Sprintf("duplicate page id %d", p.ID), nil)
			}
			seen[p.ID] = struct{}{}
			next = max(next, p.ID+1)
		}
		s.pages = make([]Page, len(pages))
		for i, p := range pages {
			s.pages[i] = p.clone()
		}
		s.index = make(map[int64]int, len(pages))
		s.reindex(0, len(s.pages))
		s.nextID = max(s.nextID, next)
		return []Event{{Mutation: Reloaded}}, nil
	})
}

// NextID returns the id the next inserted page will receive.
func (s *Store) NextID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}

// Reserve raises the next id to at least next, so ids handed out by an
// earlier session are not reused.
func (s *Store) Reserve(next int64) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = max(s.nextID, next)
}

// Get returns a copy of a page.
func (s *Store) Get(id int64) (Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.index[id]
	if !ok {
		return Page{}, false
	}
	return s.pages[pos].clone(), true
}

// At returns a copy of the page at position.
func (s *Store) At(position int) (Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if position < 0 || position >= len(s.pages) {
		return Page{}, false
	}
	return s.pages[position].clone(), true
}

// Snapshot returns copies of all pages in reading order.
func (s *Store) Snapshot() []Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Page, len(s.pages))
	for i, p := range s.pages {
		out[i] = p.clone()
	}
	return out
}

// Len returns the number of pages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages)
}
