package record

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Guard reports whether the vault is currently unlocked.
type Guard interface {
	IsUnlocked() bool
}

// GuardFunc adapts a function to the Guard interface.
type GuardFunc func() bool

func (f GuardFunc) IsUnlocked() bool { return f() }

// Stats counts records per kind.
type Stats struct {
	Websites  int `json:"websites"`
	APIKeys   int `json:"apiKeys"`
	MFATokens int `json:"mfaTokens"`
	Total     int `json:"total"`
}

// Store is the authoritative in-memory collection of records. Every
// operation is refused with ErrNotUnlocked while the guard reports locked.
type Store struct {
	mu       sync.RWMutex
	guard    Guard
	now      func() time.Time
	newID    func() string
	items    map[Kind][]Record
	onChange func(Kind)
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for created_at and updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator sets the id source used by Create.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		s.newID = newID
	}
}

// NewStore creates an empty store gated by guard.
func NewStore(guard Guard, opts ...Option) *Store {
	s := &Store{
		guard: guard,
		now:   time.Now,
		newID: newRecordID,
		items: make(map[Kind][]Record, 3),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newRecordID returns a time-ordered UUIDv7, falling back to a random UUID.
func newRecordID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// OnChange registers fn to be called after every successful Create, Update,
// Delete and Clear. ReplaceAll does not notify; its callers decide whether
// to persist. fn runs outside the store lock.
func (s *Store) OnChange(fn func(Kind)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func (s *Store) check() error {
	if s.guard == nil || !s.guard.IsUnlocked() {
		return ErrNotUnlocked
	}
	return nil
}

func (s *Store) notify(kinds ...Kind) {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn == nil {
		return
	}
	for _, k := range kinds {
		fn(k)
	}
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

// Create validates f, assigns a fresh id and timestamps, and appends the
// record to the end of its kind's collection.
func (s *Store) Create(f Fields) (Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := Validate(f); err != nil {
		return nil, err
	}

	k := f.Kind()
	s.mu.Lock()
	id := s.newID()
	for indexOf(s.items[k], id) >= 0 {
		id = s.newID()
	}
	now := s.timestamp()
	r := f.build(Common{ID: id, Name: f.name(), CreatedAt: now, UpdatedAt: now})
	s.items[k] = append(s.items[k], r)
	s.mu.Unlock()

	s.notify(k)
	return r, nil
}

// Update replaces the mutable fields of the record with the given id. The
// id, created_at and position are kept; updated_at is refreshed and never
// moves backwards.
func (s *Store) Update(id string, f Fields) (Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if f == nil {
		return nil, Validate(f)
	}

	k := f.Kind()
	s.mu.Lock()
	i := indexOf(s.items[k], id)
	if i < 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s %q", ErrNotFound, k, id)
	}
	if err := Validate(f); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	prev := s.items[k][i].Base()
	now := s.timestamp()
	if !now.After(prev.UpdatedAt) {
		now = prev.UpdatedAt.Add(time.Nanosecond)
	}
	if now.Before(prev.CreatedAt) {
		now = prev.CreatedAt
	}
	r := f.build(Common{ID: prev.ID, Name: f.name(), CreatedAt: prev.CreatedAt, UpdatedAt: now})
	s.items[k][i] = r
	s.mu.Unlock()

	s.notify(k)
	return r, nil
}

// Delete removes the record with the given id. Deleting an id twice fails
// the second time with ErrNotFound.
func (s *Store) Delete(k Kind, id string) error {
	if err := s.check(); err != nil {
		return err
	}

	s.mu.Lock()
	i := indexOf(s.items[k], id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s %q", ErrNotFound, k, id)
	}
	s.items[k] = slices.Delete(s.items[k], i, i+1)
	s.mu.Unlock()

	s.notify(k)
	return nil
}

// Get returns the record with the given id.
func (s *Store) Get(k Kind, id string) (Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	i := indexOf(s.items[k], id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s %q", ErrNotFound, k, id)
	}
	return s.items[k][i], nil
}

// List returns a copy of kind k's collection in current order.
func (s *Store) List(k Kind) ([]Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.items[k]), nil
}

// Search returns the records of kind k whose name, description, category or
// platform contains query, ignoring case. Order is preserved. An empty query
// returns the same sequence as List.
func (s *Store) Search(k Kind, query string) ([]Record, error) {
	all, err := s.List(k)
	if err != nil || query == "" {
		return all, err
	}

	out := make([]Record, 0, len(all))
	for _, r := range all {
		if Matches(r, query) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Collections returns a copy of all three collections.
func (s *Store) Collections() (Collections, error) {
	if err := s.check(); err != nil {
		return Collections{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var c Collections
	for _, k := range Kinds() {
		c.Set(k, s.items[k])
	}
	return c, nil
}

// ReplaceAll swaps in all three collections at once. A kind that is nil or
// empty in c becomes empty; nothing from the previous content is kept.
func (s *Store) ReplaceAll(c Collections) error {
	if err := s.check(); err != nil {
		return err
	}

	items := make(map[Kind][]Record, 3)
	for _, k := range Kinds() {
		items[k] = c.Get(k)
	}

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
	return nil
}

// Clear empties all three collections.
func (s *Store) Clear() error {
	if err := s.check(); err != nil {
		return err
	}

	s.mu.Lock()
	s.items = make(map[Kind][]Record, 3)
	s.mu.Unlock()

	s.notify(Kinds()...)
	return nil
}

// Stats returns the number of records per kind.
func (s *Store) Stats() (Stats, error) {
	if err := s.check(); err != nil {
		return Stats{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Websites:  len(s.items[KindWebsite]),
		APIKeys:   len(s.items[KindAPIKey]),
		MFATokens: len(s.items[KindMFA]),
	}
	st.Total = st.Websites + st.APIKeys + st.MFATokens
	return st, nil
}

func indexOf(rs []Record, id string) int {
	return slices.IndexFunc(rs, func(r Record) bool {
		return r.Base().ID == id
	})
}
