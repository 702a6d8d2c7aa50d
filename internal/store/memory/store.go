// Package memory implements store.Store in process memory.
//
// Every book owns a group: a one-slot semaphore that serializes writers and
// an atomically swapped snapshot that readers load without locking. A commit
// builds the next snapshot and publishes it with a single pointer store, so
// readers see either all of a commit or none of it.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/listenupapp/guestbook/internal/domain"
	domainerrors "github.com/listenupapp/guestbook/internal/errors"
	"github.com/listenupapp/guestbook/internal/keyspace"
	"github.com/listenupapp/guestbook/internal/store"
)

// Store is a store.Store that keeps everything in memory.
type Store struct {
	mu     sync.RWMutex
	groups map[keyspace.BookID]*group
	closed atomic.Bool
	opts   store.Options
}

var _ store.Store = (*Store)(nil)

type group struct {
	sem   chan struct{}
	state atomic.Pointer[snapshot]
}

// snapshot is immutable once published. greetings holds commit order;
// writers may append past its length because they are serialized and
// readers never look beyond the length they loaded.
type snapshot struct {
	book      domain.Book
	greetings []domain.Greeting
}

// New returns an empty store.
func New(opts ...store.Option) *Store {
	return &Store{
		groups: make(map[keyspace.BookID]*group),
		opts:   store.NewOptions(opts...),
	}
}

// Close marks the store closed. Later calls fail with ErrUnavailable.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) check(ctx context.Context) error {
	if s.closed.Load() {
		return domainerrors.Unavailable(nil, "store closed")
	}
	return store.CheckContext(ctx)
}

func (s *Store) group(id keyspace.BookID) (*group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	return g, ok
}

// lock acquires the group's writer slot or gives up when ctx is done.
func (g *group) lock(ctx context.Context) error {
	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return domainerrors.FromContext(ctx.Err())
	}
}

func (g *group) unlock() { <-g.sem }

// PutBook implements store.Store.
func (s *Store) PutBook(ctx context.Context, book *domain.Book) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if book.Version == 0 {
		return s.insert(book)
	}

	g, ok := s.group(book.ID)
	if !ok {
		_, err := store.PrepareBookWrite(nil, book, s.opts.Now())
		return err
	}
	if err := g.lock(ctx); err != nil {
		return err
	}
	defer g.unlock()

	cur := g.state.Load()
	next, err := store.PrepareBookWrite(&cur.book, book, s.opts.Now())
	if err != nil {
		return err
	}
	g.state.Store(&snapshot{book: *next, greetings: cur.greetings})
	*book = *next
	return nil
}

func (s *Store) insert(book *domain.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored *domain.Book
	if existing, ok := s.groups[book.ID]; ok {
		stored = &existing.state.Load().book
	}
	next, err := store.PrepareBookWrite(stored, book, s.opts.Now())
	if err != nil {
		return err
	}

	g := &group{sem: make(chan struct{}, 1)}
	g.state.Store(&snapshot{book: *next})
	s.groups[book.ID] = g
	*book = *next
	return nil
}

// GetBook implements store.Store.
func (s *Store) GetBook(ctx context.Context, id keyspace.BookID) (*domain.Book, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	g, ok := s.group(id)
	if !ok {
		return nil, store.BookNotFound(id)
	}
	book := g.state.Load().book
	return &book, nil
}

// FindBookByName implements store.Store.
func (s *Store) FindBookByName(ctx context.Context, name string) (*domain.Book, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if book := store.FirstByName(s.books(), name); book != nil {
		return book, nil
	}
	return nil, domainerrors.NotFoundf("no book named %q", name)
}

// ListBooks implements store.Store.
func (s *Store) ListBooks(ctx context.Context, limit int) ([]*domain.Book, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	books := s.books()
	store.SortBooks(books)
	return store.Truncate(books, limit), nil
}

func (s *Store) books() []*domain.Book {
	s.mu.RLock()
	defer s.mu.RUnlock()

	books := make([]*domain.Book, 0, len(s.groups))
	for _, g := range s.groups {
		book := g.state.Load().book
		books = append(books, &book)
	}
	return books
}

// ListGreetings implements store.Store.
func (s *Store) ListGreetings(ctx context.Context, bookID keyspace.BookID, limit int) ([]*domain.Greeting, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	g, ok := s.group(bookID)
	if !ok {
		return nil, store.BookNotFound(bookID)
	}

	snap := g.state.Load()
	greetings := make([]*domain.Greeting, len(snap.greetings))
	for i := range snap.greetings {
		gr := snap.greetings[i]
		greetings[i] = &gr
	}
	store.SortGreetings(greetings)
	return store.Truncate(greetings, limit), nil
}

// CommitGroup implements store.Store.
func (s *Store) CommitGroup(ctx context.Context, bookID keyspace.BookID, mutate store.Mutation, greeting *domain.Greeting) (*domain.Book, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if err := keyspace.ValidateBookID(bookID); err != nil {
		return nil, err
	}
	if err := store.CheckGreeting(bookID, greeting); err != nil {
		return nil, err
	}

	g, ok := s.group(bookID)
	if !ok {
		return nil, store.BookNotFound(bookID)
	}
	if err := g.lock(ctx); err != nil {
		return nil, err
	}
	defer g.unlock()

	cur := g.state.Load()
	after, stamped, err := store.ApplyCommit(cur.book, mutate, greeting, s.opts.Now())
	if err != nil {
		return nil, err
	}
	if err := store.CheckContext(ctx); err != nil {
		return nil, err
	}

	next := &snapshot{book: *after, greetings: cur.greetings}
	if stamped != nil {
		next.greetings = append(cur.greetings, *stamped)
	}
	g.state.Store(next)

	if greeting != nil {
		*greeting = *stamped
	}
	book := *after
	return &book, nil
}
