// Package store defines the persistence contract of the guestbook.
//
// A book and its greetings form an entity group. Every backend keeps the
// group consistent: CommitGroup is the only write that touches more than one
// record, and it either commits the mutated book together with the new
// greeting or leaves the group untouched.
//
// Backends live in subpackages (badgerdb, sqlite, boltdb, dynamo, memory)
// and are verified by the shared suite in storetest.
package store

import (
	"context"

	"github.com/listenupapp/guestbook/internal/domain"
	"github.com/listenupapp/guestbook/internal/keyspace"
)

// Mutation computes the next state of a book inside a group commit.
// It receives a copy; returning an error aborts the commit.
type Mutation func(domain.Book) (domain.Book, error)

// Store is durable, concurrency-safe storage for books and greetings.
type Store interface {
	// PutBook inserts a book when book.Version is 0 and replaces it otherwise.
	//
	// Insert fails with ErrAlreadyExists if the id is taken and with
	// ErrInvalidArgument if GreetingCount is not 0. Replace fails with
	// ErrNotFound if the book does not exist, ErrConflict if the stored
	// version differs, and ErrInvalidArgument if GreetingCount changes.
	// On success the store-managed fields of book are updated in place.
	PutBook(ctx context.Context, book *domain.Book) error

	// GetBook returns ErrNotFound if the book does not exist.
	GetBook(ctx context.Context, id keyspace.BookID) (*domain.Book, error)

	// FindBookByName returns the book with the given name. When several books
	// share the name the one with the lowest id wins. ErrNotFound if none match.
	FindBookByName(ctx context.Context, name string) (*domain.Book, error)

	// ListBooks returns up to limit books ordered by name, then id.
	// A limit <= 0 returns every book.
	ListBooks(ctx context.Context, limit int) ([]*domain.Book, error)

	// ListGreetings returns up to limit greetings of a book, newest first.
	// ErrNotFound if the book does not exist. A limit <= 0 returns all.
	ListGreetings(ctx context.Context, bookID keyspace.BookID, limit int) ([]*domain.Greeting, error)

	// CommitGroup atomically applies mutate to the book and, when greeting is
	// not nil, inserts the greeting in the same commit.
	//
	// ErrNotFound if the book does not exist. ErrConflict if a concurrent
	// commit on the same book prevented serialization; callers retry.
	// On success the stored book is returned and greeting receives its
	// CreatedAt and Seq.
	CommitGroup(ctx context.Context, bookID keyspace.BookID, mutate Mutation, greeting *domain.Greeting) (*domain.Book, error)

	// Close releases the underlying storage.
	Close() error
}
