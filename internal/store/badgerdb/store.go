// Package badgerdb implements store.Store on BadgerDB.
//
// Each group commit runs in one optimistic Badger transaction that reads the
// book record and writes it back together with the greeting. Badger detects
// overlapping read/write sets at commit time and rejects the loser with
// ErrConflict, which surfaces as store.ErrConflict.
package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/listenupapp/guestbook/internal/domain"
	domainerrors "github.com/listenupapp/guestbook/internal/errors"
	"github.com/listenupapp/guestbook/internal/keyspace"
	"github.com/listenupapp/guestbook/internal/store"
	"github.com/listenupapp/guestbook/internal/store/kv"
)

// Store is a store.Store backed by BadgerDB.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	opts   store.Options
}

var _ store.Store = (*Store)(nil)

// Open opens or creates a Badger database in the directory at path.
func Open(path string, opts ...store.Option) (*Store, error) {
	bopts := badger.DefaultOptions(path)
	bopts.Logger = nil            // Badger logs through its own logger; we log ourselves
	bopts.SyncWrites = true       // A commit is durable once CommitGroup returns
	bopts.CompactL0OnClose = true // Faster startup on next open

	s, err := open(bopts, opts...)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Badger database opened", "path", path)
	return s, nil
}

// OpenInMemory opens a Badger database that lives only in memory.
func OpenInMemory(opts ...store.Option) (*Store, error) {
	bopts := badger.DefaultOptions("").WithInMemory(true)
	bopts.Logger = nil
	return open(bopts, opts...)
}

func open(bopts badger.Options, opts ...store.Option) (*Store, error) {
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, domainerrors.Unavailable(fmt.Errorf("open badger db: %w", err), "storage unavailable")
	}
	o := store.NewOptions(opts...)
	return &Store{db: db, logger: o.Logger, opts: o}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	s.logger.Info("Closing Badger database")
	return s.db.Close()
}

// DB exposes the underlying database for maintenance tools.
func (s *Store) DB() *badger.DB {
	return s.db
}

// PutBook implements store.Store.
func (s *Store) PutBook(ctx context.Context, book *domain.Book) error {
	if err := store.CheckContext(ctx); err != nil {
		return err
	}

	var next *domain.Book
	err := s.db.Update(func(txn *badger.Txn) error {
		stored, err := getBook(txn, book.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		next, err = store.PrepareBookWrite(stored, book, s.opts.Now())
		if err != nil {
			return err
		}

		if err := putBook(txn, stored, next); err != nil {
			return err
		}
		return ctx.Err()
	})
	if err != nil {
		return s.mapError(err, book.ID, "put book")
	}

	*book = *next
	return nil
}

// GetBook implements store.Store.
func (s *Store) GetBook(ctx context.Context, id keyspace.BookID) (*domain.Book, error) {
	if err := store.CheckContext(ctx); err != nil {
		return nil, err
	}

	var book *domain.Book
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		book, err = getBook(txn, id)
		return err
	})
	if err != nil {
		return nil, s.mapError(err, id, "get book")
	}
	return book, nil
}

// FindBookByName implements store.Store.
// The name index orders entries with the same name by id, so the first hit
// is the lowest id.
func (s *Store) FindBookByName(ctx context.Context, name string) (*domain.Book, error) {
	if err := store.CheckContext(ctx); err != nil {
		return nil, err
	}

	var book *domain.Book
	err := s.db.View(func(txn *badger.Txn) error {
		for id, err := range scanNameIndex(ctx, txn, kv.BookNameLookupPrefix(name)) {
			if err != nil {
				return err
			}
			book, err = getBook(txn, id)
			return err
		}
		return domainerrors.NotFoundf("no book named %q", name)
	})
	if err != nil {
		return nil, s.mapError(err, "", "find book by name")
	}
	return book, nil
}

// ListBooks implements store.Store.
func (s *Store) ListBooks(ctx context.Context, limit int) ([]*domain.Book, error) {
	if err := store.CheckContext(ctx); err != nil {
		return nil, err
	}

	var books []*domain.Book
	err := s.db.View(func(txn *badger.Txn) error {
		for id, err := range scanNameIndex(ctx, txn, []byte(kv.BookNamePrefix)) {
			if err != nil {
				return err
			}
			book, err := getBook(txn, id)
			if err != nil {
				return err
			}
			books = append(books, book)
			if limit > 0 && len(books) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.mapError(err, "", "list books")
	}
	return books, nil
}

// ListGreetings implements store.Store.
// The book check and the greeting scan share one read snapshot.
func (s *Store) ListGreetings(ctx context.Context, bookID keyspace.BookID, limit int) ([]*domain.Greeting, error) {
	if err := store.CheckContext(ctx); err != nil {
		return nil, err
	}

	var greetings []*domain.Greeting
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := getBook(txn, bookID); err != nil {
			return err
		}
		for g, err := range scanGreetings(ctx, txn, bookID) {
			if err != nil {
				return err
			}
			greetings = append(greetings, g)
			if limit > 0 && len(greetings) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.mapError(err, bookID, "list greetings")
	}
	return greetings, nil
}

// CommitGroup implements store.Store.
func (s *Store) CommitGroup(ctx context.Context, bookID keyspace.BookID, mutate store.Mutation, greeting *domain.Greeting) (*domain.Book, error) {
	if err := store.CheckContext(ctx); err != nil {
		return nil, err
	}
	if err := keyspace.ValidateBookID(bookID); err != nil {
		return nil, err
	}
	if err := store.CheckGreeting(bookID, greeting); err != nil {
		return nil, err
	}

	var (
		committed *domain.Book
		stamped   *domain.Greeting
	)
	err := s.db.Update(func(txn *badger.Txn) error {
		before, err := getBook(txn, bookID)
		if err != nil {
			return err
		}

		after, g, err := store.ApplyCommit(*before, mutate, greeting, s.opts.Now())
		if err != nil {
			return err
		}

		if err := putBook(txn, before, after); err != nil {
			return err
		}
		if g != nil {
			data, err := kv.EncodeGreeting(g)
			if err != nil {
				return err
			}
			if err := txn.Set(kv.GreetingKey(bookID, g.CreatedAt, g.Seq), data); err != nil {
				return err
			}
		}

		// Last chance to abandon the commit without side effects.
		if err := ctx.Err(); err != nil {
			return err
		}
		committed, stamped = after, g
		return nil
	})
	if err != nil {
		return nil, s.mapError(err, bookID, "commit group")
	}

	if greeting != nil {
		*greeting = *stamped
	}
	return committed, nil
}

// mapError turns Badger errors into store errors.
func (s *Store) mapError(err error, bookID keyspace.BookID, op string) error {
	switch {
	case errors.Is(err, badger.ErrConflict):
		s.logger.Debug("badger transaction conflict", "op", op, "book_id", bookID)
		return store.GroupConflict(bookID, err)
	case errors.Is(err, badger.ErrKeyNotFound):
		return store.BookNotFound(bookID)
	default:
		return store.WrapBackendError(err, op)
	}
}

// getBook reads a book inside txn.
func getBook(txn *badger.Txn, id keyspace.BookID) (*domain.Book, error) {
	key := kv.AcquireKey(kv.BookPrefix, []byte(id))
	defer kv.ReleaseKey(key)

	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.BookNotFound(id)
	}
	if err != nil {
		return nil, err
	}

	var book *domain.Book
	err = item.Value(func(val []byte) error {
		book, err = kv.DecodeBook(val)
		return err
	})
	return book, err
}

// putBook writes next and moves its name index entry when the name changed.
// stored is nil for an insert.
func putBook(txn *badger.Txn, stored, next *domain.Book) error {
	data, err := kv.EncodeBook(next)
	if err != nil {
		return err
	}
	if err := txn.Set(kv.BookKey(next.ID), data); err != nil {
		return err
	}

	if stored != nil && stored.Name == next.Name {
		return nil
	}
	if stored != nil {
		if err := txn.Delete(kv.BookNameKey(stored.Name, stored.ID)); err != nil {
			return err
		}
	}
	return txn.Set(kv.BookNameKey(next.Name, next.ID), []byte(next.ID))
}

// scanNameIndex yields book ids from name index entries under prefix, in key order.
func scanNameIndex(ctx context.Context, txn *badger.Txn, prefix []byte) iter.Seq2[keyspace.BookID, error] {
	return func(yield func(keyspace.BookID, error) bool) {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}

			var id keyspace.BookID
			err := it.Item().Value(func(val []byte) error {
				id = keyspace.BookID(val)
				return nil
			})
			if !yield(id, err) || err != nil {
				return
			}
		}
	}
}

// scanGreetings yields the greetings of a book newest first.
func scanGreetings(ctx context.Context, txn *badger.Txn, bookID keyspace.BookID) iter.Seq2[*domain.Greeting, error] {
	return func(yield func(*domain.Greeting, error) bool) {
		prefix := kv.GreetingsKeyPrefix(bookID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			var g *domain.Greeting
			err := it.Item().Value(func(val []byte) error {
				var err error
				g, err = kv.DecodeGreeting(val)
				return err
			})
			if !yield(g, err) || err != nil {
				return
			}
		}
	}
}
