// Package boltdb implements store.Store on bbolt.
//
// bbolt allows a single writer at a time, so group commits never conflict:
// they queue for the write lock and are coalesced into shared transactions
// with DB.Batch. Readers use MVCC snapshots and never block writers.
//
// Buckets:
//
//	books                 bookID -> book record
//	book_names            NameKey + bookID -> bookID
//	greetings/<bookID>    order suffix -> greeting record
package boltdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"github.com/listenupapp/guestbook/internal/domain"
	domainerrors "github.com/listenupapp/guestbook/internal/errors"
	"github.com/listenupapp/guestbook/internal/keyspace"
	"github.com/listenupapp/guestbook/internal/store"
	"github.com/listenupapp/guestbook/internal/store/kv"
)

var (
	booksBucket     = []byte("books")
	bookNamesBucket = []byte("book_names")
	greetingsBucket = []byte("greetings")
)

// Store is a store.Store backed by a bbolt file.
type Store struct {
	db     *bbolt.DB
	logger *slog.Logger
	opts   store.Options
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the bbolt file at path.
func Open(path string, opts ...store.Option) (*Store, error) {
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	bopt.FreelistType = bbolt.FreelistMapType

	db, err := bbolt.Open(path, 0o600, &bopt)
	if err != nil {
		return nil, domainerrors.Unavailable(fmt.Errorf("open bolt db: %w", err), "storage unavailable")
	}
	db.MaxBatchDelay = 2 * time.Millisecond

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{booksBucket, bookNamesBucket, greetingsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, domainerrors.Unavailable(err, "storage unavailable")
	}

	o := store.NewOptions(opts...)
	o.Logger.Info("Bolt database opened", "path", path)
	return &Store{db: db, logger: o.Logger, opts: o}, nil
}

// Close closes the database file.
func (s *Store) Close() error {
	s.logger.Info("Closing Bolt database")
	return s.db.Close()
}

// PutBook implements store.Store.
func (s *Store) PutBook(ctx context.Context, book *domain.Book) error {
	if err := store.CheckContext(ctx); err != nil {
		return err
	}

	var next *domain.Book
	err := s.db.Update(func(tx *bbolt.Tx) error {
		stored, err := getBook(tx, book.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		next, err = store.PrepareBookWrite(stored, book, s.opts.Now())
		if err != nil {
			return err
		}
		if stored == nil {
			if _, err := tx.Bucket(greetingsBucket).CreateBucket([]byte(next.ID)); err != nil {
				return fmt.Errorf("create greetings bucket: %w", err)
			}
		}
		if err := putBook(tx, stored, next); err != nil {
			return err
		}
		return ctx.Err()
	})
	if err != nil {
		return store.WrapBackendError(err, "put book")
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
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		book, err = getBook(tx, id)
		return err
	})
	if err != nil {
		return nil, store.WrapBackendError(err, "get book")
	}
	return book, nil
}

// FindBookByName implements store.Store.
func (s *Store) FindBookByName(ctx context.Context, name string) (*domain.Book, error) {
	if err := store.CheckContext(ctx); err != nil {
		return nil, err
	}

	prefix := keyspace.NameKey(name)
	var book *domain.Book
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bookNamesBucket).Cursor()
		k, v := c.Seek(prefix)
		if k == nil || !bytes.HasPrefix(k, prefix) {
			return domainerrors.NotFoundf("no book named %q", name)
		}
		var err error
		book, err = getBook(tx, keyspace.BookID(v))
		return err
	})
	if err != nil {
		return nil, store.WrapBackendError(err, "find book by name")
	}
	return book, nil
}

// ListBooks implements store.Store.
func (s *Store) ListBooks(ctx context.Context, limit int) ([]*domain.Book, error) {
	if err := store.CheckContext(ctx); err != nil {
		return nil, err
	}

	var books []*domain.Book
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bookNamesBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			book, err := getBook(tx, keyspace.BookID(v))
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
		return nil, store.WrapBackendError(err, "list books")
	}
	return books, nil
}

// ListGreetings implements store.Store.
func (s *Store) ListGreetings(ctx context.Context, bookID keyspace.BookID, limit int) ([]*domain.Greeting, error) {
	if err := store.CheckContext(ctx); err != nil {
		return nil, err
	}

	var greetings []*domain.Greeting
	err := s.db.View(func(tx *bbolt.Tx) error {
		if _, err := getBook(tx, bookID); err != nil {
			return err
		}
		b := tx.Bucket(greetingsBucket).Bucket([]byte(bookID))
		if b == nil {
			return nil
		}

		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			g, err := kv.DecodeGreeting(v)
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
		return nil, store.WrapBackendError(err, "list greetings")
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
	// Batch may run this function more than once; it only reads tx state.
	err := s.db.Batch(func(tx *bbolt.Tx) error {
		before, err := getBook(tx, bookID)
		if err != nil {
			return err
		}

		after, g, err := store.ApplyCommit(*before, mutate, greeting, s.opts.Now())
		if err != nil {
			return err
		}
		if err := putBook(tx, before, after); err != nil {
			return err
		}
		if g != nil {
			b, err := tx.Bucket(greetingsBucket).CreateBucketIfNotExists([]byte(bookID))
			if err != nil {
				return err
			}
			data, err := kv.EncodeGreeting(g)
			if err != nil {
				return err
			}
			if err := b.Put(kv.OrderSuffix(g.CreatedAt, g.Seq), data); err != nil {
				return err
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		committed, stamped = after, g
		return nil
	})
	if err != nil {
		return nil, store.WrapBackendError(err, "commit group")
	}

	if greeting != nil {
		*greeting = *stamped
	}
	return committed, nil
}

func getBook(tx *bbolt.Tx, id keyspace.BookID) (*domain.Book, error) {
	data := tx.Bucket(booksBucket).Get([]byte(id))
	if data == nil {
		return nil, store.BookNotFound(id)
	}
	return kv.DecodeBook(data)
}

// putBook writes next and moves its name index entry when the name changed.
func putBook(tx *bbolt.Tx, stored, next *domain.Book) error {
	data, err := kv.EncodeBook(next)
	if err != nil {
		return err
	}
	if err := tx.Bucket(booksBucket).Put([]byte(next.ID), data); err != nil {
		return err
	}

	if stored != nil && stored.Name == next.Name {
		return nil
	}
	names := tx.Bucket(bookNamesBucket)
	if stored != nil {
		if err := names.Delete(nameEntry(stored)); err != nil {
			return err
		}
	}
	return names.Put(nameEntry(next), []byte(next.ID))
}

// nameEntry is the book_names key: the shared layout minus its prefix.
func nameEntry(b *domain.Book) []byte {
	return bytes.TrimPrefix(kv.BookNameKey(b.Name, b.ID), []byte(kv.BookNamePrefix))
}
