// Package sqlite implements store.Store on SQLite (modernc.org/sqlite, no cgo).
//
// Write transactions begin IMMEDIATE, so a group commit holds the database
// write lock from its first read to its commit. Writers queue on
// busy_timeout; one that still cannot get the lock fails with ErrConflict.
// Every UPDATE also checks the version it read.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	domainerrors "github.com/listenupapp/guestbook/internal/errors"
	"github.com/listenupapp/guestbook/internal/keyspace"
	"github.com/listenupapp/guestbook/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Store is a store.Store backed by a SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	opts   store.Options
}

var _ store.Store = (*Store)(nil)

// Open creates or opens the SQLite database at path.
// Pragmas go in the DSN so every pooled connection gets them.
func Open(path string, opts ...store.Option) (*Store, error) {
	params := url.Values{}
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite", "file:"+path+"?"+params.Encode())
	if err != nil {
		return nil, domainerrors.Unavailable(fmt.Errorf("open sqlite: %w", err), "storage unavailable")
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, domainerrors.Unavailable(fmt.Errorf("exec schema: %w", err), "storage unavailable")
	}

	o := store.NewOptions(opts...)
	o.Logger.Info("SQLite database opened", "path", path)
	return &Store{db: db, logger: o.Logger, opts: o}, nil
}

// Close closes the underlying database connections.
func (s *Store) Close() error {
	s.logger.Info("Closing SQLite database")
	return s.db.Close()
}

// inTx runs fn in a write transaction and commits it unless fn fails or
// ctx is done.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.Commit()
}

// mapError classifies errors coming out of database/sql.
func (s *Store) mapError(err error, bookID keyspace.BookID, op string) error {
	var sqliteErr *moderncsqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			s.logger.Debug("sqlite write lock contention", "op", op, "book_id", bookID)
			return store.GroupConflict(bookID, err)
		case sqlite3.SQLITE_CONSTRAINT:
			return domainerrors.Wrapf(err, domainerrors.CodeAlreadyExists, "%s: constraint violation", op)
		}
	}
	return store.WrapBackendError(err, op)
}

// formatTime formats a time.Time to RFC3339Nano for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a RFC3339Nano string back to time.Time.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
