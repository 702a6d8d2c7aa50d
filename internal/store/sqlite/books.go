package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/listenupapp/guestbook/internal/domain"
	domainerrors "github.com/listenupapp/guestbook/internal/errors"
	"github.com/listenupapp/guestbook/internal/keyspace"
	"github.com/listenupapp/guestbook/internal/store"
)

// bookColumns is the ordered list of columns selected in book queries.
// Must match the scan order in scanBook.
const bookColumns = `id, name, greeting_count, version, created_at, updated_at`

// scanBook scans a sql.Row (or sql.Rows via its Scan method) into a domain.Book.
func scanBook(scanner interface{ Scan(dest ...any) error }) (*domain.Book, error) {
	var (
		b         domain.Book
		createdAt string
		updatedAt string
	)
	err := scanner.Scan(&b.ID, &b.Name, &b.GreetingCount, &b.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getBook(ctx context.Context, q queryRower, id keyspace.BookID) (*domain.Book, error) {
	b, err := scanBook(q.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.BookNotFound(id)
	}
	return b, err
}

// PutBook implements store.Store.
func (s *Store) PutBook(ctx context.Context, book *domain.Book) error {
	if err := store.CheckContext(ctx); err != nil {
		return err
	}

	var next *domain.Book
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stored, err := getBook(ctx, tx, book.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		next, err = store.PrepareBookWrite(stored, book, s.opts.Now())
		if err != nil {
			return err
		}
		if stored == nil {
			return insertBook(ctx, tx, next)
		}
		return updateBook(ctx, tx, next, stored.Version)
	})
	if err != nil {
		return s.mapError(err, book.ID, "put book")
	}

	*book = *next
	return nil
}

func insertBook(ctx context.Context, tx *sql.Tx, b *domain.Book) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO books (id, name, name_key, greeting_count, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, keyspace.NameKey(b.Name), b.GreetingCount, b.Version,
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	return err
}

// updateBook writes b if the stored version is still expected.
func updateBook(ctx context.Context, tx *sql.Tx, b *domain.Book, expected int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE books
		SET name = ?, name_key = ?, greeting_count = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		b.Name, keyspace.NameKey(b.Name), b.GreetingCount, b.Version, formatTime(b.UpdatedAt),
		b.ID, expected,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domainerrors.Conflictf("book %s changed since version %d", b.ID, expected)
	}
	return nil
}

// GetBook implements store.Store.
func (s *Store) GetBook(ctx context.Context, id keyspace.BookID) (*domain.Book, error) {
	if err := store.CheckContext(ctx); err != nil {
		return nil, err
	}
	b, err := getBook(ctx, s.db, id)
	if err != nil {
		return nil, s.mapError(err, id, "get book")
	}
	return b, nil
}

// FindBookByName implements store.Store.
func (s *Store) FindBookByName(ctx context.Context, name string) (*domain.Book, error) {
	if err := store.CheckContext(ctx); err != nil {
		return nil, err
	}

	b, err := scanBook(s.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE name_key = ? ORDER BY id LIMIT 1`,
		keyspace.NameKey(name),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerrors.NotFoundf("no book named %q", name)
	}
	if err != nil {
		return nil, s.mapError(err, "", "find book by name")
	}
	return b, nil
}

// ListBooks implements store.Store.
func (s *Store) ListBooks(ctx context.Context, limit int) ([]*domain.Book, error) {
	if err := store.CheckContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookColumns+` FROM books ORDER BY name_key, id LIMIT ?`, limit)
	if err != nil {
		return nil, s.mapError(err, "", "list books")
	}
	defer rows.Close()

	var books []*domain.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, s.mapError(err, "", "list books")
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, s.mapError(err, "", "list books")
	}
	return books, nil
}
