package sqlite

import (
	"context"
	"database/sql"

	"github.com/listenupapp/guestbook/internal/domain"
	"github.com/listenupapp/guestbook/internal/keyspace"
	"github.com/listenupapp/guestbook/internal/store"
)

// ListGreetings implements store.Store.
// Books are never deleted, so the existence check and the single-statement
// greeting query need no shared transaction.
func (s *Store) ListGreetings(ctx context.Context, bookID keyspace.BookID, limit int) ([]*domain.Greeting, error) {
	if err := store.CheckContext(ctx); err != nil {
		return nil, err
	}
	if _, err := getBook(ctx, s.db, bookID); err != nil {
		return nil, s.mapError(err, bookID, "list greetings")
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT local_id, content, created_at, seq
		FROM greetings
		WHERE book_id = ?
		ORDER BY created_at_ns DESC, seq DESC
		LIMIT ?`, bookID, limit)
	if err != nil {
		return nil, s.mapError(err, bookID, "list greetings")
	}
	defer rows.Close()

	var greetings []*domain.Greeting
	for rows.Next() {
		var (
			local     string
			createdAt string
			g         = domain.Greeting{BookID: bookID}
		)
		if err := rows.Scan(&local, &g.Content, &createdAt, &g.Seq); err != nil {
			return nil, s.mapError(err, bookID, "list greetings")
		}
		g.ID = keyspace.GreetingID{Book: bookID, Local: local}
		if g.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, s.mapError(err, bookID, "list greetings")
		}
		greetings = append(greetings, &g)
	}
	if err := rows.Err(); err != nil {
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
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		before, err := getBook(ctx, tx, bookID)
		if err != nil {
			return err
		}

		after, g, err := store.ApplyCommit(*before, mutate, greeting, s.opts.Now())
		if err != nil {
			return err
		}
		if err := updateBook(ctx, tx, after, before.Version); err != nil {
			return err
		}
		if g != nil {
			if err := insertGreeting(ctx, tx, g); err != nil {
				return err
			}
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

func insertGreeting(ctx context.Context, tx *sql.Tx, g *domain.Greeting) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO greetings (book_id, local_id, content, created_at, created_at_ns, seq)
		VALUES (?, ?, ?, ?, ?, ?)`,
		g.ID.Book, g.ID.Local, g.Content, formatTime(g.CreatedAt), g.CreatedAt.UnixNano(), g.Seq,
	)
	return err
}
