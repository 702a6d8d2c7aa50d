package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/guestbook/internal/store"
	"github.com/listenupapp/guestbook/internal/store/storetest"
)

func newTestStore(t *testing.T, opts ...store.Option) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	opts = append([]store.Option{store.WithLogger(storetest.Logger(t))}, opts...)
	s, err := Open(dbPath, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, opts ...store.Option) store.Store {
		return newTestStore(t, opts...)
	})
}

func TestOpen(t *testing.T) {
	s := newTestStore(t)

	var journalMode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var fk int
	require.NoError(t, s.db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	for _, table := range []string{"books", "greetings"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}
}

func TestOpenClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(dbPath)
	require.NoError(t, err)
	b := storetest.CreateBook(t, s, "durable")
	require.NoError(t, s.Close())

	// Re-open should work (schema is idempotent).
	s2, err := Open(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetBook(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, "durable", got.Name)
}

func TestGreetingsRequireBook(t *testing.T) {
	s := newTestStore(t)

	// The foreign key backs up the store-level existence check.
	_, err := s.db.Exec(`INSERT INTO greetings (book_id, local_id, content, created_at, created_at_ns, seq)
		VALUES ('book-missingmissingmissin', 'x', 'orphan', '2024-01-01T00:00:00Z', 0, 1)`)
	assert.Error(t, err)
}

func TestMapError_Constraint(t *testing.T) {
	s := newTestStore(t)
	b := storetest.CreateBook(t, s, "guestbook")

	_, err := s.db.Exec(`INSERT INTO books (id, name, name_key, greeting_count, version, created_at, updated_at)
		VALUES (?, 'dup', x'00', 0, 1, '', '')`, b.ID)
	require.Error(t, err)
	assert.ErrorIs(t, s.mapError(err, b.ID, "insert"), store.ErrAlreadyExists)
}
