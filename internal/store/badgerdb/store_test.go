package badgerdb_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/guestbook/internal/domain"
	"github.com/listenupapp/guestbook/internal/store"
	"github.com/listenupapp/guestbook/internal/store/badgerdb"
	"github.com/listenupapp/guestbook/internal/store/kv"
	"github.com/listenupapp/guestbook/internal/store/storetest"
)

func setupTestStore(t *testing.T, opts ...store.Option) *badgerdb.Store {
	t.Helper()

	opts = append([]store.Option{store.WithLogger(storetest.Logger(t))}, opts...)
	s, err := badgerdb.Open(t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, opts ...store.Option) store.Store {
		return setupTestStore(t, opts...)
	})
}

func TestConformance_InMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T, opts ...store.Option) store.Store {
		s, err := badgerdb.OpenInMemory(opts...)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := badgerdb.Open(dir)
	require.NoError(t, err)
	b := storetest.CreateBook(t, s, "durable")
	_, _, err = storetest.AddGreeting(ctx, s, b.ID, "still here")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := badgerdb.Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.GreetingCount)

	greetings, err := reopened.ListGreetings(ctx, b.ID, 0)
	require.NoError(t, err)
	require.Len(t, greetings, 1)
	assert.Equal(t, "still here", greetings[0].Content)
}

func TestRenameMovesNameIndex(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	b := storetest.CreateBook(t, s, "before")
	b.Name = "after"
	require.NoError(t, s.PutBook(ctx, b))

	var names [][]byte
	err := s.DB().View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(kv.BookNamePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			names = append(names, it.Item().KeyCopy(nil))
		}
		return nil
	})
	require.NoError(t, err)

	require.Len(t, names, 1, "old index entry is removed")
	assert.True(t, bytes.Equal(kv.BookNameKey("after", b.ID), names[0]))
}

func TestCommitGroup_TransactionConflict(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	b := storetest.CreateBook(t, s, "raced")

	// A commit whose mutation lets a competing commit land first must lose.
	raced := false
	_, err := s.CommitGroup(ctx, b.ID, func(cur domain.Book) (domain.Book, error) {
		if !raced {
			raced = true
			_, _, err := storetest.AddGreeting(ctx, s, b.ID, "winner")
			require.NoError(t, err)
		}
		cur.GreetingCount++
		return cur, nil
	}, mustGreeting(t, b, "loser"))
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := s.GetBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.GreetingCount)

	greetings, err := s.ListGreetings(ctx, b.ID, 0)
	require.NoError(t, err)
	require.Len(t, greetings, 1)
	assert.Equal(t, "winner", greetings[0].Content)
}

func mustGreeting(t *testing.T, b *domain.Book, content string) *domain.Greeting {
	t.Helper()
	g, err := domain.NewGreeting(b.ID, content)
	require.NoError(t, err)
	return g
}
