package storetest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/guestbook/internal/domain"
	"github.com/listenupapp/guestbook/internal/keyspace"
	"github.com/listenupapp/guestbook/internal/store"
)

func testInsertBook(t *testing.T, newStore Factory) {
	s := newStore(t, store.WithClock(FixedClock(Start)))
	ctx := context.Background()

	b := domain.NewBook("guestbook")
	require.NoError(t, s.PutBook(ctx, b))
	assert.Equal(t, int64(1), b.Version)
	assert.True(t, b.CreatedAt.Equal(Start))

	got, err := s.GetBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, "guestbook", got.Name)
	assert.Equal(t, int64(0), got.GreetingCount)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, got.CreatedAt.Equal(Start))
	assert.True(t, got.UpdatedAt.Equal(Start))

	greetings, err := s.ListGreetings(ctx, b.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, greetings)
}

func testInsertExisting(t *testing.T, newStore Factory) {
	s := newStore(t)
	b := CreateBook(t, s, "guestbook")

	again := &domain.Book{ID: b.ID, Name: "impostor"}
	err := s.PutBook(context.Background(), again)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	assert.Equal(t, "guestbook", mustGet(t, s, b.ID).Name)
}

func testInsertWithGreetings(t *testing.T, newStore Factory) {
	s := newStore(t)
	b := domain.NewBook("guestbook")
	b.GreetingCount = 2

	err := s.PutBook(context.Background(), b)
	assert.ErrorIs(t, err, store.ErrInvalidArgument)

	_, err = s.GetBook(context.Background(), b.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testRenameBook(t *testing.T, newStore Factory) {
	s := newStore(t, store.WithClock(SteppingClock(Start, time.Second)))
	ctx := context.Background()
	b := CreateBook(t, s, "old name")
	mustAdd(t, s, b.ID, "hello")

	current := mustGet(t, s, b.ID)
	current.Name = "new name"
	require.NoError(t, s.PutBook(ctx, current))
	assert.Equal(t, int64(3), current.Version)

	got := mustGet(t, s, b.ID)
	assert.Equal(t, "new name", got.Name)
	assert.Equal(t, int64(1), got.GreetingCount)
	assert.True(t, got.CreatedAt.Equal(b.CreatedAt))
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	found, err := s.FindBookByName(ctx, "new name")
	require.NoError(t, err)
	assert.Equal(t, b.ID, found.ID)

	_, err = s.FindBookByName(ctx, "old name")
	assert.ErrorIs(t, err, store.ErrNotFound)

	books, err := s.ListBooks(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, books, 1)
}

func testReplaceMissing(t *testing.T, newStore Factory) {
	s := newStore(t)
	b := &domain.Book{ID: keyspace.NewBookID(), Name: "ghost", Version: 1}

	err := s.PutBook(context.Background(), b)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testReplaceStale(t *testing.T, newStore Factory) {
	s := newStore(t)
	b := CreateBook(t, s, "guestbook")
	stale := *b

	mustAdd(t, s, b.ID, "bumps the version")

	stale.Name = "renamed from a stale read"
	err := s.PutBook(context.Background(), &stale)
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, "guestbook", mustGet(t, s, b.ID).Name)
}

func testReplaceCounter(t *testing.T, newStore Factory) {
	s := newStore(t)
	b := CreateBook(t, s, "guestbook")

	b.GreetingCount = 10
	err := s.PutBook(context.Background(), b)
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
	assert.Equal(t, int64(0), mustGet(t, s, b.ID).GreetingCount)
}

func testGetBookNotFound(t *testing.T, newStore Factory) {
	s := newStore(t)
	_, err := s.GetBook(context.Background(), keyspace.NewBookID())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testFindBookByName(t *testing.T, newStore Factory) {
	s := newStore(t)
	ctx := context.Background()
	cafe := CreateBook(t, s, "caf\u00e9")
	CreateBook(t, s, "cafe")
	CreateBook(t, s, "caf\u00e9 annex")

	found, err := s.FindBookByName(ctx, "caf\u00e9")
	require.NoError(t, err)
	assert.Equal(t, cafe.ID, found.ID)

	_, err = s.FindBookByName(ctx, "cafe\u0301")
	assert.ErrorIs(t, err, store.ErrNotFound, "a differently encoded name is not a match")

	_, err = s.FindBookByName(ctx, "caf")
	assert.ErrorIs(t, err, store.ErrNotFound, "a prefix is not a match")

	_, err = s.FindBookByName(ctx, "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testFindBookByNameDuplicates(t *testing.T, newStore Factory) {
	s := newStore(t)
	var ids []keyspace.BookID
	for range 4 {
		ids = append(ids, CreateBook(t, s, "twin").ID)
	}
	slices.SortFunc(ids, keyspace.BookID.Compare)

	found, err := s.FindBookByName(context.Background(), "twin")
	require.NoError(t, err)
	assert.Equal(t, ids[0], found.ID)
}

func testListBooksOrder(t *testing.T, newStore Factory) {
	s := newStore(t)
	beta := CreateBook(t, s, "beta")
	alpha1 := CreateBook(t, s, "alpha")
	alpha2 := CreateBook(t, s, "alpha")
	empty := CreateBook(t, s, "")

	alphas := []keyspace.BookID{alpha1.ID, alpha2.ID}
	slices.SortFunc(alphas, keyspace.BookID.Compare)
	expected := []keyspace.BookID{empty.ID, alphas[0], alphas[1], beta.ID}

	books, err := s.ListBooks(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, expected, bookIDs(books))
}

func testListBooksRawNameOrder(t *testing.T, newStore Factory) {
	s := newStore(t)
	ctx := context.Background()
	composed := CreateBook(t, s, "caf\u00e9")
	decomposed := CreateBook(t, s, "cafe\u0301x")
	CreateBook(t, s, "cafe")
	CreateBook(t, s, "a\x00b")
	CreateBook(t, s, "a")

	books, err := s.ListBooks(ctx, 0)
	require.NoError(t, err)
	require.Len(t, books, 5)
	for i := 1; i < len(books); i++ {
		assert.LessOrEqual(t, books[i-1].Name, books[i].Name, "books out of order at %d", i)
	}

	found, err := s.FindBookByName(ctx, "cafe\u0301x")
	require.NoError(t, err)
	assert.Equal(t, decomposed.ID, found.ID)
	assert.NotEqual(t, composed.ID, found.ID)
}

func testListBooksLimit(t *testing.T, newStore Factory) {
	s := newStore(t)
	for i := range 5 {
		CreateBook(t, s, fmt.Sprintf("book %d", i))
	}

	books, err := s.ListBooks(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, books, 3)
	assert.Equal(t, "book 0", books[0].Name)
	assert.Equal(t, "book 2", books[2].Name)
}

func testListGreetingsUnknownBook(t *testing.T, newStore Factory) {
	s := newStore(t)
	_, err := s.ListGreetings(context.Background(), keyspace.NewBookID(), 20)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testListGreetingsLimit(t *testing.T, newStore Factory) {
	s := newStore(t, store.WithClock(SteppingClock(Start, time.Second)))
	b := CreateBook(t, s, "guestbook")
	for i := range 5 {
		mustAdd(t, s, b.ID, fmt.Sprintf("greeting %d", i))
	}

	greetings := mustList(t, s, b.ID, 2)
	require.Len(t, greetings, 2)
	assert.Equal(t, "greeting 4", greetings[0].Content)
	assert.Equal(t, "greeting 3", greetings[1].Content)

	assert.Len(t, mustList(t, s, b.ID, 0), 5)
	assert.Len(t, mustList(t, s, b.ID, 100), 5)
}

func testCommitAppends(t *testing.T, newStore Factory) {
	s := newStore(t, store.WithClock(SteppingClock(Start, time.Millisecond)))
	b := CreateBook(t, s, "guestbook")

	const n = 25
	var added []keyspace.GreetingID
	for i := range n {
		g := mustAdd(t, s, b.ID, fmt.Sprintf("greeting %d", i))
		added = append(added, g.ID)
	}

	got := mustGet(t, s, b.ID)
	assert.Equal(t, int64(n), got.GreetingCount)
	assert.Equal(t, int64(n+1), got.Version)

	greetings := mustList(t, s, b.ID, 0)
	require.Len(t, greetings, n)
	for i, g := range greetings {
		assert.Equal(t, b.ID, g.BookID)
		assert.Equal(t, b.ID, g.ID.Book)
		assert.Equal(t, added[n-1-i], g.ID, "newest first")
		if i > 0 {
			assert.True(t, greetings[i-1].Newer(g))
		}
	}
}

func testCommitStampsGreeting(t *testing.T, newStore Factory) {
	at := Start.Add(time.Hour)
	s := newStore(t, store.WithClock(FixedClock(at)))
	b := CreateBook(t, s, "guestbook")

	g, err := domain.NewGreeting(b.ID, "hello")
	require.NoError(t, err)
	g.CreatedAt = time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	g.Seq = 1000

	book, err := s.CommitGroup(context.Background(), b.ID, domain.IncrementGreetings, g)
	require.NoError(t, err)
	assert.Equal(t, int64(1), book.GreetingCount)
	assert.Equal(t, int64(2), book.Version)

	assert.True(t, g.CreatedAt.Equal(at), "CreatedAt is set by the store")
	assert.Equal(t, book.Version, g.Seq)

	greetings := mustList(t, s, b.ID, 0)
	require.Len(t, greetings, 1)
	assert.Equal(t, g.ID, greetings[0].ID)
	assert.Equal(t, "hello", greetings[0].Content)
	assert.True(t, greetings[0].CreatedAt.Equal(at))
	assert.Equal(t, book.Version, greetings[0].Seq)
}

func testCommitUnknownBook(t *testing.T, newStore Factory) {
	s := newStore(t)
	ghost := keyspace.NewBookID()
	g, err := domain.NewGreeting(ghost, "nobody home")
	require.NoError(t, err)

	_, err = s.CommitGroup(context.Background(), ghost, domain.IncrementGreetings, g)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.ListGreetings(context.Background(), ghost, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
	books, err := s.ListBooks(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, books)
}

func testCommitMutationError(t *testing.T, newStore Factory) {
	s := newStore(t)
	b := CreateBook(t, s, "guestbook")
	g, err := domain.NewGreeting(b.ID, "never stored")
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = s.CommitGroup(context.Background(), b.ID, func(domain.Book) (domain.Book, error) {
		return domain.Book{}, boom
	}, g)
	assert.ErrorIs(t, err, boom)

	got := mustGet(t, s, b.ID)
	assert.Equal(t, int64(0), got.GreetingCount)
	assert.Equal(t, int64(1), got.Version)
	assert.Empty(t, mustList(t, s, b.ID, 0))
}

func testCommitRejectsDecrement(t *testing.T, newStore Factory) {
	s := newStore(t)
	b := CreateBook(t, s, "guestbook")
	mustAdd(t, s, b.ID, "one")

	_, err := s.CommitGroup(context.Background(), b.ID, func(b domain.Book) (domain.Book, error) {
		b.GreetingCount = 0
		return b, nil
	}, nil)
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
	assert.Equal(t, int64(1), mustGet(t, s, b.ID).GreetingCount)
}

func testCommitRejectsForeignGreeting(t *testing.T, newStore Factory) {
	s := newStore(t)
	home := CreateBook(t, s, "home")
	away := CreateBook(t, s, "away")

	g, err := domain.NewGreeting(away.ID, "wrong book")
	require.NoError(t, err)

	_, err = s.CommitGroup(context.Background(), home.ID, domain.IncrementGreetings, g)
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
	assert.Empty(t, mustList(t, s, home.ID, 0))
	assert.Empty(t, mustList(t, s, away.ID, 0))
}

func testCommitWithoutGreeting(t *testing.T, newStore Factory) {
	s := newStore(t)
	ctx := context.Background()
	b := CreateBook(t, s, "before")

	book, err := s.CommitGroup(ctx, b.ID, func(b domain.Book) (domain.Book, error) {
		b.Name = "after"
		return b, nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "after", book.Name)
	assert.Equal(t, int64(0), book.GreetingCount)
	assert.Equal(t, int64(2), book.Version)

	found, err := s.FindBookByName(ctx, "after")
	require.NoError(t, err)
	assert.Equal(t, b.ID, found.ID)
	_, err = s.FindBookByName(ctx, "before")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testCommitCanceled(t *testing.T, newStore Factory) {
	s := newStore(t)
	b := CreateBook(t, s, "guestbook")
	g, err := domain.NewGreeting(b.ID, "too late")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.CommitGroup(ctx, b.ID, domain.IncrementGreetings, g)
	assert.ErrorIs(t, err, store.ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, int64(0), mustGet(t, s, b.ID).GreetingCount)
	assert.Empty(t, mustList(t, s, b.ID, 0))
}

func testOrderingEqualTimestamps(t *testing.T, newStore Factory) {
	s := newStore(t, store.WithClock(FixedClock(Start)))
	b := CreateBook(t, s, "frozen clock")

	var contents []string
	for i := range 10 {
		content := fmt.Sprintf("greeting %d", i)
		mustAdd(t, s, b.ID, content)
		contents = append(contents, content)
	}
	slices.Reverse(contents)

	greetings := mustList(t, s, b.ID, 0)
	got := make([]string, len(greetings))
	for i, g := range greetings {
		got[i] = g.Content
		assert.True(t, g.CreatedAt.Equal(Start))
	}
	assert.Equal(t, contents, got, "equal timestamps fall back to insertion order, newest first")
}

func testOrderingClockBackwards(t *testing.T, newStore Factory) {
	s := newStore(t, store.WithClock(SteppingClock(Start, -time.Second)))
	b := CreateBook(t, s, "skewed clock")

	for i := range 5 {
		mustAdd(t, s, b.ID, fmt.Sprintf("greeting %d", i))
	}

	greetings := mustList(t, s, b.ID, 0)
	require.Len(t, greetings, 5)
	assert.Equal(t, "greeting 0", greetings[0].Content, "ordering follows CreatedAt, not insertion")
	for i := 1; i < len(greetings); i++ {
		assert.True(t, greetings[i-1].Newer(greetings[i]))
	}
}

func testConcurrentSameBook(t *testing.T, newStore Factory) {
	s := newStore(t)
	b := CreateBook(t, s, "busy")

	const writers = 16
	var failures atomic.Int64
	concurrently(writers, func(i int) {
		if _, _, err := AddGreeting(context.Background(), s, b.ID, fmt.Sprintf("writer %d", i)); err != nil {
			t.Errorf("writer %d: %v", i, err)
			failures.Add(1)
		}
	})
	require.Zero(t, failures.Load())

	got := mustGet(t, s, b.ID)
	assert.Equal(t, int64(writers), got.GreetingCount)

	greetings := mustList(t, s, b.ID, 0)
	assert.Len(t, greetings, writers)
	seen := make(map[keyspace.GreetingID]bool)
	seqs := make(map[int64]bool)
	for _, g := range greetings {
		assert.False(t, seen[g.ID], "duplicate greeting %s", g.ID)
		assert.False(t, seqs[g.Seq], "duplicate seq %d", g.Seq)
		seen[g.ID] = true
		seqs[g.Seq] = true
	}
}

func testConcurrentIndependentBooks(t *testing.T, newStore Factory) {
	s := newStore(t)
	books := []*domain.Book{CreateBook(t, s, "left"), CreateBook(t, s, "right")}

	const perBook = 10
	concurrently(len(books)*perBook, func(i int) {
		b := books[i%len(books)]
		if _, _, err := AddGreeting(context.Background(), s, b.ID, fmt.Sprintf("greeting %d", i)); err != nil {
			t.Errorf("greeting %d: %v", i, err)
		}
	})

	for _, b := range books {
		assert.Equal(t, int64(perBook), mustGet(t, s, b.ID).GreetingCount)
		greetings := mustList(t, s, b.ID, 0)
		assert.Len(t, greetings, perBook)
		for _, g := range greetings {
			assert.Equal(t, b.ID, g.BookID)
		}
	}
}

func testReadersSeeWholeCommits(t *testing.T, newStore Factory) {
	s := newStore(t)
	b := CreateBook(t, s, "observed")
	ctx := context.Background()

	const writes = 30
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range writes {
			if _, _, err := AddGreeting(ctx, s, b.ID, fmt.Sprintf("greeting %d", i)); err != nil {
				t.Errorf("greeting %d: %v", i, err)
				return
			}
		}
	}()

	check := func() {
		before := mustGet(t, s, b.ID)
		greetings := mustList(t, s, b.ID, 0)
		after := mustGet(t, s, b.ID)

		n := int64(len(greetings))
		assert.LessOrEqual(t, before.GreetingCount, n, "greetings counted before the list must be listed")
		assert.LessOrEqual(t, n, after.GreetingCount, "listed greetings must be counted afterwards")
	}

	for {
		select {
		case <-done:
			check()
			assert.Equal(t, int64(writes), mustGet(t, s, b.ID).GreetingCount)
			return
		default:
			check()
		}
	}
}

func bookIDs(books []*domain.Book) []keyspace.BookID {
	ids := make([]keyspace.BookID, len(books))
	for i, b := range books {
		ids[i] = b.ID
	}
	return ids
}
