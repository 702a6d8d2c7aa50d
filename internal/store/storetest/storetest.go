// Package storetest is the conformance suite every store.Store backend runs.
//
//	func TestConformance(t *testing.T) {
//		storetest.Run(t, func(t *testing.T, opts ...store.Option) store.Store {
//			s, err := badgerdb.Open(t.TempDir(), opts...)
//			require.NoError(t, err)
//			t.Cleanup(func() { s.Close() })
//			return s
//		})
//	}
package storetest

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/listenupapp/guestbook/internal/domain"
	"github.com/listenupapp/guestbook/internal/keyspace"
	"github.com/listenupapp/guestbook/internal/store"
)

// Start is the first instant handed out by the test clocks.
var Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Factory opens an empty store for one test. It registers its own cleanup.
type Factory func(t *testing.T, opts ...store.Option) store.Store

// Run executes the whole suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, newStore Factory)
	}{
		{"PutBook/Insert", testInsertBook},
		{"PutBook/InsertExisting", testInsertExisting},
		{"PutBook/InsertWithGreetings", testInsertWithGreetings},
		{"PutBook/Rename", testRenameBook},
		{"PutBook/ReplaceMissing", testReplaceMissing},
		{"PutBook/ReplaceStale", testReplaceStale},
		{"PutBook/ReplaceCounter", testReplaceCounter},
		{"GetBook/NotFound", testGetBookNotFound},
		{"FindBookByName", testFindBookByName},
		{"FindBookByName/Duplicates", testFindBookByNameDuplicates},
		{"ListBooks/Order", testListBooksOrder},
		{"ListBooks/RawNameOrder", testListBooksRawNameOrder},
		{"ListBooks/Limit", testListBooksLimit},
		{"ListGreetings/UnknownBook", testListGreetingsUnknownBook},
		{"ListGreetings/Limit", testListGreetingsLimit},
		{"CommitGroup/Appends", testCommitAppends},
		{"CommitGroup/StampsGreeting", testCommitStampsGreeting},
		{"CommitGroup/UnknownBook", testCommitUnknownBook},
		{"CommitGroup/MutationError", testCommitMutationError},
		{"CommitGroup/RejectsDecrement", testCommitRejectsDecrement},
		{"CommitGroup/RejectsForeignGreeting", testCommitRejectsForeignGreeting},
		{"CommitGroup/WithoutGreeting", testCommitWithoutGreeting},
		{"CommitGroup/CanceledContext", testCommitCanceled},
		{"Ordering/EqualTimestamps", testOrderingEqualTimestamps},
		{"Ordering/ClockGoesBackwards", testOrderingClockBackwards},
		{"Concurrent/SameBook", testConcurrentSameBook},
		{"Concurrent/IndependentBooks", testConcurrentIndependentBooks},
		{"Concurrent/ReadersSeeWholeCommits", testReadersSeeWholeCommits},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore)
		})
	}
}

// Logger returns a slog.Logger that writes through t.Log.
func Logger(t testing.TB) *slog.Logger {
	return slog.New(slog.NewTextHandler(&logWriter{t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type logWriter struct{ t testing.TB }

func (w *logWriter) Write(buf []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(buf), "\n"))
	return len(buf), nil
}

// FixedClock always returns at.
func FixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

// SteppingClock advances by step on every call, starting at start.
// A negative step makes time run backwards.
func SteppingClock(start time.Time, step time.Duration) func() time.Time {
	var n atomic.Int64
	return func() time.Time {
		return start.Add(time.Duration(n.Add(1)-1) * step)
	}
}

// CreateBook inserts a new book named name.
func CreateBook(t testing.TB, s store.Store, name string) *domain.Book {
	t.Helper()
	b := domain.NewBook(name)
	if err := s.PutBook(context.Background(), b); err != nil {
		t.Fatalf("create book %q: %v", name, err)
	}
	return b
}

// AddGreeting commits one greeting, retrying on ErrConflict the way a caller
// of the store is expected to.
func AddGreeting(ctx context.Context, s store.Store, bookID keyspace.BookID, content string) (*domain.Greeting, *domain.Book, error) {
	g, err := domain.NewGreeting(bookID, content)
	if err != nil {
		return nil, nil, err
	}
	for attempt := 0; ; attempt++ {
		book, err := s.CommitGroup(ctx, bookID, domain.IncrementGreetings, g)
		if err == nil {
			return g, book, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= 500 {
			return nil, nil, err
		}
		time.Sleep(time.Duration(rand.IntN(500)+50) * time.Microsecond)
	}
}

func mustAdd(t testing.TB, s store.Store, bookID keyspace.BookID, content string) *domain.Greeting {
	t.Helper()
	g, _, err := AddGreeting(context.Background(), s, bookID, content)
	if err != nil {
		t.Fatalf("add greeting %q: %v", content, err)
	}
	return g
}

func mustGet(t testing.TB, s store.Store, id keyspace.BookID) *domain.Book {
	t.Helper()
	b, err := s.GetBook(context.Background(), id)
	if err != nil {
		t.Fatalf("get book %s: %v", id, err)
	}
	return b
}

func mustList(t testing.TB, s store.Store, id keyspace.BookID, limit int) []*domain.Greeting {
	t.Helper()
	gs, err := s.ListGreetings(context.Background(), id, limit)
	if err != nil {
		t.Fatalf("list greetings of %s: %v", id, err)
	}
	return gs
}

// concurrently runs fn n times in parallel and waits for all of them.
func concurrently(n int, fn func(i int)) {
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(i)
		}()
	}
	wg.Wait()
}
