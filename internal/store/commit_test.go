package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/guestbook/internal/domain"
	domainerrors "github.com/listenupapp/guestbook/internal/errors"
	"github.com/listenupapp/guestbook/internal/keyspace"
)

var (
	t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Minute)
)

func storedBook(t *testing.T) *domain.Book {
	t.Helper()
	b := domain.NewBook("guestbook")
	next, err := PrepareBookWrite(nil, b, t0)
	require.NoError(t, err)
	return next
}

func TestPrepareBookWrite_Insert(t *testing.T) {
	b := domain.NewBook("guestbook")

	next, err := PrepareBookWrite(nil, b, t0)
	require.NoError(t, err)

	assert.Equal(t, int64(1), next.Version)
	assert.Equal(t, t0, next.CreatedAt)
	assert.Equal(t, t0, next.UpdatedAt)
	assert.Equal(t, int64(0), b.Version, "incoming book is not modified")
}

func TestPrepareBookWrite_InsertExisting(t *testing.T) {
	stored := storedBook(t)
	again := &domain.Book{ID: stored.ID, Name: "other"}

	_, err := PrepareBookWrite(stored, again, t1)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestPrepareBookWrite_InsertWithGreetings(t *testing.T) {
	b := domain.NewBook("guestbook")
	b.GreetingCount = 3

	_, err := PrepareBookWrite(nil, b, t0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPrepareBookWrite_Replace(t *testing.T) {
	stored := storedBook(t)
	renamed := *stored
	renamed.Name = "renamed"
	renamed.CreatedAt = t1

	next, err := PrepareBookWrite(stored, &renamed, t1)
	require.NoError(t, err)

	assert.Equal(t, "renamed", next.Name)
	assert.Equal(t, int64(2), next.Version)
	assert.Equal(t, t0, next.CreatedAt, "CreatedAt is kept from the stored record")
	assert.Equal(t, t1, next.UpdatedAt)
}

func TestPrepareBookWrite_ReplaceErrors(t *testing.T) {
	stored := storedBook(t)

	t.Run("missing", func(t *testing.T) {
		_, err := PrepareBookWrite(nil, stored, t1)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("stale version", func(t *testing.T) {
		stale := *stored
		stale.Version = 7
		_, err := PrepareBookWrite(stored, &stale, t1)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("counter changed", func(t *testing.T) {
		bumped := *stored
		bumped.GreetingCount = 1
		_, err := PrepareBookWrite(stored, &bumped, t1)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("negative version", func(t *testing.T) {
		bad := *stored
		bad.Version = -1
		_, err := PrepareBookWrite(stored, &bad, t1)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("malformed id", func(t *testing.T) {
		_, err := PrepareBookWrite(nil, &domain.Book{ID: "nope"}, t1)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestApplyCommit_StampsGreeting(t *testing.T) {
	before := storedBook(t)
	g, err := domain.NewGreeting(before.ID, "hello")
	require.NoError(t, err)
	g.CreatedAt = time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	g.Seq = 42

	after, stamped, err := ApplyCommit(*before, domain.IncrementGreetings, g, t1)
	require.NoError(t, err)

	assert.Equal(t, int64(1), after.GreetingCount)
	assert.Equal(t, before.Version+1, after.Version)
	assert.Equal(t, t1, after.UpdatedAt)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)

	assert.Equal(t, t1, stamped.CreatedAt)
	assert.Equal(t, after.Version, stamped.Seq)
	assert.Equal(t, before.ID, stamped.BookID)

	assert.Equal(t, int64(42), g.Seq, "caller greeting is left untouched")
}

func TestApplyCommit_NilGreeting(t *testing.T) {
	before := storedBook(t)

	after, stamped, err := ApplyCommit(*before, nil, nil, t1)
	require.NoError(t, err)
	assert.Nil(t, stamped)
	assert.Equal(t, before.GreetingCount, after.GreetingCount)
	assert.Equal(t, before.Version+1, after.Version)
}

func TestApplyCommit_RejectsBadMutations(t *testing.T) {
	before := storedBook(t)
	before.GreetingCount = 5

	tests := []struct {
		name   string
		mutate Mutation
	}{
		{"decrement", func(b domain.Book) (domain.Book, error) {
			b.GreetingCount--
			return b, nil
		}},
		{"id change", func(b domain.Book) (domain.Book, error) {
			b.ID = keyspace.NewBookID()
			return b, nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ApplyCommit(*before, tt.mutate, nil, t1)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestApplyCommit_MutationError(t *testing.T) {
	before := storedBook(t)
	boom := errors.New("boom")

	_, _, err := ApplyCommit(*before, func(domain.Book) (domain.Book, error) {
		return domain.Book{}, boom
	}, nil, t1)
	assert.ErrorIs(t, err, boom)
}

func TestCheckGreeting(t *testing.T) {
	book := keyspace.NewBookID()
	other := keyspace.NewBookID()

	own, err := domain.NewGreeting(book, "hi")
	require.NoError(t, err)
	assert.NoError(t, CheckGreeting(book, own))
	assert.NoError(t, CheckGreeting(book, nil))

	foreign, err := domain.NewGreeting(other, "hi")
	require.NoError(t, err)
	assert.ErrorIs(t, CheckGreeting(book, foreign), ErrInvalidArgument)

	mismatched := *own
	mismatched.BookID = other
	assert.ErrorIs(t, CheckGreeting(book, &mismatched), ErrInvalidArgument)
}

func TestSortBooks(t *testing.T) {
	a := &domain.Book{ID: "book-BBBBBBBBBBBBBBBBBBBBB", Name: "alpha"}
	b := &domain.Book{ID: "book-AAAAAAAAAAAAAAAAAAAAA", Name: "alpha"}
	c := &domain.Book{ID: "book-CCCCCCCCCCCCCCCCCCCCC", Name: "beta"}

	books := []*domain.Book{c, a, b}
	SortBooks(books)

	assert.Equal(t, []*domain.Book{b, a, c}, books)
	assert.Same(t, b, FirstByName(books, "alpha"))
	assert.Nil(t, FirstByName(books, "gamma"))
}

func TestSortGreetings(t *testing.T) {
	older := &domain.Greeting{CreatedAt: t0, Seq: 3}
	tieLow := &domain.Greeting{CreatedAt: t1, Seq: 1}
	tieHigh := &domain.Greeting{CreatedAt: t1, Seq: 2}

	greetings := []*domain.Greeting{older, tieLow, tieHigh}
	SortGreetings(greetings)

	assert.Equal(t, []*domain.Greeting{tieHigh, tieLow, older}, greetings)
}

func TestWrapBackendError(t *testing.T) {
	assert.NoError(t, WrapBackendError(nil, "op"))

	nf := BookNotFound("book-x")
	assert.Same(t, nf, WrapBackendError(nf, "op"))

	assert.ErrorIs(t, WrapBackendError(errors.New("disk on fire"), "op"), ErrUnavailable)
	assert.Equal(t, domainerrors.CodeTimeout, domainerrors.CodeOf(WrapBackendError(fmt.Errorf("read: %w", context.DeadlineExceeded), "op")))
}
