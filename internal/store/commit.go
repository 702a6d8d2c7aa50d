package store

import (
	"time"

	"github.com/listenupapp/guestbook/internal/domain"
	domainerrors "github.com/listenupapp/guestbook/internal/errors"
	"github.com/listenupapp/guestbook/internal/keyspace"
)

// The helpers below hold the write rules every backend applies inside its
// own transaction, so the backends differ only in how they persist.

// PrepareBookWrite validates a PutBook call against the stored record and
// returns the record to persist. stored is nil when the book does not exist.
func PrepareBookWrite(stored, incoming *domain.Book, now time.Time) (*domain.Book, error) {
	if err := keyspace.ValidateBookID(incoming.ID); err != nil {
		return nil, err
	}

	next := *incoming
	switch {
	case incoming.Version < 0:
		return nil, domainerrors.InvalidArgumentf("book %s: negative version %d", incoming.ID, incoming.Version)

	case incoming.Version == 0:
		if stored != nil {
			return nil, domainerrors.AlreadyExistsf("book %s already exists", incoming.ID)
		}
		if incoming.GreetingCount != 0 {
			return nil, domainerrors.InvalidArgumentf("book %s: new books start with no greetings", incoming.ID)
		}
		next.Version = 1
		next.InitTimestamps(now)

	default:
		if stored == nil {
			return nil, BookNotFound(incoming.ID)
		}
		if stored.Version != incoming.Version {
			return nil, domainerrors.Conflictf("book %s: version %d is stale, stored version is %d",
				incoming.ID, incoming.Version, stored.Version)
		}
		if stored.GreetingCount != incoming.GreetingCount {
			return nil, domainerrors.InvalidArgumentf("book %s: greeting count can only change with a greeting", incoming.ID)
		}
		next.Version = stored.Version + 1
		next.CreatedAt = stored.CreatedAt
		next.Touch(now)
	}

	return &next, nil
}

// CheckGreeting validates a greeting before it enters a commit on bookID.
func CheckGreeting(bookID keyspace.BookID, g *domain.Greeting) error {
	if g == nil {
		return nil
	}
	if g.ID.Book != bookID || (g.BookID != "" && g.BookID != bookID) {
		return domainerrors.InvalidArgumentf("greeting %s does not belong to book %s", g.ID, bookID)
	}
	return g.ID.Validate()
}

// ApplyCommit runs mutate on before and stamps the results of a group commit.
// It never modifies greeting; the stamped copy is returned for persisting.
func ApplyCommit(before domain.Book, mutate Mutation, greeting *domain.Greeting, now time.Time) (*domain.Book, *domain.Greeting, error) {
	after := before
	if mutate != nil {
		var err error
		after, err = mutate(before)
		if err != nil {
			return nil, nil, err
		}
	}

	if after.ID != before.ID {
		return nil, nil, domainerrors.InvalidArgumentf("book %s: mutation changed the id", before.ID)
	}
	if after.GreetingCount < before.GreetingCount {
		return nil, nil, domainerrors.InvalidArgumentf("book %s: greeting count cannot decrease", before.ID)
	}

	after.Version = before.Version + 1
	after.CreatedAt = before.CreatedAt
	after.Touch(now)

	if greeting == nil {
		return &after, nil, nil
	}

	stamped := *greeting
	stamped.BookID = before.ID
	stamped.CreatedAt = now
	stamped.Seq = after.Version
	return &after, &stamped, nil
}
