package store

import (
	"slices"

	"github.com/listenupapp/guestbook/internal/domain"
	"github.com/listenupapp/guestbook/internal/keyspace"
)

// SortBooks orders books by name, then id. Backends without an ordered name
// index sort with this after loading.
func SortBooks(books []*domain.Book) {
	slices.SortFunc(books, compareBooks)
}

func compareBooks(a, b *domain.Book) int {
	if c := keyspace.CompareNames(a.Name, b.Name); c != 0 {
		return c
	}
	return a.ID.Compare(b.ID)
}

// SortGreetings orders greetings newest first.
func SortGreetings(greetings []*domain.Greeting) {
	slices.SortFunc(greetings, func(a, b *domain.Greeting) int {
		switch {
		case a.Newer(b):
			return -1
		case b.Newer(a):
			return 1
		default:
			return a.ID.Compare(b.ID)
		}
	})
}

// FirstByName returns the book with the lowest id among books named name.
func FirstByName(books []*domain.Book, name string) *domain.Book {
	var found *domain.Book
	for _, b := range books {
		if keyspace.CompareNames(b.Name, name) != 0 {
			continue
		}
		if found == nil || b.ID.Compare(found.ID) < 0 {
			found = b
		}
	}
	return found
}

// Truncate applies a store-level limit: limit <= 0 keeps everything.
func Truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
