// Package domain holds the guestbook records persisted by the store.
package domain

import (
	"time"

	"github.com/listenupapp/guestbook/internal/keyspace"
)

// Book is a named guestbook and the root of an entity group.
// GreetingCount is only ever changed by a group commit that also inserts a greeting.
type Book struct {
	ID            keyspace.BookID `json:"id"`
	Name          string          `json:"name"`
	GreetingCount int64           `json:"greeting_count"`

	// Version is managed by the store: 1 on insert, incremented by every write.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewBook returns an unsaved book with a fresh id and an empty counter.
func NewBook(name string) *Book {
	return &Book{
		ID:   keyspace.NewBookID(),
		Name: name,
	}
}

// InitTimestamps sets both CreatedAt and UpdatedAt to now.
// Call this when inserting a new book.
func (b *Book) InitTimestamps(now time.Time) {
	b.CreatedAt = now
	b.UpdatedAt = now
}

// Touch sets UpdatedAt. Call this whenever the stored record changes.
func (b *Book) Touch(now time.Time) {
	b.UpdatedAt = now
}

// IncrementGreetings is the group mutation applied when a greeting is added.
func IncrementGreetings(b Book) (Book, error) {
	b.GreetingCount++
	return b, nil
}
