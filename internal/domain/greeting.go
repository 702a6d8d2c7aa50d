package domain

import (
	"time"

	"github.com/listenupapp/guestbook/internal/keyspace"
)

// Greeting is a message left in a book. It belongs to the book's entity group
// and is immutable once committed.
type Greeting struct {
	ID      keyspace.GreetingID `json:"id"`
	BookID  keyspace.BookID     `json:"book_id"`
	Content string              `json:"content"`

	// CreatedAt is stamped by the store at commit time.
	CreatedAt time.Time `json:"created_at"`

	// Seq is the book Version produced by the commit that inserted the greeting.
	// It orders greetings that share a CreatedAt by insertion.
	Seq int64 `json:"seq"`
}

// NewGreeting returns an unsaved greeting for book.
func NewGreeting(book keyspace.BookID, content string) (*Greeting, error) {
	id, err := keyspace.NewGreetingID(book)
	if err != nil {
		return nil, err
	}
	return &Greeting{
		ID:      id,
		BookID:  book,
		Content: content,
	}, nil
}

// Newer reports whether g lists before other: later CreatedAt first, then
// higher Seq.
func (g *Greeting) Newer(other *Greeting) bool {
	if !g.CreatedAt.Equal(other.CreatedAt) {
		return g.CreatedAt.After(other.CreatedAt)
	}
	return g.Seq > other.Seq
}
