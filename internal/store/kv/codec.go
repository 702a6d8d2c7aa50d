package kv

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/listenupapp/guestbook/internal/domain"
	"github.com/listenupapp/guestbook/internal/keyspace"
)

// Records are msgpack encoded with short field names. They are decoupled from
// the domain types so the json tags on those stay free to change.

type bookRecord struct {
	ID            string    `msgpack:"id"`
	Name          string    `msgpack:"n"`
	GreetingCount int64     `msgpack:"gc"`
	Version       int64     `msgpack:"v"`
	CreatedAt     time.Time `msgpack:"ca"`
	UpdatedAt     time.Time `msgpack:"ua"`
}

type greetingRecord struct {
	Book      string    `msgpack:"b"`
	Local     string    `msgpack:"l"`
	Content   string    `msgpack:"c"`
	CreatedAt time.Time `msgpack:"ca"`
	Seq       int64     `msgpack:"s"`
}

// EncodeBook serializes a book record.
func EncodeBook(b *domain.Book) ([]byte, error) {
	data, err := msgpack.Marshal(&bookRecord{
		ID:            string(b.ID),
		Name:          b.Name,
		GreetingCount: b.GreetingCount,
		Version:       b.Version,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode book %s: %w", b.ID, err)
	}
	return data, nil
}

// DecodeBook deserializes a book record. data may be reused after return.
func DecodeBook(data []byte) (*domain.Book, error) {
	var r bookRecord
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode book: %w", err)
	}
	return &domain.Book{
		ID:            keyspace.BookID(r.ID),
		Name:          r.Name,
		GreetingCount: r.GreetingCount,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}, nil
}

// EncodeGreeting serializes a greeting record.
func EncodeGreeting(g *domain.Greeting) ([]byte, error) {
	data, err := msgpack.Marshal(&greetingRecord{
		Book:      string(g.ID.Book),
		Local:     g.ID.Local,
		Content:   g.Content,
		CreatedAt: g.CreatedAt,
		Seq:       g.Seq,
	})
	if err != nil {
		return nil, fmt.Errorf("encode greeting %s: %w", g.ID, err)
	}
	return data, nil
}

// DecodeGreeting deserializes a greeting record. data may be reused after return.
func DecodeGreeting(data []byte) (*domain.Greeting, error) {
	var r greetingRecord
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode greeting: %w", err)
	}
	book := keyspace.BookID(r.Book)
	return &domain.Greeting{
		ID:        keyspace.GreetingID{Book: book, Local: r.Local},
		BookID:    book,
		Content:   r.Content,
		CreatedAt: r.CreatedAt.UTC(),
		Seq:       r.Seq,
	}, nil
}
