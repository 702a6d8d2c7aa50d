// Package keyspace generates and validates the hierarchical identifiers of the guestbook.
//
// A BookID names an entity group. A GreetingID can only be built under a
// BookID, so every greeting key carries its parent.
package keyspace

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	domainerrors "github.com/listenupapp/guestbook/internal/errors"
)

const (
	bookPrefix = "book"

	// nanoidLength is the default NanoID size used for book ids.
	nanoidLength = 21

	// BookIDLength is the length of every well-formed BookID.
	BookIDLength = len(bookPrefix) + 1 + nanoidLength

	greetingSeparator = "/"
)

var (
	// ErrInvalidParent is returned when a greeting id is requested for a malformed book id.
	ErrInvalidParent = domainerrors.InvalidArgument("invalid parent book id")

	// ErrMalformedID is returned when an identifier cannot be parsed.
	ErrMalformedID = domainerrors.InvalidArgument("malformed id")
)

// BookID identifies a book and therefore its entity group.
type BookID string

// String implements fmt.Stringer.
func (id BookID) String() string { return string(id) }

// IsZero reports whether the id is the zero value.
func (id BookID) IsZero() bool { return id == "" }

// Compare orders book ids lexicographically.
func (id BookID) Compare(other BookID) int {
	return strings.Compare(string(id), string(other))
}

// GreetingID identifies a greeting inside its book.
// Local is a UUIDv7, unique within the book.
type GreetingID struct {
	Book  BookID
	Local string
}

// String renders the id as "<book>/<local>".
func (id GreetingID) String() string {
	if id.IsZero() {
		return ""
	}
	return string(id.Book) + greetingSeparator + id.Local
}

// IsZero reports whether the id is the zero value.
func (id GreetingID) IsZero() bool { return id.Book == "" && id.Local == "" }

// Compare orders greeting ids by book, then by local id.
func (id GreetingID) Compare(other GreetingID) int {
	if c := id.Book.Compare(other.Book); c != 0 {
		return c
	}
	return strings.Compare(id.Local, other.Local)
}

// MarshalText implements encoding.TextMarshaler.
func (id GreetingID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *GreetingID) UnmarshalText(text []byte) error {
	parsed, err := ParseGreetingID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Validate checks that the id is well formed.
func (id GreetingID) Validate() error {
	if err := ValidateBookID(id.Book); err != nil {
		return err
	}
	if _, err := uuid.Parse(id.Local); err != nil {
		return ErrMalformedID.WithCause(fmt.Errorf("greeting local id %q: %w", id.Local, err))
	}
	return nil
}

// NewBookID returns a fresh book id: "book-" followed by a NanoID.
// It panics only if the system has no entropy left, like id generation elsewhere.
func NewBookID() BookID {
	id, err := gonanoid.New()
	if err != nil {
		panic(fmt.Sprintf("failed to generate book id: %v", err))
	}
	return BookID(bookPrefix + "-" + id)
}

// NewGreetingID returns a fresh greeting id scoped under book.
// Whether the book exists is checked by the store, not here.
func NewGreetingID(book BookID) (GreetingID, error) {
	if err := ValidateBookID(book); err != nil {
		return GreetingID{}, ErrInvalidParent.WithCause(err)
	}
	return GreetingID{Book: book, Local: uuid.Must(uuid.NewV7()).String()}, nil
}

// ValidateBookID checks the shape of a book id.
func ValidateBookID(id BookID) error {
	s := string(id)
	if s == "" {
		return ErrMalformedID.WithCause(fmt.Errorf("empty book id"))
	}
	if len(s) != BookIDLength || !strings.HasPrefix(s, bookPrefix+"-") {
		return ErrMalformedID.WithCause(fmt.Errorf("book id %q", s))
	}
	for _, c := range s[len(bookPrefix)+1:] {
		if !isNanoidChar(c) {
			return ErrMalformedID.WithCause(fmt.Errorf("book id %q contains %q", s, c))
		}
	}
	return nil
}

// ParseBookID validates s and returns it as a BookID.
func ParseBookID(s string) (BookID, error) {
	id := BookID(s)
	if err := ValidateBookID(id); err != nil {
		return "", err
	}
	return id, nil
}

// ParseGreetingID parses the "<book>/<local>" form produced by GreetingID.String.
func ParseGreetingID(s string) (GreetingID, error) {
	book, local, ok := strings.Cut(s, greetingSeparator)
	if !ok {
		return GreetingID{}, ErrMalformedID.WithCause(fmt.Errorf("greeting id %q has no book part", s))
	}
	id := GreetingID{Book: BookID(book), Local: local}
	if err := id.Validate(); err != nil {
		return GreetingID{}, err
	}
	return id, nil
}

// isNanoidChar reports whether c belongs to the URL-safe NanoID alphabet.
func isNanoidChar(c rune) bool {
	return (c >= 'A' && c <= 'Z') ||
		(c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9') ||
		c == '_' || c == '-'
}
