package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/guestbook/internal/keyspace"
)

func TestNewBook(t *testing.T) {
	b := NewBook("Alice's Book")

	require.NoError(t, keyspace.ValidateBookID(b.ID))
	assert.Equal(t, "Alice's Book", b.Name)
	assert.Zero(t, b.GreetingCount)
	assert.Zero(t, b.Version)
}

func TestIncrementGreetings(t *testing.T) {
	b := Book{ID: keyspace.NewBookID(), GreetingCount: 41}

	next, err := IncrementGreetings(b)
	require.NoError(t, err)

	assert.Equal(t, int64(42), next.GreetingCount)
	assert.Equal(t, int64(41), b.GreetingCount, "mutation must not alias the input")
}

func TestBook_Timestamps(t *testing.T) {
	var b Book
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b.InitTimestamps(created)
	assert.Equal(t, created, b.CreatedAt)
	assert.Equal(t, created, b.UpdatedAt)

	later := created.Add(time.Hour)
	b.Touch(later)
	assert.Equal(t, created, b.CreatedAt)
	assert.Equal(t, later, b.UpdatedAt)
}

func TestNewGreeting_RejectsMalformedBook(t *testing.T) {
	_, err := NewGreeting("", "hello")
	assert.ErrorIs(t, err, keyspace.ErrInvalidParent)
}

func TestGreeting_Newer(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		a, b Greeting
		want bool
	}{
		{"later time first", Greeting{CreatedAt: base.Add(time.Second), Seq: 1}, Greeting{CreatedAt: base, Seq: 2}, true},
		{"earlier time last", Greeting{CreatedAt: base, Seq: 9}, Greeting{CreatedAt: base.Add(time.Second), Seq: 1}, false},
		{"tie broken by seq", Greeting{CreatedAt: base, Seq: 3}, Greeting{CreatedAt: base, Seq: 2}, true},
		{"tie lower seq last", Greeting{CreatedAt: base, Seq: 2}, Greeting{CreatedAt: base, Seq: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Newer(&tt.b))
		})
	}
}
