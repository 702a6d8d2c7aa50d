package kv_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/guestbook/internal/domain"
	"github.com/listenupapp/guestbook/internal/keyspace"
	"github.com/listenupapp/guestbook/internal/store/kv"
)

func TestGreetingKey_NewestFirst(t *testing.T) {
	book := keyspace.NewBookID()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	newer := kv.GreetingKey(book, base.Add(time.Second), 1)
	older := kv.GreetingKey(book, base, 2)
	assert.Negative(t, bytes.Compare(newer, older), "later CreatedAt sorts first")

	tieHigh := kv.GreetingKey(book, base, 9)
	tieLow := kv.GreetingKey(book, base, 8)
	assert.Negative(t, bytes.Compare(tieHigh, tieLow), "higher seq sorts first on equal time")

	preEpoch := kv.GreetingKey(book, time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC), 1)
	assert.Negative(t, bytes.Compare(older, preEpoch), "times before 1970 keep their order")
}

func TestGreetingKey_ScopedToBook(t *testing.T) {
	book := keyspace.NewBookID()
	key := kv.GreetingKey(book, time.Now(), 1)

	assert.True(t, bytes.HasPrefix(key, kv.GreetingsKeyPrefix(book)))
	assert.False(t, bytes.HasPrefix(key, kv.GreetingsKeyPrefix(keyspace.NewBookID())))
}

func TestBookNameKey_LookupPrefix(t *testing.T) {
	id := keyspace.NewBookID()

	assert.True(t, bytes.HasPrefix(kv.BookNameKey("guestbook", id), kv.BookNameLookupPrefix("guestbook")))
	assert.False(t, bytes.HasPrefix(kv.BookNameKey("guestbook2", id), kv.BookNameLookupPrefix("guestbook")))
}

func TestAcquireKey(t *testing.T) {
	key := kv.AcquireKey(kv.BookPrefix, []byte("book-abc"))
	assert.Equal(t, "book:book-abc", string(key))
	kv.ReleaseKey(key)

	again := kv.AcquireKey(kv.GreetingsPrefix, []byte("x"), []byte(":"))
	defer kv.ReleaseKey(again)
	assert.Equal(t, "grt:x:", string(again))
}

func TestCodec_Book(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	b := &domain.Book{
		ID:            keyspace.NewBookID(),
		Name:          "guestbook",
		GreetingCount: 3,
		Version:       4,
		CreatedAt:     now,
		UpdatedAt:     now.Add(time.Hour),
	}

	data, err := kv.EncodeBook(b)
	require.NoError(t, err)

	decoded, err := kv.DecodeBook(data)
	require.NoError(t, err)
	assert.Equal(t, b, decoded)
}

func TestCodec_Greeting(t *testing.T) {
	g, err := domain.NewGreeting(keyspace.NewBookID(), "hello")
	require.NoError(t, err)
	g.CreatedAt = time.Date(2024, 5, 1, 12, 0, 0, 42, time.UTC)
	g.Seq = 7

	data, err := kv.EncodeGreeting(g)
	require.NoError(t, err)

	decoded, err := kv.DecodeGreeting(data)
	require.NoError(t, err)
	assert.Equal(t, g, decoded)
}

func TestCodec_Garbage(t *testing.T) {
	_, err := kv.DecodeBook([]byte{0xc1})
	assert.Error(t, err)
	_, err = kv.DecodeGreeting([]byte{0xc1})
	assert.Error(t, err)
}
