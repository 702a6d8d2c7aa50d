package keyspace

import (
	"bytes"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/listenupapp/guestbook/internal/errors"
)

func TestNewBookID_Uniqueness(t *testing.T) {
	ids := make(map[BookID]bool)
	count := 1000

	for i := 0; i < count; i++ {
		id := NewBookID()
		assert.False(t, ids[id], "ID should be unique: %s", id)
		ids[id] = true
	}

	assert.Len(t, ids, count)
}

func TestNewBookID_Format(t *testing.T) {
	id := NewBookID()

	assert.True(t, strings.HasPrefix(string(id), "book-"))
	assert.Len(t, string(id), BookIDLength)
	require.NoError(t, ValidateBookID(id))
}

func TestValidateBookID(t *testing.T) {
	tests := []struct {
		name  string
		id    BookID
		valid bool
	}{
		{"generated", NewBookID(), true},
		{"empty", "", false},
		{"wrong prefix", "bk-V1StGXR8_Z5jdHi6B-myTxx", false},
		{"too short", "book-abc", false},
		{"bad character", "book-V1StGXR8_Z5jdHi6B/myT", false},
		{"fixed valid", "book-V1StGXR8_Z5jdHi6B-myT", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBookID(tt.id)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.ErrorIs(t, err, domainerrors.ErrInvalidArgument)
			}
		})
	}
}

func TestNewGreetingID_ScopedUnderBook(t *testing.T) {
	book := NewBookID()

	gid, err := NewGreetingID(book)
	require.NoError(t, err)

	assert.Equal(t, book, gid.Book)
	assert.NotEmpty(t, gid.Local)
	assert.NoError(t, gid.Validate())
	assert.Equal(t, string(book)+"/"+gid.Local, gid.String())
}

func TestNewGreetingID_InvalidParent(t *testing.T) {
	for _, book := range []BookID{"", "nope"} {
		gid, err := NewGreetingID(book)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidParent)
		assert.ErrorIs(t, err, domainerrors.ErrInvalidArgument)
		assert.True(t, gid.IsZero())
	}
}

func TestNewGreetingID_MonotonicWithinProcess(t *testing.T) {
	book := NewBookID()

	var prev GreetingID
	for i := 0; i < 500; i++ {
		gid, err := NewGreetingID(book)
		require.NoError(t, err)
		if i > 0 {
			assert.Equal(t, 1, gid.Compare(prev), "UUIDv7 ids should increase: %s after %s", gid, prev)
		}
		prev = gid
	}
}

func TestParseGreetingID_RoundTrip(t *testing.T) {
	gid, err := NewGreetingID(NewBookID())
	require.NoError(t, err)

	parsed, err := ParseGreetingID(gid.String())
	require.NoError(t, err)
	assert.Equal(t, gid, parsed)
	assert.Equal(t, 0, gid.Compare(parsed))
}

func TestParseGreetingID_Malformed(t *testing.T) {
	book := NewBookID()
	inputs := []string{
		"",
		string(book),
		string(book) + "/not-a-uuid",
		"book-short/0190a0b4-0000-7000-8000-000000000000",
	}

	for _, in := range inputs {
		_, err := ParseGreetingID(in)
		assert.ErrorIs(t, err, ErrMalformedID, "input %q", in)
	}
}

func TestGreetingID_TextMarshaling(t *testing.T) {
	gid, err := NewGreetingID(NewBookID())
	require.NoError(t, err)

	text, err := gid.MarshalText()
	require.NoError(t, err)

	var decoded GreetingID
	require.NoError(t, decoded.UnmarshalText(text))
	assert.Equal(t, gid, decoded)
}

func TestNameKey_PreservesOrder(t *testing.T) {
	names := []string{"b", "a", "ab", "a b", "a\x00", "a\x00b", "a\x01", "", "Zed", "\u00e9", "e\u0301", "caf\u00e9", "cafe\u0301x"}

	byName := append([]string(nil), names...)
	sort.Slice(byName, func(i, j int) bool {
		return byName[i] < byName[j]
	})

	byKey := append([]string(nil), names...)
	sort.Slice(byKey, func(i, j int) bool {
		return bytes.Compare(NameKey(byKey[i]), NameKey(byKey[j])) < 0
	})

	assert.Equal(t, byName, byKey)
}

func TestNameKey_NoPrefixCollisions(t *testing.T) {
	pairs := [][2]string{
		{"a", "a:b"},
		{"a", "a\x00"},
		{"guest", "guestbook"},
	}

	for _, p := range pairs {
		assert.False(t, bytes.HasPrefix(NameKey(p[1]), NameKey(p[0])), "%q key must not prefix %q key", p[0], p[1])
	}
}

func TestNameKey_ExactBytes(t *testing.T) {
	composed := "caf\u00e9"
	decomposed := "cafe\u0301"

	assert.NotEqual(t, NameKey(composed), NameKey(decomposed))
	assert.Equal(t, strings.Compare(composed, decomposed), CompareNames(composed, decomposed))
	assert.Equal(t, 0, CompareNames(composed, "caf\u00e9"))
}
