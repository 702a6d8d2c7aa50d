// Package kv holds the key layout and record codec shared by the ordered
// key-value backends (badgerdb and boltdb).
//
// Layout:
//
//	book:<bookID>                          -> book record
//	book:idx:name:<NameKey><bookID>        -> bookID
//	grt:<bookID>:<invTime><invSeq>         -> greeting record
//
// Greeting keys sort newest first: invTime is the bitwise complement of the
// order-preserving encoding of CreatedAt, and invSeq the complement of Seq.
package kv

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/listenupapp/guestbook/internal/keyspace"
)

const (
	BookPrefix      = "book:"
	BookNamePrefix  = "book:idx:name:"
	GreetingsPrefix = "grt:"

	// Greeting key suffix: 8 bytes of inverted time, 8 bytes of inverted seq.
	orderSuffixLen = 16
)

// keyPool provides reusable byte slices for lookup keys.
var keyPool = sync.Pool{
	New: func() any {
		// Prefix + NanoID book id + name key or order suffix fit comfortably.
		return make([]byte, 0, 256)
	},
}

// AcquireKey builds prefix+suffix in a pooled buffer.
// The key is valid until ReleaseKey. Only use pooled keys for reads: write
// transactions keep a reference to their keys until commit.
func AcquireKey(prefix string, suffix ...[]byte) []byte {
	buf, _ := keyPool.Get().([]byte)
	buf = append(buf[:0], prefix...)
	for _, s := range suffix {
		buf = append(buf, s...)
	}
	return buf
}

// ReleaseKey returns a pooled key buffer.
func ReleaseKey(key []byte) {
	if cap(key) <= 512 {
		keyPool.Put(key[:0])
	}
}

// BookKey returns the primary key of a book.
func BookKey(id keyspace.BookID) []byte {
	return append([]byte(BookPrefix), id...)
}

// BookNameKey returns the name index entry of a book.
func BookNameKey(name string, id keyspace.BookID) []byte {
	nk := keyspace.NameKey(name)
	key := make([]byte, 0, len(BookNamePrefix)+len(nk)+len(id))
	key = append(key, BookNamePrefix...)
	key = append(key, nk...)
	return append(key, id...)
}

// BookNameLookupPrefix returns the prefix shared by every book named name.
func BookNameLookupPrefix(name string) []byte {
	return append([]byte(BookNamePrefix), keyspace.NameKey(name)...)
}

// GreetingsKeyPrefix returns the prefix of every greeting in a book.
func GreetingsKeyPrefix(id keyspace.BookID) []byte {
	key := make([]byte, 0, len(GreetingsPrefix)+len(id)+1)
	key = append(key, GreetingsPrefix...)
	key = append(key, id...)
	return append(key, ':')
}

// GreetingKey returns the key of a greeting inside its book.
func GreetingKey(id keyspace.BookID, createdAt time.Time, seq int64) []byte {
	return append(GreetingsKeyPrefix(id), OrderSuffix(createdAt, seq)...)
}

// OrderSuffix encodes (createdAt, seq) so ascending byte order is newest first.
func OrderSuffix(createdAt time.Time, seq int64) []byte {
	var buf [orderSuffixLen]byte
	binary.BigEndian.PutUint64(buf[:8], ^orderedInt(createdAt.UnixNano()))
	binary.BigEndian.PutUint64(buf[8:], ^orderedInt(seq))
	return buf[:]
}

// orderedInt maps a signed integer onto an unsigned one with the same order.
func orderedInt(v int64) uint64 {
	return uint64(v) ^ (1 << 63)
}
