// Package main inspects a badger guestbook store read-only and checks that
// every book's counter matches the greetings stored under it.
//
// Usage:
//
//	DATA_PATH=~/Guestbook/data go run ./cmd/dbinspect
//	go run ./cmd/dbinspect -path /var/lib/guestbook/badger -show 5
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"

	"github.com/listenupapp/guestbook/internal/domain"
	"github.com/listenupapp/guestbook/internal/keyspace"
	"github.com/listenupapp/guestbook/internal/store/kv"
)

var (
	dbPath = flag.String("path", "", "badger directory (default: $DATA_PATH/badger)")
	show   = flag.Int("show", 3, "books to print in detail")
)

// report summarizes one pass over the store.
type report struct {
	Books       int
	Greetings   int
	NameEntries int
	Problems    []string
}

func (r *report) problem(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

func main() {
	flag.Parse()

	path := *dbPath
	if path == "" {
		dataPath := os.Getenv("DATA_PATH")
		if dataPath == "" {
			dataPath = os.ExpandEnv("$HOME/Guestbook/data")
		}
		path = filepath.Join(dataPath, "badger")
	}

	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	fmt.Println("=== Database Inspection ===")
	fmt.Printf("Path: %s\n\n", path)

	r, err := inspect(db, os.Stdout, *show)
	if err != nil {
		log.Fatalf("Error iterating database: %v", err)
	}

	fmt.Println("=== Summary ===")
	fmt.Printf("Total books: %d\n", r.Books)
	fmt.Printf("Total greetings: %d\n", r.Greetings)
	fmt.Printf("Name index entries: %d\n", r.NameEntries)
	if r.Books > 0 {
		fmt.Printf("Average greetings per book: %.1f\n", float64(r.Greetings)/float64(r.Books))
	}

	if len(r.Problems) > 0 {
		fmt.Printf("\n=== %d problem(s) ===\n", len(r.Problems))
		for _, p := range r.Problems {
			fmt.Println(p)
		}
		os.Exit(1)
	}
	fmt.Println("\nAll counters match their greetings.")
}

// inspect walks every book, its greetings and the name index in one snapshot.
func inspect(db *badger.DB, out io.Writer, show int) (*report, error) {
	r := &report{}

	err := db.View(func(txn *badger.Txn) error {
		books := make(map[keyspace.BookID]*domain.Book)

		if err := scan(txn, []byte(kv.BookPrefix), func(key, val []byte) error {
			if bytes.HasPrefix(key, []byte(kv.BookNamePrefix)) {
				r.NameEntries++
				return checkNameEntry(txn, r, key, val)
			}

			book, err := kv.DecodeBook(val)
			if err != nil {
				r.problem("book %s: undecodable record: %v", key, err)
				return nil
			}
			r.Books++
			books[book.ID] = book
			return nil
		}); err != nil {
			return err
		}

		for id, book := range books {
			count := 0
			var newest *domain.Greeting
			if err := scan(txn, kv.GreetingsKeyPrefix(id), func(key, val []byte) error {
				g, err := kv.DecodeGreeting(val)
				if err != nil {
					r.problem("greeting %s: undecodable record: %v", key, err)
					return nil
				}
				if g.BookID != id || g.ID.Book != id {
					r.problem("greeting %s is stored under book %s", g.ID, id)
				}
				if newest == nil {
					newest = g
				}
				count++
				return nil
			}); err != nil {
				return err
			}

			r.Greetings += count
			if int64(count) != book.GreetingCount {
				r.problem("book %s: counter says %d greetings, found %d", id, book.GreetingCount, count)
			}

			if show > 0 {
				show--
				fmt.Fprintf(out, "Book: %s\n", book.Name)
				fmt.Fprintf(out, "  ID: %s\n", book.ID)
				fmt.Fprintf(out, "  Version: %d\n", book.Version)
				fmt.Fprintf(out, "  Greetings: %d\n", count)
				if newest != nil {
					fmt.Fprintf(out, "  Newest: %q at %s\n", newest.Content, newest.CreatedAt.Format("2006-01-02 15:04:05.000"))
				}
				fmt.Fprintln(out)
			}
		}

		// Greetings whose book record is missing.
		return scan(txn, []byte(kv.GreetingsPrefix), func(key, _ []byte) error {
			rest := key[len(kv.GreetingsPrefix):]
			if len(rest) <= keyspace.BookIDLength {
				r.problem("greeting key %q is too short", key)
				return nil
			}
			id := keyspace.BookID(rest[:keyspace.BookIDLength])
			if _, ok := books[id]; !ok {
				r.problem("greeting key %q has no book", key)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func checkNameEntry(txn *badger.Txn, r *report, key, val []byte) error {
	id := keyspace.BookID(val)
	if !bytes.HasSuffix(key, val) {
		r.problem("name entry %q does not end with its book id %s", key, id)
	}

	item, err := txn.Get(kv.BookKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		r.problem("name entry %q points to missing book %s", key, id)
		return nil
	}
	if err != nil {
		return err
	}

	return item.Value(func(v []byte) error {
		book, err := kv.DecodeBook(v)
		if err != nil {
			return nil // reported by the book pass
		}
		if !bytes.Equal(key, kv.BookNameKey(book.Name, id)) {
			r.problem("name entry %q is stale for book %s named %q", key, id, book.Name)
		}
		return nil
	})
}

func scan(txn *badger.Txn, prefix []byte, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		val, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("read %q: %w", key, err)
		}
		if err := fn(key, val); err != nil {
			return err
		}
	}
	return nil
}
