package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/listenupapp/guestbook/internal/domain"
	domainerrors "github.com/listenupapp/guestbook/internal/errors"
	"github.com/listenupapp/guestbook/internal/keyspace"
	"github.com/listenupapp/guestbook/internal/service"
)

var errUsage = errors.New("usage")

type command struct {
	usage   string
	summary string
	run     func(ctx context.Context, svc *service.GuestbookService, args []string, out io.Writer) error
}

var commands = map[string]command{
	"create-book": {"<name>", "create a book and print its id", runCreateBook},
	"sign":        {"<book-id> <content>...", "add a greeting to a book", runSign},
	"books":       {"[-json] [limit]", "list books by name", runBooks},
	"greetings":   {"[-json] <book-id> [limit]", "list greetings, newest first", runGreetings},
	"find":        {"<name>", "print the id of the book with this name", runFind},
	"show":        {"[-json] <book-id>", "show one book", runShow},
	"rename":      {"<book-id> <name>", "rename a book", runRename},
	"stress":      {"[-n total] [-c workers] [book-id]", "add greetings concurrently and check the counter", runStress},
}

func runCreateBook(ctx context.Context, svc *service.GuestbookService, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := svc.CreateBook(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(out, id)
	return nil
}

func runSign(ctx context.Context, svc *service.GuestbookService, args []string, out io.Writer) error {
	if len(args) < 2 {
		return errUsage
	}
	id, err := svc.AddGreeting(ctx, keyspace.BookID(args[0]), strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, id)
	return nil
}

func runBooks(ctx context.Context, svc *service.GuestbookService, args []string, out io.Writer) error {
	fs, asJSON := jsonFlagSet("books")
	if err := fs.Parse(args); err != nil || fs.NArg() > 1 {
		return errUsage
	}
	limit, err := optionalLimit(fs.Arg(0))
	if err != nil {
		return err
	}

	books, err := svc.ListBooks(ctx, limit)
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(out, books)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tGREETINGS\tUPDATED")
	for _, b := range books {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", b.ID, b.Name, b.GreetingCount, b.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runGreetings(ctx context.Context, svc *service.GuestbookService, args []string, out io.Writer) error {
	fs, asJSON := jsonFlagSet("greetings")
	if err := fs.Parse(args); err != nil || fs.NArg() < 1 || fs.NArg() > 2 {
		return errUsage
	}
	limit, err := optionalLimit(fs.Arg(1))
	if err != nil {
		return err
	}

	greetings, err := svc.ListGreetings(ctx, keyspace.BookID(fs.Arg(0)), limit)
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(out, greetings)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tSEQ\tID\tCONTENT")
	for _, g := range greetings {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", g.CreatedAt.Format(time.RFC3339Nano), g.Seq, g.ID.Local, oneLine(g.Content))
	}
	return tw.Flush()
}

func runFind(ctx context.Context, svc *service.GuestbookService, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := svc.FindBookByName(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(out, id)
	return nil
}

func runShow(ctx context.Context, svc *service.GuestbookService, args []string, out io.Writer) error {
	fs, asJSON := jsonFlagSet("show")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return errUsage
	}

	book, err := svc.GetBook(ctx, keyspace.BookID(fs.Arg(0)))
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(out, book)
	}
	printBook(out, book)
	return nil
}

func runRename(ctx context.Context, svc *service.GuestbookService, args []string, out io.Writer) error {
	if len(args) != 2 {
		return errUsage
	}
	book, err := svc.RenameBook(ctx, keyspace.BookID(args[0]), args[1])
	if err != nil {
		return err
	}
	printBook(out, book)
	return nil
}

// runStress adds greetings from several workers at once and checks that the
// book's counter grew by exactly the number of greetings that succeeded.
func runStress(ctx context.Context, svc *service.GuestbookService, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stress", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	total := fs.Int("n", 100, "greetings to add")
	workers := fs.Int("c", 8, "concurrent writers")
	if err := fs.Parse(args); err != nil || fs.NArg() > 1 || *total < 1 || *workers < 1 {
		return errUsage
	}

	bookID := keyspace.BookID(fs.Arg(0))
	if bookID == "" {
		id, err := svc.CreateBook(ctx, "stress "+time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return err
		}
		bookID = id
	}

	before, err := svc.GetBook(ctx, bookID)
	if err != nil {
		return err
	}

	var (
		next      atomic.Int64
		succeeded atomic.Int64
		wg        sync.WaitGroup
		mu        sync.Mutex
		failures  = make(map[domainerrors.Code]int)
	)
	start := time.Now()
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				n := next.Add(1)
				if n > int64(*total) || ctx.Err() != nil {
					return
				}
				if _, err := svc.AddGreeting(ctx, bookID, "stress greeting "+strconv.FormatInt(n, 10)); err != nil {
					mu.Lock()
					failures[domainerrors.CodeOf(err)]++
					mu.Unlock()
					continue
				}
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	after, err := svc.GetBook(context.WithoutCancel(ctx), bookID)
	if err != nil {
		return err
	}

	ok := succeeded.Load()
	fmt.Fprintf(out, "book:      %s\n", bookID)
	fmt.Fprintf(out, "succeeded: %d in %s (%.0f/s)\n", ok, elapsed.Round(time.Millisecond), float64(ok)/elapsed.Seconds())
	for code, n := range failures {
		fmt.Fprintf(out, "failed:    %d %s\n", n, code)
	}
	fmt.Fprintf(out, "counter:   %d -> %d\n", before.GreetingCount, after.GreetingCount)

	if got := after.GreetingCount - before.GreetingCount; got != ok {
		return fmt.Errorf("counter moved by %d but %d greetings succeeded", got, ok)
	}
	return nil
}

func jsonFlagSet(name string) (*flag.FlagSet, *bool) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs, fs.Bool("json", false, "print JSON")
}

// optionalLimit parses an optional page size; empty means the configured default.
func optionalLimit(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, domainerrors.InvalidArgumentf("limit must be a positive integer, got %q", s)
	}
	return n, nil
}

func printBook(out io.Writer, b *domain.Book) {
	fmt.Fprintf(out, "id:        %s\n", b.ID)
	fmt.Fprintf(out, "name:      %s\n", b.Name)
	fmt.Fprintf(out, "greetings: %d\n", b.GreetingCount)
	fmt.Fprintf(out, "version:   %d\n", b.Version)
	fmt.Fprintf(out, "created:   %s\n", b.CreatedAt.Format(time.RFC3339Nano))
	fmt.Fprintf(out, "updated:   %s\n", b.UpdatedAt.Format(time.RFC3339Nano))
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
