// Package service implements the guestbook operations on top of a store.Store.
//
// GuestbookService owns the business rules: content validation, the per-book
// greeting rate limit, and the bounded retry of group commits that lose a
// race. Everything it persists goes through the store it was built with.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/listenupapp/guestbook/internal/domain"
	domainerrors "github.com/listenupapp/guestbook/internal/errors"
	"github.com/listenupapp/guestbook/internal/keyspace"
	"github.com/listenupapp/guestbook/internal/ratelimit"
	"github.com/listenupapp/guestbook/internal/store"
	"github.com/listenupapp/guestbook/internal/validation"
)

// Options tunes GuestbookService.
type Options struct {
	// MaxCommitRetries is how many times a conflicting commit is retried
	// before the operation fails with Contended.
	MaxCommitRetries uint64

	// InitialBackoff and MaxBackoff bound the randomized exponential wait
	// between retries.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// CommitTimeout bounds AddGreeting and RenameBook. Zero leaves only the
	// caller's deadline.
	CommitTimeout time.Duration

	// GreetingMaxLength caps greeting content in characters. Zero is unlimited.
	GreetingMaxLength int

	DefaultListLimit int
	MaxListLimit     int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MaxCommitRetries:  10,
		InitialBackoff:    5 * time.Millisecond,
		MaxBackoff:        250 * time.Millisecond,
		CommitTimeout:     5 * time.Second,
		GreetingMaxLength: 2000,
		DefaultListLimit:  store.DefaultListLimit,
		MaxListLimit:      store.MaxListLimit,
	}
}

// GuestbookService orchestrates book and greeting operations.
type GuestbookService struct {
	store     store.Store
	validator *validation.Validator
	limiter   *ratelimit.KeyedRateLimiter
	logger    *slog.Logger
	opts      Options
}

// NewGuestbookService creates a guestbook service.
// limiter may be nil, in which case greetings are not rate limited.
func NewGuestbookService(
	st store.Store,
	validator *validation.Validator,
	limiter *ratelimit.KeyedRateLimiter,
	logger *slog.Logger,
	opts Options,
) *GuestbookService {
	if validator == nil {
		validator = validation.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GuestbookService{
		store:     st,
		validator: validator,
		limiter:   limiter,
		logger:    logger,
		opts:      opts,
	}
}

// CreateBook stores a new, empty book and returns its id.
// Any name is accepted, including one already used by another book.
func (s *GuestbookService) CreateBook(ctx context.Context, name string) (keyspace.BookID, error) {
	book := domain.NewBook(name)
	if err := s.store.PutBook(ctx, book); err != nil {
		s.logger.Error("failed to create book", "name", name, "error", err)
		return "", err
	}

	s.logger.Debug("book created", "book_id", book.ID, "name", name)
	return book.ID, nil
}

// AddGreeting appends a greeting to a book and increments its counter in one
// group commit. Conflicting commits are retried with backoff; when the retry
// budget runs out the call fails with Contended and the book is unchanged.
func (s *GuestbookService) AddGreeting(ctx context.Context, bookID keyspace.BookID, content string) (keyspace.GreetingID, error) {
	if err := s.validateContent(content); err != nil {
		return keyspace.GreetingID{}, err
	}

	greeting, err := domain.NewGreeting(bookID, content)
	if err != nil {
		return keyspace.GreetingID{}, err
	}

	ctx, cancel := s.withCommitTimeout(ctx)
	defer cancel()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, string(bookID)); err != nil {
			s.logger.Warn("greeting rate limit wait failed", "book_id", bookID, "error", err)
			return keyspace.GreetingID{}, domainerrors.Wrapf(err, domainerrors.CodeTimeout, "rate limit for book %s", bookID)
		}
	}

	var book *domain.Book
	err = s.retryCommit(ctx, bookID, func() error {
		b, err := s.store.CommitGroup(ctx, bookID, domain.IncrementGreetings, greeting)
		if err != nil {
			return err
		}
		book = b
		return nil
	})
	if err != nil {
		return keyspace.GreetingID{}, err
	}

	s.logger.Debug("greeting added",
		"book_id", bookID,
		"greeting_id", greeting.ID,
		"greeting_count", book.GreetingCount,
	)
	return greeting.ID, nil
}

// GetBook returns a book by id. A malformed id fails with InvalidArgument
// without reaching the store; a well-formed id with no book is NotFound.
func (s *GuestbookService) GetBook(ctx context.Context, bookID keyspace.BookID) (*domain.Book, error) {
	if err := keyspace.ValidateBookID(bookID); err != nil {
		return nil, err
	}
	return s.store.GetBook(ctx, bookID)
}

// RenameBook changes a book's name. The replacement is version checked and
// retried like a greeting commit when another writer gets there first.
func (s *GuestbookService) RenameBook(ctx context.Context, bookID keyspace.BookID, name string) (*domain.Book, error) {
	if err := keyspace.ValidateBookID(bookID); err != nil {
		return nil, err
	}

	ctx, cancel := s.withCommitTimeout(ctx)
	defer cancel()

	var book *domain.Book
	err := s.retryCommit(ctx, bookID, func() error {
		b, err := s.store.GetBook(ctx, bookID)
		if err != nil {
			return err
		}
		b.Name = name
		if err := s.store.PutBook(ctx, b); err != nil {
			return err
		}
		book = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("book renamed", "book_id", bookID, "name", name, "version", book.Version)
	return book, nil
}

// ListBooks returns books ordered by name, then id.
func (s *GuestbookService) ListBooks(ctx context.Context, limit int) ([]*domain.Book, error) {
	return s.store.ListBooks(ctx, s.listLimit(limit))
}

// ListGreetings returns a book's greetings, newest first. A malformed id
// fails with InvalidArgument without reaching the store; a well-formed id
// with no book is NotFound.
func (s *GuestbookService) ListGreetings(ctx context.Context, bookID keyspace.BookID, limit int) ([]*domain.Greeting, error) {
	if err := keyspace.ValidateBookID(bookID); err != nil {
		return nil, err
	}
	return s.store.ListGreetings(ctx, bookID, s.listLimit(limit))
}

// FindBookByName returns the id of the book with the given name.
// When names are shared, the lowest id wins.
func (s *GuestbookService) FindBookByName(ctx context.Context, name string) (keyspace.BookID, error) {
	book, err := s.store.FindBookByName(ctx, name)
	if err != nil {
		return "", err
	}
	return book.ID, nil
}

func (s *GuestbookService) validateContent(content string) error {
	if err := s.validator.Var("content", content, "required,notblank"); err != nil {
		return err
	}
	if s.opts.GreetingMaxLength > 0 {
		return s.validator.Var("content", content, "max="+strconv.Itoa(s.opts.GreetingMaxLength))
	}
	return nil
}

func (s *GuestbookService) listLimit(limit int) int {
	params := store.ListParams{Limit: limit}
	params.Normalize(s.opts.DefaultListLimit, s.opts.MaxListLimit)
	return params.Limit
}

func (s *GuestbookService) withCommitTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.CommitTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.CommitTimeout)
}

func (s *GuestbookService) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if s.opts.InitialBackoff > 0 {
		b.InitialInterval = s.opts.InitialBackoff
	}
	if s.opts.MaxBackoff > 0 {
		b.MaxInterval = s.opts.MaxBackoff
	}
	// The retry count and the context bound the loop.
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, s.opts.MaxCommitRetries), ctx)
}

// retryCommit runs op until it succeeds, fails with something other than
// Conflict, runs out of retries, or ctx is done.
func (s *GuestbookService) retryCommit(ctx context.Context, bookID keyspace.BookID, op func() error) error {
	attempts := 0
	operation := func() error {
		attempts++
		err := op()
		if err == nil || errors.Is(err, store.ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("group commit conflict, retrying",
			"book_id", bookID,
			"attempt", attempts,
			"backoff", wait,
			"error", err,
		)
	}

	err := backoff.RetryNotify(operation, s.backOff(ctx), notify)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrConflict):
		s.logger.Error("group commit contended", "book_id", bookID, "attempts", attempts, "error", err)
		return domainerrors.Contendedf("book %s is contended: %d attempts conflicted", bookID, attempts)
	case errors.Is(err, store.ErrUnavailable):
		s.logger.Error("group commit failed", "book_id", bookID, "error", err)
		return err
	default:
		return domainerrors.FromContext(err)
	}
}
