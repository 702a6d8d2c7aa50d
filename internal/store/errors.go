package store

import (
	"context"
	"errors"
	"fmt"

	domainerrors "github.com/listenupapp/guestbook/internal/errors"
	"github.com/listenupapp/guestbook/internal/keyspace"
)

// Sentinel errors returned by every backend. They are the domain errors, so
// callers can match with errors.Is against either package.
var (
	ErrNotFound        = domainerrors.ErrNotFound
	ErrAlreadyExists   = domainerrors.ErrAlreadyExists
	ErrConflict        = domainerrors.ErrConflict
	ErrInvalidArgument = domainerrors.ErrInvalidArgument
	ErrUnavailable     = domainerrors.ErrUnavailable
	ErrTimeout         = domainerrors.ErrTimeout
)

// BookNotFound is the error for a missing book.
func BookNotFound(id keyspace.BookID) error {
	return domainerrors.NotFoundf("book %s not found", id)
}

// GroupConflict is the error for a commit that lost a race on its entity group.
func GroupConflict(id keyspace.BookID, cause error) error {
	return domainerrors.Conflictf("concurrent commit on book %s", id).WithCause(cause)
}

// CheckContext returns a Timeout error if ctx is already done.
func CheckContext(ctx context.Context) error {
	return domainerrors.FromContext(ctx.Err())
}

// WrapBackendError classifies an error coming out of a backend call.
// Domain errors pass through, context errors become Timeout, and anything
// else is reported as Unavailable.
func WrapBackendError(err error, op string) error {
	if err == nil {
		return nil
	}
	var domainErr *domainerrors.Error
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domainerrors.FromContext(err)
	}
	return domainerrors.Unavailable(fmt.Errorf("%s: %w", op, err), "storage unavailable")
}
