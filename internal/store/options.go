package store

import (
	"log/slog"
	"time"
)

// Options configures the behavior shared by every backend.
type Options struct {
	// Clock stamps commit times. Defaults to time.Now in UTC.
	Clock func() time.Time

	// Logger receives backend diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithClock overrides the commit clock.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		o.Clock = clock
	}
}

// WithLogger sets the backend logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// NewOptions applies opts over the defaults.
func NewOptions(opts ...Option) Options {
	o := Options{
		Clock:  time.Now,
		Logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Now returns the current commit time in UTC without a monotonic reading,
// so it compares equal to the value read back from storage.
func (o Options) Now() time.Time {
	return o.Clock().UTC()
}
