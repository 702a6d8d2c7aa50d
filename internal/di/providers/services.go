package providers

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/guestbook/internal/config"
	"github.com/listenupapp/guestbook/internal/logger"
	"github.com/listenupapp/guestbook/internal/ratelimit"
	"github.com/listenupapp/guestbook/internal/service"
	"github.com/listenupapp/guestbook/internal/validation"
)

// ProvideValidator provides the input validator.
func ProvideValidator(_ do.Injector) (*validation.Validator, error) {
	return validation.New(), nil
}

// RateLimiterHandle wraps the per-book greeting limiter. Limiter is nil when
// rate limiting is disabled.
type RateLimiterHandle struct {
	Limiter *ratelimit.KeyedRateLimiter
}

// Shutdown implements do.Shutdownable.
func (h *RateLimiterHandle) Shutdown() error {
	if h.Limiter != nil {
		h.Limiter.Stop()
	}
	return nil
}

// ProvideRateLimiter provides the per-book greeting limiter.
func ProvideRateLimiter(i do.Injector) (*RateLimiterHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	if cfg.Greeting.RateLimit <= 0 {
		return &RateLimiterHandle{}, nil
	}

	log := do.MustInvoke[*logger.Logger](i)
	log.Info("Greeting rate limit enabled",
		"per_second", cfg.Greeting.RateLimit,
		"burst", cfg.Greeting.RateBurst,
	)

	return &RateLimiterHandle{
		Limiter: ratelimit.New(cfg.Greeting.RateLimit, cfg.Greeting.RateBurst, ratelimit.DefaultIdleTTL),
	}, nil
}

// ProvideGuestbookService provides the guestbook service.
func ProvideGuestbookService(i do.Injector) (*service.GuestbookService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	validator := do.MustInvoke[*validation.Validator](i)
	limiter := do.MustInvoke[*RateLimiterHandle](i)

	return service.NewGuestbookService(
		storeHandle.Store,
		validator,
		limiter.Limiter,
		log.Component("guestbook"),
		ServiceOptions(cfg),
	), nil
}

// ServiceOptions maps configuration onto service options.
func ServiceOptions(cfg *config.Config) service.Options {
	return service.Options{
		MaxCommitRetries:  uint64(cfg.Commit.MaxRetries), //nolint:gosec // validated non-negative
		InitialBackoff:    cfg.Commit.InitialBackoff,
		MaxBackoff:        cfg.Commit.MaxBackoff,
		CommitTimeout:     cfg.Commit.Timeout,
		GreetingMaxLength: cfg.Greeting.MaxLength,
		DefaultListLimit:  cfg.List.DefaultLimit,
		MaxListLimit:      cfg.List.MaxLimit,
	}
}
