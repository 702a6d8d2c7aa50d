// Package di provides dependency injection configuration for the guestbook.
package di

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/guestbook/internal/config"
	"github.com/listenupapp/guestbook/internal/di/providers"
	"github.com/listenupapp/guestbook/internal/logger"
	"github.com/listenupapp/guestbook/internal/service"
)

// NewContainer creates and configures the DI container for cfg.
func NewContainer(cfg *config.Config) *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.ProvideValue(injector, cfg)
	do.Provide(injector, providers.ProvideLogger)

	// Storage layer
	do.Provide(injector, providers.ProvideStore)

	// Business services
	do.Provide(injector, providers.ProvideValidator)
	do.Provide(injector, providers.ProvideRateLimiter)
	do.Provide(injector, providers.ProvideGuestbookService)

	return injector
}

// Bootstrap initializes the store and the service and returns the service.
// Failures opening the backend surface here instead of on first use.
func Bootstrap(injector *do.RootScope) (*service.GuestbookService, error) {
	if _, err := do.Invoke[*logger.Logger](injector); err != nil {
		return nil, err
	}
	if _, err := do.Invoke[*providers.StoreHandle](injector); err != nil {
		return nil, err
	}
	return do.Invoke[*service.GuestbookService](injector)
}
