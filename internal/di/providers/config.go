// Package providers contains dependency injection providers for the guestbook.
package providers

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/guestbook/internal/config"
	"github.com/listenupapp/guestbook/internal/logger"
)

// ProvideLogger provides the structured logger.
// The configuration itself is registered as a value by di.NewContainer.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development" && cfg.Logger.Level == "debug",
		Environment: cfg.App.Environment,
	})

	log.Debug("Configuration loaded",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"store_backend", cfg.Store.Backend,
		"data_path", cfg.Store.DataPath,
	)

	return log, nil
}
