package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/samber/do/v2"

	"github.com/listenupapp/guestbook/internal/config"
	"github.com/listenupapp/guestbook/internal/logger"
	"github.com/listenupapp/guestbook/internal/store"
	"github.com/listenupapp/guestbook/internal/store/badgerdb"
	"github.com/listenupapp/guestbook/internal/store/boltdb"
	"github.com/listenupapp/guestbook/internal/store/dynamo"
	"github.com/listenupapp/guestbook/internal/store/memory"
	"github.com/listenupapp/guestbook/internal/store/sqlite"
)

// StoreHandle wraps the store with shutdown capability.
type StoreHandle struct {
	store.Store

	// Backend is the configured backend name.
	Backend string
	// Location is the data directory, file or table prefix in use.
	Location string
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore opens the configured storage backend.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	opts := []store.Option{store.WithLogger(log.Component("store"))}

	var (
		st       store.Store
		location string
		err      error
	)
	switch cfg.Store.Backend {
	case config.BackendBadger, config.BackendSQLite, config.BackendBolt:
		st, location, err = openDiskStore(cfg, opts)
	case config.BackendDynamo:
		st, location, err = openDynamoStore(cfg, opts)
	case config.BackendMemory:
		st, location = memory.New(opts...), "memory"
	default:
		err = fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	if err != nil {
		return nil, err
	}

	log.Info("Store initialized", "backend", cfg.Store.Backend, "location", location)

	return &StoreHandle{Store: st, Backend: cfg.Store.Backend, Location: location}, nil
}

func openDiskStore(cfg *config.Config, opts []store.Option) (store.Store, string, error) {
	if err := os.MkdirAll(cfg.Store.DataPath, dataDirPerm); err != nil {
		return nil, "", fmt.Errorf("create data directory: %w", err)
	}

	switch cfg.Store.Backend {
	case config.BackendSQLite:
		path := filepath.Join(cfg.Store.DataPath, "guestbook.db")
		s, err := sqlite.Open(path, opts...)
		if err != nil {
			return nil, "", err
		}
		return s, path, nil
	case config.BackendBolt:
		path := filepath.Join(cfg.Store.DataPath, "guestbook.bolt")
		s, err := boltdb.Open(path, opts...)
		if err != nil {
			return nil, "", err
		}
		return s, path, nil
	default:
		path := filepath.Join(cfg.Store.DataPath, "badger")
		s, err := badgerdb.Open(path, opts...)
		if err != nil {
			return nil, "", err
		}
		return s, path, nil
	}
}

func openDynamoStore(cfg *config.Config, opts []store.Option) (store.Store, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Dynamo.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Dynamo.Endpoint)
		}
	})

	tables := dynamo.Config{
		BooksTable:     cfg.Dynamo.TablePrefix + "books",
		GreetingsTable: cfg.Dynamo.TablePrefix + "greetings",
	}
	s := dynamo.New(client, tables, opts...)
	if err := s.EnsureTables(ctx); err != nil {
		return nil, "", fmt.Errorf("ensure dynamodb tables: %w", err)
	}
	return s, cfg.Dynamo.TablePrefix + "*", nil
}
