package storage

import (
	"context"
	"fmt"

	"golang.org/x/exp/slog"

	"receiptvault/internal/app/server/config"
	"receiptvault/internal/domain/sync"
	"receiptvault/internal/infrastructure/migration"
	"receiptvault/internal/infrastructure/storage/dynamo"
	"receiptvault/internal/infrastructure/storage/memory"
	"receiptvault/internal/infrastructure/storage/postgres"
)

// Storage is an open record store.
type Storage struct {
	Repository sync.Repository
	ping       func(ctx context.Context) error
	close      func() error
}

// Ping reports whether the store is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

func (s *Storage) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Open connects the store selected by STORE_DRIVER.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Storage, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		st, err := postgres.New(ctx, cfg.DB)
		if err != nil {
			return nil, err
		}
		return &Storage{
			Repository: postgres.NewReceiptRepository(st.Pool(), log, cfg.Store.PageSize),
			ping:       st.Pool().Ping,
			close:      st.Close,
		}, nil

	case config.DriverDynamoDB:
		client, err := dynamo.NewClient(ctx, cfg.Dynamo)
		if err != nil {
			return nil, err
		}
		store := dynamo.NewStore(client, cfg.Dynamo.Table, log, cfg.Store.PageSize)
		return &Storage{Repository: store, ping: store.Ping}, nil

	case config.DriverMemory:
		log.Warn("using in-memory store, data is lost on restart")
		store := memory.New(memory.WithPageSize(cfg.Store.PageSize))
		return &Storage{Repository: store, ping: store.Ping}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// Prepare creates or upgrades the schema of the selected store.
func Prepare(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		return migration.NewMigration(cfg.DB, migration.DefaultEngine).Up()

	case config.DriverDynamoDB:
		client, err := dynamo.NewClient(ctx, cfg.Dynamo)
		if err != nil {
			return err
		}
		return dynamo.NewStore(client, cfg.Dynamo.Table, log, cfg.Store.PageSize).EnsureTable(ctx)

	case config.DriverMemory:
		return nil

	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
