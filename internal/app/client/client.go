package client

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/exp/slog"

	"receiptvault/internal/app/client/config"
	"receiptvault/internal/domain/receipt"
)

// ErrNoToken means the config carries no bearer token for the server.
var ErrNoToken = errors.New("no token configured, set TOKEN or token in config.yaml")

// App is the device client: a local SQLite cache kept in step with the
// server.
type App struct {
	config  *config.Config
	log     *slog.Logger
	storage *SQLiteStorage
	remote  *httpClient
	syncer  *Syncer
}

func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	storage, err := NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	remote := NewHTTPClient(cfg, log)

	return &App{
		config:  cfg,
		log:     log,
		storage: storage,
		remote:  remote,
		syncer:  NewSyncer(remote, storage, log, cfg.BatchSize),
	}, nil
}

func (a *App) Close() error {
	return a.storage.Close()
}

func (a *App) CheckConnection(ctx context.Context) error {
	return a.remote.HealthCheck(ctx)
}

func (a *App) Pull(ctx context.Context) (*SyncResult, error) {
	if err := a.requireToken(); err != nil {
		return nil, err
	}
	return a.syncer.Pull(ctx)
}

func (a *App) Push(ctx context.Context) (*SyncResult, error) {
	if err := a.requireToken(); err != nil {
		return nil, err
	}
	return a.syncer.Push(ctx)
}

func (a *App) Full(ctx context.Context) (*SyncResult, error) {
	if err := a.requireToken(); err != nil {
		return nil, err
	}
	return a.syncer.Full(ctx)
}

func (a *App) Sync(ctx context.Context) (*SyncResult, error) {
	if err := a.requireToken(); err != nil {
		return nil, err
	}
	return a.syncer.Sync(ctx)
}

// Edit changes fields of a local receipt, creating it when absent. The
// change reaches the server on the next push.
func (a *App) Edit(ctx context.Context, id string, fields receipt.Fields) (*LocalReceipt, error) {
	if id == "" {
		return nil, errors.New("receipt id is required")
	}
	if len(fields) == 0 {
		return nil, errors.New("nothing to edit")
	}
	for name := range fields {
		if receipt.IsReserved(name) {
			return nil, fmt.Errorf("field %q is managed by the server", name)
		}
	}
	return a.storage.Edit(ctx, id, fields)
}

func (a *App) Get(ctx context.Context, id string) (*LocalReceipt, bool, error) {
	return a.storage.Get(ctx, id)
}

func (a *App) List(ctx context.Context) ([]*LocalReceipt, error) {
	return a.storage.List(ctx)
}

func (a *App) requireToken() error {
	if a.config.Token == "" {
		return ErrNoToken
	}
	return nil
}

type appKey struct{}

// WithApp stores the app for cobra subcommands.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey{}, app)
}

func FromContext(ctx context.Context) (*App, error) {
	app, ok := ctx.Value(appKey{}).(*App)
	if !ok || app == nil {
		return nil, errors.New("client is not initialized")
	}
	return app, nil
}
