// Package app assembles the client: one database, one local sequence, and
// the services that share them. An App is opened explicitly and closed by its
// owner; nothing in the client is a package-level singleton.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/aggregate"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/config"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/database"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/ledger"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/profiles"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/records"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/remote"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/scheduler"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/sequence"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/session"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/syncapi"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/syncer"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options carries what the configuration file cannot: injected transports
// and clocks for tests and embedding.
type Options struct {
	HTTPClient *http.Client
	Clock      func() time.Time
	Logger     *zap.Logger
}

// App is an opened client.
type App struct {
	Store        *records.Store
	Session      *session.Manager
	Remote       *remote.Client
	Orchestrator *syncer.Orchestrator
	Ledger       *ledger.Service
	Aggregates   *aggregate.Engine
	Profiles     *profiles.Service
	Scheduler    *scheduler.Scheduler

	db       *gorm.DB
	sequence *sequence.Sequencer
	logger   *zap.Logger
}

// Open opens the local database and wires every client service to it.
func Open(cfg config.ClientConfig, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	db, err := database.OpenClient(cfg.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("app: open database: %w", err)
	}

	application := &App{db: db, logger: logger}
	if err := application.wire(cfg, opts.HTTPClient, clock); err != nil {
		_ = application.Close()
		return nil, err
	}
	return application, nil
}

func (a *App) wire(cfg config.ClientConfig, httpClient *http.Client, clock func() time.Time) error {
	a.sequence = sequence.New(sequence.Config{Logger: a.logger.Named("sequence")})

	store, err := records.NewStore(records.StoreConfig{Database: a.db, Clock: clock, Logger: a.logger.Named("records")})
	if err != nil {
		return err
	}
	a.Store = store

	client, err := remote.New(remote.Config{
		BaseURL:    cfg.RemoteBaseURL,
		HTTPClient: httpClient,
		Timeout:    cfg.RemoteTimeout,
		DeviceInfo: cfg.DeviceInfo,
		Logger:     a.logger.Named("remote"),
	})
	if err != nil {
		return err
	}
	a.Remote = client

	manager, err := session.NewManager(session.ManagerConfig{
		Database:    a.db,
		Profiles:    store.Profiles(),
		Refresher:   client,
		RefreshSkew: cfg.RefreshSkew,
		Clock:       clock,
		Logger:      a.logger.Named("session"),
	})
	if err != nil {
		return err
	}
	a.Session = manager

	syncClient, err := client.Sync(manager)
	if err != nil {
		return err
	}

	orchestrator, err := syncer.New(syncer.Config{
		Store:    store,
		Sequence: a.sequence,
		Gate:     manager,
		Remote:   syncClient,
		Clock:    clock,
		Logger:   a.logger.Named("syncer"),
	})
	if err != nil {
		return err
	}
	a.Orchestrator = orchestrator

	ledgerService, err := ledger.NewService(ledger.ServiceConfig{
		Store:      store,
		Sequence:   a.sequence,
		IDProvider: ledger.NewUUIDProvider(),
		Logger:     a.logger.Named("ledger"),
	})
	if err != nil {
		return err
	}
	a.Ledger = ledgerService

	engine, err := aggregate.NewEngine(aggregate.EngineConfig{
		Snapshots:  store.Snapshots(),
		Categories: store.Categories(),
		Logger:     a.logger.Named("aggregate"),
	})
	if err != nil {
		return err
	}
	a.Aggregates = engine

	profileService, err := profiles.NewService(profiles.ServiceConfig{
		Store:       store,
		Sequence:    a.sequence,
		Credentials: manager,
		Remote:      syncClient,
		Logger:      a.logger.Named("profiles"),
	})
	if err != nil {
		return err
	}
	a.Profiles = profileService

	periodic, err := scheduler.New(scheduler.Config{
		Runner:        orchestrator,
		Interval:      cfg.SyncInterval,
		Budget:        cfg.SyncBudget,
		RetryDelay:    cfg.SyncRetryDelay,
		MaxRejections: cfg.SyncMaxRejections,
		Logger:        a.logger.Named("scheduler"),
	})
	if err != nil {
		return err
	}
	a.Scheduler = periodic
	return nil
}

// SignUp registers an account with the sync service and signs in as it.
func (a *App) SignUp(ctx context.Context, email, password, name string) (records.Profile, error) {
	grant, err := a.Remote.SignUp(ctx, syncapi.SignUpRequest{
		Email:    strings.TrimSpace(email),
		Password: password,
		Name:     strings.TrimSpace(name),
	})
	if err != nil {
		return records.Profile{}, err
	}
	return a.Profiles.SignedIn(ctx, grant, records.ProviderLocal)
}

// Login exchanges a password for a grant and signs in as the account.
func (a *App) Login(ctx context.Context, email, password string) (records.Profile, error) {
	grant, err := a.Remote.Login(ctx, syncapi.LoginRequest{
		Email:    strings.TrimSpace(email),
		Password: password,
	})
	if err != nil {
		return records.Profile{}, err
	}
	return a.Profiles.SignedIn(ctx, grant, records.ProviderLocal)
}

// Close stops the local sequence after its queued jobs and closes the database.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	if a.sequence != nil {
		a.sequence.Close()
	}
	if a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
