// Package app assembles the calendar services from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sonroyaalmerol/esn-calendar/internal/alarm"
	"github.com/sonroyaalmerol/esn-calendar/internal/auth"
	"github.com/sonroyaalmerol/esn-calendar/internal/caldav"
	"github.com/sonroyaalmerol/esn-calendar/internal/config"
	"github.com/sonroyaalmerol/esn-calendar/internal/directory"
	"github.com/sonroyaalmerol/esn-calendar/internal/logging"
	"github.com/sonroyaalmerol/esn-calendar/internal/search"
	"github.com/sonroyaalmerol/esn-calendar/internal/storage"
	"github.com/sonroyaalmerol/esn-calendar/internal/storage/postgres"
	"github.com/sonroyaalmerol/esn-calendar/internal/storage/sqlite"

	"github.com/rs/zerolog"
)

type App struct {
	Store     storage.Store
	Directory directory.Directory
	Tokens    *auth.JWTIssuer
	DAV       *caldav.Client
	Alarms    *alarm.Service
	Indexer   *search.Indexer
}

// New opens storage and the directory and builds the services on top. Close
// releases what New opened.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	store, err := openStore(ctx, cfg.Storage, logging.Component(logger, "storage"))
	if err != nil {
		return nil, err
	}
	a := &App{Store: store}

	if cfg.LDAP.Enabled() {
		dir, err := directory.NewLDAPClient(cfg.LDAP, logging.Component(logger, "directory"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("directory: %w", err)
		}
		a.Directory = dir
	} else {
		logger.Info().Msg("LDAP not configured, alarm mails go to alarm attendees or user ids")
	}

	a.Tokens, err = auth.NewJWTIssuer(cfg.Auth, logging.Component(logger, "auth"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("token issuer: %w", err)
	}

	davLog := logging.Component(logger, "caldav")
	a.DAV, err = caldav.NewClient(cfg.DAV.URL, a.Tokens, davLog,
		caldav.WithHTTPClient(&http.Client{Timeout: cfg.DAV.Timeout}),
		caldav.WithDefaultCalendar(cfg.DAV.DefaultCalendar),
		caldav.WithProdID(cfg.ICS.BuildProdID()),
		caldav.WithDroppedItemHook(func(d caldav.DroppedItem) {
			davLog.Info().Str("path", d.Path).Int("status", d.Status).Str("reason", d.Reason).Msg("multi-get item dropped")
		}),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []alarm.Option{alarm.WithBatchSize(cfg.Alarm.BatchSize)}
	if a.Directory != nil {
		opts = append(opts, alarm.WithDirectory(a.Directory))
	}
	alarmLog := logging.Component(logger, "alarm")
	a.Alarms = alarm.NewService(store, a.DAV, alarm.NewLogNotifier(alarmLog), alarmLog, opts...)
	a.Indexer = search.NewIndexer(store, a.DAV, logging.Component(logger, "search"))

	return a, nil
}

// Purge evicts expired tokens and directory entries.
func (a *App) Purge() {
	if a.Tokens != nil {
		a.Tokens.Purge()
	}
	if a.Directory != nil {
		a.Directory.Purge()
	}
}

func (a *App) Close() {
	if a.Directory != nil {
		a.Directory.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
}

func openStore(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)
	switch cfg.Type {
	case "postgres":
		store, err = postgres.New(ctx, cfg.PostgresURL, logger)
	case "sqlite":
		store, err = sqlite.New(cfg.SQLitePath, logger)
	default:
		err = errors.New("unknown storage type: " + cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return store, nil
}
