package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tableturnerr/ttcrm/internal/coldcalls"
	"github.com/tableturnerr/ttcrm/internal/companies"
	"github.com/tableturnerr/ttcrm/internal/config"
	"github.com/tableturnerr/ttcrm/internal/metrics"
	"github.com/tableturnerr/ttcrm/internal/notes"
	"github.com/tableturnerr/ttcrm/internal/outbox"
	"github.com/tableturnerr/ttcrm/internal/pocketbase"
	"github.com/tableturnerr/ttcrm/internal/recordings"
	"github.com/tableturnerr/ttcrm/internal/storage"
	"github.com/tableturnerr/ttcrm/internal/team"
)

// usersCollection is the auth collection of CRM users.
const usersCollection = "users"

// app is one session against the remote store plus the local outbox.
type app struct {
	cfg     config.Config
	kc      config.SecretStore
	logger  *slog.Logger
	client  *pocketbase.Client
	store   *storage.Store
	metrics *metrics.Metrics

	outbox     *outbox.Outbox
	worker     *outbox.Worker
	companies  *companies.Service
	coldCalls  *coldcalls.Service
	recordings *recordings.Service
	notes      *notes.Service
	editor     *notes.Editor
	team       *team.Service

	closers []func() error
}

var newKeychain = config.NewKeychain

var newApp = func(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.RequireStore(); err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log.Level)

	m := metrics.New()
	client := pocketbase.New(cfg.Store.URL,
		pocketbase.WithTimeout(cfg.Store.Timeout),
		pocketbase.WithObserver(m.ObserveStore),
		pocketbase.WithLogger(logger),
	)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	a, err := buildApp(cfg, newKeychain(), logger, client, store, m)
	if err != nil {
		store.Close()
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	a.restoreSession(ctx)
	return a, nil
}

// buildApp wires the services around an existing client and store.
func buildApp(cfg config.Config, kc config.SecretStore, logger *slog.Logger, client *pocketbase.Client, store *storage.Store, m *metrics.Metrics) (*app, error) {
	loc, err := recordings.ParseZone(cfg.Recordings.Timezone)
	if err != nil {
		return nil, fmt.Errorf("recordings.timezone: %w", err)
	}

	ob := outbox.New(store,
		outbox.WithMaxAttempts(cfg.Outbox.MaxAttempts),
		outbox.WithLogger(logger),
		outbox.WithObserver(m.ObserveJob),
	)
	auth := client.Auth()

	a := &app{
		cfg:     cfg,
		kc:      kc,
		logger:  logger,
		client:  client,
		store:   store,
		metrics: m,
		outbox:  ob,
		companies: companies.NewService(client, auth, ob,
			companies.WithPerPage(cfg.List.PerPage),
			companies.WithLogger(logger),
		),
		coldCalls: coldcalls.NewService(client, auth,
			coldcalls.WithLocation(loc),
			coldcalls.WithLogger(logger),
		),
		recordings: recordings.NewService(client, auth,
			recordings.WithLocation(loc),
			recordings.WithConcurrency(cfg.Upload.Concurrency),
			recordings.WithLogger(logger),
		),
		notes: notes.NewService(client, auth, notes.WithLogger(logger)),
		team: team.NewService(client,
			team.WithConcurrency(cfg.Stats.Concurrency),
			team.WithLogger(logger),
		),
	}
	a.editor = notes.NewEditor(a.notes, store)
	a.worker = outbox.NewWorker(ob, cfg.Outbox.PollInterval)
	return a, nil
}

// restoreSession resumes the session saved by login. An expired session is
// forgotten so the next command asks for a login.
func (a *app) restoreSession(ctx context.Context) {
	token, err := config.SessionToken(a.kc)
	if err != nil {
		if !errors.Is(err, config.ErrNoSecret) {
			a.logger.Warn("reading session token", "error", err)
		}
		return
	}
	a.client.Auth().Save(token, "", nil)
	resp, err := a.client.AuthRefresh(ctx, usersCollection)
	if err != nil {
		a.logger.Debug("session refresh failed", "error", err)
		if pocketbase.StatusOf(err) == 401 {
			a.client.Auth().Clear()
			if err := config.ClearSessionToken(a.kc); err != nil {
				a.logger.Warn("clearing session token", "error", err)
			}
		}
		return
	}
	if resp.Token != token {
		if err := config.SaveSessionToken(a.kc, resp.Token); err != nil {
			a.logger.Warn("saving session token", "error", err)
		}
	}
}

func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
