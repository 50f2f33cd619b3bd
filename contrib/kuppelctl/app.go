package kuppelctl

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/kuppel/kuppel.go"
	"github.com/kuppel/kuppel.go/internal/fakebackend"
	"github.com/kuppel/kuppel.go/pkg/auth"
	"github.com/kuppel/kuppel.go/pkg/config"
	"github.com/kuppel/kuppel.go/pkg/logger"
	"github.com/kuppel/kuppel.go/pkg/monitoring"
	"github.com/kuppel/kuppel.go/pkg/notify"
	"github.com/kuppel/kuppel.go/pkg/querycache"
	"github.com/kuppel/kuppel.go/pkg/settings"
)

// App is everything one command run needs. It is built lazily by the
// root command so that flag errors never dial the backend.
type App struct {
	Config   config.Config
	DB       *kuppel.DB
	Cache    *querycache.Cache
	Settings *settings.Manager
	Monitor  *monitoring.Monitor
	Logger   logger.Logger
	Catalog  notify.Catalog
	Notifier notify.Notifier
	Now      func() time.Time

	mock    *fakebackend.Server
	closers []func() error
}

// Env is what the process hands to the commands.
type Env struct {
	Out    io.Writer
	Err    io.Writer
	Config func() (config.Config, error)
	Now    func() time.Time
}

func (e Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// open wires the stack from cfg. In mock mode the backend is an
// in-process fake seeded with demo data.
func open(ctx context.Context, env Env, cfg config.Config, creds kuppel.Auth) (*App, error) {
	logData, err := logger.New().FromBuffer(env.Err).Level(cfg.LogLevel()).Make()
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:  cfg,
		Logger:  logData,
		Catalog: notify.NewCatalog(cfg.Locale()),
		Now:     env.now,
	}
	a.Monitor, err = monitoring.FromDSN(cfg.MonitoringDSN(), monitoring.WithLogger(a.Logger), monitoring.WithClock(a.Now))
	if err != nil {
		return nil, fmt.Errorf("monitoring: %w", err)
	}
	a.Notifier = notify.NotifierFunc(func(t notify.Toast) {
		fmt.Fprintf(env.Err, "[%s] %s\n", t.Title, t.Description)
	})

	if err := a.openBackend(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}

	if err := a.openCache(); err != nil {
		a.Close(ctx)
		return nil, err
	}

	if err := a.openSettings(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}

	if creds.Email != "" {
		svc := auth.NewService(a.DB,
			auth.WithMonitoring(a.Monitor),
			auth.WithNotifier(a.Notifier, a.Catalog),
			auth.WithLogger(a.Logger))
		if _, err := svc.Login(ctx, creds.Email, creds.Password); err != nil {
			a.Close(ctx)
			return nil, err
		}
	}
	return a, nil
}

func (a *App) openBackend(ctx context.Context) error {
	opts := []kuppel.Option{kuppel.WithLogger(a.Logger), kuppel.WithTimeout(a.Config.Timeout())}
	endpoint := a.Config.APIURL()

	if a.Config.UseMockData() {
		mock, err := startMock(a.Now().In(a.Config.Location()))
		if err != nil {
			return err
		}
		a.mock = mock
		a.closers = append(a.closers, mock.Stop)
		endpoint = mock.URL()
		opts = append(opts, kuppel.WithFunctionsURL(mock.FunctionsURL()))
	} else if u := a.Config.FunctionsURL(); u != "" {
		opts = append(opts, kuppel.WithFunctionsURL(u))
	}

	db, err := kuppel.Connect(ctx, endpoint, opts...)
	if err != nil {
		return fmt.Errorf("connect %s: %w", endpoint, err)
	}
	a.DB = db
	a.closers = append(a.closers, func() error { return db.Close(context.Background()) })
	return nil
}

func (a *App) openCache() error {
	var store querycache.Store = querycache.NewMemoryStore()
	if u := a.Config.CacheRedisURL(); u != "" {
		rs, err := querycache.NewRedisStore(u, 10*time.Minute)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, rs.Close)
		store = rs
	}
	a.Cache = querycache.New(store, querycache.WithLogger(a.Logger), querycache.WithClock(a.Now))
	return nil
}

func (a *App) openSettings(ctx context.Context) error {
	path := a.Config.SettingsPath()
	var store settings.Store
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		s, err := settings.OpenSQLiteStore(path)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, s.Close)
		store = s
	default:
		store = settings.NewFileStore(path)
	}

	m, err := settings.Load(ctx, store, settings.WithLogger(a.Logger))
	if err != nil {
		return err
	}
	a.Settings = m
	return nil
}

// Mock returns the in-process backend, or nil outside mock mode.
func (a *App) Mock() *fakebackend.Server { return a.mock }

// Close releases everything in reverse order of acquisition.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Debug("close failed", "error", err)
		}
	}
	a.closers = nil
}

// company resolves the company from the flag, then the selected company.
func (a *App) company(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if c := a.Settings.SelectedCompany(); c != "" {
		return c, nil
	}
	if a.mock != nil {
		return DemoCompany, nil
	}
	return "", fmt.Errorf("no company: pass --company or run settings set %s <id>", settings.KeySelectedCompany)
}

func (a *App) branch(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if b := a.Settings.SelectedBranch(); b != "" {
		return b, nil
	}
	if a.mock != nil {
		return DemoBranch, nil
	}
	return "", fmt.Errorf("no branch: pass --branch or run settings set %s <id>", settings.KeySelectedBranch)
}
