package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/pario-ai/querygate/pkg/alert"
	"github.com/pario-ai/querygate/pkg/cache"
	rediscache "github.com/pario-ai/querygate/pkg/cache/redis"
	sqlitecache "github.com/pario-ai/querygate/pkg/cache/sqlite"
	"github.com/pario-ai/querygate/pkg/config"
	"github.com/pario-ai/querygate/pkg/estimator"
	"github.com/pario-ai/querygate/pkg/gateway"
	"github.com/pario-ai/querygate/pkg/ledger"
	"github.com/pario-ai/querygate/pkg/logging"
	"github.com/pario-ai/querygate/pkg/mcp"
	"github.com/pario-ai/querygate/pkg/metrics"
	"github.com/pario-ai/querygate/pkg/models"
	"github.com/pario-ai/querygate/pkg/policy"
	"github.com/pario-ai/querygate/pkg/remote"
)

var _ mcp.Reporter = (*gateway.Gateway)(nil)

var errRemoteUnavailable = errors.New("remote service is not used by this command")

// offlineRemote stands in for the query service in reporting commands, which
// only read the ledger, cache and alert log.
type offlineRemote struct{}

func (offlineRemote) DryRun(context.Context, string) (int64, error) { return 0, errRemoteUnavailable }

func (offlineRemote) Execute(context.Context, string) (*models.QueryResult, error) {
	return nil, errRemoteUnavailable
}

// app is a fully wired gateway and the resources backing it.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	gw       *gateway.Gateway
	cache    cache.Store
	alerts   *alert.Sink
	closers  []func() error
}

// openApp loads the config and wires every component. The remote client is
// only built when withRemote is set.
func openApp(ctx context.Context, configPath string, withRemote bool) (a *app, err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	a = &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(a.registry)

	loc, err := cfg.Ledger.Location()
	if err != nil {
		return nil, err
	}
	store, err := a.openLedgerStore()
	if err != nil {
		return nil, err
	}
	l := ledger.New(store, loc, logger)

	if a.cache, err = a.openCache(ctx); err != nil {
		return nil, err
	}

	alertStore, err := a.openAlertStore()
	if err != nil {
		return nil, err
	}
	opts := alert.Options{
		NotifyPerMinute: cfg.Alerts.NotifyPerMinute,
		Location:        loc,
		Logger:          logger,
		Metrics:         m,
	}
	if cfg.Alerts.WebhookURL != "" {
		opts.Notifier = &alert.WebhookNotifier{URL: cfg.Alerts.WebhookURL}
	}
	a.alerts = alert.NewSink(alertStore, opts)
	a.closers = append(a.closers, func() error { a.alerts.Wait(); return nil })

	var svc remote.Service = offlineRemote{}
	if withRemote {
		client, err := remote.New(remote.Config{
			Endpoint: cfg.Remote.Endpoint,
			Project:  cfg.Remote.Project,
			Location: cfg.Remote.Location,
			Timeout:  cfg.Remote.Timeout,
			Tokens:   remote.StaticToken(cfg.Remote.Token),
		})
		if err != nil {
			return nil, fmt.Errorf("init remote client: %w", err)
		}
		svc = client
	}

	a.gw, err = gateway.New(gateway.Deps{
		Remote:    svc,
		Estimator: estimator.New(svc, cfg.Pricing, logger, m),
		Ledger:    l,
		Engine:    policy.New(l, cfg.Budget, nil, logger),
		Cache:     a.cache,
		Alerts:    a.alerts,
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) openLedgerStore() (ledger.Store, error) {
	switch a.cfg.Ledger.Backend {
	case "memory":
		return ledger.NewMemoryStore(), nil
	case "sqlite":
		s, err := ledger.NewSQLiteStore(a.cfg.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("init ledger: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		s, err := ledger.NewFileStore(a.cfg.Ledger.Path, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init ledger: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	}
}

func (a *app) openCache(ctx context.Context) (cache.Store, error) {
	ttl := a.cfg.Cache.TTL()
	switch a.cfg.Cache.Backend {
	case "sqlite":
		c, err := sqlitecache.New(a.cfg.Cache.Path, ttl)
		if err != nil {
			return nil, fmt.Errorf("init cache: %w", err)
		}
		a.closers = append(a.closers, c.Close)
		return c, nil
	case "redis":
		r := a.cfg.Cache.Redis
		c, err := rediscache.New(ctx, rediscache.Config{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Prefix:   r.Prefix,
			TTL:      ttl,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init cache: %w", err)
		}
		a.closers = append(a.closers, c.Close)
		return c, nil
	default:
		return cache.NewMemory(ttl), nil
	}
}

func (a *app) openAlertStore() (alert.Store, error) {
	if a.cfg.Alerts.Backend == "memory" {
		return alert.NewMemoryStore(), nil
	}
	s, err := alert.NewSQLiteStore(a.cfg.Alerts.Path)
	if err != nil {
		return nil, fmt.Errorf("init alert store: %w", err)
	}
	a.closers = append(a.closers, s.Close)
	return s, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
