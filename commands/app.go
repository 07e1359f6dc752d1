package commands

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/slashbinslashnoname/hire-checkout/busy"
	"github.com/slashbinslashnoname/hire-checkout/checkout"
	"github.com/slashbinslashnoname/hire-checkout/config"
	"github.com/slashbinslashnoname/hire-checkout/db"
	"github.com/slashbinslashnoname/hire-checkout/logger"
	"github.com/slashbinslashnoname/hire-checkout/marketplace"
)

// app is everything a long-running command needs
type app struct {
	cfg     *config.Config
	ledger  *db.Database
	svc     *checkout.Service
	closers []func() error
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(&logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	return cfg, nil
}

// newApp wires the ledger, the busy set, the marketplace client and the
// checkout service from cfg
func newApp(cfg *config.Config) (*app, error) {
	if err := cfg.RequireMarketplace(); err != nil {
		return nil, err
	}

	ledger, err := db.NewDatabase(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, ledger: ledger, closers: []func() error{ledger.Close}}

	guard, err := a.guard()
	if err != nil {
		a.Close()
		return nil, err
	}

	client := marketplace.NewClient(cfg.MarketplaceURL, cfg.MarketplaceToken, cfg.RequestTimeout)
	a.svc = checkout.NewService(checkout.Options{
		Proposals:         client,
		Escrow:            client,
		Contracts:         client,
		Guard:             guard,
		Ledger:            ledger,
		ClientEmail:       cfg.ClientEmail,
		ProcessingTimeout: cfg.ProcessingTimeout,
	})
	return a, nil
}

// guard returns the Redis busy set when REDIS_URL is set, else an in-memory one
func (a *app) guard() (busy.Guard, error) {
	if a.cfg.RedisURL == "" {
		return busy.NewMemoryGuard(), nil
	}
	rdb, err := busy.NewRedisClient(a.cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrap(err, "failed to connect to redis")
	}
	a.closers = append(a.closers, rdb.Close)
	slog.Info("using redis busy set", "ttl", a.cfg.BusyTTL)
	return busy.NewRedisGuard(rdb, a.cfg.BusyTTL), nil
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("failed to close resource", "error", err)
		}
	}
}
