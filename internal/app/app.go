// Package app assembles the execution engine from config: exchange
// client, order store, submitter, poller, OCO coordinator, TWAP
// scheduler, journal and the HTTP surface.
package app

import (
	"context"
	"fmt"

	"tranche/internal/config"
	"tranche/internal/events"
	"tranche/internal/exchange"
	"tranche/internal/logger"
	"tranche/internal/oco"
	"tranche/internal/order"
	"tranche/internal/poller"
	"tranche/internal/retry"
	"tranche/internal/store/sqlite"
	apihttp "tranche/internal/transport/http/api"
	"tranche/internal/twap"

	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg       *config.Config
	journal   *sqlite.Journal
	store     *order.Store
	bus       *events.Bus
	submitter *order.Submitter
	poller    *poller.Poller
	oco       *oco.Coordinator
	twap      *twap.Scheduler
	http      *apihttp.Server
}

// New builds the application object without starting anything.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	journal, err := sqlite.NewJournal(cfg.Journal.Path)
	if err != nil {
		return nil, fmt.Errorf("open journal failed: %w", err)
	}

	client := exchange.NewBinance(exchange.BinanceConfig{
		APIKey:      cfg.Exchange.APIKey,
		APISecret:   cfg.Exchange.APISecret,
		RESTBaseURL: cfg.Exchange.RESTBaseURL,
		HTTPTimeout: cfg.Exchange.Timeout(),
		RateBurst:   cfg.Exchange.RateBurst,
		RatePerSec:  cfg.Exchange.RatePerSecond,
	})

	store := order.NewStore(journal)
	bus := events.NewBus()
	policy := retry.NewPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay(), cfg.Retry.Multiplier)
	policy.MaxDelay = cfg.Retry.MaxDelay()
	policy.CallTimeout = cfg.Retry.CallTimeout()
	limits := func(symbol string) order.Limits {
		lot, min := cfg.LimitsFor(symbol)
		return order.Limits{LotSize: lot, MinQuantity: min}
	}
	submitter := order.NewSubmitter(client, store, policy, limits)
	statusPoller := poller.New(store, client, bus, cfg.Poller.Interval(), cfg.Poller.Concurrency)
	coordinator := oco.NewCoordinator(store, submitter, bus, journal)
	scheduler := twap.NewScheduler(submitter, store, bus, journal, cfg.TWAP.DefaultInterval())

	router := &apihttp.Router{
		Store:     store,
		Submitter: submitter,
		OCO:       coordinator,
		TWAP:      scheduler,
		Client:    client,
		Journal:   journal,
		Limits:    limits,
	}
	httpServer, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr:   cfg.App.HTTPAddr,
		Router: router,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:       cfg,
		journal:   journal,
		store:     store,
		bus:       bus,
		submitter: submitter,
		poller:    statusPoller,
		oco:       coordinator,
		twap:      scheduler,
		http:      httpServer,
	}, nil
}

// Run starts the poller, the OCO event loop and the HTTP server, and
// blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	logger.Infow("engine starting",
		"env", a.cfg.App.Env,
		"exchange", "binance-futures",
		"http", a.http.Addr(),
		"poll", a.cfg.Poller.Interval().String())

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.poller.Run(ctx)
	})
	group.Go(func() error {
		return a.oco.Run(ctx)
	})
	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	err := group.Wait()
	// Plan runs are detached from ctx so they survive their caller;
	// stop them explicitly on engine shutdown.
	a.twap.Shutdown()
	if cerr := a.journal.Close(); cerr != nil {
		logger.Warnf("journal close failed: %v", cerr)
	}
	return err
}

// Scheduler exposes the TWAP scheduler, for harnesses.
func (a *App) Scheduler() *twap.Scheduler {
	if a == nil {
		return nil
	}
	return a.twap
}
