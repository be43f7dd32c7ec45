// Package app assembles the engine from configuration: stores, engines,
// worker pool, watchdog, metric sinks, MQTT egress and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apiassignment "github.com/hfujita/wastematch/api/assignment"
	"github.com/hfujita/wastematch/config"
	"github.com/hfujita/wastematch/core/assignment"
	"github.com/hfujita/wastematch/core/audit"
	"github.com/hfujita/wastematch/core/auction"
	"github.com/hfujita/wastematch/core/events"
	"github.com/hfujita/wastematch/core/matching"
	"github.com/hfujita/wastematch/core/scoring"
	"github.com/hfujita/wastematch/core/store"
	"github.com/hfujita/wastematch/core/tasks"
	"github.com/hfujita/wastematch/core/worker"
	"github.com/hfujita/wastematch/infra/logger"
	"github.com/hfujita/wastematch/infra/metrics"
	"github.com/hfujita/wastematch/infra/mqtt"
	"github.com/hfujita/wastematch/infra/store/memory"
	"github.com/hfujita/wastematch/infra/store/postgres"
	"github.com/hfujita/wastematch/internal/eventbus"
	"github.com/hfujita/wastematch/internal/keylock"
	"github.com/hfujita/wastematch/jobs/auctionwatch"
)

// Stores bundles the persistence layer picked by the configuration.
type Stores struct {
	Cases    store.CaseStore
	Carriers store.CarrierStore
	Bids     store.BidStore
	Matches  store.MatchStore
}

// Service owns the assembled engine.
type Service struct {
	Coordinator *assignment.Coordinator
	Engine      *matching.Engine
	Ledger      *auction.Ledger
	Manager     *auction.Manager
	Stores      Stores
	Bus         *eventbus.TypedBus[events.Event]

	cfg      *config.Config
	pool     *worker.Pool
	watcher  *auctionwatch.Watcher
	notifier *mqtt.Notifier
	audit    audit.Store
	router   *gin.Engine
	log      logger.Logger
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	log := logger.New("service")

	stores, err := buildStores(cfg)
	if err != nil {
		return nil, err
	}
	auditStore, err := buildAudit(cfg)
	if err != nil {
		return nil, err
	}
	sink, err := metrics.Build(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("metric sinks: %w", err)
	}

	bus := eventbus.NewTyped[events.Event]()
	locks := keylock.New(0)

	coord, err := assignment.NewCoordinator(stores.Cases, locks, bus, nil, auditStore, sink, log)
	if err != nil {
		return nil, err
	}
	model := scoring.New(cfg.Scoring)
	engine, err := matching.NewEngine(stores.Cases, stores.Carriers, model, log)
	if err != nil {
		return nil, err
	}
	ledger, err := auction.NewLedger(stores.Cases, stores.Carriers, stores.Bids, locks, bus, auditStore, sink, log)
	if err != nil {
		return nil, err
	}
	manager, err := auction.NewManager(stores.Cases, stores.Bids, locks, coord, sink, log)
	if err != nil {
		return nil, err
	}
	handlers, err := tasks.NewHandlers(stores.Cases, stores.Matches, coord, engine, manager, cfg.Matching, sink, log)
	if err != nil {
		return nil, err
	}
	pool, err := worker.New(cfg.Worker, handlers, log)
	if err != nil {
		return nil, err
	}
	coord.SetQueue(pool)

	watcher, err := auctionwatch.New(cfg.Auctionwatch, stores.Cases, pool, log)
	if err != nil {
		return nil, err
	}

	var notifier *mqtt.Notifier
	if cfg.MQTT.Enabled {
		notifier, err = mqtt.NewNotifier(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("mqtt notifier: %w", err)
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	apiassignment.NewHandler(coord, engine, ledger, manager, auditStore, cfg.Matching, log).Register(router)

	return &Service{
		Coordinator: coord,
		Engine:      engine,
		Ledger:      ledger,
		Manager:     manager,
		Stores:      stores,
		Bus:         bus,
		cfg:         cfg,
		pool:        pool,
		watcher:     watcher,
		notifier:    notifier,
		audit:       auditStore,
		router:      router,
		log:         log,
	}, nil
}

func buildStores(cfg *config.Config) (Stores, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		db, err := postgres.Open(cfg.Storage.Postgres)
		if err != nil {
			return Stores{}, err
		}
		return Stores{
			Cases:    postgres.NewCaseStore(db),
			Carriers: postgres.NewCarrierStore(db),
			Bids:     postgres.NewBidStore(db),
			Matches:  postgres.NewMatchStore(db),
		}, nil
	default:
		return Stores{
			Cases:    memory.NewCaseStore(),
			Carriers: memory.NewCarrierStore(),
			Bids:     memory.NewBidStore(),
			Matches:  memory.NewMatchStore(),
		}, nil
	}
}

func buildAudit(cfg *config.Config) (audit.Store, error) {
	switch cfg.Audit.Backend {
	case "sqlite":
		return audit.NewSQLiteStore(cfg.Audit.Path)
	case "none":
		return audit.NopStore{}, nil
	default:
		return audit.NewJSONLStore(cfg.Audit.Path)
	}
}

// Run starts the workers, the watchdog and the HTTP server, then blocks
// until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.pool.Start(ctx)
	go s.watcher.Run(ctx)
	if s.notifier != nil {
		go s.notifier.Run(ctx, s.Bus)
	}
	if s.cfg.Metrics.PrometheusEnabled {
		metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusPort)
	}

	srv := &http.Server{Addr: s.cfg.Server.Addr(), Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("http server listening on %s", s.cfg.Server.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close releases the resources held by the service.
func (s *Service) Close() error {
	s.pool.Close()
	if s.notifier != nil {
		s.notifier.Disconnect()
	}
	s.Bus.Close()
	return s.audit.Close()
}
