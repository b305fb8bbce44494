// Command dataview-server is the composition root: it loads
// configuration, wires the cache, invalidation graph, job queue,
// observer runtime, and the HTTP/gRPC front doors, then serves until
// signaled to stop. Env-driven config, a retry-connect loop against
// Postgres, and two listeners (HTTP ops, gRPC data plane) running side
// by side.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	_ "go.uber.org/automaxprocs"

	"github.com/dataview/dataview/internal/grpcserver"
	"github.com/dataview/dataview/internal/httpserver"
	"github.com/dataview/dataview/pkg/cache"
	"github.com/dataview/dataview/pkg/config"
	"github.com/dataview/dataview/pkg/eventbus"
	"github.com/dataview/dataview/pkg/invalidate"
	"github.com/dataview/dataview/pkg/jobqueue"
	"github.com/dataview/dataview/pkg/logging"
	"github.com/dataview/dataview/pkg/observer"
	"github.com/dataview/dataview/pkg/wire"
)

func main() {
	log := logging.New("dataview-server")

	configPath := os.Getenv("DATAVIEW_CONFIG")
	if configPath == "" {
		configPath = "dataview.toml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("failed to load configuration from %s: %v", configPath, err)
		os.Exit(1)
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = defaultDatabaseURL()
	}

	desc, err := wire.ParseURL(cfg.Database.URL)
	if err != nil {
		log.Error("failed to parse database url: %v", err)
		os.Exit(1)
	}

	c, err := cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL(), cfg.Cache.Enabled)
	if err != nil {
		log.Error("failed to build cache: %v", err)
		os.Exit(1)
	}
	deps := invalidate.New()

	queue := jobqueue.NewMemory()

	matcher := observer.NewMatcher()
	dedup := observer.NewDedupStore(0)
	results := observer.NewResultCache()
	dispatcher := observer.NewDispatcher(matcher, dedup, results, queue, log.With("observer"))

	coord := observer.NewCoordinator()
	instanceID := os.Getenv("DATAVIEW_INSTANCE_ID")
	if instanceID == "" {
		instanceID, _ = os.Hostname()
	}
	coord.Register(instanceID, time.Now())
	breakers := observer.NewDegradationMonitor()

	pool, bus, err := connectEventSource(cfg, log)
	if err != nil {
		log.Error("failed to connect event source: %v", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	}
	if bus != nil {
		defer bus.Close()
	}

	workers := jobqueue.NewPool(queue, dispatcher.RunJob, jobqueue.PoolOptions{Logger: log.With("worker-pool")})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go workers.Run(ctx)

	if bus != nil {
		go consumeEvents(ctx, bus, dispatcher, coord, instanceID, log.With("eventloop"))
	}

	httpSrv := httpserver.New(c, queue, deps, breakers, coord, dispatcher, log.With("httpserver"))
	httpListener := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: httpSrv.Routes(),
	}

	grpcSrv := grpcserver.New(desc, coord, breakers, log.With("grpcserver"))
	grpcServer := grpc.NewServer()
	grpcSrv.Register(grpcServer)
	reflection.Register(grpcServer)

	grpcPort := os.Getenv("DATAVIEW_GRPC_PORT")
	if grpcPort == "" {
		grpcPort = "9090"
	}
	grpcListener, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		log.Error("failed to listen for gRPC on port %s: %v", grpcPort, err)
		os.Exit(1)
	}

	errs := make(chan error, 2)
	go func() {
		log.Info("http ops server listening on %s", httpListener.Addr)
		if err := httpListener.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		log.Info("grpc server listening on :%s", grpcPort)
		if err := grpcServer.Serve(grpcListener); err != nil {
			errs <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errs:
		log.Error("server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpListener.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	coord.Stop(instanceID)
}

// consumeEvents subscribes to bus and feeds every delivered event
// through dispatcher, heartbeating the coordinator so other instances
// can tell this one is still alive for leader election.
func consumeEvents(ctx context.Context, bus eventbus.EventTransport, dispatcher *observer.Dispatcher, coord *observer.Coordinator, instanceID string, log logging.Logger) {
	items, err := bus.Subscribe(ctx, eventbus.Filter{})
	if err != nil {
		log.Error("failed to subscribe to event bus: %v", err)
		return
	}

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			coord.Heartbeat(instanceID, time.Now())
		case item, ok := <-items:
			if !ok {
				return
			}
			if item.Err != nil {
				log.Warn("event bus item error: %v", item.Err)
				continue
			}
			if err := dispatcher.Dispatch(ctx, item.Event, time.Now()); err != nil {
				log.Error("dispatch failed for %s/%s: %v", item.Event.EntityType, item.Event.EntityID, err)
			}
		}
	}
}

// defaultDatabaseURL builds a connection string from per-field DB_*
// environment variables, each falling back to a sensible local default,
// for when no config file sets database.url.
func defaultDatabaseURL() string {
	host := envOr("DB_HOST", "localhost")
	port := envOr("DB_PORT", "5432")
	user := envOr("DB_USER", "dataview")
	password := envOr("DB_PASSWORD", "dataview")
	name := envOr("DB_NAME", "dataview")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// connectEventSource dials Postgres with a bounded retry loop (the
// database container may still be starting up) and wraps the pool in a
// pkg/eventbus LISTEN/NOTIFY transport.
func connectEventSource(cfg config.Config, log logging.Logger) (*pgxpool.Pool, eventbus.EventTransport, error) {
	pgConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.Database.MaxConnections > 0 {
		pgConfig.MaxConns = int32(cfg.Database.MaxConnections)
	}

	const maxRetries = 30
	const retryDelay = 2 * time.Second

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= maxRetries; attempt++ {
		log.Info("connecting to database (attempt %d/%d)", attempt, maxRetries)
		pool, err = pgxpool.NewWithConfig(context.Background(), pgConfig)
		if err == nil {
			break
		}
		log.Warn("database connection failed: %v", err)
		if attempt < maxRetries {
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connect after %d attempts: %w", maxRetries, err)
	}

	return pool, eventbus.NewPostgres(pool, "dataview_events", log.With("eventbus")), nil
}
