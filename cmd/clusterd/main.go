// Command clusterd runs the geographic clustering engine as a long-lived
// process: it hydrates the address registry from the configured store,
// wires discovery and cluster lifecycle services, and exposes Prometheus
// metrics. The public API surface (HTTP routing, auth, billing) lives in
// separate layers that call into this engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mowshare/cluster-engine/engine"
	"github.com/mowshare/cluster-engine/geocode"
	"github.com/mowshare/cluster-engine/internal/config"
	"github.com/mowshare/cluster-engine/internal/logging"
	"github.com/mowshare/cluster-engine/internal/observability"
	"github.com/mowshare/cluster-engine/registry"
	"github.com/mowshare/cluster-engine/roads"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "clusterd:", err)
		os.Exit(1)
	}
}

func run() error {
	discoverHost := flag.String("discover-host", "", "run a one-off neighbor discovery for the given host ID and exit")
	flag.Parse()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewEngineCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}

	reg := registry.New(store, buildGeocoder(cfg, log), log,
		registry.WithMetricsRecorder(collector))
	if err := reg.Load(ctx); err != nil {
		return err
	}
	hosts, neighbors := reg.Counts()
	log.Info(ctx, "registry ready",
		logging.Int("hosts", hosts), logging.Int("neighbors", neighbors))

	gateway, filter := buildRoadStack(cfg, log)
	discovery := engine.NewDiscovery(reg, gateway, filter, engine.Config{
		DiscoveryRadiusMeters: cfg.DiscoveryRadiusMeters,
		RoadFetchMultiplier:   cfg.RoadFetchMultiplier,
	}, log, engine.WithDiscoveryMetrics(collector))

	lifecycle := engine.NewLifecycle(discovery, reg, log,
		engine.WithCapacity(cfg.ClusterCapacity),
		engine.WithClusterMetrics(collector))

	if *discoverHost != "" {
		return runDiscovery(ctx, discovery, log, *discoverHost)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	// Membership operations are driven by the API layer; the daemon itself
	// only exposes a liveness summary.
	mux.HandleFunc("GET /statusz", func(w http.ResponseWriter, _ *http.Request) {
		hosts, neighbors := reg.Counts()
		fmt.Fprintf(w, "hosts %d\nneighbors %d\nclusters %d\n",
			hosts, neighbors, lifecycle.ClusterCount())
	})

	server := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info(ctx, "clusterd started",
		logging.String("metrics_addr", cfg.MetricsAddr),
		logging.Float64("discovery_radius_m", cfg.DiscoveryRadiusMeters))

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "server shutdown failed", logging.Err(err))
	}
	log.Info(context.Background(), "clusterd stopped")
	return nil
}

func buildStore(ctx context.Context, cfg *config.Config) (registry.Store, error) {
	switch {
	case cfg.DynamoTable != "":
		store, err := registry.NewDynamoStore(ctx, cfg.DynamoTable)
		if err != nil {
			return nil, fmt.Errorf("dynamo store: %w", err)
		}
		return store, nil
	case cfg.SeedCSVPath != "":
		store, err := registry.NewCSVStore(cfg.SeedCSVPath)
		if err != nil {
			return nil, fmt.Errorf("csv store: %w", err)
		}
		return store, nil
	default:
		return registry.NewMemStore(), nil
	}
}

func buildGeocoder(cfg *config.Config, log logging.Logger) geocode.Geocoder {
	if cfg.MapboxToken != "" {
		return geocode.NewMapbox(cfg.MapboxToken, log,
			geocode.WithMapboxTimeout(cfg.GeocodeTimeout))
	}
	// Without a token every coordinate-less registration fails geocoding;
	// explicit coordinates still work.
	return geocode.NewStatic()
}

// buildRoadStack selects the accessibility filter variant once, at startup:
// a road-aware filter backed by a cached Overpass gateway, or the
// always-accessible variant when road awareness is switched off.
func buildRoadStack(cfg *config.Config, log logging.Logger) (roads.Gateway, roads.AccessibilityFilter) {
	if !cfg.RoadAware {
		return nil, roads.AlwaysAccessible{}
	}
	gateway := roads.NewOverpass(cfg.RoadBufferMeters, log,
		roads.WithOverpassEndpoint(cfg.OverpassEndpoint),
		roads.WithOverpassTimeout(cfg.RoadFetchTimeout))
	return roads.NewCache(gateway, cfg.RoadCacheTTL), roads.NewRoadAware(log)
}

func runDiscovery(ctx context.Context, discovery *engine.Discovery, log logging.Logger, hostID string) error {
	matches, err := discovery.DiscoverNeighborsForHost(ctx, hostID)
	if err != nil {
		return fmt.Errorf("discover neighbors for %s: %w", hostID, err)
	}
	if len(matches) == 0 {
		fmt.Println("no qualified neighbors")
		return nil
	}
	for _, m := range matches {
		fmt.Printf("%s\t%.1fm\n", m.CandidateID, m.DistanceMeters)
	}
	log.Info(ctx, "one-off discovery finished",
		logging.String("host_id", hostID), logging.Int("qualified", len(matches)))
	return nil
}
