package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/kimhsiao/appdeck/cmd/desktop/handlers"
	"github.com/kimhsiao/appdeck/internal/bridge"
	"github.com/kimhsiao/appdeck/internal/catalog"
	"github.com/kimhsiao/appdeck/internal/config"
	"github.com/kimhsiao/appdeck/internal/db"
	"github.com/kimhsiao/appdeck/internal/logging"
	"github.com/kimhsiao/appdeck/internal/remote"
	syncpkg "github.com/kimhsiao/appdeck/internal/sync"
	"github.com/kimhsiao/appdeck/internal/sync/conflict"
	"github.com/kimhsiao/appdeck/internal/sync/queue"
	"github.com/kimhsiao/appdeck/internal/sync/reachability"
)

const probeTimeout = 5 * time.Second

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "appdeck-desktop",
		Short: "Local appdeck server for desktop platforms",
		Long: "appdeck-desktop runs the category catalog, the multi-device sync\n" +
			"coordinator, and the REST/WebSocket API the desktop UI talks to.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "appdeck.toml", "path to the configuration file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	logging.Init(os.Stdout, level)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	repo := db.NewRepository(database)

	deviceID, err := repo.DeviceID()
	if err != nil {
		return fmt.Errorf("resolving device identity: %w", err)
	}
	device := cfg.DeviceLabel + "/" + deviceID[:8]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := bridge.NewBus()
	cat := catalog.New(device, cfg.Sync.FallbackCategory, bus)

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}

	strategy, err := conflict.ParseStrategy(cfg.Sync.Strategy)
	if err != nil {
		return fmt.Errorf("configuring conflict strategy: %w", err)
	}
	resolver := conflict.NewResolver(strategy, bus, repo)

	opQueue, err := queue.New(repo)
	if err != nil {
		return fmt.Errorf("restoring pending operation queue: %w", err)
	}

	coordinator := syncpkg.New(syncpkg.Config{
		AutoInterval:   cfg.AutoInterval(),
		CallTimeout:    cfg.CallTimeout(),
		DeviceLabel:    device,
		InitialEnabled: cfg.Sync.Enabled,
	}, store, cat, opQueue, resolver, repo)

	hub := NewWSHub()
	coordinator.OnStatus(hub.BroadcastStatus)
	// Subscribe before the coordinator and monitor can publish anything.
	hub.SubscribeBridge(bus)

	go cat.Run(ctx)
	go hub.PumpBridge(ctx)
	go coordinator.Run(ctx)

	monitor := reachability.New(
		reachability.TCPProbe(cfg.Reachability.ProbeAddr, probeTimeout),
		cfg.ProbeInterval(),
	)
	monitor.OnTransition(coordinator.NotifyReachability)
	monitor.Start(ctx)

	logging.Info("appdeck desktop server starting", map[string]interface{}{
		"listen_addr": cfg.ListenAddr,
		"device":      device,
		"backend":     cfg.Remote.Backend,
		"strategy":    string(strategy),
	})

	return runHTTP(ctx, cfg, coordinator, resolver, repo, cat, hub)
}

func buildStore(ctx context.Context, cfg *config.Config) (remote.Store, error) {
	switch cfg.Remote.Backend {
	case "postgres":
		store, err := remote.NewPostgresStore(cfg.Remote.DSN, cfg.Remote.AccountToken)
		if err != nil {
			return nil, fmt.Errorf("connecting to remote store: %w", err)
		}
		schemaCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout())
		defer cancel()
		if err := store.EnsureSchema(schemaCtx); err != nil {
			return nil, fmt.Errorf("preparing remote schema: %w", err)
		}
		return store, nil
	default:
		return remote.NewMemoryStore(), nil
	}
}

func runHTTP(ctx context.Context, cfg *config.Config, coordinator *syncpkg.Coordinator,
	resolver *conflict.Resolver, repo *db.Repository, cat *catalog.Catalog, hub *WSHub) error {

	syncHandler := handlers.NewSyncHandler(coordinator, resolver, repo)
	catalogHandler := handlers.NewCatalogHandler(cat)

	health := healthcheck.NewHandler()
	health.AddReadinessCheck("remote", healthcheck.TCPDialCheck(cfg.Reachability.ProbeAddr, probeTimeout))

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"appdeck-desktop"}`))
	})
	mux.HandleFunc("/live", health.LiveEndpoint)
	mux.HandleFunc("/ready", health.ReadyEndpoint)

	mux.HandleFunc("/api/sync/status", syncHandler.Status)
	mux.HandleFunc("/api/sync/now", syncHandler.SyncNow)
	mux.HandleFunc("/api/sync/enabled", syncHandler.SetEnabled)
	mux.HandleFunc("/api/sync/conflicts", syncHandler.Conflicts)
	mux.HandleFunc("/api/sync/conflicts/resolve", syncHandler.Resolve)

	mux.HandleFunc("/api/catalog/categories", catalogHandler.Categories)
	mux.HandleFunc("/api/catalog/categories/update", catalogHandler.UpdateCategory)
	mux.HandleFunc("/api/catalog/categories/delete", catalogHandler.DeleteCategory)
	mux.HandleFunc("/api/catalog/assignments", catalogHandler.Assignments)

	mux.HandleFunc("/ws", hub.ServeWS)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logging.Info("Shutting down")
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
