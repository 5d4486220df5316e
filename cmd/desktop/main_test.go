// Package main tests for desktop server initialization and routing.
package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

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
)

func setupTestRepository(t *testing.T) *db.Repository {
	t.Helper()
	logging.Init(os.Stdout, zapcore.InfoLevel)

	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := db.Migrate(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return db.NewRepository(database)
}

func TestMain_HealthEndpoint(t *testing.T) {
	// Simplified version of the mux built in runHTTP.
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"appdeck-desktop"}`))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Health check returned status %d", w.Code)
	}
	if w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", w.Header().Get("Content-Type"))
	}
	expectedBody := `{"status":"ok","service":"appdeck-desktop"}`
	if w.Body.String() != expectedBody {
		t.Errorf("Expected body %q, got %q", expectedBody, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/health", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405 for POST, got %d", w.Code)
	}
}

func TestMain_HandlerCreation(t *testing.T) {
	repo := setupTestRepository(t)

	bus := bridge.NewBus()
	cat := catalog.New("test-device", "Utilities", bus)
	store := remote.NewMemoryStore()

	resolver := conflict.NewResolver(conflict.StrategyUseNewest, bus, repo)

	opQueue, err := queue.New(repo)
	if err != nil {
		t.Fatalf("Failed to restore operation queue: %v", err)
	}

	coordinator := syncpkg.New(syncpkg.Config{DeviceLabel: "test-device"}, store, cat, opQueue, resolver, repo)
	if coordinator == nil {
		t.Fatal("Coordinator should not be nil")
	}

	syncHandler := handlers.NewSyncHandler(coordinator, resolver, repo)
	if syncHandler == nil {
		t.Error("SyncHandler should not be nil")
	}
	catalogHandler := handlers.NewCatalogHandler(cat)
	if catalogHandler == nil {
		t.Error("CatalogHandler should not be nil")
	}

	hub := NewWSHub()
	if hub == nil {
		t.Error("WSHub should not be nil")
	}
}

func TestMain_BuildStoreDefaultsToMemory(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Loading default config failed: %v", err)
	}

	store, err := buildStore(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Building default store failed: %v", err)
	}
	if _, ok := store.(*remote.MemoryStore); !ok {
		t.Errorf("Expected memory store for default backend, got %T", store)
	}
}
