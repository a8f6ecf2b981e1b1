/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Warp Compensation Engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Replay persisted parameter versions into the live store
  4. Create API handler with dependencies
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port      HTTP server port (default: 8080)
  -db        SQLite database path (default: comp.db)
             Use ":memory:" for in-memory database
  -tz        Canonical timezone for normalization (default: UTC)
  -workers   Per-physician parallelism for runs (default: 4)
  -identity  JSON file mapping scraped-source aliases to physician IDs,
             e.g. {"Smith, J": "phy-1"}. Run requests may layer more
             aliases on top per run.
  -schedule-dir
             Directory of monthly input drops (2025-03.json). When set,
             the scheduler executes the previous month's run automatically
             once its drop appears.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/comp.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run in the hospital's local zone
  ./server -tz="America/Chicago"

ENVIRONMENT:
  No environment variables currently. All config via flags.
  Future: DATABASE_URL, PORT, LOG_LEVEL

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/comp-engine/api"
	"github.com/warp/comp-engine/engine"
	"github.com/warp/comp-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "comp.db", "SQLite database path")
	tz := flag.String("tz", "UTC", "canonical timezone for normalization")
	workers := flag.Int("workers", 4, "per-physician parallelism for runs")
	identityPath := flag.String("identity", "", "JSON file mapping scraped aliases to physician IDs")
	scheduleDir := flag.String("schedule-dir", "", "directory of monthly input drops; enables the auto-run scheduler")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	loc, err := time.LoadLocation(*tz)
	if err != nil {
		logger.Fatal("invalid timezone", zap.String("tz", *tz), zap.Error(err))
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	// Replay persisted parameter versions into the live store
	params := engine.NewParameterStore()
	sets, err := store.LoadParameterSets(context.Background())
	if err != nil {
		logger.Fatal("failed to load parameter sets", zap.Error(err))
	}
	for _, ps := range sets {
		if err := params.Insert(ps); err != nil {
			logger.Fatal("failed to restore parameter set",
				zap.String("category", string(ps.Category)),
				zap.Time("effective_from", ps.EffectiveFrom),
				zap.Error(err))
		}
	}
	logger.Info("parameter versions restored", zap.Int("count", len(sets)))

	identity, err := loadIdentityTable(*identityPath)
	if err != nil {
		logger.Fatal("failed to load identity table", zap.String("path", *identityPath), zap.Error(err))
	}
	if len(identity) > 0 {
		logger.Info("identity table loaded", zap.Int("aliases", len(identity)))
	}

	// Initialize handler
	cfg := engine.EngineConfig{
		Normalizer: engine.NormalizerConfig{Location: loc, Identity: identity},
		Workers:    *workers,
	}
	handler := api.NewHandler(params, store, store, cfg, loc, logger)

	// Create router
	router := api.NewRouter(handler)

	// Automatic monthly runs, fed from the drop directory
	if *scheduleDir != "" {
		scheduler := api.NewRunScheduler(handler, &api.FileInputProvider{Dir: *scheduleDir, Location: loc})
		scheduler.Start()
		defer scheduler.Stop()
	}

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			zap.String("addr", fmt.Sprintf("http://localhost:%d", *port)),
			zap.String("api", fmt.Sprintf("http://localhost:%d/api", *port)))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// loadIdentityTable reads the alias -> physician ID map. An empty path
// yields an empty table; scraped rows then resolve only through per-request
// identity entries.
func loadIdentityTable(path string) (engine.IdentityTable, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var aliases map[string]string
	if err := json.Unmarshal(data, &aliases); err != nil {
		return nil, err
	}
	return engine.NewIdentityTable(aliases), nil
}
