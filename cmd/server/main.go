/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the skill achievement engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load layered configuration (defaults, yaml file, SKILLS_ env)
  3. Initialize SQLite store
  4. Wire the engine (ledger, aggregator, workflow, views, graph)
  5. Start the expiration sweeper
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -db      SQLite database path override. Use ":memory:" for an
           in-memory database.
  -seed    Load a demo scenario before serving (development only)

CONFIGURATION:
  Defaults are layered under an optional yaml file (SKILLS_CONFIG) and
  SKILLS_-prefixed environment variables. See config/loader.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the expiration sweeper
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/skills.db"

  # Run an in-memory demo
  ./server -db=":memory:" -seed=getting-started

  # Run on a different port
  SKILLS_ADDR=":3000" ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - config/loader.go: Layered configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pathway/skill-engine/api"
	"github.com/pathway/skill-engine/config"
	"github.com/pathway/skill-engine/engine"
	"github.com/pathway/skill-engine/store/sqlite"
)

func main() {
	dbOverride := flag.String("db", "", "SQLite database path override")
	seedScenario := flag.String("seed", "", "demo scenario to load before serving")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *dbOverride != "" {
		cfg.DBPath = *dbOverride
	}

	settings, err := cfg.EngineSettings()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire the engine
	locks := engine.NewKeyLocks()
	ledger := engine.NewLedger(store)
	agg := engine.NewAggregator(ledger, store, locks)
	levels := &engine.LevelService{Levels: store, Defs: store, Celebrations: store}
	badgeEval := &engine.BadgeEvaluator{Badges: store, Defs: store, Agg: agg, Levels: levels}
	path := &engine.LearningPath{Edges: store, Defs: store, Agg: agg, BadgeEval: badgeEval}
	workflow := &engine.Workflow{Approvals: store, Agg: agg, Locks: locks}
	views := &engine.Views{Agg: agg, Levels: levels, BadgeEval: badgeEval}
	sweep := &engine.Sweep{Ledger: ledger, Defs: store, Runs: store, Locks: locks}

	handler := &api.Handler{
		Agg:       agg,
		Workflow:  workflow,
		Views:     views,
		Path:      path,
		BadgeEval: badgeEval,
		Levels:    levels,
		Sweep:     sweep,

		Defs:       store,
		Badges:     store,
		Approvals:  store,
		LevelStore: store,
		Runs:       store,

		Settings: settings,
	}

	if *seedScenario != "" {
		if err := api.Seed(context.Background(), handler, *seedScenario); err != nil {
			log.Fatalf("Failed to seed scenario %q: %v", *seedScenario, err)
		}
		log.Printf("Loaded demo scenario %q", *seedScenario)
	}

	// Background expiration sweeper
	sweeper := api.NewExpirationSweeper(sweep, settings)
	sweeper.CheckInterval = time.Duration(cfg.SweepIntervalMinutes) * time.Minute
	sweeper.Enabled = cfg.SweepEnabled
	sweeper.Start()
	defer sweeper.Stop()

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on %s", cfg.Addr)
		log.Printf("📊 API available at %s/api, metrics at %s/metrics", cfg.Addr, cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
