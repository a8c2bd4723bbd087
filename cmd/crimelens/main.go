package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/crimelens-lab/crimelens/internal/core/catalog"
	corecfg "github.com/crimelens-lab/crimelens/internal/core/config"
	"github.com/crimelens-lab/crimelens/internal/enrichment"
	"github.com/crimelens-lab/crimelens/internal/migrations"
	"github.com/crimelens-lab/crimelens/internal/provider"
	"github.com/crimelens-lab/crimelens/internal/server"
	"github.com/crimelens-lab/crimelens/internal/stats"
	"github.com/crimelens-lab/crimelens/internal/storage"
	"github.com/crimelens-lab/crimelens/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "crimelens.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"provider_base_url", cfg.Provider.BaseURL,
		"archive_enabled", cfg.Database.Enabled,
	)

	requestTimeout, err := cfg.Provider.RequestTimeoutDuration()
	if err != nil {
		slog.Error("Invalid provider request timeout", "value", cfg.Provider.RequestTimeout, "error", err)
		os.Exit(1)
	}

	// 2. Initialize Record Archive (optional PostgreSQL)
	var sink storage.RecordSink
	var dbAdapter *postgres.Adapter
	if cfg.Database.Enabled {
		dbAdapter, err = postgres.NewAdapter(
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
		)
		if err != nil {
			slog.Error("Failed to initialize record archive", "error", err)
			os.Exit(1)
		}
		defer dbAdapter.Close()

		// 2.1. Run Database Migrations
		if err := migrations.Apply(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
			slog.Error("Failed to run database migrations", "error", err)
			os.Exit(1)
		}
		sink = dbAdapter
	} else {
		slog.Info("Record archive disabled, running in-memory only")
	}

	// 3. Load Offense Catalog
	cat, err := catalog.Load(cfg.Enrichment.CatalogPath)
	if err != nil {
		slog.Error("Failed to load offense catalog", "error", err, "path", cfg.Enrichment.CatalogPath)
		os.Exit(1)
	}
	slog.Info("Offense catalog loaded", "offenses", cat.Len())

	// 4. Initialize Provider Client
	client := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, requestTimeout)

	// 5. Initialize Enrichment Orchestrator
	broadcaster := enrichment.LogBroadcaster{}
	sequencer := enrichment.NewSequencer(client, cat, enrichment.SequencerOptions{
		Broadcaster:  broadcaster,
		Sink:         sink,
		ErrorBudget:  cfg.Enrichment.ErrorBudget,
		DefaultYears: catalog.RecentExtractionYears(cfg.Enrichment.DefaultYearsN),
	})
	enricher := enrichment.NewEnricher(
		enrichment.NewRegistry(),
		enrichment.NewCacheProbe(client),
		sequencer,
		broadcaster,
	)
	bulk := enrichment.NewBulkDispatcher(client, cfg.Enrichment.BulkJobType, cfg.Enrichment.BulkWorkers)
	enrichHandler := enrichment.NewHandler(enricher, bulk, cat)

	// 6. Initialize Stats (series query API)
	statsSvc := stats.NewService(client, sink)

	// 7. Initialize Server
	healthDB := dbAdapterDB(dbAdapter)
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), healthDB, cfg.Server.Mode, cfg.Server.MaxBodySizeMB)
	enrichHandler.RegisterRoutes(srv.Engine)
	statsSvc.RegisterRoutes(srv.Engine)

	// 8. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// dbAdapterDB unwraps the optional archive for the health check. A nil
// adapter must stay a nil *sql.DB so the server skips the ping.
func dbAdapterDB(a *postgres.Adapter) *sql.DB {
	if a == nil {
		return nil
	}
	return a.DB()
}
