/*
main.go - Application entry point

PURPOSE:

	Initializes and starts the Bottom-Up Quantification engine server.
	Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
 1. Load configuration (environment, optional .env file)
 2. Build the zap logger
 3. Open the SQLite store (schema migrates on open)
 4. Wire the reference-data client (HTTP, or fixtures in demo mode)
 5. Assemble workflow, metrics observer, handler and router
 6. Start the server with graceful shutdown

CONFIGURATION (environment, see config package):

	PORT           HTTP server port (default: 8080)
	DATABASE_PATH  SQLite database path (default: buq.db)
	REFDATA_URL    Reference-data service base URL; empty = demo fixtures
	REFDATA_TOKEN  Bearer token for the reference-data service
	CURRENCY       ISO currency code anchoring all money (default: USD)
	LOG_LEVEL      zap level (default: info)

GRACEFUL SHUTDOWN:

	On SIGINT/SIGTERM:
	1. Stop accepting new connections
	2. Wait for active requests to complete (30s timeout)
	3. Close database connection
	4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment loading
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openforecast/buq-engine/api"
	"github.com/openforecast/buq-engine/buq"
	"github.com/openforecast/buq-engine/config"
	"github.com/openforecast/buq-engine/logging"
	"github.com/openforecast/buq-engine/metrics"
	"github.com/openforecast/buq-engine/refdata"
	"github.com/openforecast/buq-engine/store/sqlite"
)

func main() {
	envFile := flag.String("env", "", "path to .env file (optional)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		panic(err)
	}

	logger := logging.Must(logging.New(cfg.LogLevel))
	defer func() { _ = logger.Sync() }()

	// Store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to open database", zap.String("path", cfg.Database.Path), zap.Error(err))
	}
	defer store.Close()

	// Reference data: HTTP when configured, demo fixtures otherwise.
	var refData buq.ReferenceData
	if cfg.RefData.URL != "" {
		refData = refdata.NewClient(cfg.RefData.URL, cfg.RefData.Token)
		logger.Info("reference data over HTTP", zap.String("url", cfg.RefData.URL))
	} else {
		refData = demoReferenceData(cfg.Currency)
		logger.Warn("REFDATA_URL not set, serving demo reference fixtures")
	}

	// Workflow
	workflow := buq.NewWorkflow(store, refData, store, logging.Named(logger, "workflow"), cfg.Currency)
	workflow.Observer = metrics.NewWorkflow(prometheus.DefaultRegisterer)

	// HTTP
	handler := api.NewHandler(workflow, store, logging.Named(logger, "api"))
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
	}
	logger.Info("server stopped")
}

// demoReferenceData seeds a single facility/program/period so the API
// is exercisable without a reference-data service.
func demoReferenceData(currency string) *refdata.Static {
	static := refdata.NewStatic()

	static.Programs["program-demo"] = buq.Program{ID: "program-demo", Name: "Essential Medicines"}
	static.Facilities["facility-demo"] = buq.Facility{
		ID:                "facility-demo",
		Name:              "Demo District Hospital",
		SupervisoryNodeID: "node-demo",
		SupportedPrograms: []buq.SupportedProgram{{
			ProgramID:        "program-demo",
			Active:           true,
			SupportActive:    true,
			SupportStartDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		}},
	}
	static.Periods["period-demo"] = buq.Period{
		ID:        "period-demo",
		StartDate: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
	}
	static.ApprovedProducts["facility-demo/program-demo"] = []buq.ApprovedProduct{
		{
			OrderableID:  "orderable-paracetamol",
			Packaging:    buq.Packaging{NetContent: 100, PackRoundingThreshold: 50},
			PricePerPack: buq.Money{Amount: decimal.NewFromFloat(3.25), Currency: currency},
		},
		{
			OrderableID:  "orderable-amoxicillin",
			Packaging:    buq.Packaging{NetContent: 20, PackRoundingThreshold: 10},
			PricePerPack: buq.Money{Amount: decimal.NewFromFloat(7.80), Currency: currency},
		},
	}
	return static
}
