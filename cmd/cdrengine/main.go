// Command cdrengine wires the CDR engine to a demo set of backends and
// an HTTP status surface, reading events from a newline-delimited JSON
// event log in place of a real upstream channel/bridge producer.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowpbx/cdrengine/internal/cdr"
	"github.com/flowpbx/cdrengine/internal/cdrbackends/csv"
	"github.com/flowpbx/cdrengine/internal/cdrbackends/sqlstore"
)

func main() {
	configPath := flag.String("config", "cdr.conf", "path to the [general] ini config file")
	dataDir := flag.String("data-dir", "./data", "directory for the CSV file and SQLite database")
	httpAddr := flag.String("http-addr", ":8081", "address for the status/metrics HTTP surface")
	eventFeed := flag.String("event-feed", "", "path to a newline-delimited JSON event log (optional)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := cdr.LoadConfig(*configPath)
	if err != nil {
		logger.Warn("falling back to default cdr config", "err", err)
		cfg = cdr.DefaultConfig()
	}

	if err := os.MkdirAll(*dataDir, 0o750); err != nil {
		logger.Error("creating data directory", "err", err)
		os.Exit(1)
	}

	engine := cdr.NewEngine(logger, cfg)

	csvBackend, err := csv.Open(*dataDir + "/cdr.csv")
	if err != nil {
		logger.Error("opening csv backend", "err", err)
		os.Exit(1)
	}
	defer csvBackend.Close()
	if err := engine.RegisterBackend("csv", "flat-file CSV export", csvBackend.Sink); err != nil {
		logger.Error("registering csv backend", "err", err)
		os.Exit(1)
	}

	sqlBackend, err := sqlstore.OpenSQLite(logger, *dataDir+"/cdr.db")
	if err != nil {
		logger.Error("opening sql backend", "err", err)
		os.Exit(1)
	}
	defer sqlBackend.Close()
	if err := engine.RegisterBackend("sqlstore", "embedded SQLite store", sqlBackend.Sink); err != nil {
		logger.Error("registering sql backend", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)
	defer engine.Shutdown()

	registry := prometheus.NewRegistry()
	registry.MustRegister(cdr.NewCollector(engine))

	mux := chi.NewRouter()
	mux.Get("/status", statusHandler(engine))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: *httpAddr, Handler: mux}
	go func() {
		logger.Info("cdr status surface listening", "addr", *httpAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "err", err)
		}
	}()

	if *eventFeed != "" {
		if err := feedEvents(engine, *eventFeed); err != nil {
			logger.Error("feeding events", "err", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("cdrengine shutting down")
	server.Close()
}

func statusHandler(engine *cdr.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, engine.Status().String())
	}
}
