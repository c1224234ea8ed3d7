package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/luxfi/database/manager"
	"github.com/luxfi/log"

	"github.com/marketsim/engine/pkg/api"
	"github.com/marketsim/engine/pkg/config"
	"github.com/marketsim/engine/pkg/engine"
	"github.com/marketsim/engine/pkg/market"
	"github.com/marketsim/engine/pkg/metrics"
	"github.com/marketsim/engine/pkg/notify"
	"github.com/marketsim/engine/pkg/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	httpAddr := flag.String("http", cfg.HTTPAddr, "gateway listen address")
	metricsAddr := flag.String("metrics", cfg.MetricsAddr, "metrics listen address")
	natsURL := flag.String("nats", cfg.NATSURL, "NATS server URL (empty disables publishing)")
	dataDir := flag.String("data", cfg.DataDir, "database directory")
	logLevel := flag.String("log-level", cfg.LogLevel, "log level")
	flag.Parse()

	level, _ := log.ToLevel(*logLevel)
	logger := log.NewTestLogger(level)

	dataPath, err := filepath.Abs(*dataDir)
	if err != nil {
		logger.Error("invalid data directory", "dir", *dataDir, "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		logger.Error("failed to create data directory", "dir", dataPath, "error", err)
		os.Exit(1)
	}

	dbManager := manager.NewManager(dataPath, nil)
	dbConfig := manager.DefaultBadgerDBConfig("badgerdb")
	dbConfig.Namespace = "tradingengine"
	db, err := dbManager.New(dbConfig)
	if err != nil {
		logger.Warn("failed to open BadgerDB, using in-memory database", "error", err)
		db, err = dbManager.New(manager.DefaultMemoryConfig())
		if err != nil {
			logger.Error("failed to create database", "error", err)
			os.Exit(1)
		}
	}
	defer db.Close()

	tradeStore, err := store.New(db, logger.New("module", "store"))
	if err != nil {
		logger.Error("failed to open trade store", "error", err)
		os.Exit(1)
	}

	met := metrics.New("tradingengine")

	var listeners []market.Listener
	if *natsURL != "" {
		pub, err := notify.New(*natsURL, "market", logger.New("module", "notify"))
		if err != nil {
			logger.Warn("NATS unavailable, events will not be published", "url", *natsURL, "error", err)
		} else {
			defer pub.Close()
			listeners = append(listeners, pub)
		}
	}

	// One engine per partition; each engine owns its products exclusively.
	partitions := config.Partition(cfg.Products, cfg.Engines)
	engines := make(map[string]api.Engine, len(cfg.Products))
	var started []*engine.Engine

	gateway := api.New(engines, logger.New("module", "gateway"))
	listeners = append(listeners, gateway)
	sink := fanOut(listeners)

	for i, products := range partitions {
		eng := engine.New(
			engine.Config{Delay: cfg.Delay, Timeout: cfg.Timeout},
			logger.New("module", "engine", "partition", i),
			engine.WithStore(tradeStore),
			engine.WithListener(sink),
			engine.WithMetrics(met),
		)
		for _, p := range products {
			engines[p] = eng
			logger.Debug("mapped product to engine", "productId", p, "partition", i)
		}
		eng.Start()
		started = append(started, eng)
		logger.Info("started trading", "partition", i, "products", len(products))
	}

	gateway.Start()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", met.Handler())
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	server := &http.Server{Addr: *httpAddr, Handler: gateway.Handler()}
	go func() {
		logger.Info("gateway listening", "addr", *httpAddr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("gateway server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	server.Close()
	gateway.Stop()
	for _, eng := range started {
		eng.Stop()
	}
}

// fanOut delivers each event to every sink.
func fanOut(sinks []market.Listener) market.Listener {
	return market.ListenerFunc(func(ev market.Event) {
		for _, s := range sinks {
			s.OnEvent(ev)
		}
	})
}
