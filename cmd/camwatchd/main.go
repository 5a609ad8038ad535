package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"camwatch/internal/alert"
	"camwatch/internal/camera"
	"camwatch/internal/config"
	"camwatch/internal/eventstore"
)

func main() {
	var (
		configF = flag.String("config", "camwatch.yaml", "Path to the YAML configuration file")
		dbgF    = flag.Bool("debug", false, "Log at debug verbosity")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[camwatchd] ", log.Ltime)

	cfg, err := config.Load(*configF)
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}

	if err := os.MkdirAll(cfg.EventDir, 0o755); err != nil {
		logger.Fatalf("failed to create event directory %s: %v", cfg.EventDir, err)
	}

	var store *eventstore.Store
	if cfg.EventStorePath != "" {
		store, err = eventstore.Open(cfg.EventStorePath)
		if err != nil {
			logger.Fatalf("failed to open event store: %v", err)
		}
		defer store.Close()
	}

	alertClient := alert.NewClient(alert.Config{
		Endpoint:   cfg.AlertEndpoint,
		SigningKey: []byte(cfg.AlertSigningKey),
	})

	workers := make([]*camera.Worker, 0, len(cfg.Cameras))
	for _, camCfg := range cfg.Cameras {
		w, err := camera.NewWorker(camCfg, cfg.EventDir, alertClient, store)
		if err != nil {
			logger.Fatalf("failed to configure camera %q: %v", camCfg.Name, err)
		}
		workers = append(workers, w)
		if *dbgF {
			logger.Printf("configured camera %q (%s, %dx%d @ %dfps)", camCfg.Name, camCfg.Device, camCfg.Width, camCfg.Height, camCfg.FPS)
		}
	}

	// Channel used by the signal handler and the metrics server goroutine
	// to notify the main goroutine when to stop.
	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	for _, w := range workers {
		wg.Add(1)
		go func(w *camera.Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Printf("metrics listening on %s", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errc <- err
			}
		}()

		go func() {
			<-ctx.Done()
			srv.Close()
		}()
	}

	logger.Printf("exiting (%v)", <-errc)
	cancel()
	wg.Wait()
	logger.Println("exited")
}
