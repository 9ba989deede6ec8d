package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"fetchqueue/internal/config"
	"fetchqueue/internal/engine"
	"fetchqueue/internal/httpapi"
	"fetchqueue/internal/observability"
	"fetchqueue/internal/reconcile"
	"fetchqueue/internal/scheduler"
	"fetchqueue/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	store := tasks.NewStore()

	ctx := context.Background()
	journal, err := tasks.NewRepository(ctx, cfg.DatabaseURL, cfg.DataDir)
	if err != nil {
		log.Fatalf("task journal init failed: %v", err)
	}
	if journal != nil {
		defer journal.Close()
	}

	var (
		eng   engine.Engine
		aria2 *engine.Aria2Engine
	)
	switch strings.ToLower(strings.TrimSpace(cfg.EngineMode)) {
	case "mock":
		eng = engine.NewMock()
		log.Printf("engine: mock")
	default:
		// "auto" and "aria2" both talk to the configured daemon; aria2
		// availability is only observable at dispatch time anyway.
		aria2 = engine.NewAria2Engine(cfg.Aria2RPCURL, cfg.Aria2Secret)
		eng = aria2
		log.Printf("engine: aria2 at %s", cfg.Aria2RPCURL)
	}

	sched := scheduler.New(store, eng, cfg.MaxConcurrentDownloads, cfg.DownloadDir)
	sched.SetJournal(journal)
	sched.SetMetrics(metrics)
	eng.UpdateConcurrencyLimit(cfg.MaxConcurrentDownloads)

	if restored, err := sched.RestoreFromJournal(ctx); err != nil {
		log.Printf("journal restore failed: %v", err)
	} else if restored > 0 {
		log.Printf("restored %d task(s) from journal", restored)
	}

	reconciler := reconcile.New(store, sched, metrics)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	if mock, ok := eng.(*engine.Mock); ok {
		mock.SetHandler(reconciler.Apply)
	}
	if aria2 != nil {
		pump := engine.NewPump(aria2, cfg.Aria2EventsURL, cfg.EnginePollInterval, reconciler.Apply)
		go func() {
			if err := pump.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("engine event pump stopped: %v", err)
			}
		}()
	}

	api := httpapi.New(cfg, sched, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
