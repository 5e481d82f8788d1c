package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/api"
	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/config"
	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/cron"
	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/output"
	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/readiness"
	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/render"
	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/store"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	once := flag.Bool("once", false, "capture every target once and exit")
	listen := flag.String("listen", "", "API listen address (overrides the configuration)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}

	engine, err := readiness.New(cfg.Readiness.EngineConfig())
	if err != nil {
		log.Fatalf("failed to create readiness engine: %v", err)
	}

	backend, err := render.NewBackend(cfg.Renderer, engine)
	if err != nil {
		log.Fatalf("failed to create renderer: %v", err)
	}

	writer, err := output.NewWriter(cfg.Output)
	if err != nil {
		log.Fatalf("failed to prepare output directory: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		log.Fatalf("failed to create database directory: %v", err)
	}
	st, err := store.NewStore(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer st.Close()

	scheduler := cron.NewScheduler(st, backend, writer, cfg)
	if err := scheduler.SyncTargets(cfg.Targets); err != nil {
		log.Fatalf("failed to sync targets: %v", err)
	}

	if *once {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		ok := captureOnce(ctx, st, scheduler)
		stop()
		scheduler.Stop()
		if !ok {
			st.Close()
			os.Exit(1)
		}
		return
	}

	if err := scheduler.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.NewHandler(st, scheduler, cfg.SMTPConfig),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("API server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server forced to shutdown: %v", err)
	}
	scheduler.Stop()
	log.Println("snapshotd exited")
}

// captureOnce runs every enabled target in turn and reports whether all of
// them produced a ready capture.
func captureOnce(ctx context.Context, st *store.Store, scheduler *cron.Scheduler) bool {
	targets, err := st.ListTargets()
	if err != nil {
		log.Printf("failed to list targets: %v", err)
		return false
	}

	ok := true
	for _, target := range targets {
		if target.Disabled {
			continue
		}
		run, err := scheduler.RunTarget(ctx, target)
		if err != nil {
			if cron.IsNotReady(err) {
				log.Printf("[EXECUTE] Dashboard '%s' not ready: %v", target.Name, err)
			} else {
				log.Printf("[EXECUTE] Capture of '%s' failed: %v", target.Name, err)
			}
			ok = false
			continue
		}
		log.Printf("[EXECUTE] Saved %s and %s", run.PNGPath, run.PDFPath)
		if ctx.Err() != nil {
			return false
		}
	}
	return ok
}
