// Command rockslide runs the registry, orchestrator, and reverse proxy
// behind a single HTTP listener.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/rockslide/rockslide/internal/config"
	"github.com/rockslide/rockslide/internal/logging"
	"github.com/rockslide/rockslide/internal/orchestrator"
	"github.com/rockslide/rockslide/internal/podman"
	"github.com/rockslide/rockslide/internal/proxy"
	"github.com/rockslide/rockslide/internal/registry"
	"github.com/rockslide/rockslide/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application terminated", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	directive := logging.Parse(cfg.Rockslide.Log)
	mainLog := logging.New(directive, "rockslide")

	masterKey := cfg.MasterKey()
	if masterKey.Locked() {
		mainLog.Warn("no master key configured, registry and management surface are locked")
	}

	contentStore, err := store.New(cfg.Registry.StoragePath, logging.New(directive, logging.Store))
	if err != nil {
		return fmt.Errorf("initialize content store: %w", err)
	}

	driver := podman.New(cfg.Containers.PodmanPath, cfg.PodmanRemote)

	routingRegistry := proxy.NewRegistry()

	orch := orchestrator.New(driver, cfg.Registry.StoragePath+"-runtime", routingRegistry, masterKey, cfg.ReverseProxy.HTTPBind, logging.New(directive, logging.Orchestrator))
	if err := orch.EnsureDirs(); err != nil {
		return fmt.Errorf("initialize orchestrator runtime directories: %w", err)
	}

	registryHandler := registry.New(contentStore, masterKey, orch, logging.New(directive, logging.Registry))
	proxyHandler := proxy.New(routingRegistry, masterKey, orch, orchestrator.DefaultProductionTag, logging.New(directive, logging.Proxy))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(logAccess(mainLog))

	registryHandler.Routes(r)
	r.NotFound(proxyHandler.ServeHTTP)

	srv := &http.Server{
		Addr:    cfg.ReverseProxy.HTTPBind,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Populate the routing table with whatever is already running before
	// accepting traffic.
	orch.UpdatePublishedSet(ctx)

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		mainLog.Info("starting rockslide", "addr", cfg.ReverseProxy.HTTPBind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLog.Error("http server error", "error", err)
			return err
		}
		return nil
	})

	grp.Go(func() error {
		<-gctx.Done()
		mainLog.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			mainLog.Error("failed to shut down http server", "error", err)
			return err
		}
		mainLog.Info("http server shutdown complete")
		return nil
	})

	if err := grp.Wait(); err != nil {
		return err
	}
	mainLog.Info("rockslide exiting normally")
	return nil
}

func logAccess(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.InfoContext(r.Context(), "request",
				"method", r.Method, "path", r.URL.Path, "duration", time.Since(start).String())
		})
	}
}
