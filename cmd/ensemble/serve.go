package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/jordanhubbard/ensemble/internal/api"
	"github.com/jordanhubbard/ensemble/internal/hotreload"
	"github.com/jordanhubbard/ensemble/internal/messagebus"
	"github.com/jordanhubbard/ensemble/internal/telemetry"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			if port > 0 {
				a.cfg.Server.HTTPPort = port
			}
			return serve(cmd.Context(), a)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (overrides server.http_port)")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	log.Printf("[Ensemble] Starting v%s in %s mode with %d persona(s)", version, cfg.Mode, len(a.store.Personas()))

	if cfg.Telemetry.Enabled {
		endpoint := cfg.Telemetry.Endpoint
		if env := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); env != "" {
			endpoint = env
		}
		shutdownTelemetry, err := telemetry.InitTelemetry(ctx, cfg.Telemetry.ServiceName, version, endpoint)
		if err != nil {
			log.Printf("[Telemetry] Warning: Failed to initialize telemetry: %v", err)
		} else {
			defer func() {
				if err := shutdownTelemetry(context.Background()); err != nil {
					log.Printf("[Telemetry] Error shutting down telemetry: %v", err)
				}
			}()
		}
	}

	// Edits under the characters root invalidate the config and routing caches.
	if cfg.HotReload.Enabled {
		w, err := hotreload.NewWatcher(cfg.Characters.Root, cfg.HotReload.Debounce)
		if err != nil {
			log.Printf("[HotReload] Initialization failed: %v", err)
		} else {
			w.OnChange(func(changed []string) {
				a.store.Invalidate()
				a.router.Invalidate()
				a.metrics.Invalidations.WithLabelValues("characters").Inc()
				log.Printf("[HotReload] Reloaded characters after %d change(s)", len(changed))
			})
			if err := w.Start(); err != nil {
				log.Printf("[HotReload] Failed to watch %s: %v", cfg.Characters.Root, err)
			} else {
				defer w.Stop()
			}
		}
	}

	if a.bus != nil {
		sub, err := a.bus.SubscribeResults(func(msg *messagebus.ResultsMessage) {
			log.Printf("[NATS] Job %s published %d result(s)", msg.JobID, len(msg.Results))
		})
		if err != nil {
			log.Printf("[NATS] Warning: results subscription failed: %v", err)
		} else {
			defer func() { _ = sub.Unsubscribe() }()
		}
	}

	if cfg.Scheduler.Enabled {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer a.scheduler.Stop()
	}

	server := api.NewServer(api.Deps{
		Config:   cfg,
		Store:    a.store,
		Prompts:  a.prompts,
		Router:   a.router,
		Streamer: a.runner,
		Jobs:     a.scheduler,
		Results:  a.results,
		Logs:     a.logs,
		Auth:     a.auth,
		Metrics:  a.metrics,
	})

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      server.SetupRoutes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[API] Listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Printf("[Ensemble] Shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
