package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dsc-hexbins/server/internal/api"
	"github.com/dsc-hexbins/server/internal/appstore"
	"github.com/dsc-hexbins/server/internal/cache"
	"github.com/dsc-hexbins/server/internal/dataservice"
	"github.com/dsc-hexbins/server/internal/hexbin"
	"github.com/dsc-hexbins/server/internal/metrics"
	"github.com/dsc-hexbins/server/internal/render"
	"github.com/dsc-hexbins/server/pkg/colormap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "override server.port")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}

	log.Printf("Starting hexbin server on port %d", cfg.Server.Port)

	store, err := dataservice.Open(cfg.Data.Driver, cfg.Data.DSN)
	if err != nil {
		return fmt.Errorf("failed to open data service: %w", err)
	}
	defer store.Close()
	if n, err := store.Count(cmd.Context()); err == nil {
		log.Printf("Data service: driver=%s, %d observations", cfg.Data.Driver, n)
	}

	// Initialize cache manager (shared across all sessions)
	cacheManager, err := cache.NewManager(cache.Config{
		GraphicsCacheSizeMB: cfg.Cache.GraphicsSizeMB,
		GraphicsTTL:         cfg.Cache.GraphicsTTL(),
		QueryCacheSize:      cfg.Cache.QueryCacheSize,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheManager.Close()
	backend := dataservice.NewCached(store, cacheManager)

	cmap, err := colormap.ByName(cfg.Widget.Colormap)
	if err != nil {
		return err
	}

	collector, err := metrics.NewCollector(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	appStore := appstore.New()
	appStore.RegisterWidget(cfg.Widget.WidgetID)
	appStore.RegisterWidget(cfg.Widget.SidePanelID)
	appStore.SetFilter(cfg.Widget.WidgetID, cfg.Widget.DefaultPredicate)

	sessions := api.NewSessionRegistry(api.SessionRegistryConfig{
		Store:            appStore,
		WidgetID:         cfg.Widget.WidgetID,
		DefaultPredicate: cfg.Widget.DefaultPredicate,
		Metrics:          collector,
		NewInspector: func(predicate string) *hexbin.Inspector {
			return hexbin.NewInspector(hexbin.Config{
				Querier:          backend,
				Graphics:         backend,
				Panel:            appStore,
				Bridge:           cfg.Widget.Bridge(),
				Colormap:         cmap,
				Metrics:          collector,
				InitialPredicate: predicate,
			})
		},
	})
	sessions.Start()
	defer sessions.Stop()

	log.Printf("Widget %q: side panel %q, layer %q, colormap %s",
		cfg.Widget.WidgetID, cfg.Widget.SidePanelID, cfg.Widget.LayerName, cfg.Widget.Colormap)

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Sessions:    sessions,
		Store:       appStore,
		Widget:      cfg.Widget,
		Title:       cfg.Server.Title,
		Metrics:     collector,
		Cache:       cacheManager,
		Legend:      render.NewLegendRenderer(render.Config{Colormap: cmap}),
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
	return nil
}
