package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zefa-sync/internal/client"
	"zefa-sync/internal/config"
	"zefa-sync/internal/handler"
	"zefa-sync/internal/scheduler"
	"zefa-sync/internal/service"
	"zefa-sync/internal/storage"
	"zefa-sync/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	store, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to open %s storage: %v", cfg.Storage.Type, err)
	}

	api := client.New(cfg.API.BaseURL, cfg.API.Token, client.NewHTTPClient(cfg.API.Timeout))

	summary := service.NewSummaryCache(api)
	reconciler := service.NewReconciler(store, api, service.ReconcilerConfig{
		ListLimit:   cfg.Sync.ListLimit,
		Concurrency: cfg.Sync.ReconcileConcurrency,
		Invalidate:  summary.Invalidate,
	})
	reconciler.Hydrate()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// The assistant creates and deletes transactions server-side.
	sessions := service.NewChatSessionManager(store, api,
		service.WithTransactionChanged(service.RefreshOnChange(ctx, summary, reconciler, cfg.API.Timeout)),
	)
	sessions.Hydrate()

	loadCtx, cancelLoad := context.WithTimeout(ctx, cfg.API.Timeout)
	if _, err := reconciler.Load(loadCtx); err != nil {
		logger.Warnf("Initial transaction load failed, continuing with local state: %v", err)
	}
	cancelLoad()

	cancelSchedule, err := scheduler.Start(ctx, cfg.Sync.ReconcileCron, func(ctx context.Context) {
		if _, err := reconciler.Load(ctx); err != nil {
			logger.Warnf("Scheduled reload failed: %v", err)
		}
	})
	if err != nil {
		logger.Fatalf("Failed to start reconcile schedule: %v", err)
	}
	defer cancelSchedule()

	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(cfg,
		handler.NewChatHandler(sessions),
		handler.NewTransactionHandler(reconciler, summary),
	)

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		logger.Infof("Server listening on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	if err := store.Close(); err != nil {
		logger.Errorf("Failed to close storage: %v", err)
	}
	logger.Info("Server stopped")
}
