// Package main provides the Timeline service entry point.
package main

import (
	"context"
	"crypto/ed25519"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/logline-run/logline/infrastructure/dbconn"
	slconfig "github.com/logline-run/logline/infrastructure/config"
	sllogging "github.com/logline-run/logline/infrastructure/logging"
	slmetrics "github.com/logline-run/logline/infrastructure/metrics"
	slmiddleware "github.com/logline-run/logline/infrastructure/middleware"
	"github.com/logline-run/logline/internal/identity"
	"github.com/logline-run/logline/internal/mesh"
	"github.com/logline-run/logline/internal/timeline"
)

func main() {
	_ = godotenv.Load(".env." + slconfig.GetEnv("LOGLINE_ENV", "development"))

	logger := sllogging.NewFromEnv("timeline")

	var store timeline.Store
	var fileStoreRef *timeline.FileStore
	dsn := slconfig.GetEnv("TIMELINE_DATABASE_URL", "")
	if dsn != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err := database.Open(ctx, dsn) // dbconn package is named "database"
		cancel()
		if err != nil {
			log.Fatalf("connect timeline database: %v", err)
		}
		if err := timeline.Migrate(db); err != nil {
			log.Fatalf("apply timeline migrations: %v", err)
		}
		store = timeline.NewPostgresStore(db)
		logger.Info(context.Background(), "timeline store: postgres", nil)
	} else {
		dir := slconfig.GetEnv("TIMELINE_FILE_STORE_DIR", "./data/timeline")
		fileStore, err := timeline.NewFileStore(dir)
		if err != nil {
			log.Fatalf("open timeline file store: %v", err)
		}
		store = fileStore
		fileStoreRef = fileStore
		logger.Warn(context.Background(), "timeline store: file (no TIMELINE_DATABASE_URL configured)", map[string]interface{}{"dir": dir})
	}

	registry := identity.NewRegistry()
	resolver := func(id string) (ed25519.PublicKey, bool) {
		rec, ok := registry.Get(id)
		if !ok {
			return nil, false
		}
		return rec.PublicKey, true
	}

	hub := mesh.NewHub("timeline", logger)
	svc := timeline.NewService(store, resolver, hub)

	statsInterval := slconfig.GetEnv("TIMELINE_STATS_CRON", "*/30 * * * * *")
	statsCache := timeline.NewStatsCache(store, statsInterval)

	router := mux.NewRouter()
	router.Use(slmiddleware.LoggingMiddleware(logger))
	router.Use(slmiddleware.NewRecoveryMiddleware(logger).Handler)
	if slmetrics.Enabled() {
		collector := slmetrics.Init("timeline")
		router.Use(slmiddleware.MetricsMiddleware("timeline", collector))
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	svc.RegisterRoutes(router)
	router.HandleFunc("/mesh", hub.ServeHTTP)

	ctx, cancel := context.WithCancel(context.Background())
	if err := statsCache.Start(ctx); err != nil {
		log.Fatalf("start stats cache: %v", err)
	}

	var compactionCron *cron.Cron
	if fileStoreRef != nil {
		compactionCron = cron.New()
		if _, err := compactionCron.AddFunc("@every 10m", func() {
			if err := fileStoreRef.Compact(); err != nil {
				logger.Error(context.Background(), "timeline: manifest compaction failed", err, nil)
			}
		}); err != nil {
			log.Fatalf("schedule manifest compaction: %v", err)
		}
		compactionCron.Start()
	}

	port := slconfig.GetPort("timeline", 8103)
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Timeline service starting on port %d", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	cancel()
	statsCache.Stop()
	if compactionCron != nil {
		<-compactionCron.Stop().Done()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
