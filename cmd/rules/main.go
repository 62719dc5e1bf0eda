// Package main provides the Rules service entry point.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/logline-run/logline/infrastructure/dbconn"
	slconfig "github.com/logline-run/logline/infrastructure/config"
	sllogging "github.com/logline-run/logline/infrastructure/logging"
	slmetrics "github.com/logline-run/logline/infrastructure/metrics"
	slmiddleware "github.com/logline-run/logline/infrastructure/middleware"
	"github.com/logline-run/logline/internal/mesh"
	"github.com/logline-run/logline/internal/rules"
)

func main() {
	_ = godotenv.Load(".env." + slconfig.GetEnv("LOGLINE_ENV", "development"))

	logger := sllogging.NewFromEnv("rules")

	dsn := slconfig.GetEnv("RULES_DATABASE_URL", slconfig.GetEnv("TIMELINE_DATABASE_URL", ""))
	if dsn == "" {
		log.Fatalf("RULES_DATABASE_URL (or TIMELINE_DATABASE_URL) is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := database.Open(ctx, dsn)
	cancel()
	if err != nil {
		log.Fatalf("connect rules database: %v", err)
	}
	if err := rules.Migrate(db); err != nil {
		log.Fatalf("apply rules migrations: %v", err)
	}

	store := rules.NewPostgresStore(db)

	var redisClient *redis.Client
	if addr := slconfig.GetEnv("REDIS_ADDR", ""); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr})
	}
	cache := rules.NewCache(redisClient, "rules:flattened:", 5*time.Minute)

	svc := rules.NewService(store, cache, logger)

	hub := mesh.NewHub("rules", logger)
	rules.RegisterMeshHandler(hub, svc)

	router := mux.NewRouter()
	router.Use(slmiddleware.LoggingMiddleware(logger))
	router.Use(slmiddleware.NewRecoveryMiddleware(logger).Handler)
	if slmetrics.Enabled() {
		collector := slmetrics.Init("rules")
		router.Use(slmiddleware.MetricsMiddleware("rules", collector))
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	rules.RegisterRoutes(router, svc)
	router.HandleFunc("/mesh", hub.ServeHTTP)

	port := slconfig.GetPort("rules", 8105)
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Rules service starting on port %d", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
