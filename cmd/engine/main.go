// Package main provides the Engine service entry point.
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

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	slconfig "github.com/logline-run/logline/infrastructure/config"
	sllogging "github.com/logline-run/logline/infrastructure/logging"
	slmetrics "github.com/logline-run/logline/infrastructure/metrics"
	slmiddleware "github.com/logline-run/logline/infrastructure/middleware"
	"github.com/logline-run/logline/internal/engine"
	"github.com/logline-run/logline/internal/mesh"
)

func main() {
	_ = godotenv.Load(".env." + slconfig.GetEnv("LOGLINE_ENV", "development"))

	logger := sllogging.NewFromEnv("engine")

	timelineURL := slconfig.GetEnv("TIMELINE_BASE_URL", "http://localhost:8103")
	rulesURL := slconfig.GetEnv("RULES_BASE_URL", "http://localhost:8105")
	rulesMeshURL := slconfig.GetEnv("RULES_MESH_URL", "")

	queue := engine.NewQueue()
	store := engine.NewStore()

	var meshLink engine.MeshLink
	ctx, cancel := context.WithCancel(context.Background())

	if rulesMeshURL != "" {
		client := mesh.NewClient("engine", rulesMeshURL, []string{"task-dispatch"}, logger)
		meshLink = client
		go client.Run(ctx)
	}

	scheduler := engine.NewScheduler(engine.SchedulerConfig{
		Queue:          queue,
		Store:          store,
		Mesh:           meshLink,
		RulesClient:    engine.NewRulesClient(rulesURL),
		TimelineClient: engine.NewTimelineClient(timelineURL),
		Logger:         logger,
	})
	scheduler.Start(ctx)

	svc := engine.NewService(queue, store, scheduler)

	router := mux.NewRouter()
	router.Use(slmiddleware.LoggingMiddleware(logger))
	router.Use(slmiddleware.NewRecoveryMiddleware(logger).Handler)
	if slmetrics.Enabled() {
		collector := slmetrics.Init("engine")
		router.Use(slmiddleware.MetricsMiddleware("engine", collector))
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	engine.RegisterRoutes(router, svc)

	port := slconfig.GetPort("engine", 8106)
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Engine service starting on port %d", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	scheduler.Shutdown(20 * time.Second)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
