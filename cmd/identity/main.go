// Package main provides the Identity service entry point.
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
	"github.com/logline-run/logline/internal/identity"
)

func main() {
	_ = godotenv.Load(".env." + slconfig.GetEnv("LOGLINE_ENV", "development"))

	logger := sllogging.NewFromEnv("identity")

	dir := slconfig.GetEnv("LOGLINE_IDENTITY_DIR", "")
	if dir == "" {
		var err error
		dir, err = identity.DefaultDir()
		if err != nil {
			log.Fatalf("resolve identity directory: %v", err)
		}
	}

	svc := identity.NewService(dir)

	nodeName := slconfig.GetEnv("NODE_NAME", "logline-identity")
	if _, err := svc.Signing.LoadOrGenerate(nodeName); err != nil {
		log.Fatalf("bootstrap node identity: %v", err)
	}

	router := mux.NewRouter()
	router.Use(slmiddleware.LoggingMiddleware(logger))
	router.Use(slmiddleware.NewRecoveryMiddleware(logger).Handler)
	if slmetrics.Enabled() {
		collector := slmetrics.Init("identity")
		router.Use(slmiddleware.MetricsMiddleware("identity", collector))
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	svc.RegisterRoutes(router)

	port := slconfig.GetPort("identity", 8104)
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Identity service starting on port %d", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
