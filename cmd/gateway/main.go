// Package main provides the Gateway service entry point: the sole JWT
// validation boundary, reverse proxy, and WebSocket hub for external
// clients.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	slconfig "github.com/logline-run/logline/infrastructure/config"
	sllogging "github.com/logline-run/logline/infrastructure/logging"
	slmetrics "github.com/logline-run/logline/infrastructure/metrics"
	slmiddleware "github.com/logline-run/logline/infrastructure/middleware"
	"github.com/logline-run/logline/internal/gateway"
)

func main() {
	_ = godotenv.Load(".env." + slconfig.GetEnv("LOGLINE_ENV", "development"))

	logger := sllogging.NewFromEnv("gateway")

	jwtSecret := strings.TrimSpace(os.Getenv("GATEWAY_JWT_SECRET"))
	if jwtSecret == "" {
		log.Fatalf("GATEWAY_JWT_SECRET is required")
	}
	validator := gateway.NewValidator(
		[]byte(jwtSecret),
		slconfig.GetEnv("GATEWAY_JWT_ISSUER", ""),
		slconfig.GetEnv("GATEWAY_JWT_AUDIENCE", ""),
	)
	validator.ServiceToken = slconfig.GetEnv("GATEWAY_SERVICE_TOKEN", "")

	httpBackends := map[string]string{
		"engine":     slconfig.GetEnv("ENGINE_URL", "http://127.0.0.1:8106"),
		"rules":      slconfig.GetEnv("RULES_URL", "http://127.0.0.1:8105"),
		"timeline":   slconfig.GetEnv("TIMELINE_URL", "http://127.0.0.1:8103"),
		"id":         slconfig.GetEnv("ID_URL", "http://127.0.0.1:8104"),
		"federation": slconfig.GetEnv("FEDERATION_URL", ""),
	}
	meshBackends := map[string]string{
		"engine":   slconfig.GetEnv("ENGINE_MESH_URL", ""),
		"rules":    slconfig.GetEnv("RULES_MESH_URL", ""),
		"timeline": slconfig.GetEnv("TIMELINE_MESH_URL", ""),
		"id":       slconfig.GetEnv("ID_MESH_URL", ""),
	}
	for name, raw := range httpBackends {
		if raw == "" {
			delete(httpBackends, name)
		}
	}

	router := mux.NewRouter()
	router.Use(slmiddleware.LoggingMiddleware(logger))
	router.Use(slmiddleware.NewRecoveryMiddleware(logger).Handler)
	if slmetrics.Enabled() {
		collector := slmetrics.Init("gateway")
		router.Use(slmiddleware.MetricsMiddleware("gateway", collector))
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
	router.Use(slmiddleware.NewCORSMiddleware(&slmiddleware.CORSConfig{
		AllowedOrigins:         slconfig.SplitAndTrimCSV(slconfig.GetEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		AllowedMethods:         []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:         []string{"Content-Type", "Authorization", "X-Trace-ID"},
		ExposedHeaders:         []string{"X-Trace-ID"},
		AllowCredentials:       true,
		MaxAgeSeconds:          3600,
		PreflightStatus:        http.StatusNoContent,
		RejectDisallowedOrigin: true,
	}).Handler)
	router.Use(slmiddleware.NewBodyLimitMiddleware(0).Handler)

	svc, err := gateway.RegisterRoutes(router, gateway.Config{
		Validator:    validator,
		HTTPBackends: httpBackends,
		MeshBackends: meshBackends,
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("register gateway routes: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc.MeshRouter.Start(ctx)

	bind := slconfig.GetEnv("GATEWAY_BIND", "0.0.0.0:8070")
	server := &http.Server{
		Addr:              bind,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Gateway starting on %s", bind)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
