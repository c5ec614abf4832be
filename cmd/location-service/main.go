package main

import (
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"tripresence/internal/auth"
	"tripresence/internal/config"
	"tripresence/internal/handlers"
	"tripresence/internal/metrics"
	"tripresence/internal/service"
	"tripresence/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	// Build service
	builder := service.NewServiceBuilder(cfg)
	svc, err := builder.Build()
	if err != nil {
		log.Fatalf("service build: %v", err)
	}
	defer svc.Close()

	corsCfg := handlers.LoadCORSConfigFromEnv()
	wsHandler := ws.NewHandler(svc.Hub, svc.Registry, svc.Binder, svc.WSOptions, svc.Logger, func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || corsCfg.AllowsOrigin(origin)
	})

	// Router
	r := mux.NewRouter()
	r.Handle("/ws", wsHandler)

	lh := handlers.NewLocationHandler(svc.Registry, svc.Oracle)
	jwtmw := auth.NewJWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)

	api := r.PathPrefix("/api/v1/location").Subrouter()
	api.Use(jwtmw.Authenticate)
	api.HandleFunc("/trip/{trip_id}/active", lh.GetActiveMembers).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/trip/{trip_id}/status", lh.GetStatus).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/trip/{trip_id}/settings", lh.GetSettings).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/trip/{trip_id}/settings", lh.UpdateSettings).Methods(http.MethodPut, http.MethodOptions)
	api.HandleFunc("/stats", lh.GetStats).Methods(http.MethodGet, http.MethodOptions)

	hh := handlers.NewHealthHandler(svc)
	r.HandleFunc("/healthz", hh.Liveness).Methods(http.MethodGet)
	r.HandleFunc("/readyz", hh.Readiness).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// Middlewares: metrics -> CORS
	var handler http.Handler = r
	handler = handlers.CORSMiddleware(handler)
	handler = metrics.Middleware("location-service", handler)

	port := os.Getenv("SERVICE_PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("starting location-service on :%s", port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
