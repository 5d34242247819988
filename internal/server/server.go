package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/ctib-core/Pulley/internal/observability"
	"github.com/ctib-core/Pulley/internal/query"
)

// Server hosts the gRPC endpoint (health + reflection) and the HTTP/JSON
// query API. The HTTP side serves the read model directly off the
// QueryService plus /healthz, /readyz, and /metrics.
type Server struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	qs            *query.QueryService
	metrics       *observability.Metrics
	healthChecker *observability.HealthChecker
}

// ServerDeps holds the dependencies the API needs.
type ServerDeps struct {
	QueryService  *query.QueryService
	Metrics       *observability.Metrics
	HealthChecker *observability.HealthChecker
}

func NewServer(grpcAddr, httpAddr string, deps *ServerDeps) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &Server{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		qs:            deps.QueryService,
		metrics:       deps.Metrics,
		healthChecker: deps.HealthChecker,
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: gRPC server shutting down...")
		s.grpcServer.GracefulStop()
	}()

	log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
	return s.grpcServer.Serve(lis)
}

// StartHTTP starts the HTTP/JSON API (blocking).
func (s *Server) StartHTTP(ctx context.Context) error {
	mux := runtime.NewServeMux()

	routes := []struct {
		path    string
		handler runtime.HandlerFunc
	}{
		{"/v1/status", s.handleStatus},
		{"/v1/engine", s.handleEngine},
		{"/v1/engine/providers/{provider}", s.handleProvider},
		{"/v1/pool", s.handlePool},
		{"/v1/allocator", s.handleAllocator},
		{"/v1/requests", s.handleRequests},
		{"/v1/requests/{id}", s.handleRequest},
		{"/v1/events", s.handleEvents},
	}
	for _, r := range routes {
		if err := mux.HandlePath(http.MethodGet, r.path, r.handler); err != nil {
			return fmt.Errorf("register %s: %w", r.path, err)
		}
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP server listening on %s", s.httpAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// --- handlers ---

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.serve(w, r, "status", func() (interface{}, error) {
		return s.qs.GetStatus(r.Context())
	})
}

func (s *Server) handleEngine(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.serve(w, r, "engine", func() (interface{}, error) {
		return s.qs.GetEngine(r.Context())
	})
}

func (s *Server) handleProvider(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	addr, err := uuid.Parse(pathParams["provider"])
	if err != nil {
		s.observe("provider", "error", time.Now())
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid provider id: %v", err))
		return
	}
	s.serve(w, r, "provider", func() (interface{}, error) {
		return s.qs.GetProvider(r.Context(), addr)
	})
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.serve(w, r, "pool", func() (interface{}, error) {
		return s.qs.GetPool(r.Context())
	})
}

func (s *Server) handleAllocator(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.serve(w, r, "allocator", func() (interface{}, error) {
		return s.qs.GetAllocator(r.Context())
	})
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.serve(w, r, "requests", func() (interface{}, error) {
		return s.qs.ListRequests(r.Context())
	})
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	id := pathParams["id"]

	start := time.Now()
	resp, err := s.qs.GetRequest(r.Context(), id)
	if err != nil {
		s.observe("request", "error", start)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if resp == nil {
		s.observe("request", "not_found", start)
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown request %s", id))
		return
	}
	s.observe("request", "ok", start)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	afterSeq, _ := strconv.ParseInt(r.URL.Query().Get("after_sequence"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	s.serve(w, r, "events", func() (interface{}, error) {
		return s.qs.ListEvents(r.Context(), afterSeq, limit)
	})
}

// --- helpers ---

func (s *Server) serve(w http.ResponseWriter, r *http.Request, endpoint string, fn func() (interface{}, error)) {
	start := time.Now()

	resp, err := fn()
	if err != nil {
		s.observe(endpoint, "error", start)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.observe(endpoint, "ok", start)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) observe(endpoint, status string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARN: write response: %v", err)
	}
}
