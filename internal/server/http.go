package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/knoguchi/retriever/internal/auth"
	"github.com/knoguchi/retriever/internal/retrieval"
	"github.com/knoguchi/retriever/internal/service"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// maxFormMemory bounds the in-memory part of multipart form parsing.
const maxFormMemory = 32 << 20

// HealthChecker reports whether a dependency is ready to serve.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HTTPServer serves the form-based /retrieve endpoint and the JSON API.
type HTTPServer struct {
	server    *http.Server
	router    *chi.Mux
	gwMux     *runtime.ServeMux
	logger    *slog.Logger
	retrieval *service.RetrievalService
	health    HealthChecker
}

// HTTPServerConfig holds configuration for the HTTP server
type HTTPServerConfig struct {
	Port           int
	Logger         *slog.Logger
	AllowedOrigins []string // CORS allowed origins
	RequestTimeout time.Duration
	Auth           *auth.Authenticator
	Retrieval      *service.RetrievalService
	Health         HealthChecker
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(cfg HTTPServerConfig) (*HTTPServer, error) {
	if cfg.Retrieval == nil {
		return nil, errors.New("retrieval service is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Create chi router
	router := chi.NewRouter()

	// Add middleware
	router.Use(middleware.RequestID)
	router.Use(requestIDMiddleware)
	router.Use(middleware.RealIP)
	router.Use(requestLoggingMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	// Create grpc-gateway mux with JSON marshaler options
	gwMux := runtime.NewServeMux(
		runtime.WithMarshalerOption(runtime.MIMEWildcard, &runtime.JSONPb{
			MarshalOptions: protojson.MarshalOptions{
				UseProtoNames:   true,
				EmitUnpopulated: true,
			},
			UnmarshalOptions: protojson.UnmarshalOptions{
				DiscardUnknown: true,
			},
		}),
	)

	s := &HTTPServer{
		router:    router,
		gwMux:     gwMux,
		logger:    logger,
		retrieval: cfg.Retrieval,
		health:    cfg.Health,
	}

	if err := gwMux.HandlePath(http.MethodPost, "/v1/retrieve", s.handleJSONRetrieve); err != nil {
		return nil, fmt.Errorf("failed to register /v1/retrieve: %w", err)
	}

	// Mount health check endpoints
	router.Get("/healthz", healthCheckHandler())
	router.Get("/readyz", s.readinessCheckHandler())

	router.Group(func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}
		if cfg.Auth != nil && cfg.Auth.Enabled() {
			r.Use(cfg.Auth.Middleware(func(w http.ResponseWriter, r *http.Request, err error) {
				writeError(w, http.StatusUnauthorized, err.Error())
			}))
		}

		r.Post("/retrieve", s.handleRetrieve)
		r.Handle("/v1/*", gwMux)
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", "address", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// GetRouter returns the underlying chi router for additional route registration
func (s *HTTPServer) GetRouter() *chi.Mux {
	return s.router
}

// requestIDMiddleware hands chi's request id to the retrieval pipeline so that
// result logs share the id of the request log.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(retrieval.WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// handleRetrieve serves POST /retrieve with form fields "queries" (repeated)
// and "namespace". The response is a JSON array of chunk arrays in query order.
func (s *HTTPServer) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid form: %v", err))
		return
	}

	resp, err := s.retrieval.Retrieve(r.Context(), service.BatchRequest{
		Queries:   r.PostForm["queries"],
		Namespace: r.PostForm.Get("namespace"),
	})
	if err != nil {
		code := httpStatusFromError(err)
		if code >= http.StatusInternalServerError {
			s.logger.Error("retrieve failed", "error", err, "request_id", middleware.GetReqID(r.Context()))
		}
		writeError(w, code, status.Convert(err).Message())
		return
	}

	writeJSON(w, http.StatusOK, resp.Results)
}

// handleJSONRetrieve serves POST /v1/retrieve through the gateway mux.
func (s *HTTPServer) handleJSONRetrieve(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	ctx := runtime.NewServerMetadataContext(r.Context(), runtime.ServerMetadata{})
	inbound, outbound := runtime.MarshalerForRequest(s.gwMux, r)

	var req structpb.Struct
	if err := inbound.NewDecoder(r.Body).Decode(&req); err != nil {
		runtime.HTTPError(ctx, s.gwMux, outbound, w, r, status.Errorf(codes.InvalidArgument, "invalid request body: %v", err))
		return
	}

	resp, err := s.retrieval.RetrieveBatch(ctx, &req)
	if err != nil {
		runtime.HTTPError(ctx, s.gwMux, outbound, w, r, err)
		return
	}

	runtime.ForwardResponseMessage(ctx, s.gwMux, outbound, w, r, resp)
}

// parseForm parses urlencoded and multipart bodies into r.PostForm.
func parseForm(r *http.Request) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return r.ParseMultipartForm(maxFormMemory)
	}
	return r.ParseForm()
}

// httpStatusFromError maps a gRPC status error onto an HTTP status code.
// Upstream failures are reported as 502 rather than the gateway's 503.
func httpStatusFromError(err error) int {
	switch code := status.Code(err); code {
	case codes.Unavailable:
		return http.StatusBadGateway
	default:
		return runtime.HTTPStatusFromCode(code)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// requestLoggingMiddleware logs HTTP requests
func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// corsMiddleware handles CORS headers
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// Check if origin is allowed
			allowed := false
			if len(allowedOrigins) == 0 {
				allowed = true
				origin = "*"
			} else {
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						allowed = true
						break
					}
				}
			}

			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, X-API-Key")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// healthCheckHandler returns a handler for the /healthz endpoint
func healthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

// readinessCheckHandler returns a handler for the /readyz endpoint
func (s *HTTPServer) readinessCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			if err := s.health.Health(ctx); err != nil {
				s.logger.Warn("readiness check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"error":  err.Error(),
				})
				return
			}
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
