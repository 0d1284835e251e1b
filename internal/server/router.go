package server

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kkkkikiki/leadpool/internal/export"
	"github.com/kkkkikiki/leadpool/internal/factory"
	"github.com/kkkkikiki/leadpool/internal/rpc"
)

// ExportFilename is the attachment name of the claimed-number download
const ExportFilename = "marked_phones.txt"

// NewRouter wires the RPC services, health checks, metrics and the export
// download onto a chi router.
func NewRouter(f *factory.Factory, logger *zap.Logger) chi.Router {
	cfg := f.Config()
	auth := rpc.NewAdminAuth(cfg.App.AdminToken)
	if cfg.App.AdminToken == "" {
		logger.Warn("APP_ADMIN_TOKEN is empty, admin procedures are disabled")
	}

	router := chi.NewRouter()

	// Middleware stack
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type",
			"Connect-Protocol-Version", "Connect-Timeout-Ms",
		},
		MaxAge: 300,
	}))

	rpcLogger := rpc.NewLoggingInterceptor(logger.Named("rpc"))
	limiter := rpc.NewRateLimiter(cfg.Server.PublicRPS, cfg.Server.PublicBurst)

	leadPath, leadHandler := rpc.NewLeadServiceHandler(
		rpc.NewLeadServer(f.Allocator(), f.Reconciler(), logger),
		connect.WithInterceptors(rpcLogger, limiter.Interceptor()),
	)
	router.Mount(leadPath, leadHandler)

	adminPath, adminHandler := rpc.NewAdminServiceHandler(
		rpc.NewAdminServer(f.Allocator(), f.Marks(), logger),
		connect.WithInterceptors(rpcLogger, auth.Interceptor()),
	)
	router.Mount(adminPath, adminHandler)

	// Plain-text export for browsers; the token travels in the query string
	router.Get("/admin/export.txt", func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if err := auth.Check(token); err != nil {
			writeJSON(w, http.StatusUnauthorized, fmt.Sprintf(`{"error":%q}`, err.Error()))
			return
		}

		exp, err := f.Marks().ExportClaimed(r.Context())
		if err != nil {
			logger.Error("Export failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, `{"error":"export failed"}`)
			return
		}

		w.Header().Set("Content-Type", export.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ExportFilename))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(exp.Text()))
	})

	// Health check endpoint
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		hostname, _ := os.Hostname()
		writeJSON(w, http.StatusOK, fmt.Sprintf(`{"status":"ok","service":"leadpool","hostname":%q}`, hostname))
	})

	// Store health check endpoint
	router.Get("/health/db", func(w http.ResponseWriter, r *http.Request) {
		if err := f.Store().Ping(r.Context()); err != nil {
			logger.Warn("Store health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, fmt.Sprintf(`{"status":"error","store":%q}`, cfg.Store.Driver))
			return
		}
		writeJSON(w, http.StatusOK, fmt.Sprintf(`{"status":"ok","store":%q}`, cfg.Store.Driver))
	})

	// Prometheus metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"error":"endpoint not found"}`)
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, `{"error":"method not allowed"}`)
	})

	return router
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.Int("status", ww.Status()),
					zap.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
