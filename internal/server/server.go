package server

import (
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kkkkikiki/leadpool/internal/config"
)

// New creates an HTTP server for handler. h2c lets Connect clients use
// HTTP/2 without TLS.
func New(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:           cfg.GetServerAddr(),
		ReadTimeout:    time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
		Handler: h2c.NewHandler(handler, &http2.Server{
			MaxConcurrentStreams: 250,
		}),
	}
}
