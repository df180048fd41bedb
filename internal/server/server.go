// Package server assembles the HTTP API: routes, middleware chain, and the
// WebSocket endpoint.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bidvault/bidvault/internal/domain"
	"github.com/bidvault/bidvault/internal/server/handler"
	"github.com/bidvault/bidvault/internal/server/middleware"
	"github.com/bidvault/bidvault/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, admin authentication is disabled

	// BidRateLimit / BidRateWindow bound POST /api/bids per client IP.
	// Zero disables the limiter.
	BidRateLimit  int
	BidRateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Auctions *handler.AuctionHandler
	Bids     *handler.BidHandler
	Users    *handler.UserHandler
}

// Server is the HTTP + WebSocket API server for the auction platform.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth on admin routes, bid rate
// limiting) and attaches the WebSocket hub. limiter may be nil to disable
// rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	adminOnly := middleware.Auth(cfg.APIKey)

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Auction catalogue. Reads are public; every mutation is admin-guarded.
	mux.HandleFunc("GET /api/auctions", handlers.Auctions.ListAuctions)
	mux.HandleFunc("GET /api/auctions/{id}", handlers.Auctions.GetAuction)
	mux.Handle("POST /api/auctions", adminOnly(http.HandlerFunc(handlers.Auctions.CreateAuction)))
	mux.Handle("PATCH /api/auctions/{id}", adminOnly(http.HandlerFunc(handlers.Auctions.UpdateAuction)))
	mux.Handle("POST /api/auctions/{id}/cancel", adminOnly(http.HandlerFunc(handlers.Auctions.CancelAuction)))
	mux.Handle("DELETE /api/auctions/{id}", adminOnly(http.HandlerFunc(handlers.Auctions.DeleteAuction)))

	// Bids. The submission route carries its own tighter rate limit.
	submit := http.Handler(http.HandlerFunc(handlers.Bids.SubmitBid))
	if limiter != nil && cfg.BidRateLimit > 0 {
		submit = middleware.RateLimit(limiter, "bid", cfg.BidRateLimit, cfg.BidRateWindow)(submit)
	}
	mux.Handle("POST /api/bids", submit)
	mux.HandleFunc("GET /api/auctions/{id}/bids", handlers.Bids.ListAuctionBids)
	mux.HandleFunc("GET /api/users/{id}/bids", handlers.Bids.ListUserBids)

	// Users.
	mux.HandleFunc("POST /api/users", handlers.Users.RegisterUser)
	mux.HandleFunc("GET /api/users/{id}", handlers.Users.GetUser)

	// Admin sweep trigger.
	mux.Handle("POST /api/admin/close-due", adminOnly(http.HandlerFunc(handlers.Auctions.CloseDue)))

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
