package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bidvault/bidvault/internal/server/handler"
)

func newTestServer() *Server {
	logger := slog.New(slog.DiscardHandler)
	handlers := Handlers{
		Health:   handler.NewHealthHandler(nil, logger),
		Auctions: handler.NewAuctionHandler(nil, nil, logger),
		Bids:     handler.NewBidHandler(nil, logger),
		Users:    handler.NewUserHandler(nil, logger),
	}
	return NewServer(Config{Port: 8000, APIKey: "secret"}, handlers, nil, nil, logger)
}

func TestMutationRoutesRequireAuth(t *testing.T) {
	srv := newTestServer()

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/auctions"},
		{http.MethodPatch, "/api/auctions/a1"},
		{http.MethodPost, "/api/auctions/a1/cancel"},
		{http.MethodDelete, "/api/auctions/a1"},
		{http.MethodPost, "/api/admin/close-due"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			req := httptest.NewRequest(rt.method, rt.path, nil)
			rec := httptest.NewRecorder()
			srv.httpServer.Handler.ServeHTTP(rec, req)
			require.Equal(t, http.StatusUnauthorized, rec.Code)

			req = httptest.NewRequest(rt.method, rt.path, nil)
			req.Header.Set("X-API-Key", "wrong")
			rec = httptest.NewRecorder()
			srv.httpServer.Handler.ServeHTTP(rec, req)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}
