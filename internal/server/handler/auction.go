package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bidvault/bidvault/internal/domain"
	"github.com/bidvault/bidvault/internal/service"
)

// AuctionService defines the methods the auction handler requires from the
// service layer.
type AuctionService interface {
	Create(ctx context.Context, in service.CreateAuctionInput) (domain.Auction, error)
	Get(ctx context.Context, id string) (domain.Auction, error)
	List(ctx context.Context, status domain.AuctionStatus, opts domain.ListOpts) ([]domain.Auction, int64, error)
	Update(ctx context.Context, id string, in service.UpdateAuctionInput) (domain.Auction, error)
	Cancel(ctx context.Context, id string) (domain.Auction, error)
	Delete(ctx context.Context, id string) error
}

// DueCloser runs one sweep pass on demand, for the admin endpoint.
type DueCloser interface {
	CloseDueAuctions(ctx context.Context) (int, error)
}

// AuctionHandler serves auction catalogue endpoints.
type AuctionHandler struct {
	auctions AuctionService
	closer   DueCloser
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(auctions AuctionService, closer DueCloser, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctions: auctions,
		closer:   closer,
		logger:   logger,
	}
}

// createAuctionRequest is the POST body for auction creation.
type createAuctionRequest struct {
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	ImageURL      string     `json:"imageUrl"`
	StartingPrice float64    `json:"startingPrice"`
	StartTime     *time.Time `json:"startTime"`
	EndTime       time.Time  `json:"endTime"`
	CreatedBy     string     `json:"createdBy"`
}

// updateAuctionRequest is the PATCH body for auction updates. Absent fields
// leave the stored value unchanged.
type updateAuctionRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	ImageURL    *string    `json:"imageUrl"`
	EndTime     *time.Time `json:"endTime"`
}

// listAuctionsResponse wraps the list endpoint output with metadata.
type listAuctionsResponse struct {
	Auctions []domain.Auction `json:"auctions"`
	Total    int64            `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// ListAuctions returns auctions, newest first, optionally filtered by status.
// GET /api/auctions?status=active&limit=50&offset=0
func (h *AuctionHandler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	status := domain.AuctionStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.AuctionStatusActive, domain.AuctionStatusEnded, domain.AuctionStatusCancelled:
	default:
		writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}

	auctions, total, err := h.auctions.List(r.Context(), status, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list auctions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list auctions")
		return
	}

	if auctions == nil {
		auctions = []domain.Auction{}
	}

	writeJSON(w, http.StatusOK, listAuctionsResponse{
		Auctions: auctions,
		Total:    total,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}

// GetAuction returns a single auction by ID.
// GET /api/auctions/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	auction, err := h.auctions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "auction not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get auction failed",
			slog.String("auction_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get auction")
		return
	}

	writeJSON(w, http.StatusOK, auction)
}

// CreateAuction creates a new active auction.
// POST /api/auctions
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	in := service.CreateAuctionInput{
		Title:         req.Title,
		Description:   req.Description,
		ImageURL:      req.ImageURL,
		StartingPrice: req.StartingPrice,
		EndTime:       req.EndTime,
		CreatedBy:     req.CreatedBy,
	}
	if req.StartTime != nil {
		in.StartTime = *req.StartTime
	}

	auction, err := h.auctions.Create(r.Context(), in)
	if err != nil {
		if service.IsValidationError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create auction failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create auction")
		return
	}

	writeJSON(w, http.StatusCreated, auction)
}

// UpdateAuction applies the admin-editable fields to an active auction.
// PATCH /api/auctions/{id}
func (h *AuctionHandler) UpdateAuction(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	var req updateAuctionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	auction, err := h.auctions.Update(r.Context(), id, service.UpdateAuctionInput{
		Title:       req.Title,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		EndTime:     req.EndTime,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "auction not found")
		case errors.Is(err, domain.ErrNotActive):
			writeError(w, http.StatusConflict, "auction is no longer active")
		case service.IsValidationError(err):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "handler: update auction failed",
				slog.String("auction_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to update auction")
		}
		return
	}

	writeJSON(w, http.StatusOK, auction)
}

// CancelAuction cancels an active auction without choosing a winner.
// POST /api/auctions/{id}/cancel
func (h *AuctionHandler) CancelAuction(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	auction, err := h.auctions.Cancel(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "auction not found")
		case errors.Is(err, domain.ErrNotActive):
			writeError(w, http.StatusConflict, "auction is no longer active")
		default:
			h.logger.ErrorContext(r.Context(), "handler: cancel auction failed",
				slog.String("auction_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to cancel auction")
		}
		return
	}

	writeJSON(w, http.StatusOK, auction)
}

// DeleteAuction removes an auction and its bid ledger.
// DELETE /api/auctions/{id}
func (h *AuctionHandler) DeleteAuction(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	if err := h.auctions.Delete(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "auction not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: delete auction failed",
			slog.String("auction_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete auction")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CloseDue runs one closer sweep immediately.
// POST /api/admin/close-due
func (h *AuctionHandler) CloseDue(w http.ResponseWriter, r *http.Request) {
	if h.closer == nil {
		writeError(w, http.StatusNotImplemented, "sweep is not available in this mode")
		return
	}

	closed, err := h.closer.CloseDueAuctions(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: manual sweep failed",
			slog.Int("closed", closed),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"closed": closed})
}
