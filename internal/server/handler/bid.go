package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/bidvault/bidvault/internal/domain"
)

// BidService defines the methods the bid handler requires from the service
// layer.
type BidService interface {
	SubmitBid(ctx context.Context, auctionID, userID string, amount float64) (domain.BidResult, error)
	ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error)
	ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Bid, error)
}

// BidHandler serves bid submission and ledger queries.
type BidHandler struct {
	bids   BidService
	logger *slog.Logger
}

// NewBidHandler creates a BidHandler.
func NewBidHandler(bids BidService, logger *slog.Logger) *BidHandler {
	return &BidHandler{bids: bids, logger: logger}
}

// submitBidRequest is the POST body for bid submission.
type submitBidRequest struct {
	AuctionID string  `json:"auctionId"`
	UserID    string  `json:"userId"`
	Amount    float64 `json:"amount"`
}

// submitBidResponse is the acceptance wire shape: the committed bid plus the
// auction counters as of that commit.
type submitBidResponse struct {
	Success      bool       `json:"success"`
	Bid          domain.Bid `json:"bid"`
	CurrentPrice float64    `json:"currentPrice"`
	BidCount     int        `json:"bidCount"`
	EndTime      time.Time  `json:"endTime"`
}

// SubmitBid runs one bid through the acceptor. Rejections return the reason
// and message; an accepted bid returns the refreshed auction counters.
// POST /api/bids
func (h *BidHandler) SubmitBid(w http.ResponseWriter, r *http.Request) {
	var req submitBidRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AuctionID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "auctionId and userId are required")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	result, err := h.bids.SubmitBid(r.Context(), req.AuctionID, req.UserID, req.Amount)
	if err != nil {
		if rej, ok := domain.AsRejection(err); ok {
			writeRejection(w, rej)
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: submit bid failed",
			slog.String("auction_id", req.AuctionID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to submit bid")
		return
	}

	writeJSON(w, http.StatusCreated, submitBidResponse{
		Success:      true,
		Bid:          result.Bid,
		CurrentPrice: result.CurrentPrice,
		BidCount:     result.BidCount,
		EndTime:      result.EndTime,
	})
}

// ListAuctionBids returns an auction's ledger, highest bid first.
// GET /api/auctions/{id}/bids
func (h *BidHandler) ListAuctionBids(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	bids, err := h.bids.ListByAuction(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list auction bids failed",
			slog.String("auction_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list bids")
		return
	}

	if bids == nil {
		bids = []domain.Bid{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bids": bids})
}

// ListUserBids returns the bids a user has placed, newest first.
// GET /api/users/{id}/bids
func (h *BidHandler) ListUserBids(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	bids, err := h.bids.ListByUser(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list user bids failed",
			slog.String("user_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list bids")
		return
	}

	if bids == nil {
		bids = []domain.Bid{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bids": bids})
}
