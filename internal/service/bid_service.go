// Package service implements the auction platform's business logic on top of
// the domain store and bus interfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bidvault/bidvault/internal/domain"
)

// AuctionCloser finalizes a due auction. BidService uses it to trigger an
// eager close when a bid lands after the deadline, instead of waiting for the
// next sweep pass.
type AuctionCloser interface {
	CloseIfDue(ctx context.Context, auctionID string) (domain.Auction, error)
}

// BidService is the bid acceptor: it validates a submission against current
// auction state, evaluates the anti-snipe rule, and hands the store a single
// conditional write. A submission is decided exactly once; on a lost race the
// caller gets a rejection, never a silent retry.
type BidService struct {
	auctions  domain.AuctionStore
	bids      domain.BidStore
	users     domain.UserStore
	bus       domain.SignalBus
	closer    AuctionCloser
	antiSnipe time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewBidService creates a BidService. closer may be nil, in which case late
// bids are rejected without triggering an eager close.
func NewBidService(
	auctions domain.AuctionStore,
	bids domain.BidStore,
	users domain.UserStore,
	bus domain.SignalBus,
	closer AuctionCloser,
	antiSnipe time.Duration,
	logger *slog.Logger,
) *BidService {
	return &BidService{
		auctions:  auctions,
		bids:      bids,
		users:     users,
		bus:       bus,
		closer:    closer,
		antiSnipe: antiSnipe,
		now:       time.Now,
		logger:    logger,
	}
}

// SubmitBid validates and commits one bid. Validation failures come back as
// *domain.BidRejectedError with a single reason; any other error means the
// submission could not be decided (persistence failure) and the bid was not
// recorded.
func (s *BidService) SubmitBid(ctx context.Context, auctionID, userID string, amount float64) (domain.BidResult, error) {
	auction, err := s.auctions.GetByID(ctx, auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.BidResult{}, domain.Reject(domain.ReasonNotFound, "auction %s not found", auctionID)
		}
		return domain.BidResult{}, fmt.Errorf("bid_service: fetch auction %s: %w", auctionID, err)
	}

	if auction.Status != domain.AuctionStatusActive {
		return domain.BidResult{}, domain.Reject(domain.ReasonNotActive, "auction %s is %s", auctionID, auction.Status)
	}

	now := s.now()
	if now.After(auction.EndTime) {
		// The deadline passed but the sweep has not run yet. Trigger the close
		// eagerly so the room hears auction_ended promptly, then reject.
		s.closeEagerly(ctx, auctionID)
		return domain.BidResult{}, domain.Reject(domain.ReasonExpired, "auction %s ended at %s", auctionID, auction.EndTime.Format(time.RFC3339))
	}

	if amount <= auction.CurrentPrice {
		return domain.BidResult{}, domain.Reject(domain.ReasonBidTooLow, "bid %.2f must exceed current price %.2f", amount, auction.CurrentPrice)
	}

	if userID == auction.CreatedBy {
		return domain.BidResult{}, domain.Reject(domain.ReasonSelfBid, "sellers cannot bid on their own auction")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.BidResult{}, domain.Reject(domain.ReasonNotFound, "user %s not found", userID)
		}
		return domain.BidResult{}, fmt.Errorf("bid_service: fetch user %s: %w", userID, err)
	}

	placement := domain.BidPlacement{
		Bid: domain.Bid{
			ID:        uuid.New().String(),
			AuctionID: auctionID,
			UserID:    userID,
			UserName:  user.Name,
			Amount:    amount,
			CreatedAt: now,
		},
		PriorPrice: auction.CurrentPrice,
		NewEndTime: s.extendDeadline(auction.EndTime, now),
	}

	updated, err := s.auctions.ApplyBid(ctx, placement)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.BidResult{}, s.explainConflict(ctx, auctionID, amount)
		}
		return domain.BidResult{}, fmt.Errorf("bid_service: apply bid on %s: %w", auctionID, err)
	}

	result := domain.BidResult{
		Bid:          placement.Bid,
		CurrentPrice: updated.CurrentPrice,
		BidCount:     updated.BidCount,
		EndTime:      updated.EndTime,
	}

	s.broadcastBid(ctx, auctionID, result)

	// The commit can land after the (possibly extended) deadline when
	// processing stalls longer than the anti-snipe window. Close immediately
	// rather than leaving a due auction open until the next read or sweep.
	if updated.IsDue(s.now()) {
		s.closeEagerly(ctx, auctionID)
	}

	s.logger.InfoContext(ctx, "bid_service: bid accepted",
		slog.String("auction_id", auctionID),
		slog.String("bid_id", placement.Bid.ID),
		slog.Float64("amount", amount),
	)

	return result, nil
}

// extendDeadline applies the anti-snipe rule: a bid landing inside the final
// window pushes the deadline to now + window. The deadline is never shortened.
func (s *BidService) extendDeadline(endTime, now time.Time) time.Time {
	if endTime.Sub(now) < s.antiSnipe {
		extended := now.Add(s.antiSnipe)
		if extended.After(endTime) {
			return extended
		}
	}
	return endTime
}

// explainConflict re-reads the auction after a lost conditional update and
// maps what actually happened to a rejection reason. When the re-read itself
// fails the generic concurrent_conflict reason is returned.
func (s *BidService) explainConflict(ctx context.Context, auctionID string, amount float64) error {
	auction, err := s.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return domain.Reject(domain.ReasonConcurrentConflict, "auction state changed during submission")
	}

	if auction.Status != domain.AuctionStatusActive {
		return domain.Reject(domain.ReasonNotActive, "auction %s is %s", auctionID, auction.Status)
	}
	if amount <= auction.CurrentPrice {
		return domain.Reject(domain.ReasonBidTooLow, "bid %.2f must exceed current price %.2f", amount, auction.CurrentPrice)
	}
	return domain.Reject(domain.ReasonConcurrentConflict, "auction state changed during submission")
}

// broadcastBid publishes the new_bid event to the auction's room. Delivery is
// best-effort: a publish failure never rolls back the committed bid.
func (s *BidService) broadcastBid(ctx context.Context, auctionID string, result domain.BidResult) {
	payload, err := domain.Wrap(domain.EventNewBid, domain.NewBidEvent{
		Bid:          result.Bid,
		CurrentPrice: result.CurrentPrice,
		BidCount:     result.BidCount,
		EndTime:      result.EndTime,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "bid_service: marshal new_bid event failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.bus.Publish(ctx, domain.AuctionChannel(auctionID), payload); err != nil {
		s.logger.WarnContext(ctx, "bid_service: publish new_bid failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
	}
}

// closeEagerly runs the closer for an auction whose deadline passed. Errors
// are logged and swallowed; the sweep will retry.
func (s *BidService) closeEagerly(ctx context.Context, auctionID string) {
	if s.closer == nil {
		return
	}
	if _, err := s.closer.CloseIfDue(ctx, auctionID); err != nil {
		s.logger.WarnContext(ctx, "bid_service: eager close failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
	}
}

// ListByAuction returns the auction's bid ledger, highest first.
func (s *BidService) ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	bids, err := s.bids.ListByAuction(ctx, auctionID, opts)
	if err != nil {
		return nil, fmt.Errorf("bid_service: list by auction %s: %w", auctionID, err)
	}
	return bids, nil
}

// ListByUser returns all bids a user has placed.
func (s *BidService) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Bid, error) {
	bids, err := s.bids.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("bid_service: list by user %s: %w", userID, err)
	}
	return bids, nil
}
