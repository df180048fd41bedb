package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bidvault/bidvault/internal/domain"
)

// CreateAuctionInput carries the caller-supplied fields for a new auction.
type CreateAuctionInput struct {
	Title         string
	Description   string
	ImageURL      string
	StartingPrice float64
	StartTime     time.Time
	EndTime       time.Time
	CreatedBy     string
}

// UpdateAuctionInput carries the admin-editable fields. Nil pointers leave
// the stored value unchanged.
type UpdateAuctionInput struct {
	Title       *string
	Description *string
	ImageURL    *string
	EndTime     *time.Time
}

// AuctionService handles the auction catalogue: creation, listing, updates,
// and read paths. Reads close due auctions lazily so clients never observe a
// stale "active" auction whose deadline has passed.
type AuctionService struct {
	auctions domain.AuctionStore
	bids     domain.BidStore
	bus      domain.SignalBus
	closer   AuctionCloser
	topBids  int
	now      func() time.Time
	logger   *slog.Logger
}

// NewAuctionService creates an AuctionService.
func NewAuctionService(
	auctions domain.AuctionStore,
	bids domain.BidStore,
	bus domain.SignalBus,
	closer AuctionCloser,
	topBids int,
	logger *slog.Logger,
) *AuctionService {
	return &AuctionService{
		auctions: auctions,
		bids:     bids,
		bus:      bus,
		closer:   closer,
		topBids:  topBids,
		now:      time.Now,
		logger:   logger,
	}
}

// Create validates the input and persists a new active auction. The current
// price starts at the starting price and the bid count at zero.
func (s *AuctionService) Create(ctx context.Context, in CreateAuctionInput) (domain.Auction, error) {
	if err := validateCreate(in, s.now()); err != nil {
		return domain.Auction{}, err
	}

	now := s.now()
	start := in.StartTime
	if start.IsZero() {
		start = now
	}

	auction := domain.Auction{
		ID:            uuid.New().String(),
		Title:         strings.TrimSpace(in.Title),
		Description:   in.Description,
		ImageURL:      in.ImageURL,
		StartingPrice: in.StartingPrice,
		CurrentPrice:  in.StartingPrice,
		StartTime:     start,
		EndTime:       in.EndTime,
		Status:        domain.AuctionStatusActive,
		BidCount:      0,
		CreatedBy:     in.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.auctions.Create(ctx, auction); err != nil {
		return domain.Auction{}, fmt.Errorf("auction_service: create: %w", err)
	}

	s.logger.InfoContext(ctx, "auction_service: auction created",
		slog.String("auction_id", auction.ID),
		slog.String("title", auction.Title),
		slog.Time("end_time", auction.EndTime),
	)

	return auction, nil
}

// Get returns the auction, closing it first when its deadline has passed.
func (s *AuctionService) Get(ctx context.Context, id string) (domain.Auction, error) {
	auction, err := s.auctions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("auction_service: get %s: %w", id, err)
	}

	return s.lazyClose(ctx, auction), nil
}

// List returns auctions, optionally filtered by status, with pagination. Due
// auctions in the page are closed lazily before being returned.
func (s *AuctionService) List(ctx context.Context, status domain.AuctionStatus, opts domain.ListOpts) ([]domain.Auction, int64, error) {
	auctions, err := s.auctions.List(ctx, status, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("auction_service: list: %w", err)
	}

	total, err := s.auctions.Count(ctx, status)
	if err != nil {
		return nil, 0, fmt.Errorf("auction_service: count: %w", err)
	}

	for i, a := range auctions {
		auctions[i] = s.lazyClose(ctx, a)
	}

	return auctions, total, nil
}

// Update applies the admin-editable fields to an active auction. A new end
// time must not be in the past.
func (s *AuctionService) Update(ctx context.Context, id string, in UpdateAuctionInput) (domain.Auction, error) {
	auction, err := s.Get(ctx, id)
	if err != nil {
		return domain.Auction{}, err
	}

	if auction.Status != domain.AuctionStatusActive {
		return domain.Auction{}, domain.ErrNotActive
	}

	if in.Title != nil {
		if strings.TrimSpace(*in.Title) == "" {
			return domain.Auction{}, fmt.Errorf("auction_service: %w: title must not be empty", errValidation)
		}
		auction.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		auction.Description = *in.Description
	}
	if in.ImageURL != nil {
		auction.ImageURL = *in.ImageURL
	}
	if in.EndTime != nil {
		if in.EndTime.Before(s.now()) {
			return domain.Auction{}, fmt.Errorf("auction_service: %w: end time must be in the future", errValidation)
		}
		auction.EndTime = *in.EndTime
	}
	auction.UpdatedAt = s.now()

	if err := s.auctions.Update(ctx, auction); err != nil {
		return domain.Auction{}, fmt.Errorf("auction_service: update %s: %w", id, err)
	}

	return auction, nil
}

// Cancel transitions an active auction to cancelled. No winner is chosen and
// no notifications go out; the room only hears auction_ended with no winner.
func (s *AuctionService) Cancel(ctx context.Context, id string) (domain.Auction, error) {
	auction, err := s.Get(ctx, id)
	if err != nil {
		return domain.Auction{}, err
	}
	if auction.Status != domain.AuctionStatusActive {
		return domain.Auction{}, domain.ErrNotActive
	}

	if err := s.auctions.MarkCancelled(ctx, id); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.Auction{}, domain.ErrNotActive
		}
		return domain.Auction{}, fmt.Errorf("auction_service: cancel %s: %w", id, err)
	}

	auction.Status = domain.AuctionStatusCancelled
	auction.UpdatedAt = s.now()

	s.broadcastCancelled(ctx, auction)

	s.logger.InfoContext(ctx, "auction_service: auction cancelled",
		slog.String("auction_id", id),
	)

	return auction, nil
}

// broadcastCancelled tells the room the auction is over. Delivery is
// best-effort; the cancellation has already committed.
func (s *AuctionService) broadcastCancelled(ctx context.Context, auction domain.Auction) {
	payload, err := domain.Wrap(domain.EventAuctionEnded, domain.AuctionEndedEvent{
		AuctionID:  auction.ID,
		Winner:     nil,
		FinalPrice: auction.CurrentPrice,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "auction_service: marshal auction_ended failed",
			slog.String("auction_id", auction.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, domain.AuctionChannel(auction.ID), payload); err != nil {
		s.logger.WarnContext(ctx, "auction_service: publish auction_ended failed",
			slog.String("auction_id", auction.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Delete removes an auction and, via the schema's cascade, its bid ledger.
func (s *AuctionService) Delete(ctx context.Context, id string) error {
	if err := s.auctions.Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("auction_service: delete %s: %w", id, err)
	}
	return nil
}

// GetSnapshot returns the room snapshot sent to a freshly joined client: the
// auction in its settled state plus the leading bids.
func (s *AuctionService) GetSnapshot(ctx context.Context, id string) (domain.SnapshotEvent, error) {
	auction, err := s.Get(ctx, id)
	if err != nil {
		return domain.SnapshotEvent{}, err
	}

	top, err := s.bids.ListByAuction(ctx, id, domain.ListOpts{Limit: s.topBids})
	if err != nil {
		return domain.SnapshotEvent{}, fmt.Errorf("auction_service: snapshot bids %s: %w", id, err)
	}

	return domain.SnapshotEvent{Auction: auction, TopBids: top}, nil
}

// lazyClose finalizes a due auction inline on the read path. A close failure
// is logged and the stale row returned; the sweep will retry shortly.
func (s *AuctionService) lazyClose(ctx context.Context, auction domain.Auction) domain.Auction {
	if s.closer == nil || !auction.IsDue(s.now()) {
		return auction
	}
	closed, err := s.closer.CloseIfDue(ctx, auction.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "auction_service: lazy close failed",
			slog.String("auction_id", auction.ID),
			slog.String("error", err.Error()),
		)
		return auction
	}
	return closed
}

// errValidation marks caller input problems so the handler layer can map them
// to 400 responses.
var errValidation = errors.New("invalid input")

// IsValidationError reports whether err stems from invalid caller input.
func IsValidationError(err error) bool {
	return errors.Is(err, errValidation)
}

// validateCreate checks the creation input against the platform invariants.
func validateCreate(in CreateAuctionInput, now time.Time) error {
	var problems []string

	if strings.TrimSpace(in.Title) == "" {
		problems = append(problems, "title must not be empty")
	}
	if in.StartingPrice <= 0 {
		problems = append(problems, "starting price must be positive")
	}
	if in.EndTime.IsZero() || !in.EndTime.After(now) {
		problems = append(problems, "end time must be in the future")
	}
	if !in.StartTime.IsZero() && !in.EndTime.After(in.StartTime) {
		problems = append(problems, "end time must be after start time")
	}
	if in.CreatedBy == "" {
		problems = append(problems, "creator is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("auction_service: %w: %s", errValidation, strings.Join(problems, "; "))
	}
	return nil
}
