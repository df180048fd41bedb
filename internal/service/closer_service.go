package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bidvault/bidvault/internal/domain"
)

// WinnerMailer delivers the addressed winner email. Implemented by
// notify.EmailSender.
type WinnerMailer interface {
	SendTo(ctx context.Context, to, subject, body string) error
}

// AuctionArchiver exports a finished auction to object storage. Implemented
// by s3blob.Archiver.
type AuctionArchiver interface {
	ArchiveAuction(ctx context.Context, auction domain.Auction) (int64, error)
}

// CloserService finalizes auctions whose deadline has passed. Closing is
// idempotent: the store's guarded transition ensures exactly one caller wins,
// and only the winner performs the side effects (broadcasts, winner
// notification, archive). Every other concurrent caller observes the already
// closed auction and does nothing.
type CloserService struct {
	auctions domain.AuctionStore
	bids     domain.BidStore
	users    domain.UserStore
	bus      domain.SignalBus
	mailer   WinnerMailer
	archiver AuctionArchiver
	batch    int
	now      func() time.Time
	logger   *slog.Logger
}

// NewCloserService creates a CloserService. mailer and archiver may be nil;
// the corresponding side effects are then skipped.
func NewCloserService(
	auctions domain.AuctionStore,
	bids domain.BidStore,
	users domain.UserStore,
	bus domain.SignalBus,
	mailer WinnerMailer,
	archiver AuctionArchiver,
	batch int,
	logger *slog.Logger,
) *CloserService {
	return &CloserService{
		auctions: auctions,
		bids:     bids,
		users:    users,
		bus:      bus,
		mailer:   mailer,
		archiver: archiver,
		batch:    batch,
		now:      time.Now,
		logger:   logger,
	}
}

// CloseIfDue finalizes the auction if its deadline has passed and it is still
// active. It returns the auction in its (possibly just) finalized state. An
// auction that is not yet due, or already ended, is returned unchanged.
func (s *CloserService) CloseIfDue(ctx context.Context, auctionID string) (domain.Auction, error) {
	auction, err := s.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("closer_service: fetch auction %s: %w", auctionID, err)
	}

	if !auction.IsDue(s.now()) {
		return auction, nil
	}

	return s.close(ctx, auction)
}

// close performs the guarded transition and, if this caller won it, the close
// side effects. The caller must have observed the auction as due.
func (s *CloserService) close(ctx context.Context, auction domain.Auction) (domain.Auction, error) {
	winner, winnerID, err := s.determineWinner(ctx, auction)
	if err != nil {
		return domain.Auction{}, err
	}

	// The final price is the current price: the acceptor keeps it equal to
	// the highest accepted bid at all times, so no recomputation happens here.
	finalPrice := auction.CurrentPrice

	if err := s.auctions.MarkEnded(ctx, auction.ID, winnerID, finalPrice); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Someone else closed it first. Report the settled state without
			// repeating any side effects.
			settled, getErr := s.auctions.GetByID(ctx, auction.ID)
			if getErr != nil {
				return domain.Auction{}, fmt.Errorf("closer_service: refetch closed auction %s: %w", auction.ID, getErr)
			}
			return settled, nil
		}
		return domain.Auction{}, fmt.Errorf("closer_service: mark ended %s: %w", auction.ID, err)
	}

	auction.Status = domain.AuctionStatusEnded
	auction.WinnerID = winnerID
	auction.CurrentPrice = finalPrice
	auction.UpdatedAt = s.now()

	s.logger.InfoContext(ctx, "closer_service: auction closed",
		slog.String("auction_id", auction.ID),
		slog.Float64("final_price", finalPrice),
		slog.Bool("has_winner", winnerID != nil),
	)

	s.broadcastEnded(ctx, auction, winner)
	s.notifyWinner(ctx, auction, winner)
	s.archive(ctx, auction)

	return auction, nil
}

// CloseDueAuctions runs one sweep pass: it closes every active auction whose
// deadline has passed, up to the configured batch size. It returns the number
// of auctions this pass finalized. Individual close failures are collected so
// one bad auction does not stall the rest of the batch.
func (s *CloserService) CloseDueAuctions(ctx context.Context) (int, error) {
	due, err := s.auctions.ListDue(ctx, s.now(), s.batch)
	if err != nil {
		return 0, fmt.Errorf("closer_service: list due: %w", err)
	}

	var closed int
	var errs []error
	for _, auction := range due {
		final, err := s.close(ctx, auction)
		if err != nil {
			errs = append(errs, fmt.Errorf("auction %s: %w", auction.ID, err))
			continue
		}
		if final.Status == domain.AuctionStatusEnded {
			closed++
		}
	}

	if len(errs) > 0 {
		return closed, fmt.Errorf("closer_service: sweep closed %d of %d: %w", closed, len(due), errors.Join(errs...))
	}
	return closed, nil
}

// determineWinner resolves the winning bid for a due auction: the highest
// amount, ties broken by earliest timestamp. An auction with no bids has no
// winner.
func (s *CloserService) determineWinner(ctx context.Context, auction domain.Auction) (*domain.Bid, *string, error) {
	highest, err := s.bids.Highest(ctx, auction.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("closer_service: highest bid for %s: %w", auction.ID, err)
	}
	return &highest, &highest.UserID, nil
}

// broadcastEnded publishes auction_ended to the auction's room and, when
// there is a winner, a targeted notification on the global channel. Delivery
// is best-effort.
func (s *CloserService) broadcastEnded(ctx context.Context, auction domain.Auction, winner *domain.Bid) {
	var ref *domain.UserRef
	if winner != nil {
		ref = &domain.UserRef{ID: winner.UserID, Name: winner.UserName}
	}

	payload, err := domain.Wrap(domain.EventAuctionEnded, domain.AuctionEndedEvent{
		AuctionID:  auction.ID,
		Winner:     ref,
		FinalPrice: auction.CurrentPrice,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "closer_service: marshal auction_ended failed",
			slog.String("auction_id", auction.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, domain.AuctionChannel(auction.ID), payload); err != nil {
		s.logger.WarnContext(ctx, "closer_service: publish auction_ended failed",
			slog.String("auction_id", auction.ID),
			slog.String("error", err.Error()),
		)
	}

	if winner == nil {
		return
	}

	note, err := domain.Wrap(domain.EventNotification, domain.NotificationEvent{
		UserID:  winner.UserID,
		Type:    "auction_won",
		Message: fmt.Sprintf("You won %q at %.2f", auction.Title, auction.CurrentPrice),
		Auction: domain.NotifiedAuction{
			ID:         auction.ID,
			Title:      auction.Title,
			FinalPrice: auction.CurrentPrice,
		},
	})
	if err != nil {
		s.logger.WarnContext(ctx, "closer_service: marshal notification failed",
			slog.String("auction_id", auction.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, domain.NotificationChannel, note); err != nil {
		s.logger.WarnContext(ctx, "closer_service: publish notification failed",
			slog.String("auction_id", auction.ID),
			slog.String("error", err.Error()),
		)
	}
}

// notifyWinner emails the winning bidder. Best-effort: the close stands even
// if the mail bounces.
func (s *CloserService) notifyWinner(ctx context.Context, auction domain.Auction, winner *domain.Bid) {
	if s.mailer == nil || winner == nil {
		return
	}

	user, err := s.users.GetByID(ctx, winner.UserID)
	if err != nil {
		s.logger.WarnContext(ctx, "closer_service: fetch winner failed",
			slog.String("auction_id", auction.ID),
			slog.String("user_id", winner.UserID),
			slog.String("error", err.Error()),
		)
		return
	}

	subject := fmt.Sprintf("You won the auction: %s", auction.Title)
	body := fmt.Sprintf(
		"Congratulations %s!\n\nYour bid of %.2f won %q.\nThe seller will contact you with payment and delivery details.\n",
		user.Name, auction.CurrentPrice, auction.Title,
	)
	if err := s.mailer.SendTo(ctx, user.Email, subject, body); err != nil {
		s.logger.WarnContext(ctx, "closer_service: winner email failed",
			slog.String("auction_id", auction.ID),
			slog.String("user_id", winner.UserID),
			slog.String("error", err.Error()),
		)
	}
}

// archive exports the closed auction and its ledger to object storage.
// Best-effort: archival is repeatable on a later pass because it is
// idempotent by object key.
func (s *CloserService) archive(ctx context.Context, auction domain.Auction) {
	if s.archiver == nil {
		return
	}
	count, err := s.archiver.ArchiveAuction(ctx, auction)
	if err != nil {
		s.logger.WarnContext(ctx, "closer_service: archive failed",
			slog.String("auction_id", auction.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.DebugContext(ctx, "closer_service: auction archived",
		slog.String("auction_id", auction.ID),
		slog.Int64("bids", count),
	)
}
