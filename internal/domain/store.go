package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// BidPlacement is the unit of work the bid acceptor hands to the store: the
// fully-populated bid to append plus the guard values for the conditional
// update. The store must commit the auction mutation and the bid append
// atomically, and only if the auction is still active at PriorPrice.
type BidPlacement struct {
	// Bid is appended to the ledger as-is.
	Bid Bid

	// PriorPrice is the current price observed at validation time. The
	// conditional update fails with ErrConflict when the stored price no
	// longer matches, which is how two bids over the same stale price are
	// prevented from both succeeding.
	PriorPrice float64

	// NewEndTime is the deadline after anti-snipe evaluation. The store must
	// never let it shorten the existing deadline.
	NewEndTime time.Time
}

// AuctionStore persists auctions. ApplyBid and MarkEnded are the two
// conditional writes that carry all of the platform's concurrency guarantees;
// every other method is plain CRUD.
type AuctionStore interface {
	Create(ctx context.Context, a Auction) error
	GetByID(ctx context.Context, id string) (Auction, error)
	List(ctx context.Context, status AuctionStatus, opts ListOpts) ([]Auction, error)
	Count(ctx context.Context, status AuctionStatus) (int64, error)

	// Update persists admin-editable fields (title, description, image,
	// end time). It must not touch price or counter columns.
	Update(ctx context.Context, a Auction) error
	Delete(ctx context.Context, id string) error

	// ApplyBid atomically appends the bid and advances the auction's price,
	// bid count, and (possibly extended) end time, conditioned on
	// status=active and current_price=PriorPrice. It returns the refreshed
	// auction on success and ErrConflict when the guard no longer holds.
	ApplyBid(ctx context.Context, p BidPlacement) (Auction, error)

	// MarkEnded transitions active -> ended, setting the winner and final
	// price. The update is guarded on status=active: exactly one caller per
	// auction observes success, every other concurrent caller gets
	// ErrConflict and must treat the close as already done.
	MarkEnded(ctx context.Context, id string, winnerID *string, finalPrice float64) error

	// MarkCancelled transitions active -> cancelled with the same guard
	// semantics as MarkEnded.
	MarkCancelled(ctx context.Context, id string) error

	// ListDue returns active auctions whose deadline has passed, for the
	// periodic sweep.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Auction, error)
}

// BidStore reads the append-only bid ledger. Writes go through
// AuctionStore.ApplyBid so they share the auction row's transaction.
type BidStore interface {
	// ListByAuction returns bids for an auction ordered by amount descending,
	// with bidder names resolved.
	ListByAuction(ctx context.Context, auctionID string, opts ListOpts) ([]Bid, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Bid, error)

	// Highest returns the bid with the maximum amount for the auction, ties
	// broken by earliest creation time. ErrNotFound when the ledger is empty.
	Highest(ctx context.Context, auctionID string) (Bid, error)

	CountByAuction(ctx context.Context, auctionID string) (int64, error)
}

// UserStore persists the minimal identity records.
type UserStore interface {
	Create(ctx context.Context, u User) error
	GetByID(ctx context.Context, id string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
}
