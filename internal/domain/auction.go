package domain

import "time"

// AuctionStatus represents the lifecycle state of an auction.
type AuctionStatus string

const (
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusEnded     AuctionStatus = "ended"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

// Auction is a priced, time-boxed item accepting bids. CurrentPrice is
// monotonically non-decreasing after creation and always equals the amount of
// the most recently accepted bid (or StartingPrice if none). EndTime may be
// extended by the anti-snipe rule but never shortened, and is frozen once the
// status leaves active.
type Auction struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	ImageURL      string        `json:"imageUrl"`
	StartingPrice float64       `json:"startingPrice"`
	CurrentPrice  float64       `json:"currentPrice"`
	StartTime     time.Time     `json:"startTime"`
	EndTime       time.Time     `json:"endTime"`
	Status        AuctionStatus `json:"status"`
	WinnerID      *string       `json:"winnerId,omitempty"`
	BidCount      int           `json:"bidCount"`
	CreatedBy     string        `json:"createdBy"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// IsDue reports whether the auction's deadline has passed while it is still
// active, i.e. whether the closer should run.
func (a *Auction) IsDue(now time.Time) bool {
	return a.Status == AuctionStatusActive && now.After(a.EndTime)
}
