package domain

import "time"

// Bid is an immutable monetary offer against an auction. Bids are only ever
// appended; they are never updated, and are removed only when the auction they
// reference is deleted.
type Bid struct {
	ID        string    `json:"id"`
	AuctionID string    `json:"auctionId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName,omitempty"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"timestamp"`
}

// BidResult is returned by the bid acceptor on a successful commit. It carries
// the accepted bid together with the auction counters as of that commit.
type BidResult struct {
	Bid          Bid       `json:"bid"`
	CurrentPrice float64   `json:"currentPrice"`
	BidCount     int       `json:"bidCount"`
	EndTime      time.Time `json:"endTime"`
}
