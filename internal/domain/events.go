package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event type names carried on the fan-out channel.
const (
	EventNewBid       = "new_bid"
	EventAuctionEnded = "auction_ended"
	EventNotification = "notification"
	EventSnapshot     = "snapshot"
	EventBidError     = "bid_error"
)

// NotificationChannel is the global channel for user-targeted notifications.
// Clients filter by the userId field in the payload.
const NotificationChannel = "notifications"

// AuctionChannel returns the pub/sub channel name for a single auction's room.
func AuctionChannel(auctionID string) string {
	return "auction:" + auctionID
}

// Envelope is the wire shape for every broadcast message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Wrap marshals payload into an Envelope of the given type.
func Wrap(eventType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("events: marshal %s payload: %w", eventType, err)
	}
	data, err := json.Marshal(Envelope{Type: eventType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("events: marshal %s envelope: %w", eventType, err)
	}
	return data, nil
}

// NewBidEvent is broadcast to an auction's room after every accepted bid.
type NewBidEvent struct {
	Bid          Bid       `json:"bid"`
	CurrentPrice float64   `json:"currentPrice"`
	BidCount     int       `json:"bidCount"`
	EndTime      time.Time `json:"endTime"`
}

// AuctionEndedEvent is broadcast to an auction's room exactly once, when the
// closer finalizes the auction.
type AuctionEndedEvent struct {
	AuctionID  string   `json:"auctionId"`
	Winner     *UserRef `json:"winner"`
	FinalPrice float64  `json:"finalPrice"`
}

// NotificationEvent is delivered on the global notification channel, targeted
// at a single user.
type NotificationEvent struct {
	UserID  string          `json:"userId"`
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Auction NotifiedAuction `json:"auction"`
}

// NotifiedAuction is the compact auction shape embedded in notifications.
type NotifiedAuction struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	FinalPrice float64 `json:"finalPrice"`
}

// SnapshotEvent is sent to a client immediately after it joins an auction
// room, so late joiners start from consistent state.
type SnapshotEvent struct {
	Auction Auction `json:"auction"`
	TopBids []Bid   `json:"topBids"`
}
