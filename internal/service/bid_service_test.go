package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bidvault/bidvault/internal/domain"
)

var testTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func seedAuction(t *testing.T, store *memStore, mutate func(*domain.Auction)) domain.Auction {
	t.Helper()
	a := domain.Auction{
		ID:            "auction-1",
		Title:         "Vintage synth",
		StartingPrice: 100,
		CurrentPrice:  100,
		StartTime:     testTime.Add(-time.Hour),
		EndTime:       testTime.Add(time.Hour),
		Status:        domain.AuctionStatusActive,
		CreatedBy:     "seller-1",
		CreatedAt:     testTime.Add(-time.Hour),
		UpdatedAt:     testTime.Add(-time.Hour),
	}
	if mutate != nil {
		mutate(&a)
	}
	require.NoError(t, store.Create(context.Background(), a))
	return a
}

func seedUser(store *memStore, id, name string) {
	store.CreateUser(domain.User{ID: id, Name: name, Email: id + "@example.com", Role: domain.UserRoleUser})
}

func newBidService(store *memStore, bus *memBus, closer AuctionCloser) *BidService {
	svc := NewBidService(store, store, memUsers{store}, bus, closer, 60*time.Second, testLogger())
	svc.now = func() time.Time { return testTime }
	return svc
}

func TestSubmitBidAccepted(t *testing.T) {
	store := newMemStore()
	bus := newMemBus()
	seedAuction(t, store, nil)
	seedUser(store, "bidder-1", "Ada")

	svc := newBidService(store, bus, nil)

	result, err := svc.SubmitBid(context.Background(), "auction-1", "bidder-1", 150)
	require.NoError(t, err)
	require.Equal(t, 150.0, result.CurrentPrice)
	require.Equal(t, 1, result.BidCount)
	require.Equal(t, "Ada", result.Bid.UserName)
	require.Equal(t, 150.0, result.Bid.Amount)

	stored, err := store.GetByID(context.Background(), "auction-1")
	require.NoError(t, err)
	require.Equal(t, 150.0, stored.CurrentPrice)
	require.Equal(t, 1, stored.BidCount)

	msgs := bus.published(domain.AuctionChannel("auction-1"))
	require.Len(t, msgs, 1)
	var env domain.Envelope
	require.NoError(t, json.Unmarshal(msgs[0], &env))
	require.Equal(t, domain.EventNewBid, env.Type)
}

func TestSubmitBidRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*domain.Auction)
		userID  string
		amount  float64
		reason  domain.RejectReason
		wantMsg string
	}{
		{
			name:   "equal to current price",
			userID: "bidder-1",
			amount: 100,
			reason: domain.ReasonBidTooLow,
			// The rejection message carries the price the bid must exceed.
			wantMsg: "100.00",
		},
		{
			name:   "below current price",
			userID: "bidder-1",
			amount: 50,
			reason: domain.ReasonBidTooLow,
		},
		{
			name:   "seller bids on own auction",
			userID: "seller-1",
			amount: 150,
			reason: domain.ReasonSelfBid,
		},
		{
			name:   "auction already ended",
			mutate: func(a *domain.Auction) { a.Status = domain.AuctionStatusEnded },
			userID: "bidder-1",
			amount: 150,
			reason: domain.ReasonNotActive,
		},
		{
			name:   "auction cancelled",
			mutate: func(a *domain.Auction) { a.Status = domain.AuctionStatusCancelled },
			userID: "bidder-1",
			amount: 150,
			reason: domain.ReasonNotActive,
		},
		{
			name:   "deadline passed",
			mutate: func(a *domain.Auction) { a.EndTime = testTime.Add(-time.Minute) },
			userID: "bidder-1",
			amount: 150,
			reason: domain.ReasonExpired,
		},
		{
			name:   "unknown bidder",
			userID: "ghost",
			amount: 150,
			reason: domain.ReasonNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			bus := newMemBus()
			seedAuction(t, store, tt.mutate)
			seedUser(store, "bidder-1", "Ada")

			svc := newBidService(store, bus, nil)

			_, err := svc.SubmitBid(context.Background(), "auction-1", tt.userID, tt.amount)
			rej, ok := domain.AsRejection(err)
			require.True(t, ok, "expected rejection, got %v", err)
			require.Equal(t, tt.reason, rej.Reason)
			if tt.wantMsg != "" {
				require.Contains(t, rej.Message, tt.wantMsg)
			}

			// A rejected bid must not touch the ledger or the room.
			count, _ := store.CountByAuction(context.Background(), "auction-1")
			require.Zero(t, count)
			require.Empty(t, bus.published(domain.AuctionChannel("auction-1")))
		})
	}
}

func TestSubmitBidUnknownAuction(t *testing.T) {
	store := newMemStore()
	svc := newBidService(store, newMemBus(), nil)

	_, err := svc.SubmitBid(context.Background(), "missing", "bidder-1", 150)
	rej, ok := domain.AsRejection(err)
	require.True(t, ok)
	require.Equal(t, domain.ReasonNotFound, rej.Reason)
}

func TestSubmitBidAntiSnipe(t *testing.T) {
	tests := []struct {
		name        string
		endIn       time.Duration
		wantEndTime time.Time
	}{
		{
			name:        "inside window extends to now plus window",
			endIn:       20 * time.Second,
			wantEndTime: testTime.Add(60 * time.Second),
		},
		{
			name:        "exactly at window boundary unchanged",
			endIn:       60 * time.Second,
			wantEndTime: testTime.Add(60 * time.Second),
		},
		{
			name:        "outside window unchanged",
			endIn:       10 * time.Minute,
			wantEndTime: testTime.Add(10 * time.Minute),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			seedAuction(t, store, func(a *domain.Auction) { a.EndTime = testTime.Add(tt.endIn) })
			seedUser(store, "bidder-1", "Ada")

			svc := newBidService(store, newMemBus(), nil)

			result, err := svc.SubmitBid(context.Background(), "auction-1", "bidder-1", 150)
			require.NoError(t, err)
			require.Equal(t, tt.wantEndTime, result.EndTime)
		})
	}
}

func TestSubmitBidExpiredTriggersEagerClose(t *testing.T) {
	store := newMemStore()
	bus := newMemBus()
	seedAuction(t, store, func(a *domain.Auction) { a.EndTime = testTime.Add(-time.Minute) })
	seedUser(store, "bidder-1", "Ada")

	closer := NewCloserService(store, store, memUsers{store}, bus, nil, nil, 100, testLogger())
	closer.now = func() time.Time { return testTime }

	svc := newBidService(store, bus, closer)

	_, err := svc.SubmitBid(context.Background(), "auction-1", "bidder-1", 150)
	rej, ok := domain.AsRejection(err)
	require.True(t, ok)
	require.Equal(t, domain.ReasonExpired, rej.Reason)

	closed, err := store.GetByID(context.Background(), "auction-1")
	require.NoError(t, err)
	require.Equal(t, domain.AuctionStatusEnded, closed.Status)
}

// raceStore injects a competing bid immediately before the first ApplyBid so
// the caller's conditional update always loses its race.
type raceStore struct {
	*memStore
	competing domain.BidPlacement
	once      sync.Once
}

func (r *raceStore) ApplyBid(ctx context.Context, p domain.BidPlacement) (domain.Auction, error) {
	r.once.Do(func() {
		_, _ = r.memStore.ApplyBid(ctx, r.competing)
	})
	return r.memStore.ApplyBid(ctx, p)
}

func TestSubmitBidLostRaceMapsToBidTooLow(t *testing.T) {
	store := newMemStore()
	seedAuction(t, store, nil)
	seedUser(store, "bidder-1", "Ada")
	seedUser(store, "bidder-2", "Grace")

	race := &raceStore{
		memStore: store,
		competing: domain.BidPlacement{
			Bid: domain.Bid{
				ID: "sneak", AuctionID: "auction-1", UserID: "bidder-2",
				Amount: 200, CreatedAt: testTime,
			},
			PriorPrice: 100,
			NewEndTime: testTime.Add(time.Hour),
		},
	}

	svc := NewBidService(race, store, memUsers{store}, newMemBus(), nil, 60*time.Second, testLogger())
	svc.now = func() time.Time { return testTime }

	// Both bids observed price 100; the competing 200 lands first, so 150 is
	// now too low and the caller hears that, not a bare conflict.
	_, err := svc.SubmitBid(context.Background(), "auction-1", "bidder-1", 150)
	rej, ok := domain.AsRejection(err)
	require.True(t, ok)
	require.Equal(t, domain.ReasonBidTooLow, rej.Reason)
	require.Contains(t, rej.Message, "200.00")
}

func TestSubmitBidLostRaceStillHigherMapsToConflict(t *testing.T) {
	store := newMemStore()
	seedAuction(t, store, nil)
	seedUser(store, "bidder-1", "Ada")
	seedUser(store, "bidder-2", "Grace")

	race := &raceStore{
		memStore: store,
		competing: domain.BidPlacement{
			Bid: domain.Bid{
				ID: "sneak", AuctionID: "auction-1", UserID: "bidder-2",
				Amount: 120, CreatedAt: testTime,
			},
			PriorPrice: 100,
			NewEndTime: testTime.Add(time.Hour),
		},
	}

	svc := NewBidService(race, store, memUsers{store}, newMemBus(), nil, 60*time.Second, testLogger())
	svc.now = func() time.Time { return testTime }

	// 200 still beats the sneaked-in 120, but the guard it was validated
	// against is stale. The submission is decided once, as a conflict, and is
	// never silently retried.
	_, err := svc.SubmitBid(context.Background(), "auction-1", "bidder-1", 200)
	rej, ok := domain.AsRejection(err)
	require.True(t, ok)
	require.Equal(t, domain.ReasonConcurrentConflict, rej.Reason)

	stored, err := store.GetByID(context.Background(), "auction-1")
	require.NoError(t, err)
	require.Equal(t, 120.0, stored.CurrentPrice)
	require.Equal(t, 1, stored.BidCount)
}

// stallStore advances a fake clock once the conditional update has committed,
// simulating processing that outlasts the anti-snipe window.
type stallStore struct {
	*memStore
	afterCommit func()
}

func (s *stallStore) ApplyBid(ctx context.Context, p domain.BidPlacement) (domain.Auction, error) {
	a, err := s.memStore.ApplyBid(ctx, p)
	if err == nil {
		s.afterCommit()
	}
	return a, err
}

func TestSubmitBidCommitAfterDeadlineClosesEagerly(t *testing.T) {
	store := newMemStore()
	bus := newMemBus()
	seedAuction(t, store, func(a *domain.Auction) { a.EndTime = testTime.Add(30 * time.Second) })
	seedUser(store, "bidder-1", "Ada")

	now := testTime
	stalled := &stallStore{
		memStore:    store,
		afterCommit: func() { now = testTime.Add(2 * time.Minute) },
	}

	closer := NewCloserService(store, store, memUsers{store}, bus, nil, nil, 100, testLogger())
	closer.now = func() time.Time { return now }

	svc := NewBidService(stalled, store, memUsers{store}, bus, closer, 60*time.Second, testLogger())
	svc.now = func() time.Time { return now }

	// Validated with 30s left, the bid extends the deadline to testTime+60s,
	// but the commit lands two minutes later. The acceptor must notice the
	// extended deadline has already passed and close the auction itself.
	result, err := svc.SubmitBid(context.Background(), "auction-1", "bidder-1", 150)
	require.NoError(t, err)
	require.Equal(t, testTime.Add(60*time.Second), result.EndTime)

	closed, err := store.GetByID(context.Background(), "auction-1")
	require.NoError(t, err)
	require.Equal(t, domain.AuctionStatusEnded, closed.Status)
	require.NotNil(t, closed.WinnerID)
	require.Equal(t, "bidder-1", *closed.WinnerID)

	// The room hears the accepted bid and then the close.
	msgs := bus.published(domain.AuctionChannel("auction-1"))
	require.Len(t, msgs, 2)
	var first, second domain.Envelope
	require.NoError(t, json.Unmarshal(msgs[0], &first))
	require.NoError(t, json.Unmarshal(msgs[1], &second))
	require.Equal(t, domain.EventNewBid, first.Type)
	require.Equal(t, domain.EventAuctionEnded, second.Type)
}

func TestSubmitBidConcurrentMonotonicPrice(t *testing.T) {
	store := newMemStore()
	seedAuction(t, store, nil)
	bus := newMemBus()

	const bidders = 20
	for i := 0; i < bidders; i++ {
		seedUser(store, bidderID(i), "Bidder")
	}

	svc := newBidService(store, bus, nil)

	var wg sync.WaitGroup
	accepted := make(chan float64, bidders)
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amount := 101 + float64(i)
			if result, err := svc.SubmitBid(context.Background(), "auction-1", bidderID(i), amount); err == nil {
				accepted <- result.CurrentPrice
			}
		}(i)
	}
	wg.Wait()
	close(accepted)

	var count int
	var max float64
	for price := range accepted {
		count++
		if price > max {
			max = price
		}
	}
	require.NotZero(t, count, "at least one bid must be accepted")

	stored, err := store.GetByID(context.Background(), "auction-1")
	require.NoError(t, err)
	require.Equal(t, max, stored.CurrentPrice)
	require.Equal(t, count, stored.BidCount)
	require.GreaterOrEqual(t, stored.CurrentPrice, stored.StartingPrice)

	// Every accepted bid must have been broadcast.
	require.Len(t, bus.published(domain.AuctionChannel("auction-1")), count)
}

func bidderID(i int) string {
	return "bidder-" + string(rune('a'+i))
}
