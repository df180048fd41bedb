package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bidvault/bidvault/internal/domain"
)

// memStore is an in-memory implementation of the auction, bid, and user
// stores with the same conditional-update semantics as the Postgres layer:
// ApplyBid and MarkEnded are guarded compare-and-set operations under one
// mutex, so concurrent callers race exactly like they do against the
// database.
type memStore struct {
	mu       sync.Mutex
	auctions map[string]domain.Auction
	bids     []domain.Bid
	users    map[string]domain.User
}

func newMemStore() *memStore {
	return &memStore{
		auctions: make(map[string]domain.Auction),
		users:    make(map[string]domain.User),
	}
}

func (m *memStore) Create(_ context.Context, a domain.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.auctions[a.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.auctions[a.ID] = a
	return nil
}

func (m *memStore) GetByID(_ context.Context, id string) (domain.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a, nil
}

func (m *memStore) List(_ context.Context, status domain.AuctionStatus, opts domain.ListOpts) ([]domain.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Auction
	for _, a := range m.auctions {
		if status == "" || a.Status == status {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if opts.Offset > 0 && opts.Offset < len(out) {
		out = out[opts.Offset:]
	} else if opts.Offset >= len(out) {
		out = nil
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memStore) Count(_ context.Context, status domain.AuctionStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.auctions {
		if status == "" || a.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *memStore) Update(_ context.Context, a domain.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.auctions[a.ID]
	if !ok {
		return domain.ErrNotFound
	}
	cur.Title = a.Title
	cur.Description = a.Description
	cur.ImageURL = a.ImageURL
	cur.EndTime = a.EndTime
	cur.UpdatedAt = a.UpdatedAt
	m.auctions[a.ID] = cur
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.auctions[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.auctions, id)
	kept := m.bids[:0]
	for _, b := range m.bids {
		if b.AuctionID != id {
			kept = append(kept, b)
		}
	}
	m.bids = kept
	return nil
}

func (m *memStore) ApplyBid(_ context.Context, p domain.BidPlacement) (domain.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[p.Bid.AuctionID]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	if a.Status != domain.AuctionStatusActive || a.CurrentPrice != p.PriorPrice {
		return domain.Auction{}, domain.ErrConflict
	}
	a.CurrentPrice = p.Bid.Amount
	a.BidCount++
	if p.NewEndTime.After(a.EndTime) {
		a.EndTime = p.NewEndTime
	}
	a.UpdatedAt = p.Bid.CreatedAt
	m.auctions[a.ID] = a
	m.bids = append(m.bids, p.Bid)
	return a, nil
}

func (m *memStore) MarkEnded(_ context.Context, id string, winnerID *string, finalPrice float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if a.Status != domain.AuctionStatusActive {
		return domain.ErrConflict
	}
	a.Status = domain.AuctionStatusEnded
	a.WinnerID = winnerID
	a.CurrentPrice = finalPrice
	m.auctions[id] = a
	return nil
}

func (m *memStore) MarkCancelled(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if a.Status != domain.AuctionStatusActive {
		return domain.ErrConflict
	}
	a.Status = domain.AuctionStatusCancelled
	m.auctions[id] = a
	return nil
}

func (m *memStore) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []domain.Auction
	for _, a := range m.auctions {
		if a.IsDue(now) {
			due = append(due, a)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].EndTime.Before(due[j].EndTime) })
	if limit > 0 && limit < len(due) {
		due = due[:limit]
	}
	return due, nil
}

func (m *memStore) ListByAuction(_ context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Bid
	for _, b := range m.bids {
		if b.AuctionID == auctionID {
			out = append(out, b)
		}
	}
	sortBids(out)
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memStore) ListByUser(_ context.Context, userID string, opts domain.ListOpts) ([]domain.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Bid
	for _, b := range m.bids {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memStore) Highest(_ context.Context, auctionID string) (domain.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []domain.Bid
	for _, b := range m.bids {
		if b.AuctionID == auctionID {
			all = append(all, b)
		}
	}
	if len(all) == 0 {
		return domain.Bid{}, domain.ErrNotFound
	}
	sortBids(all)
	return all[0], nil
}

func (m *memStore) CountByAuction(_ context.Context, auctionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, b := range m.bids {
		if b.AuctionID == auctionID {
			n++
		}
	}
	return n, nil
}

// sortBids orders by amount descending, ties broken by earliest timestamp.
func sortBids(bids []domain.Bid) {
	sort.Slice(bids, func(i, j int) bool {
		if bids[i].Amount != bids[j].Amount {
			return bids[i].Amount > bids[j].Amount
		}
		return bids[i].CreatedAt.Before(bids[j].CreatedAt)
	})
}

func (m *memStore) CreateUser(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// UserStore methods. Create shares the name with AuctionStore.Create, so the
// memStore is wrapped by memUsers for the domain.UserStore interface.
type memUsers struct{ s *memStore }

func (m memUsers) Create(_ context.Context, u domain.User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.users {
		if existing.Email == u.Email {
			return domain.ErrAlreadyExists
		}
	}
	m.s.users[u.ID] = u
	return nil
}

func (m memUsers) GetByID(_ context.Context, id string) (domain.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (m memUsers) GetByEmail(_ context.Context, email string) (domain.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

// memBus records published messages per channel.
type memBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{messages: make(map[string][][]byte)}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, _ string) (<-chan domain.BusMessage, error) {
	ch := make(chan domain.BusMessage)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (b *memBus) published(channel string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.messages[channel]...)
}

// memMailer records addressed sends.
type memMailer struct {
	mu    sync.Mutex
	sends []mailRecord
}

type mailRecord struct {
	To      string
	Subject string
	Body    string
}

func (m *memMailer) SendTo(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, mailRecord{To: to, Subject: subject, Body: body})
	return nil
}

func (m *memMailer) sent() []mailRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailRecord(nil), m.sends...)
}

// memArchiver records archived auction IDs.
type memArchiver struct {
	mu       sync.Mutex
	archived []string
}

func (a *memArchiver) ArchiveAuction(_ context.Context, auction domain.Auction) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived = append(a.archived, auction.ID)
	return int64(auction.BidCount), nil
}

func (a *memArchiver) ids() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.archived...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Interface checks so the fakes stay aligned with the domain contracts.
var (
	_ domain.AuctionStore = (*memStore)(nil)
	_ domain.BidStore     = (*memStore)(nil)
	_ domain.UserStore    = memUsers{}
	_ domain.SignalBus    = (*memBus)(nil)
)
