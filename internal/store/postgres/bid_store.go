package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bidvault/bidvault/internal/domain"
)

// BidStore implements domain.BidStore using PostgreSQL. It is read-only:
// ledger writes happen inside AuctionStore.ApplyBid so they commit in the
// same transaction as the auction row mutation.
type BidStore struct {
	pool *pgxpool.Pool
}

// NewBidStore creates a new BidStore backed by the given connection pool.
func NewBidStore(pool *pgxpool.Pool) *BidStore {
	return &BidStore{pool: pool}
}

const bidCols = `b.id, b.auction_id, b.user_id, u.name, b.amount, b.created_at`

func scanBid(row pgx.Row) (domain.Bid, error) {
	var b domain.Bid
	err := row.Scan(&b.ID, &b.AuctionID, &b.UserID, &b.UserName, &b.Amount, &b.CreatedAt)
	if err != nil {
		return domain.Bid{}, err
	}
	return b, nil
}

func scanBidRows(rows pgx.Rows) ([]domain.Bid, error) {
	var bids []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

// ListByAuction returns bids for an auction ordered by amount descending.
func (s *BidStore) ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	query := `SELECT ` + bidCols + ` FROM bids b
		JOIN users u ON u.id = b.user_id
		WHERE b.auction_id = $1
		ORDER BY b.amount DESC, b.created_at ASC`
	args := []any{auctionID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids for auction %s: %w", auctionID, err)
	}
	defer rows.Close()

	bids, err := scanBidRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bids for auction %s: %w", auctionID, err)
	}
	return bids, nil
}

// ListByUser returns a user's bids, most recent first.
func (s *BidStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Bid, error) {
	query := `SELECT ` + bidCols + ` FROM bids b
		JOIN users u ON u.id = b.user_id
		WHERE b.user_id = $1
		ORDER BY b.created_at DESC`
	args := []any{userID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids for user %s: %w", userID, err)
	}
	defer rows.Close()

	bids, err := scanBidRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bids for user %s: %w", userID, err)
	}
	return bids, nil
}

// Highest returns the winning candidate: maximum amount, earliest creation
// time on ties.
func (s *BidStore) Highest(ctx context.Context, auctionID string) (domain.Bid, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+bidCols+` FROM bids b
		JOIN users u ON u.id = b.user_id
		WHERE b.auction_id = $1
		ORDER BY b.amount DESC, b.created_at ASC
		LIMIT 1`, auctionID)

	b, err := scanBid(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Bid{}, domain.ErrNotFound
		}
		return domain.Bid{}, fmt.Errorf("postgres: highest bid for auction %s: %w", auctionID, err)
	}
	return b, nil
}

// CountByAuction returns the ledger size for an auction.
func (s *BidStore) CountByAuction(ctx context.Context, auctionID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM bids WHERE auction_id = $1", auctionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count bids for auction %s: %w", auctionID, err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.BidStore = (*BidStore)(nil)
