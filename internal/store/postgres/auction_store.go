package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bidvault/bidvault/internal/domain"
)

// AuctionStore implements domain.AuctionStore using PostgreSQL.
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates a new AuctionStore backed by the given connection pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

const auctionCols = `id, title, description, image_url, starting_price, current_price,
	start_time, end_time, status, winner_id, bid_count, created_by,
	created_at, updated_at`

// scanAuction scans a single auction row into a domain.Auction.
func scanAuction(row pgx.Row) (domain.Auction, error) {
	var a domain.Auction
	var status string
	err := row.Scan(
		&a.ID, &a.Title, &a.Description, &a.ImageURL,
		&a.StartingPrice, &a.CurrentPrice,
		&a.StartTime, &a.EndTime, &status,
		&a.WinnerID, &a.BidCount, &a.CreatedBy,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Auction{}, err
	}
	a.Status = domain.AuctionStatus(status)
	return a, nil
}

// Create inserts a new auction.
func (s *AuctionStore) Create(ctx context.Context, a domain.Auction) error {
	const query = `
		INSERT INTO auctions (
			id, title, description, image_url, starting_price, current_price,
			start_time, end_time, status, winner_id, bid_count, created_by,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			NOW(), NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.Title, a.Description, a.ImageURL,
		a.StartingPrice, a.CurrentPrice,
		a.StartTime, a.EndTime, string(a.Status),
		a.WinnerID, a.BidCount, a.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("postgres: create auction %s: %w", a.ID, err)
	}
	return nil
}

// GetByID retrieves an auction by its primary key.
func (s *AuctionStore) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+auctionCols+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("postgres: get auction %s: %w", id, err)
	}
	return a, nil
}

// List returns auctions filtered by status (all statuses when empty), newest
// first, with pagination.
func (s *AuctionStore) List(ctx context.Context, status domain.AuctionStatus, opts domain.ListOpts) ([]domain.Auction, error) {
	query := `SELECT ` + auctionCols + ` FROM auctions`
	args := []any{}
	argIdx := 1

	if status != "" {
		query += fmt.Sprintf(" WHERE status = $%d", argIdx)
		args = append(args, string(status))
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list auctions: %w", err)
	}
	defer rows.Close()

	var auctions []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan auction: %w", err)
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list auctions rows: %w", err)
	}
	return auctions, nil
}

// Count returns the number of auctions, optionally filtered by status.
func (s *AuctionStore) Count(ctx context.Context, status domain.AuctionStatus) (int64, error) {
	var count int64
	var err error
	if status != "" {
		err = s.pool.QueryRow(ctx,
			"SELECT COUNT(*) FROM auctions WHERE status = $1", string(status)).Scan(&count)
	} else {
		err = s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM auctions").Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: count auctions: %w", err)
	}
	return count, nil
}

// Update persists admin-editable fields. Price and counter columns are owned
// by ApplyBid and MarkEnded and are deliberately absent from the column list.
func (s *AuctionStore) Update(ctx context.Context, a domain.Auction) error {
	const query = `
		UPDATE auctions SET
			title       = $1,
			description = $2,
			image_url   = $3,
			end_time    = $4,
			updated_at  = NOW()
		WHERE id = $5`

	tag, err := s.pool.Exec(ctx, query,
		a.Title, a.Description, a.ImageURL, a.EndTime, a.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update auction %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes an auction; the bids foreign key cascades the ledger away
// with it.
func (s *AuctionStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM auctions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete auction %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ApplyBid commits one accepted bid in a single transaction: a conditional
// update on the auction row followed by the ledger append. The update is
// guarded on status and the price observed at validation time, so two
// submissions reading the same stale price can never both commit. GREATEST
// keeps the anti-snipe extension from ever shortening the deadline.
func (s *AuctionStore) ApplyBid(ctx context.Context, p domain.BidPlacement) (domain.Auction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("postgres: begin apply bid: %w", err)
	}
	defer tx.Rollback(ctx)

	const update = `
		UPDATE auctions SET
			current_price = $1,
			bid_count     = bid_count + 1,
			end_time      = GREATEST(end_time, $2),
			updated_at    = NOW()
		WHERE id = $3 AND status = 'active' AND current_price = $4
		RETURNING ` + auctionCols

	row := tx.QueryRow(ctx, update,
		p.Bid.Amount, p.NewEndTime, p.Bid.AuctionID, p.PriorPrice,
	)
	a, err := scanAuction(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Auction{}, domain.ErrConflict
		}
		return domain.Auction{}, fmt.Errorf("postgres: apply bid %s: %w", p.Bid.AuctionID, err)
	}

	const insert = `
		INSERT INTO bids (id, auction_id, user_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := tx.Exec(ctx, insert,
		p.Bid.ID, p.Bid.AuctionID, p.Bid.UserID, p.Bid.Amount, p.Bid.CreatedAt,
	); err != nil {
		return domain.Auction{}, fmt.Errorf("postgres: append bid %s: %w", p.Bid.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Auction{}, fmt.Errorf("postgres: commit apply bid: %w", err)
	}
	return a, nil
}

// MarkEnded transitions active -> ended. The status guard makes the close
// exactly-once: zero rows affected means another closer already won.
func (s *AuctionStore) MarkEnded(ctx context.Context, id string, winnerID *string, finalPrice float64) error {
	const query = `
		UPDATE auctions SET
			status        = 'ended',
			winner_id     = $1,
			current_price = $2,
			updated_at    = NOW()
		WHERE id = $3 AND status = 'active'`

	tag, err := s.pool.Exec(ctx, query, winnerID, finalPrice, id)
	if err != nil {
		return fmt.Errorf("postgres: mark auction %s ended: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// MarkCancelled transitions active -> cancelled under the same guard.
func (s *AuctionStore) MarkCancelled(ctx context.Context, id string) error {
	const query = `
		UPDATE auctions SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'active'`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: mark auction %s cancelled: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// ListDue returns active auctions whose deadline has passed, oldest deadline
// first, for the periodic sweep.
func (s *AuctionStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Auction, error) {
	query := `SELECT ` + auctionCols + ` FROM auctions
		WHERE status = 'active' AND end_time < $1
		ORDER BY end_time ASC`
	args := []any{now}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due auctions: %w", err)
	}
	defer rows.Close()

	var auctions []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan due auction: %w", err)
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list due auctions rows: %w", err)
	}
	return auctions, nil
}

// Compile-time interface check.
var _ domain.AuctionStore = (*AuctionStore)(nil)
