package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"rooster-auction/internal/domain"

	_ "github.com/go-sql-driver/mysql"
)

const auctionColumns = `id, starting_bid, reserve_price, start_time, end_time,
        extension_window_ms, extension_ms, status, created_at, updated_at`

type MySQLAuctionRepository struct {
	db *sql.DB
}

func NewMySQLAuctionRepository(db *sql.DB) *MySQLAuctionRepository {
	return &MySQLAuctionRepository{db: db}
}

func (r *MySQLAuctionRepository) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	query := `
        INSERT INTO auctions (` + auctionColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		auction.ID, auction.StartingBid, auction.ReservePrice, auction.StartTime, auction.EndTime,
		auction.ExtensionWindow.Milliseconds(), auction.ExtensionDuration.Milliseconds(),
		int(auction.Status), auction.CreatedAt, auction.UpdatedAt)
	return err
}

func (r *MySQLAuctionRepository) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = ?`

	auction, err := scanAuction(r.db.QueryRowContext(ctx, query, auctionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAuctionNotFound
	}
	return auction, err
}

func (r *MySQLAuctionRepository) UpdateAuctionStatus(ctx context.Context, auctionID string, status domain.AuctionStatus) error {
	query := `UPDATE auctions SET status = ?, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, query, int(status), time.Now(), auctionID)
}

// UpdateAuctionEndTime records a closing time moved by a late bid.
func (r *MySQLAuctionRepository) UpdateAuctionEndTime(ctx context.Context, auctionID string, endTime time.Time) error {
	query := `UPDATE auctions SET end_time = ?, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, query, endTime, time.Now(), auctionID)
}

func (r *MySQLAuctionRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrAuctionNotFound
	}
	return nil
}

func (r *MySQLAuctionRepository) GetActiveAuctions(ctx context.Context) ([]*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE status = ?`
	return r.queryAuctions(ctx, query, int(domain.AuctionActive))
}

// GetAuctionsToStart returns pending auctions whose start time has passed.
func (r *MySQLAuctionRepository) GetAuctionsToStart(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions
        WHERE status = ? AND start_time <= ?
        ORDER BY start_time`
	return r.queryAuctions(ctx, query, int(domain.AuctionPending), now)
}

// GetAuctionsToEnd returns active auctions whose end time has passed.
func (r *MySQLAuctionRepository) GetAuctionsToEnd(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions
        WHERE status = ? AND end_time <= ?
        ORDER BY end_time`
	return r.queryAuctions(ctx, query, int(domain.AuctionActive), now)
}

func (r *MySQLAuctionRepository) queryAuctions(ctx context.Context, query string, args ...any) ([]*domain.Auction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auctions []*domain.Auction
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, auction)
	}

	return auctions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (*domain.Auction, error) {
	var auction domain.Auction
	var status int
	var windowMs, extensionMs int64

	err := row.Scan(&auction.ID, &auction.StartingBid, &auction.ReservePrice, &auction.StartTime, &auction.EndTime,
		&windowMs, &extensionMs, &status, &auction.CreatedAt, &auction.UpdatedAt)
	if err != nil {
		return nil, err
	}

	auction.ExtensionWindow = time.Duration(windowMs) * time.Millisecond
	auction.ExtensionDuration = time.Duration(extensionMs) * time.Millisecond
	auction.Status = domain.AuctionStatus(status)
	return &auction, nil
}
