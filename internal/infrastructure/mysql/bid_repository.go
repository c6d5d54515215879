package mysql

import (
	"context"
	"database/sql"
	"time"

	"rooster-auction/internal/domain"
)

// MySQLBidRepository is the ledger of accepted bids. Redelivered events are
// ignored by the (auction_id, bidder_id, amount) unique key.
type MySQLBidRepository struct {
	db *sql.DB
}

func NewMySQLBidRepository(db *sql.DB) *MySQLBidRepository {
	return &MySQLBidRepository{db: db}
}

func (r *MySQLBidRepository) RecordBid(ctx context.Context, update *domain.BidUpdate) error {
	query := `
        INSERT IGNORE INTO bid_events (auction_id, bidder_id, amount, timestamp, created_at)
        VALUES (?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		update.AuctionID, update.BidderID, update.Amount,
		update.Timestamp, time.Now())
	return err
}

func (r *MySQLBidRepository) GetBidHistory(ctx context.Context, auctionID string) ([]*domain.BidUpdate, error) {
	query := `
        SELECT auction_id, bidder_id, amount, timestamp
        FROM bid_events
        WHERE auction_id = ?
        ORDER BY timestamp ASC
    `

	rows, err := r.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []*domain.BidUpdate
	for rows.Next() {
		var bid domain.BidUpdate
		if err := rows.Scan(&bid.AuctionID, &bid.BidderID, &bid.Amount, &bid.Timestamp); err != nil {
			return nil, err
		}
		bids = append(bids, &bid)
	}

	return bids, rows.Err()
}
