package mysql

import (
	"context"
	"database/sql"
	"fmt"
)

// The driver runs one statement per Exec unless multiStatements is set, so
// the schema is applied statement by statement.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS auctions (
        id VARCHAR(64) PRIMARY KEY,
        starting_bid DECIMAL(20, 4) NOT NULL,
        reserve_price DECIMAL(20, 4) NOT NULL DEFAULT 0,
        start_time DATETIME(3) NOT NULL,
        end_time DATETIME(3) NOT NULL,
        extension_window_ms BIGINT NOT NULL DEFAULT 0,
        extension_ms BIGINT NOT NULL DEFAULT 0,
        status TINYINT NOT NULL,
        created_at DATETIME(3) NOT NULL,
        updated_at DATETIME(3) NOT NULL,
        INDEX idx_auctions_status_start (status, start_time),
        INDEX idx_auctions_status_end (status, end_time)
    )`,
	`CREATE TABLE IF NOT EXISTS bid_events (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        auction_id VARCHAR(64) NOT NULL,
        bidder_id VARCHAR(64) NOT NULL,
        amount DECIMAL(20, 4) NOT NULL,
        timestamp DATETIME(3) NOT NULL,
        created_at DATETIME(3) NOT NULL,
        UNIQUE KEY uq_bid_events (auction_id, bidder_id, amount),
        INDEX idx_bid_events_auction (auction_id, timestamp)
    )`,
	`CREATE TABLE IF NOT EXISTS retry_jobs (
        id VARCHAR(64) PRIMARY KEY,
        auction_id VARCHAR(64) NOT NULL,
        bidder_id VARCHAR(64) NOT NULL,
        amount DECIMAL(20, 4) NOT NULL,
        idempotency_key VARCHAR(64) NOT NULL,
        attempt INT NOT NULL DEFAULT 0,
        next_delay_ms BIGINT NOT NULL DEFAULT 0,
        run_at DATETIME(3) NOT NULL,
        state VARCHAR(16) NOT NULL,
        last_error TEXT NOT NULL,
        created_at DATETIME(3) NOT NULL,
        updated_at DATETIME(3) NOT NULL,
        INDEX idx_retry_jobs_due (state, run_at)
    )`,
}

// EnsureSchema creates the tables used by the repositories in this package.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}
