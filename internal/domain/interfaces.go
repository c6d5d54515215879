package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository interfaces
type AuctionRepository interface {
	CreateAuction(ctx context.Context, auction *Auction) error
	GetAuction(ctx context.Context, auctionID string) (*Auction, error)
	UpdateAuctionStatus(ctx context.Context, auctionID string, status AuctionStatus) error
	UpdateAuctionEndTime(ctx context.Context, auctionID string, endTime time.Time) error
	GetActiveAuctions(ctx context.Context) ([]*Auction, error)
}

// AuctionSchedule finds auctions whose start or end time has passed but
// whose status has not caught up.
type AuctionSchedule interface {
	GetAuctionsToStart(ctx context.Context, now time.Time) ([]*Auction, error)
	GetAuctionsToEnd(ctx context.Context, now time.Time) ([]*Auction, error)
}

// BidLedger records accepted bids.
type BidLedger interface {
	RecordBid(ctx context.Context, update *BidUpdate) error
	GetBidHistory(ctx context.Context, auctionID string) ([]*BidUpdate, error)
}

type RetryJobRepository interface {
	CreateJob(ctx context.Context, job *RetryJob) error
	GetJob(ctx context.Context, jobID string) (*RetryJob, error)
	GetDueJobs(ctx context.Context, before time.Time, limit int) ([]*RetryJob, error)
	UpdateJob(ctx context.Context, job *RetryJob) error
}

// Stream source boundary.
//
// A BidStream is owned by exactly one consumer. Disconnect must be safe to
// call more than once and when Connect never succeeded. Next returns io.EOF
// when the source completes normally.
type BidStream interface {
	Connect(ctx context.Context, auctionID string) error
	Next(ctx context.Context) (BidUpdate, error)
	Disconnect() error
}

type BidStreamFactory interface {
	NewBidStream() BidStream
}

// BidStreamFactoryFunc adapts a function to BidStreamFactory.
type BidStreamFactoryFunc func() BidStream

func (f BidStreamFactoryFunc) NewBidStream() BidStream { return f() }

// Settlement boundary. Replaying an already settled idempotency key succeeds.
type Settlement interface {
	SubmitBid(ctx context.Context, req BidRequest) error
}

type OrderBookStore interface {
	InitializeAuction(ctx context.Context, auctionID string, startingBid, incrementRule decimal.Decimal, endTime time.Time) error
	ExtendAuction(ctx context.Context, auctionID string, window, extension time.Duration) (time.Time, bool, error)
	SetAuctionStatus(ctx context.Context, auctionID string, status AuctionStatus) error
	GetOrderBook(ctx context.Context, auctionID string) (*OrderBook, error)
}

// BidPlacer is the submission operation shared by the interactive path and fallback retries.
type BidPlacer interface {
	PlaceBid(ctx context.Context, req BidRequest) BidResult
}

// RetryJobQueue is the durable scheduling boundary.
type RetryJobQueue interface {
	Enqueue(ctx context.Context, req BidRequest) (*RetryJob, error)
}

// Event interfaces
type BidEventPublisher interface {
	PublishBid(ctx context.Context, update *BidUpdate) error
}

// AuctionEndPublisher tells stream sources that an auction stopped taking bids.
type AuctionEndPublisher interface {
	PublishAuctionEnded(ctx context.Context, auctionID string) error
}

// AuctionExtensionPublisher is told when a late bid moves an auction's end.
type AuctionExtensionPublisher interface {
	PublishAuctionExtended(ctx context.Context, auctionID string, endTime time.Time) error
}

// AuctionExtender runs the closing-time extension check after an accepted bid.
type AuctionExtender interface {
	CheckAndExtendAuction(ctx context.Context, auctionID string) (time.Time, bool, error)
}

type BidEventHandler func(ctx context.Context, update *BidUpdate) error

type BidEventConsumer interface {
	Consume(ctx context.Context, handler BidEventHandler) error
}

type BiddingRule interface {
	GetMinimumBid(currentAmount decimal.Decimal) decimal.Decimal
	GetIncrementRule(amount decimal.Decimal) decimal.Decimal
	LoadRules(ctx context.Context) error
}

// Leader election interface
type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}

// WebSocket interfaces
type WebSocketConnection interface {
	Send(message interface{}) error
	Close() error
	UserID() string
}

type ConnectionManager interface {
	RegisterConnection(auctionID string, conn WebSocketConnection) error
	UnregisterConnection(auctionID string, conn WebSocketConnection) error
	GetConnectionsForAuction(auctionID string) []WebSocketConnection
	ConnectionCount() int
	CloseAll() error
}
