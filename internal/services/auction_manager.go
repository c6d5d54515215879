package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rooster-auction/internal/domain"
	"rooster-auction/pkg/logger"
	"rooster-auction/pkg/utils"
)

var ErrInvalidSchedule = errors.New("invalid auction schedule")

// AuctionManager owns the auction lifecycle the settlement backend checks
// bids against.
type AuctionManager struct {
	auctionRepo  domain.AuctionRepository
	books        domain.OrderBookStore
	rules        domain.BiddingRule
	endNotify    []domain.AuctionEndPublisher
	extendNotify []domain.AuctionExtensionPublisher
	log          logger.Logger
	now          func() time.Time
}

func NewAuctionManager(
	auctionRepo domain.AuctionRepository,
	books domain.OrderBookStore,
	rules domain.BiddingRule,
	log logger.Logger,
) *AuctionManager {
	return &AuctionManager{
		auctionRepo: auctionRepo,
		books:       books,
		rules:       rules,
		log:         log,
		now:         time.Now,
	}
}

func validateSpec(spec domain.AuctionSpec, now time.Time) error {
	if !spec.StartingBid.IsPositive() || spec.ReservePrice.IsNegative() || spec.MinIncrement.IsNegative() {
		return domain.ErrInvalidAmount
	}
	if !spec.EndTime.After(spec.StartTime) {
		return fmt.Errorf("%w: end time must be after start time", ErrInvalidSchedule)
	}
	if !spec.EndTime.After(now) {
		return fmt.Errorf("%w: end time has already passed", ErrInvalidSchedule)
	}
	if spec.ExtensionWindow < 0 || spec.ExtensionDuration < 0 {
		return fmt.Errorf("%w: negative extension", ErrInvalidSchedule)
	}
	if spec.ExtensionWindow > 0 && spec.ExtensionDuration == 0 {
		return fmt.Errorf("%w: extension window without extension duration", ErrInvalidSchedule)
	}
	return nil
}

// CreateAuction records the auction and opens its order book. Auctions whose
// start time has already passed open active; the lifecycle scheduler starts
// the rest.
func (am *AuctionManager) CreateAuction(ctx context.Context, spec domain.AuctionSpec) (*domain.Auction, error) {
	now := am.now()
	if spec.StartTime.IsZero() {
		spec.StartTime = now
	}
	if err := validateSpec(spec, now); err != nil {
		return nil, err
	}

	status := domain.AuctionPending
	if !spec.StartTime.After(now) {
		status = domain.AuctionActive
	}

	auction := &domain.Auction{
		ID:                utils.GenerateID("auction"),
		StartingBid:       spec.StartingBid,
		ReservePrice:      spec.ReservePrice,
		StartTime:         spec.StartTime,
		EndTime:           spec.EndTime,
		ExtensionWindow:   spec.ExtensionWindow,
		ExtensionDuration: spec.ExtensionDuration,
		Status:            status,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := am.auctionRepo.CreateAuction(ctx, auction); err != nil {
		return nil, fmt.Errorf("save auction: %w", err)
	}

	incrementRule := spec.MinIncrement
	if !incrementRule.IsPositive() {
		incrementRule = am.rules.GetIncrementRule(spec.StartingBid)
	}
	if err := am.books.InitializeAuction(ctx, auction.ID, spec.StartingBid, incrementRule, spec.EndTime); err != nil {
		return nil, fmt.Errorf("initialize order book: %w", err)
	}
	if err := am.books.SetAuctionStatus(ctx, auction.ID, status); err != nil {
		return nil, fmt.Errorf("set auction status: %w", err)
	}

	am.log.Info("Auction created", "auction_id", auction.ID, "status", status.String(),
		"increment", incrementRule.String(), "end_time", spec.EndTime)
	return auction, nil
}

// NotifyEnds registers publishers told about every auction EndAuction closes.
func (am *AuctionManager) NotifyEnds(publishers ...domain.AuctionEndPublisher) {
	am.endNotify = append(am.endNotify, publishers...)
}

// NotifyExtensions registers publishers told about every moved closing time.
func (am *AuctionManager) NotifyExtensions(publishers ...domain.AuctionExtensionPublisher) {
	am.extendNotify = append(am.extendNotify, publishers...)
}

func (am *AuctionManager) StartAuction(ctx context.Context, auctionID string) error {
	am.log.Info("Starting auction", "auction_id", auctionID)
	return am.setStatus(ctx, auctionID, domain.AuctionActive)
}

// EndAuction closes bidding and reports the outcome. Ending an auction that
// is not active changes nothing but still reports the outcome.
func (am *AuctionManager) EndAuction(ctx context.Context, auctionID string) (*domain.AuctionOutcome, error) {
	book, err := am.books.GetOrderBook(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	auction, err := am.auctionRepo.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	outcome := &domain.AuctionOutcome{AuctionID: auctionID, WinningBid: book.CurrentBid, EndedAt: am.now()}
	if book.WinnerID != "" {
		outcome.ReserveMet = auction.ReservePrice.IsZero() || book.CurrentBid.GreaterThanOrEqual(auction.ReservePrice)
		if outcome.ReserveMet {
			outcome.WinnerID = book.WinnerID
		}
	}

	if book.Status != domain.AuctionActive {
		return outcome, nil
	}

	am.log.Info("Ending auction", "auction_id", auctionID, "winner_id", outcome.WinnerID,
		"winning_bid", book.CurrentBid.String(), "reserve_met", outcome.ReserveMet)
	if err := am.setStatus(ctx, auctionID, domain.AuctionEnded); err != nil {
		return nil, err
	}

	for _, p := range am.endNotify {
		if err := p.PublishAuctionEnded(ctx, auctionID); err != nil {
			am.log.Error("Failed to publish auction end", "auction_id", auctionID, "error", err)
		}
	}
	return outcome, nil
}

// CheckAndExtendAuction moves the closing time when a bid lands inside the
// auction's extension window. It reports the new end and whether it moved.
func (am *AuctionManager) CheckAndExtendAuction(ctx context.Context, auctionID string) (time.Time, bool, error) {
	auction, err := am.auctionRepo.GetAuction(ctx, auctionID)
	if err != nil {
		return time.Time{}, false, err
	}
	if auction.ExtensionWindow <= 0 {
		return time.Time{}, false, nil
	}

	newEnd, extended, err := am.books.ExtendAuction(ctx, auctionID, auction.ExtensionWindow, auction.ExtensionDuration)
	if err != nil || !extended {
		return time.Time{}, false, err
	}

	// The order book already enforces the new end; the record follows it.
	if err := am.auctionRepo.UpdateAuctionEndTime(ctx, auctionID, newEnd); err != nil {
		am.log.Error("Failed to record extended end time", "auction_id", auctionID, "error", err)
	}

	am.log.Info("Auction extended", "auction_id", auctionID, "new_end_time", newEnd)
	for _, p := range am.extendNotify {
		if err := p.PublishAuctionExtended(ctx, auctionID, newEnd); err != nil {
			am.log.Error("Failed to publish auction extension", "auction_id", auctionID, "error", err)
		}
	}
	return newEnd, true, nil
}

func (am *AuctionManager) GetOrderBook(ctx context.Context, auctionID string) (*domain.OrderBook, error) {
	return am.books.GetOrderBook(ctx, auctionID)
}

func (am *AuctionManager) setStatus(ctx context.Context, auctionID string, status domain.AuctionStatus) error {
	if err := am.auctionRepo.UpdateAuctionStatus(ctx, auctionID, status); err != nil {
		return err
	}
	return am.books.SetAuctionStatus(ctx, auctionID, status)
}
