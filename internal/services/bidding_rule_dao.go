package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"rooster-auction/internal/domain"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const biddingRulesKey = "bid_validation_rules"

var defaultIncrement = decimal.NewFromInt(5)

func defaultBiddingRules() *domain.BidValidationRules {
	return &domain.BidValidationRules{
		Rules: map[string]float64{
			"0-100":   5.0,
			"100-500": 10.0,
			"500+":    25.0,
		},
	}
}

// BiddingRuleDaoImpl serves tiered minimum increments stored in Redis. An
// auction created with its own min_increment bypasses the tiers.
type BiddingRuleDaoImpl struct {
	client *redis.Client
	mu     sync.RWMutex
	rules  *domain.BidValidationRules
}

func NewBiddingRuleDao(client *redis.Client) *BiddingRuleDaoImpl {
	return &BiddingRuleDaoImpl{
		client: client,
	}
}

func (v *BiddingRuleDaoImpl) LoadRules(ctx context.Context) error {
	data, err := v.client.Get(ctx, biddingRulesKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			v.setRules(defaultBiddingRules())
			return v.saveRules(ctx)
		}
		return err
	}

	var rules domain.BidValidationRules
	if err := json.Unmarshal([]byte(data), &rules); err != nil {
		return err
	}

	v.setRules(&rules)
	return nil
}

func (v *BiddingRuleDaoImpl) setRules(rules *domain.BidValidationRules) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules = rules
}

func (v *BiddingRuleDaoImpl) saveRules(ctx context.Context) error {
	v.mu.RLock()
	data, err := json.Marshal(v.rules)
	v.mu.RUnlock()
	if err != nil {
		return err
	}

	return v.client.Set(ctx, biddingRulesKey, string(data), 0).Err()
}

func (v *BiddingRuleDaoImpl) GetMinimumBid(currentAmount decimal.Decimal) decimal.Decimal {
	return currentAmount.Add(v.GetIncrementRule(currentAmount))
}

func (v *BiddingRuleDaoImpl) GetIncrementRule(amount decimal.Decimal) decimal.Decimal {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.rules == nil {
		return defaultIncrement
	}

	var tier string
	switch {
	case amount.LessThan(decimal.NewFromInt(100)):
		tier = "0-100"
	case amount.LessThan(decimal.NewFromInt(500)):
		tier = "100-500"
	default:
		tier = "500+"
	}

	inc, ok := v.rules.Rules[tier]
	if !ok {
		return defaultIncrement
	}
	return decimal.NewFromFloat(inc)
}
