// Package streamsource picks the bid stream implementation named by config.
package streamsource

import (
	"errors"
	"fmt"

	"rooster-auction/internal/config"
	"rooster-auction/internal/domain"
	natsstream "rooster-auction/internal/infrastructure/nats"
	redisstream "rooster-auction/internal/infrastructure/redis"
	"rooster-auction/internal/infrastructure/websocket"
	"rooster-auction/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
)

var ErrMissingBackend = errors.New("stream backend not configured")

// Backends holds the connections a driver may need. Unused ones may be nil.
type Backends struct {
	Redis *redis.Client
	NATS  *nats.Conn
}

func NewFactory(cfg config.StreamConfig, b Backends, log logger.Logger) (domain.BidStreamFactory, error) {
	log = log.With("stream_driver", cfg.Driver)

	switch cfg.Driver {
	case config.StreamDriverRedis:
		if b.Redis == nil {
			return nil, fmt.Errorf("%w: redis", ErrMissingBackend)
		}
		return redisstream.NewRedisBidStreamFactory(b.Redis, log), nil
	case config.StreamDriverNATS:
		if b.NATS == nil {
			return nil, fmt.Errorf("%w: nats", ErrMissingBackend)
		}
		return natsstream.NewBidStreamFactory(b.NATS, log), nil
	case config.StreamDriverWebSocket:
		if cfg.UpstreamURL == "" {
			return nil, fmt.Errorf("%w: upstream_url", ErrMissingBackend)
		}
		return websocket.NewClientBidStreamFactory(cfg.UpstreamURL, log), nil
	default:
		return nil, fmt.Errorf("unknown stream driver %q", cfg.Driver)
	}
}
