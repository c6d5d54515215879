package leader

import (
	"context"
	"errors"
	"sync"
	"time"

	"rooster-auction/pkg/logger"

	"github.com/go-redis/redis/v8"
)

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
    return 0
end
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// RedisLeaderElection holds a single Redis key with a TTL. The holder keeps
// it alive with a heartbeat at a third of the TTL and stops as soon as the
// key is no longer its own.
type RedisLeaderElection struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	log    logger.Logger

	mu        sync.Mutex
	heartbeat context.CancelFunc
}

func NewRedisLeaderElection(client *redis.Client, key string, ttl time.Duration, log logger.Logger) *RedisLeaderElection {
	return &RedisLeaderElection{
		client: client,
		key:    key,
		ttl:    ttl,
		log:    log,
	}
}

func (r *RedisLeaderElection) BecomeLeader(ctx context.Context, instanceID string) (bool, error) {
	result, err := r.client.SetNX(ctx, r.key, instanceID, r.ttl).Result()
	if err != nil {
		return false, err
	}

	if result {
		r.startHeartbeat(instanceID)
	}

	return result, nil
}

func (r *RedisLeaderElection) IsLeader(ctx context.Context, instanceID string) (bool, error) {
	currentLeader, err := r.client.Get(ctx, r.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}

	return currentLeader == instanceID, nil
}

func (r *RedisLeaderElection) ReleaseLeadership(ctx context.Context, instanceID string) error {
	r.stopHeartbeat()
	return releaseScript.Run(ctx, r.client, []string{r.key}, instanceID).Err()
}

// Campaign tries to take leadership every interval until ctx is done.
func (r *RedisLeaderElection) Campaign(ctx context.Context, instanceID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		became, err := r.BecomeLeader(ctx, instanceID)
		if err != nil && ctx.Err() == nil {
			r.log.Error("Failed to attempt leadership", "error", err)
		}
		if became {
			r.log.Info("Became retry scheduler leader", "instance_id", instanceID)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *RedisLeaderElection) startHeartbeat(instanceID string) {
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	if r.heartbeat != nil {
		r.heartbeat()
	}
	r.heartbeat = cancel
	r.mu.Unlock()

	go r.maintainLeadership(ctx, instanceID)
}

func (r *RedisLeaderElection) stopHeartbeat() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.heartbeat != nil {
		r.heartbeat()
		r.heartbeat = nil
	}
}

func (r *RedisLeaderElection) maintainLeadership(ctx context.Context, instanceID string) {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		refreshCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		result, err := refreshScript.Run(refreshCtx, r.client, []string{r.key},
			instanceID, r.ttl.Milliseconds()).Int64()
		cancel()

		if err != nil || result == 0 {
			if ctx.Err() == nil {
				r.log.Warn("Lost leadership", "instance_id", instanceID, "error", err)
			}
			return
		}
	}
}
