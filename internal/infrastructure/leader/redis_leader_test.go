package leader

import (
	"context"
	"testing"
	"time"

	"rooster-auction/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newElection(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisLeaderElection) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisLeaderElection(client, "test_leader", ttl, logger.NewNop())
}

func TestOnlyOneInstanceLeads(t *testing.T) {
	_, election := newElection(t, time.Minute)
	ctx := context.Background()
	defer election.ReleaseLeadership(ctx, "a")

	became, err := election.BecomeLeader(ctx, "a")
	require.NoError(t, err)
	assert.True(t, became)

	became, err = election.BecomeLeader(ctx, "b")
	require.NoError(t, err)
	assert.False(t, became)

	isLeader, err := election.IsLeader(ctx, "a")
	require.NoError(t, err)
	assert.True(t, isLeader)

	isLeader, err = election.IsLeader(ctx, "b")
	require.NoError(t, err)
	assert.False(t, isLeader)
}

func TestReleaseOnlyByHolder(t *testing.T) {
	mr, election := newElection(t, time.Minute)
	ctx := context.Background()

	_, err := election.BecomeLeader(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, election.ReleaseLeadership(ctx, "b"))
	assert.True(t, mr.Exists("test_leader"))

	require.NoError(t, election.ReleaseLeadership(ctx, "a"))
	assert.False(t, mr.Exists("test_leader"))

	isLeader, err := election.IsLeader(ctx, "a")
	require.NoError(t, err)
	assert.False(t, isLeader)
}

func TestLeadershipExpiresWithoutHolder(t *testing.T) {
	mr, election := newElection(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, mr.Set("test_leader", "crashed"))
	mr.SetTTL("test_leader", time.Second)
	mr.FastForward(2 * time.Second)

	became, err := election.BecomeLeader(ctx, "b")
	require.NoError(t, err)
	assert.True(t, became)
	require.NoError(t, election.ReleaseLeadership(ctx, "b"))
}

func TestHeartbeatExtendsTTL(t *testing.T) {
	mr, election := newElection(t, 300*time.Millisecond)
	ctx := context.Background()
	defer election.ReleaseLeadership(ctx, "a")

	_, err := election.BecomeLeader(ctx, "a")
	require.NoError(t, err)

	mr.SetTTL("test_leader", 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return mr.TTL("test_leader") > 100*time.Millisecond
	}, time.Second, 20*time.Millisecond)
}

func TestCampaignStopsWithContext(t *testing.T) {
	_, election := newElection(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		election.Campaign(ctx, "a", 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		ok, _ := election.IsLeader(context.Background(), "a")
		return ok
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("campaign did not stop")
	}
	require.NoError(t, election.ReleaseLeadership(context.Background(), "a"))
}
