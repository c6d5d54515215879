package services

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"rooster-auction/internal/domain"

	"github.com/shopspring/decimal"
)

// fakeStream replays scripted updates. After the script it returns endErr,
// io.EOF, or blocks until ctx is done when block is set.
type fakeStream struct {
	updates    []domain.BidUpdate
	connectErr error
	endErr     error
	block      bool

	pos         int
	connected   bool
	connects    atomic.Int32
	disconnects atomic.Int32
}

func (s *fakeStream) Connect(ctx context.Context, auctionID string) error {
	s.connects.Add(1)
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connected = true
	return nil
}

func (s *fakeStream) Next(ctx context.Context) (domain.BidUpdate, error) {
	if !s.connected {
		return domain.BidUpdate{}, errors.New("not connected")
	}
	if s.pos < len(s.updates) {
		u := s.updates[s.pos]
		s.pos++
		return u, nil
	}
	if s.block {
		<-ctx.Done()
		return domain.BidUpdate{}, ctx.Err()
	}
	if s.endErr != nil {
		return domain.BidUpdate{}, s.endErr
	}
	return domain.BidUpdate{}, io.EOF
}

func (s *fakeStream) Disconnect() error {
	s.disconnects.Add(1)
	s.connected = false
	return nil
}

// fakeStreamFactory hands out a fresh stream per call, built by newStream.
type fakeStreamFactory struct {
	mu        sync.Mutex
	newStream func() *fakeStream
	created   []*fakeStream
}

func (f *fakeStreamFactory) NewBidStream() domain.BidStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.newStream()
	f.created = append(f.created, s)
	return s
}

func (f *fakeStreamFactory) streams() []*fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeStream(nil), f.created...)
}

// fakeSettlement answers from a script of errors; once exhausted it succeeds.
type fakeSettlement struct {
	mu      sync.Mutex
	errs    []error
	calls   []domain.BidRequest
	blockOn bool
	panics  bool
}

func (f *fakeSettlement) SubmitBid(ctx context.Context, req domain.BidRequest) error {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	block, panics := f.blockOn, f.panics
	f.mu.Unlock()

	if panics {
		panic("backend exploded")
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeSettlement) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memoryRetryRepo struct {
	mu   sync.Mutex
	jobs map[string]domain.RetryJob
	// updates records every persisted state in order.
	updates []domain.RetryJobState
	failGet error
}

func newMemoryRetryRepo() *memoryRetryRepo {
	return &memoryRetryRepo{jobs: make(map[string]domain.RetryJob)}
}

func (r *memoryRetryRepo) CreateJob(ctx context.Context, job *domain.RetryJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = *job
	return nil
}

func (r *memoryRetryRepo) GetJob(ctx context.Context, jobID string) (*domain.RetryJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

func (r *memoryRetryRepo) GetDueJobs(ctx context.Context, before time.Time, limit int) ([]*domain.RetryJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGet != nil {
		return nil, r.failGet
	}

	var due []*domain.RetryJob
	for _, job := range r.jobs {
		if (job.State == domain.JobScheduled || job.State == domain.JobRunning) && !job.RunAt.After(before) {
			j := job
			due = append(due, &j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].RunAt.Before(due[k].RunAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *memoryRetryRepo) UpdateJob(ctx context.Context, job *domain.RetryJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = *job
	r.updates = append(r.updates, job.State)
	return nil
}

func (r *memoryRetryRepo) all() []domain.RetryJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RetryJob
	for _, j := range r.jobs {
		out = append(out, j)
	}
	return out
}

type fakeLeader struct {
	leader bool
	err    error
}

func (l *fakeLeader) BecomeLeader(ctx context.Context, instanceID string) (bool, error) {
	return l.leader, l.err
}

func (l *fakeLeader) IsLeader(ctx context.Context, instanceID string) (bool, error) {
	return l.leader, l.err
}

func (l *fakeLeader) ReleaseLeadership(ctx context.Context, instanceID string) error { return nil }

type fakeQueue struct {
	reqs []domain.BidRequest
	err  error
}

func (q *fakeQueue) Enqueue(ctx context.Context, req domain.BidRequest) (*domain.RetryJob, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.reqs = append(q.reqs, req)
	now := time.Now()
	return domain.NewRetryJob("job_fake", req, now, now), nil
}

type recordingPublisher struct {
	published []domain.BidUpdate
	err       error
}

func (p *recordingPublisher) PublishBid(ctx context.Context, update *domain.BidUpdate) error {
	p.published = append(p.published, *update)
	return p.err
}

// fixedClock is advanced by hand.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func bid(auctionID string, amount float64) domain.BidRequest {
	return domain.BidRequest{AuctionID: auctionID, BidderID: "u1", Amount: decimal.NewFromFloat(amount)}
}

func updates(auctionID string, amounts ...int64) []domain.BidUpdate {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	out := make([]domain.BidUpdate, 0, len(amounts))
	for i, a := range amounts {
		out = append(out, domain.BidUpdate{
			AuctionID: auctionID,
			BidderID:  "bidder",
			Amount:    decimal.NewFromInt(a),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}
	return out
}
