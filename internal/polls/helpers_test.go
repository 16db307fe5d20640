package polls_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/polly-app/backend/internal/models"
	"github.com/polly-app/backend/internal/polls"
	"github.com/polly-app/backend/internal/polls/memstore"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeSnapshots struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (f *fakeSnapshots) EnqueueResultsSnapshot(_ context.Context, pollID uuid.UUID) error {
	f.mu.Lock()
	f.ids = append(f.ids, pollID)
	f.mu.Unlock()
	return nil
}

func (f *fakeSnapshots) queued() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.ids...)
}

type fixture struct {
	svc       *polls.Service
	store     *memstore.Store
	clock     *fakeClock
	snapshots *fakeSnapshots
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	clock := &fakeClock{now: baseTime}
	snaps := &fakeSnapshots{}
	svc := polls.NewService(store, polls.RoundingIndependent, zap.NewNop())
	svc.SetClock(clock)
	svc.SetSnapshotQueue(snaps)
	svc.SetCategories(store)
	return &fixture{svc: svc, store: store, clock: clock, snapshots: snaps}
}

func (f *fixture) createPoll(t *testing.T, in polls.CreatePollInput) *models.Poll {
	t.Helper()
	if in.Title == "" {
		in.Title = "Favourite language?"
	}
	if len(in.Options) == 0 {
		in.Options = []string{"Go", "Rust", "Zig"}
	}
	p, err := f.svc.CreatePoll(context.Background(), uuid.New(), in)
	require.NoError(t, err)
	return p
}

func (f *fixture) assertCounters(t *testing.T, pollID uuid.UUID) {
	t.Helper()
	checkCounters(t, f.store, pollID)
}

// checkCounters verifies that option counters, the poll total and the
// active votes in store all agree.
func checkCounters(t *testing.T, store polls.Store, pollID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	p, err := store.GetPoll(ctx, pollID)
	require.NoError(t, err)
	opts, err := store.ListOptions(ctx, pollID)
	require.NoError(t, err)
	votes, err := store.ListVotesByPoll(ctx, pollID)
	require.NoError(t, err)

	perOption := make(map[uuid.UUID]int)
	for _, v := range votes {
		perOption[v.OptionID]++
	}
	sum := 0
	for _, o := range opts {
		require.Equal(t, perOption[o.ID], o.VoteCount, "option %s counter", o.Text)
		sum += o.VoteCount
	}
	require.Equal(t, sum, p.TotalVotes)
	require.Equal(t, len(votes), p.TotalVotes)
}

func ptr[T any](v T) *T { return &v }
