package polls_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/polly-app/backend/internal/models"
	"github.com/polly-app/backend/internal/polls"
	"github.com/polly-app/backend/internal/polls/memstore"
)

func TestRecordVoteIncrementsCounters(t *testing.T) {
	f := newFixture(t)
	p := f.createPoll(t, polls.CreatePollInput{AllowAnonymous: true})
	user := uuid.New()

	v, err := f.svc.RecordVote(context.Background(), polls.VoteRequest{
		PollID:   p.ID,
		OptionID: p.Options[1].ID,
		ActorID:  &user,
		Origin:   polls.Origin{IPAddress: "10.0.0.1", UserAgent: "test"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.VoteStatusActive, v.Status)
	assert.Equal(t, &user, v.UserID)
	assert.True(t, v.Exclusive)
	assert.Equal(t, baseTime, v.CreatedAt)

	opt, err := f.store.GetOption(context.Background(), p.ID, p.Options[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, opt.VoteCount)
	f.assertCounters(t, p.ID)
}

func TestRecordVoteRejectsDuplicateWithoutWriting(t *testing.T) {
	f := newFixture(t)
	p := f.createPoll(t, polls.CreatePollInput{})
	user := uuid.New()
	ctx := context.Background()

	_, err := f.svc.RecordVote(ctx, polls.VoteRequest{PollID: p.ID, OptionID: p.Options[0].ID, ActorID: &user})
	require.NoError(t, err)

	_, err = f.svc.RecordVote(ctx, polls.VoteRequest{PollID: p.ID, OptionID: p.Options[1].ID, ActorID: &user})
	require.ErrorIs(t, err, polls.ErrDuplicateVote)
	assert.Equal(t, polls.KindConflict, polls.KindOf(err))
	assert.Equal(t, "You have already voted on this poll", polls.ReasonOf(err))

	got, err := f.store.GetPoll(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalVotes)
	f.assertCounters(t, p.ID)
}

func TestRecordVoteMultipleVotesAllowed(t *testing.T) {
	f := newFixture(t)
	p := f.createPoll(t, polls.CreatePollInput{AllowMultipleVotes: true})
	user := uuid.New()
	ctx := context.Background()

	for _, o := range p.Options {
		v, err := f.svc.RecordVote(ctx, polls.VoteRequest{PollID: p.ID, OptionID: o.ID, ActorID: &user})
		require.NoError(t, err)
		assert.False(t, v.Exclusive)
	}
	got, err := f.store.GetPoll(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalVotes)
	f.assertCounters(t, p.ID)
}

func TestRecordVoteAnonymousNeverDeduplicated(t *testing.T) {
	f := newFixture(t)
	p := f.createPoll(t, polls.CreatePollInput{AllowAnonymous: true})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, err := f.svc.RecordVote(ctx, polls.VoteRequest{PollID: p.ID, OptionID: p.Options[0].ID})
		require.NoError(t, err)
		assert.True(t, v.Anonymous())
	}
	f.assertCounters(t, p.ID)
}

func TestRecordVoteRejections(t *testing.T) {
	ctx := context.Background()
	user := uuid.New()

	t.Run("missing option id", func(t *testing.T) {
		f := newFixture(t)
		p := f.createPoll(t, polls.CreatePollInput{})
		_, err := f.svc.RecordVote(ctx, polls.VoteRequest{PollID: p.ID, ActorID: &user})
		assert.Equal(t, polls.KindValidation, polls.KindOf(err))
	})

	t.Run("unknown poll", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.RecordVote(ctx, polls.VoteRequest{PollID: uuid.New(), OptionID: uuid.New(), ActorID: &user})
		assert.ErrorIs(t, err, polls.ErrPollNotFound)
	})

	t.Run("option of another poll", func(t *testing.T) {
		f := newFixture(t)
		p := f.createPoll(t, polls.CreatePollInput{})
		other := f.createPoll(t, polls.CreatePollInput{})
		_, err := f.svc.RecordVote(ctx, polls.VoteRequest{PollID: p.ID, OptionID: other.Options[0].ID, ActorID: &user})
		assert.ErrorIs(t, err, polls.ErrOptionNotFound)
		f.assertCounters(t, p.ID)
		f.assertCounters(t, other.ID)
	})

	t.Run("draft poll", func(t *testing.T) {
		f := newFixture(t)
		p := f.createPoll(t, polls.CreatePollInput{Draft: true})
		_, err := f.svc.RecordVote(ctx, polls.VoteRequest{PollID: p.ID, OptionID: p.Options[0].ID, ActorID: &user})
		assert.ErrorIs(t, err, polls.ErrPollInactive)
	})

	t.Run("closed poll checked before option", func(t *testing.T) {
		f := newFixture(t)
		p := f.createPoll(t, polls.CreatePollInput{})
		_, err := f.svc.Close(ctx, p.ID)
		require.NoError(t, err)
		_, err = f.svc.RecordVote(ctx, polls.VoteRequest{PollID: p.ID, OptionID: uuid.New(), ActorID: &user})
		assert.ErrorIs(t, err, polls.ErrPollInactive)
		assert.Equal(t, "This poll is no longer active", polls.ReasonOf(err))
	})

	t.Run("expired poll not yet swept", func(t *testing.T) {
		f := newFixture(t)
		p := f.createPoll(t, polls.CreatePollInput{ExpiresAt: ptr(baseTime.Add(time.Hour))})
		f.clock.Advance(time.Hour)
		_, err := f.svc.RecordVote(ctx, polls.VoteRequest{PollID: p.ID, OptionID: p.Options[0].ID, ActorID: &user})
		assert.ErrorIs(t, err, polls.ErrPollExpired)
		assert.Equal(t, "This poll has expired", polls.ReasonOf(err))
	})

	t.Run("anonymous on signed-in poll", func(t *testing.T) {
		f := newFixture(t)
		p := f.createPoll(t, polls.CreatePollInput{AllowAnonymous: false})
		_, err := f.svc.RecordVote(ctx, polls.VoteRequest{PollID: p.ID, OptionID: p.Options[0].ID})
		assert.ErrorIs(t, err, polls.ErrAnonymousNotAllowed)
		assert.Equal(t, polls.KindInvalidState, polls.KindOf(err))
	})
}

func TestRecordVoteConcurrentSameActorOnlyOneSucceeds(t *testing.T) {
	f := newFixture(t)
	p := f.createPoll(t, polls.CreatePollInput{})
	user := uuid.New()

	const n = 50
	var wg sync.WaitGroup
	var ok, dup, other int32
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := f.svc.RecordVote(context.Background(), polls.VoteRequest{
				PollID:   p.ID,
				OptionID: p.Options[i%len(p.Options)].ID,
				ActorID:  &user,
			})
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, polls.ErrDuplicateVote):
				atomic.AddInt32(&dup, 1)
			default:
				atomic.AddInt32(&other, 1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, ok)
	assert.EqualValues(t, n-1, dup)
	assert.Zero(t, other)
	f.assertCounters(t, p.ID)
}

func TestRecordVoteConcurrentDistinctActors(t *testing.T) {
	f := newFixture(t)
	p := f.createPoll(t, polls.CreatePollInput{AllowAnonymous: true})

	const n = 100
	var wg sync.WaitGroup
	var failed int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := polls.VoteRequest{PollID: p.ID, OptionID: p.Options[i%len(p.Options)].ID}
			if i%2 == 0 {
				id := uuid.New()
				req.ActorID = &id
			}
			if _, err := f.svc.RecordVote(context.Background(), req); err != nil {
				atomic.AddInt32(&failed, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Zero(t, failed)
	got, err := f.store.GetPoll(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.TotalVotes)
	f.assertCounters(t, p.ID)
}

func TestRetractVote(t *testing.T) {
	f := newFixture(t)
	p := f.createPoll(t, polls.CreatePollInput{})
	user := uuid.New()
	ctx := context.Background()

	v, err := f.svc.RecordVote(ctx, polls.VoteRequest{PollID: p.ID, OptionID: p.Options[0].ID, ActorID: &user})
	require.NoError(t, err)

	require.NoError(t, f.svc.RetractVote(ctx, v.ID))
	got, err := f.store.GetVote(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VoteStatusDeleted, got.Status)
	f.assertCounters(t, p.ID)

	err = f.svc.RetractVote(ctx, v.ID)
	assert.ErrorIs(t, err, polls.ErrVoteRetracted)

	// a retracted vote frees the slot for a new one
	_, err = f.svc.RecordVote(ctx, polls.VoteRequest{PollID: p.ID, OptionID: p.Options[2].ID, ActorID: &user})
	require.NoError(t, err)
	f.assertCounters(t, p.ID)

	assert.ErrorIs(t, f.svc.RetractVote(ctx, uuid.New()), polls.ErrVoteNotFound)
}

func TestRetractVoteOnClosedPollRefused(t *testing.T) {
	f := newFixture(t)
	p := f.createPoll(t, polls.CreatePollInput{ExpiresAt: ptr(baseTime.Add(time.Minute))})
	user := uuid.New()
	ctx := context.Background()

	v, err := f.svc.RecordVote(ctx, polls.VoteRequest{PollID: p.ID, OptionID: p.Options[0].ID, ActorID: &user})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	assert.ErrorIs(t, f.svc.RetractVote(ctx, v.ID), polls.ErrPollExpired)

	_, err = f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.RetractVote(ctx, v.ID), polls.ErrPollInactive)
	f.assertCounters(t, p.ID)
}

type failingStore struct {
	*memstore.Store
}

func (failingStore) InsertVoteAndIncrement(context.Context, *models.Vote, time.Time) error {
	return polls.Persistence("insert vote", errors.New("connection reset"))
}

func TestRecordVotePersistenceErrorSurfaced(t *testing.T) {
	mem := memstore.New()
	svc := polls.NewService(failingStore{mem}, polls.RoundingIndependent, zap.NewNop())
	p, err := svc.CreatePoll(context.Background(), uuid.New(), polls.CreatePollInput{
		Title:   "Lunch?",
		Options: []string{"Pizza", "Salad"},
	})
	require.NoError(t, err)

	user := uuid.New()
	_, err = svc.RecordVote(context.Background(), polls.VoteRequest{PollID: p.ID, OptionID: p.Options[0].ID, ActorID: &user})
	require.Error(t, err)
	assert.Equal(t, polls.KindPersistence, polls.KindOf(err))

	got, err := mem.GetPoll(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Zero(t, got.TotalVotes)
}
