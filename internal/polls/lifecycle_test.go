package polls_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polly-app/backend/internal/models"
	"github.com/polly-app/backend/internal/polls"
)

func TestCreatePoll(t *testing.T) {
	f := newFixture(t)
	creator := uuid.New()

	p, err := f.svc.CreatePoll(context.Background(), creator, polls.CreatePollInput{
		Title:       "  Best editor?  ",
		Description: "Pick one",
		Options:     []string{" Vim ", "", "Emacs", "   ", "VS Code"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Best editor?", p.Title)
	require.NotNil(t, p.Description)
	assert.Equal(t, "Pick one", *p.Description)
	assert.Equal(t, models.PollStatusActive, p.Status)
	assert.Equal(t, creator, p.CreatedBy)
	assert.Zero(t, p.TotalVotes)
	require.Len(t, p.Options, 3)
	for i, want := range []string{"Vim", "Emacs", "VS Code"} {
		assert.Equal(t, want, p.Options[i].Text)
		assert.Equal(t, i, p.Options[i].OrderIndex)
		assert.Zero(t, p.Options[i].VoteCount)
	}

	stored, err := f.svc.GetPoll(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Options, 3)
}

func TestCreatePollValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []struct {
		name string
		in   polls.CreatePollInput
	}{
		{"blank title", polls.CreatePollInput{Title: "  ", Options: []string{"a", "b"}}},
		{"one option", polls.CreatePollInput{Title: "Q", Options: []string{"a"}}},
		{"blank options", polls.CreatePollInput{Title: "Q", Options: []string{"a", " ", ""}}},
		{"past expiry", polls.CreatePollInput{Title: "Q", Options: []string{"a", "b"}, ExpiresAt: ptr(baseTime.Add(-time.Second))}},
		{"expiry now", polls.CreatePollInput{Title: "Q", Options: []string{"a", "b"}, ExpiresAt: ptr(baseTime)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreatePoll(ctx, uuid.New(), tc.in)
			assert.Equal(t, polls.KindValidation, polls.KindOf(err))
		})
	}
	list, err := f.store.ListPolls(ctx, polls.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreatePollWithCategories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cat := &models.Category{Name: "Technology", Color: models.DefaultCategoryColor}
	require.NoError(t, f.store.CreateCategory(ctx, cat))

	p := f.createPoll(t, polls.CreatePollInput{CategoryIDs: []uuid.UUID{cat.ID}})

	d, err := f.svc.Details(ctx, p.ID, nil)
	require.NoError(t, err)
	require.Len(t, d.Categories, 1)
	assert.Equal(t, "Technology", d.Categories[0].Name)
	assert.Nil(t, d.UserVote)
}

func TestCreatePollUnknownCategoryWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	known := &models.Category{Name: "Science", Color: models.DefaultCategoryColor}
	require.NoError(t, f.store.CreateCategory(ctx, known))

	_, err := f.svc.CreatePoll(ctx, uuid.New(), polls.CreatePollInput{
		Title:       "Favourite planet?",
		Options:     []string{"Mars", "Venus"},
		CategoryIDs: []uuid.UUID{known.ID, uuid.New()},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, polls.ErrCategoryNotFound)

	list, err := f.store.ListPolls(ctx, polls.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	cats, err := f.store.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Zero(t, cats[0].PollCount)
}

func TestStatusChangesUseServiceClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPoll(t, polls.CreatePollInput{Draft: true})

	f.clock.Advance(time.Hour)
	published, err := f.svc.Publish(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(time.Hour), published.UpdatedAt)

	f.clock.Advance(time.Hour)
	closed, err := f.svc.Close(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(2*time.Hour), closed.UpdatedAt)
}

func TestPublishAndClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPoll(t, polls.CreatePollInput{Draft: true})
	assert.Equal(t, models.PollStatusDraft, p.Status)

	_, err := f.svc.Close(ctx, p.ID)
	assert.ErrorIs(t, err, polls.ErrInvalidTransition)

	published, err := f.svc.Publish(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PollStatusActive, published.Status)

	_, err = f.svc.Publish(ctx, p.ID)
	assert.ErrorIs(t, err, polls.ErrInvalidTransition)

	closed, err := f.svc.Close(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PollStatusClosed, closed.Status)
	assert.Equal(t, []uuid.UUID{p.ID}, f.snapshots.queued())

	// closing again is a no-op and queues nothing new
	again, err := f.svc.Close(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PollStatusClosed, again.Status)
	assert.Len(t, f.snapshots.queued(), 1)

	_, err = f.svc.Publish(ctx, p.ID)
	assert.ErrorIs(t, err, polls.ErrInvalidTransition)

	_, err = f.svc.Close(ctx, uuid.New())
	assert.ErrorIs(t, err, polls.ErrPollNotFound)
}

func TestSweepExpiredIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	soon := f.createPoll(t, polls.CreatePollInput{ExpiresAt: ptr(baseTime.Add(time.Minute))})
	later := f.createPoll(t, polls.CreatePollInput{ExpiresAt: ptr(baseTime.Add(time.Hour))})
	open := f.createPoll(t, polls.CreatePollInput{})
	draft := f.createPoll(t, polls.CreatePollInput{Draft: true, ExpiresAt: ptr(baseTime.Add(time.Minute))})

	f.clock.Advance(2 * time.Minute)
	ids, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{soon.ID}, ids)

	ids, err = f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, []uuid.UUID{soon.ID}, f.snapshots.queued())

	for id, want := range map[uuid.UUID]models.PollStatus{
		soon.ID:  models.PollStatusClosed,
		later.ID: models.PollStatusActive,
		open.ID:  models.PollStatusActive,
		draft.ID: models.PollStatusDraft,
	} {
		p, err := f.store.GetPoll(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, p.Status)
	}
}

func TestUpdatePoll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPoll(t, polls.CreatePollInput{ExpiresAt: ptr(baseTime.Add(time.Hour))})

	updated, err := f.svc.UpdatePoll(ctx, p.ID, polls.UpdatePollInput{
		Title:       ptr("Renamed"),
		Description: ptr(""),
		ClearExpiry: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Nil(t, updated.Description)
	assert.Nil(t, updated.ExpiresAt)
	assert.Len(t, updated.Options, 3)

	_, err = f.svc.UpdatePoll(ctx, p.ID, polls.UpdatePollInput{ExpiresAt: ptr(baseTime.Add(-time.Hour))})
	assert.Equal(t, polls.KindValidation, polls.KindOf(err))

	_, err = f.svc.Close(ctx, p.ID)
	require.NoError(t, err)
	_, err = f.svc.UpdatePoll(ctx, p.ID, polls.UpdatePollInput{Title: ptr("Too late")})
	assert.ErrorIs(t, err, polls.ErrPollInactive)
}

func TestDeletePoll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPoll(t, polls.CreatePollInput{AllowAnonymous: true})
	v, err := f.svc.RecordVote(ctx, polls.VoteRequest{PollID: p.ID, OptionID: p.Options[0].ID})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeletePoll(ctx, p.ID))
	_, err = f.svc.GetPoll(ctx, p.ID)
	assert.ErrorIs(t, err, polls.ErrPollNotFound)
	_, err = f.svc.GetVote(ctx, v.ID)
	assert.ErrorIs(t, err, polls.ErrVoteNotFound)
	assert.ErrorIs(t, f.svc.DeletePoll(ctx, p.ID), polls.ErrPollNotFound)
}

func TestListActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	older := f.createPoll(t, polls.CreatePollInput{Title: "Best pizza topping"})
	f.clock.Advance(time.Second)
	newer := f.createPoll(t, polls.CreatePollInput{Title: "Best editor", Description: "vim or emacs"})
	f.clock.Advance(time.Second)
	f.createPoll(t, polls.CreatePollInput{Title: "Draft", Draft: true})

	list, err := f.svc.ListActive(ctx, polls.ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)
	assert.Len(t, list[0].Options, 3)

	list, err = f.svc.ListActive(ctx, polls.ListFilter{Query: "EMACS"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, newer.ID, list[0].ID)

	list, err = f.svc.ListActive(ctx, polls.ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, older.ID, list[0].ID)
}

func TestListFilterNormalize(t *testing.T) {
	f := polls.ListFilter{Limit: 0, Offset: -3}.Normalize()
	assert.Equal(t, polls.DefaultPageSize, f.Limit)
	assert.Zero(t, f.Offset)
	assert.Equal(t, polls.MaxPageSize, polls.ListFilter{Limit: 1000}.Normalize().Limit)
}

func TestValidateVoteDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPoll(t, polls.CreatePollInput{})
	user := uuid.New()

	d, err := f.svc.ValidateVote(ctx, p.ID, uuid.Nil, &user)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reason)

	_, err = f.svc.RecordVote(ctx, polls.VoteRequest{PollID: p.ID, OptionID: p.Options[0].ID, ActorID: &user})
	require.NoError(t, err)

	d, err = f.svc.ValidateVote(ctx, p.ID, p.Options[1].ID, &user)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "You have already voted on this poll", d.Reason)
	assert.ErrorIs(t, d.Err, polls.ErrDuplicateVote)

	d, err = f.svc.ValidateVote(ctx, uuid.New(), uuid.Nil, &user)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "Poll not found", d.Reason)

	vote, err := f.svc.UserVote(ctx, p.ID, &user)
	require.NoError(t, err)
	require.NotNil(t, vote)
	assert.Equal(t, p.Options[0].ID, vote.OptionID)
}
