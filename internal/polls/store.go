package polls

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/polly-app/backend/internal/models"
)

// Store is the persistence capability the domain needs. Implementations must
// make InsertVoteAndIncrement and RetractVoteAndDecrement atomic with the
// counter updates, and must reject a second active exclusive vote for the
// same (poll, user) with ErrDuplicateVote.
type Store interface {
	GetPoll(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	GetOption(ctx context.Context, pollID, optionID uuid.UUID) (*models.PollOption, error)
	ListOptions(ctx context.Context, pollID uuid.UUID) ([]models.PollOption, error)
	FindActiveVote(ctx context.Context, pollID, userID uuid.UUID) (*models.Vote, error)
	GetVote(ctx context.Context, id uuid.UUID) (*models.Vote, error)

	// InsertVoteAndIncrement stores v and bumps the option and poll counters.
	// It fails with ErrPollInactive if the poll stopped accepting votes
	// (closed or expired at now) before the write.
	InsertVoteAndIncrement(ctx context.Context, v *models.Vote, now time.Time) error
	// RetractVoteAndDecrement marks an active vote deleted and decrements the
	// counters. Returns ErrVoteRetracted for an already deleted vote.
	RetractVoteAndDecrement(ctx context.Context, voteID uuid.UUID, now time.Time) (*models.Vote, error)

	// CreatePollWithOptions stores p, its options (in order) and its category
	// links atomically and fills p.Options. It fails with ErrCategoryNotFound,
	// writing nothing, when a category does not exist.
	CreatePollWithOptions(ctx context.Context, p *models.Poll, options []string, categoryIDs []uuid.UUID) error
	UpdatePoll(ctx context.Context, p *models.Poll) error
	DeletePoll(ctx context.Context, id uuid.UUID) error
	// SetStatus moves a poll from one of from to to. Returns false without error
	// when the poll exists but is not in one of the from states, and
	// ErrPollNotFound when it does not exist.
	SetStatus(ctx context.Context, id uuid.UUID, to models.PollStatus, now time.Time, from ...models.PollStatus) (bool, error)
	// CloseExpired closes active polls with expires_at <= now and returns their ids.
	CloseExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	SetSnapshotKey(ctx context.Context, pollID uuid.UUID, key string) error

	ListPolls(ctx context.Context, f ListFilter) ([]models.Poll, error)
	ListVotesByPoll(ctx context.Context, pollID uuid.UUID) ([]models.Vote, error)
	ListVotesByUser(ctx context.Context, userID uuid.UUID) ([]models.Vote, error)
}

// ListFilter narrows ListPolls. Zero values mean "no filter".
type ListFilter struct {
	Status     models.PollStatus
	CreatedBy  *uuid.UUID
	CategoryID *uuid.UUID
	Query      string
	Limit      int
	Offset     int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps paging values.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
