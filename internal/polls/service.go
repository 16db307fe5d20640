package polls

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/polly-app/backend/internal/models"
)

// TallyCache stores computed tallies. Get returns nil, nil on a miss.
type TallyCache interface {
	Get(ctx context.Context, pollID uuid.UUID) (*models.Tally, error)
	Set(ctx context.Context, t *models.Tally) error
	Invalidate(ctx context.Context, pollID uuid.UUID) error
}

// CategoryLinker reads the categories linked to a poll.
type CategoryLinker interface {
	ListByPoll(ctx context.Context, pollID uuid.UUID) ([]models.Category, error)
}

// SnapshotQueue receives closed polls whose final results must be archived.
type SnapshotQueue interface {
	EnqueueResultsSnapshot(ctx context.Context, pollID uuid.UUID) error
}

// Service implements voting, tallying and the poll lifecycle over a Store.
type Service struct {
	store      Store
	rounding   Rounding
	clock      Clock
	cache      TallyCache
	snapshots  SnapshotQueue
	categories CategoryLinker
	logger     *zap.Logger
}

// NewService creates a polls service.
func NewService(store Store, rounding Rounding, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rounding == "" {
		rounding = RoundingIndependent
	}
	return &Service{store: store, rounding: rounding, clock: systemClock{}, logger: logger}
}

// SetClock replaces the time source (tests).
func (s *Service) SetClock(c Clock) { s.clock = c }

// SetTallyCache enables tally caching.
func (s *Service) SetTallyCache(c TallyCache) { s.cache = c }

// SetSnapshotQueue enables results snapshots for closed polls.
func (s *Service) SetSnapshotQueue(q SnapshotQueue) { s.snapshots = q }

// SetCategories enables category links on poll details and creation.
func (s *Service) SetCategories(l CategoryLinker) { s.categories = l }

func (s *Service) now() time.Time { return s.clock.Now() }

// GetPoll returns a poll with its options.
func (s *Service) GetPoll(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	p, err := s.store.GetPoll(ctx, id)
	if err != nil {
		return nil, err
	}
	opts, err := s.store.ListOptions(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Options = opts
	return p, nil
}

// Details returns a poll with options, categories and the actor's active vote.
func (s *Service) Details(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) (*models.PollDetails, error) {
	p, err := s.GetPoll(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &models.PollDetails{Poll: *p, Categories: []models.Category{}}
	if s.categories != nil {
		cats, err := s.categories.ListByPoll(ctx, id)
		if err != nil {
			return nil, err
		}
		if cats != nil {
			d.Categories = cats
		}
	}
	if d.UserVote, err = s.UserVote(ctx, id, actorID); err != nil {
		return nil, err
	}
	return d, nil
}

// UserVote returns the actor's active vote on a poll, or nil.
func (s *Service) UserVote(ctx context.Context, pollID uuid.UUID, actorID *uuid.UUID) (*models.Vote, error) {
	if actorID == nil {
		return nil, nil
	}
	return s.store.FindActiveVote(ctx, pollID, *actorID)
}

// GetVote returns a vote by id.
func (s *Service) GetVote(ctx context.Context, id uuid.UUID) (*models.Vote, error) {
	return s.store.GetVote(ctx, id)
}

// ListActive returns active polls, newest first.
func (s *Service) ListActive(ctx context.Context, f ListFilter) ([]models.Poll, error) {
	f.Status = models.PollStatusActive
	f.CreatedBy = nil
	return s.store.ListPolls(ctx, f.Normalize())
}

// ListByCreator returns polls of any status created by userID.
func (s *Service) ListByCreator(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Poll, error) {
	return s.store.ListPolls(ctx, ListFilter{CreatedBy: &userID, Limit: limit, Offset: offset}.Normalize())
}

// ListVotesByPoll returns active votes on a poll, newest first.
func (s *Service) ListVotesByPoll(ctx context.Context, pollID uuid.UUID) ([]models.Vote, error) {
	if _, err := s.store.GetPoll(ctx, pollID); err != nil {
		return nil, err
	}
	return s.store.ListVotesByPoll(ctx, pollID)
}

// ListVotesByUser returns the user's active votes, newest first.
func (s *Service) ListVotesByUser(ctx context.Context, userID uuid.UUID) ([]models.Vote, error) {
	return s.store.ListVotesByUser(ctx, userID)
}

// Tally computes the current tally of a poll. Final is set once the poll is
// closed, including polls past expiry that the sweep has not closed yet. A
// cached tally is served only while its total matches the poll counter.
func (s *Service) Tally(ctx context.Context, pollID uuid.UUID) (*models.Tally, error) {
	p, err := s.store.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	final := p.EffectiveStatus(s.now()) == models.PollStatusClosed

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, pollID)
		if err != nil {
			s.logger.Warn("tally cache get failed", zap.String("poll_id", pollID.String()), zap.Error(err))
		} else if cached != nil && cached.Final == final && cached.TotalVotes == p.TotalVotes {
			return cached, nil
		}
	}

	opts, err := s.store.ListOptions(ctx, pollID)
	if err != nil {
		return nil, err
	}
	t := ComputeTally(pollID, opts, s.rounding, final, s.now())
	if s.cache != nil {
		if err := s.cache.Set(ctx, &t); err != nil {
			s.logger.Warn("tally cache set failed", zap.String("poll_id", pollID.String()), zap.Error(err))
		}
	}
	return &t, nil
}

func (s *Service) invalidate(ctx context.Context, pollID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, pollID); err != nil {
		s.logger.Warn("tally cache invalidate failed", zap.String("poll_id", pollID.String()), zap.Error(err))
	}
}
