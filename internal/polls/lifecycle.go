package polls

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/polly-app/backend/internal/models"
)

// CreatePollInput describes a new poll. Blank options are dropped; at least
// two must remain.
type CreatePollInput struct {
	Title              string
	Description        string
	ExpiresAt          *time.Time
	AllowMultipleVotes bool
	AllowAnonymous     bool
	Options            []string
	CategoryIDs        []uuid.UUID
	Draft              bool
}

// UpdatePollInput changes editable fields. Nil fields are left unchanged.
type UpdatePollInput struct {
	Title       *string
	Description *string
	ExpiresAt   *time.Time
	ClearExpiry bool
}

// CreatePoll validates the input and stores the poll with its options in one
// atomic write. Nothing is written when validation fails.
func (s *Service) CreatePoll(ctx context.Context, creator uuid.UUID, in CreatePollInput) (*models.Poll, error) {
	now := s.now()
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, Validation("title is required")
	}
	var options []string
	for _, o := range in.Options {
		if o = strings.TrimSpace(o); o != "" {
			options = append(options, o)
		}
	}
	if len(options) < 2 {
		return nil, Validation("at least 2 options are required")
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return nil, Validation("expires_at must be in the future")
	}

	status := models.PollStatusActive
	if in.Draft {
		status = models.PollStatusDraft
	}
	p := &models.Poll{
		ID:                 uuid.New(),
		Title:              title,
		Description:        optional(in.Description),
		Status:             status,
		CreatedBy:          creator,
		ExpiresAt:          in.ExpiresAt,
		AllowMultipleVotes: in.AllowMultipleVotes,
		AllowAnonymous:     in.AllowAnonymous,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.CreatePollWithOptions(ctx, p, options, in.CategoryIDs); err != nil {
		return nil, err
	}
	s.logger.Info("poll created",
		zap.String("poll_id", p.ID.String()),
		zap.String("status", string(p.Status)),
		zap.Int("options", len(p.Options)),
	)
	return p, nil
}

// UpdatePoll edits a poll that is not closed.
func (s *Service) UpdatePoll(ctx context.Context, id uuid.UUID, in UpdatePollInput) (*models.Poll, error) {
	p, err := s.store.GetPoll(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if p.EffectiveStatus(now) == models.PollStatusClosed {
		return nil, ErrPollInactive
	}
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if t == "" {
			return nil, Validation("title is required")
		}
		p.Title = t
	}
	if in.Description != nil {
		p.Description = optional(*in.Description)
	}
	switch {
	case in.ClearExpiry:
		p.ExpiresAt = nil
	case in.ExpiresAt != nil:
		if !in.ExpiresAt.After(now) {
			return nil, Validation("expires_at must be in the future")
		}
		p.ExpiresAt = in.ExpiresAt
	}
	p.UpdatedAt = now
	if err := s.store.UpdatePoll(ctx, p); err != nil {
		return nil, err
	}
	return s.GetPoll(ctx, id)
}

// DeletePoll removes a poll with its options and votes.
func (s *Service) DeletePoll(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeletePoll(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	s.logger.Info("poll deleted", zap.String("poll_id", id.String()))
	return nil
}

// Publish opens a draft poll for voting.
func (s *Service) Publish(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	changed, err := s.store.SetStatus(ctx, id, models.PollStatusActive, s.now(), models.PollStatusDraft)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, ErrInvalidTransition
	}
	s.logger.Info("poll published", zap.String("poll_id", id.String()))
	return s.store.GetPoll(ctx, id)
}

// Close ends voting on an active poll. Closing a closed poll is a no-op;
// drafts cannot be closed.
func (s *Service) Close(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	changed, err := s.store.SetStatus(ctx, id, models.PollStatusClosed, s.now(), models.PollStatusActive)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetPoll(ctx, id)
	if err != nil {
		return nil, err
	}
	if !changed {
		if p.Status == models.PollStatusClosed {
			return p, nil
		}
		return nil, ErrInvalidTransition
	}
	s.afterClose(ctx, id)
	s.logger.Info("poll closed", zap.String("poll_id", id.String()))
	return p, nil
}

// SweepExpired closes every active poll whose expiry has passed and returns
// the ids it closed. Running it again closes nothing new.
func (s *Service) SweepExpired(ctx context.Context) ([]uuid.UUID, error) {
	ids, err := s.store.CloseExpired(ctx, s.now())
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		s.afterClose(ctx, id)
	}
	if len(ids) > 0 {
		s.logger.Info("expired polls closed", zap.Int("count", len(ids)))
	}
	return ids, nil
}

// RecordSnapshot stores the archive key of a closed poll's final results.
func (s *Service) RecordSnapshot(ctx context.Context, pollID uuid.UUID, key string) error {
	return s.store.SetSnapshotKey(ctx, pollID, key)
}

func (s *Service) afterClose(ctx context.Context, id uuid.UUID) {
	s.invalidate(ctx, id)
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.EnqueueResultsSnapshot(ctx, id); err != nil {
		s.logger.Error("enqueue results snapshot failed", zap.String("poll_id", id.String()), zap.Error(err))
	}
}
