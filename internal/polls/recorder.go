package polls

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/polly-app/backend/internal/models"
)

// Origin is optional request metadata stored with a vote.
type Origin struct {
	IPAddress string
	UserAgent string
}

// VoteRequest is the input of RecordVote. ActorID is nil for anonymous votes.
type VoteRequest struct {
	PollID   uuid.UUID
	OptionID uuid.UUID
	ActorID  *uuid.UUID
	Origin   Origin
}

// RecordVote validates and persists a vote. The store applies the counter
// updates in the same atomic write and enforces one active vote per user on
// single-vote polls, so two racing submissions cannot both succeed.
// Persistence errors are returned as-is; the vote may not have been recorded.
func (s *Service) RecordVote(ctx context.Context, req VoteRequest) (*models.Vote, error) {
	if req.OptionID == uuid.Nil {
		return nil, Validation("option_id is required")
	}
	now := s.now()
	p, err := s.check(ctx, req.PollID, req.OptionID, req.ActorID, now)
	if err != nil {
		s.logRejected(req, err)
		return nil, err
	}

	v := &models.Vote{
		ID:        uuid.New(),
		PollID:    req.PollID,
		OptionID:  req.OptionID,
		UserID:    req.ActorID,
		IPAddress: optional(req.Origin.IPAddress),
		UserAgent: optional(req.Origin.UserAgent),
		Status:    models.VoteStatusActive,
		Exclusive: req.ActorID != nil && !p.AllowMultipleVotes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertVoteAndIncrement(ctx, v, now); err != nil {
		s.logRejected(req, err)
		return nil, err
	}
	s.invalidate(ctx, req.PollID)

	s.logger.Info("vote recorded",
		zap.String("vote_id", v.ID.String()),
		zap.String("poll_id", v.PollID.String()),
		zap.String("option_id", v.OptionID.String()),
		zap.Bool("anonymous", v.Anonymous()),
	)
	return v, nil
}

// RetractVote marks an active vote deleted and decrements the counters.
// Votes on closed or expired polls are read-only.
func (s *Service) RetractVote(ctx context.Context, voteID uuid.UUID) error {
	v, err := s.store.GetVote(ctx, voteID)
	if err != nil {
		return err
	}
	if v.Status == models.VoteStatusDeleted {
		return ErrVoteRetracted
	}
	p, err := s.store.GetPoll(ctx, v.PollID)
	if err != nil {
		return err
	}
	now := s.now()
	if p.Status != models.PollStatusActive {
		return ErrPollInactive
	}
	if p.Expired(now) {
		return ErrPollExpired
	}
	if _, err := s.store.RetractVoteAndDecrement(ctx, voteID, now); err != nil {
		return err
	}
	s.invalidate(ctx, v.PollID)
	s.logger.Info("vote retracted", zap.String("vote_id", voteID.String()), zap.String("poll_id", v.PollID.String()))
	return nil
}

func (s *Service) logRejected(req VoteRequest, err error) {
	fields := []zap.Field{
		zap.String("poll_id", req.PollID.String()),
		zap.String("option_id", req.OptionID.String()),
		zap.String("kind", string(KindOf(err))),
	}
	if KindOf(err) == KindPersistence {
		s.logger.Error("vote write failed", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Info("vote rejected", append(fields, zap.String("reason", ReasonOf(err)))...)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
