package polls

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/polly-app/backend/internal/models"
)

// Decision is the outcome of ValidateVote. Err carries the classified
// rejection; Reason is its user-facing text.
type Decision struct {
	Allowed bool   `json:"can_vote"`
	Reason  string `json:"reason,omitempty"`
	Err     error  `json:"-"`
}

// ValidateVote decides whether actorID (nil for anonymous) may vote for
// optionID on pollID now. It has no side effects. A non-nil error means the
// decision could not be made (storage failure). Pass uuid.Nil as optionID to
// check eligibility without a chosen option.
func (s *Service) ValidateVote(ctx context.Context, pollID, optionID uuid.UUID, actorID *uuid.UUID) (Decision, error) {
	_, err := s.check(ctx, pollID, optionID, actorID, s.now())
	if err == nil {
		return Decision{Allowed: true}, nil
	}
	if KindOf(err) == KindPersistence {
		return Decision{}, err
	}
	return Decision{Allowed: false, Reason: ReasonOf(err), Err: err}, nil
}

// check runs the validation chain, failing fast on the first violation.
func (s *Service) check(ctx context.Context, pollID, optionID uuid.UUID, actorID *uuid.UUID, now time.Time) (*models.Poll, error) {
	p, err := s.store.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PollStatusActive {
		return nil, ErrPollInactive
	}
	if p.Expired(now) {
		return nil, ErrPollExpired
	}
	if actorID == nil && !p.AllowAnonymous {
		return nil, ErrAnonymousNotAllowed
	}
	if optionID != uuid.Nil {
		if _, err := s.store.GetOption(ctx, pollID, optionID); err != nil {
			return nil, err
		}
	}
	if actorID != nil && !p.AllowMultipleVotes {
		existing, err := s.store.FindActiveVote(ctx, pollID, *actorID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, ErrDuplicateVote
		}
	}
	return p, nil
}
