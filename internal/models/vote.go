package models

import (
	"time"

	"github.com/google/uuid"
)

// VoteStatus is active until the vote is retracted.
type VoteStatus string

const (
	VoteStatusActive  VoteStatus = "active"
	VoteStatusDeleted VoteStatus = "deleted"
)

// Vote is a single ballot for one option. UserID is nil for anonymous votes.
type Vote struct {
	ID        uuid.UUID  `json:"id"`
	PollID    uuid.UUID  `json:"poll_id"`
	OptionID  uuid.UUID  `json:"option_id"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	IPAddress *string    `json:"-"`
	UserAgent *string    `json:"-"`
	Status    VoteStatus `json:"status"`
	// Exclusive is set when the poll allowed one vote per user at insert time;
	// the storage uniqueness constraint only covers exclusive votes.
	Exclusive bool      `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Anonymous reports whether the vote has no actor.
func (v *Vote) Anonymous() bool { return v.UserID == nil }
