package models

import (
	"time"

	"github.com/google/uuid"
)

// PollStatus is the lifecycle state of a poll.
type PollStatus string

const (
	PollStatusDraft  PollStatus = "draft"
	PollStatusActive PollStatus = "active"
	PollStatusClosed PollStatus = "closed"
)

// Valid reports whether s is a known status.
func (s PollStatus) Valid() bool {
	switch s {
	case PollStatusDraft, PollStatusActive, PollStatusClosed:
		return true
	}
	return false
}

// Poll is a question with options that users vote on.
type Poll struct {
	ID                 uuid.UUID    `json:"id"`
	Title              string       `json:"title"`
	Description        *string      `json:"description,omitempty"`
	Status             PollStatus   `json:"status"`
	CreatedBy          uuid.UUID    `json:"created_by"`
	ExpiresAt          *time.Time   `json:"expires_at,omitempty"`
	AllowMultipleVotes bool         `json:"allow_multiple_votes"`
	AllowAnonymous     bool         `json:"allow_anonymous"`
	TotalVotes         int          `json:"total_votes"`
	SnapshotKey        *string      `json:"-"`
	Options            []PollOption `json:"options,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// Expired reports whether the poll has an expiry at or before now.
func (p *Poll) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}

// EffectiveStatus is Status with expiry applied: an active poll past its
// expiry reads as closed even before the sweep has run.
func (p *Poll) EffectiveStatus(now time.Time) PollStatus {
	if p.Status == PollStatusActive && p.Expired(now) {
		return PollStatusClosed
	}
	return p.Status
}

// PollOption is one answer of a poll with its maintained vote counter.
type PollOption struct {
	ID         uuid.UUID `json:"id"`
	PollID     uuid.UUID `json:"poll_id"`
	Text       string    `json:"text"`
	VoteCount  int       `json:"vote_count"`
	OrderIndex int       `json:"order_index"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PollDetails is a poll with options, categories and the caller's active vote.
type PollDetails struct {
	Poll
	Categories []Category `json:"categories"`
	UserVote   *Vote      `json:"user_vote"`
}
