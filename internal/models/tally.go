package models

import (
	"time"

	"github.com/google/uuid"
)

// OptionTally is the derived count and percentage for one option.
type OptionTally struct {
	OptionID   uuid.UUID `json:"option_id"`
	Text       string    `json:"text"`
	Count      int       `json:"count"`
	Percentage int       `json:"percentage"`
}

// Tally is the result view of a poll.
type Tally struct {
	PollID     uuid.UUID     `json:"poll_id"`
	TotalVotes int           `json:"total_votes"`
	Options    []OptionTally `json:"options"`
	// Final is true only once the poll is closed.
	Final      bool      `json:"final"`
	ComputedAt time.Time `json:"computed_at"`
}
