package polls

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/polly-app/backend/internal/models"
)

// Rounding selects how per-option percentages are rounded.
type Rounding string

const (
	// RoundingIndependent rounds each option on its own; the sum may be 99 or 101.
	RoundingIndependent Rounding = "independent"
	// RoundingLargestRemainder floors every share and hands the leftover points
	// to the largest remainders, so the sum is exactly 100.
	RoundingLargestRemainder Rounding = "largest_remainder"
)

// ParseRounding parses a config value; empty means RoundingIndependent.
func ParseRounding(s string) (Rounding, error) {
	switch Rounding(s) {
	case "", RoundingIndependent:
		return RoundingIndependent, nil
	case RoundingLargestRemainder:
		return RoundingLargestRemainder, nil
	}
	return "", fmt.Errorf("unknown tally rounding %q", s)
}

// Percentages returns one integer percentage per count. All zero when the
// counts sum to zero.
func Percentages(counts []int, r Rounding) []int {
	out := make([]int, len(counts))
	total := 0
	for _, c := range counts {
		total += c
	}
	if total <= 0 {
		return out
	}
	if r != RoundingLargestRemainder {
		for i, c := range counts {
			// round half up: floor(c*100/total + 1/2)
			out[i] = (c*200 + total) / (2 * total)
		}
		return out
	}

	type share struct {
		idx int
		rem int
	}
	shares := make([]share, len(counts))
	assigned := 0
	for i, c := range counts {
		out[i] = c * 100 / total
		assigned += out[i]
		shares[i] = share{idx: i, rem: c * 100 % total}
	}
	sort.SliceStable(shares, func(a, b int) bool { return shares[a].rem > shares[b].rem })
	for i := 0; i < 100-assigned; i++ {
		out[shares[i%len(shares)].idx]++
	}
	return out
}

// ComputeTally derives the tally from option counters. Options keep the given
// order; TotalVotes is the sum of the counters.
func ComputeTally(pollID uuid.UUID, options []models.PollOption, r Rounding, final bool, now time.Time) models.Tally {
	counts := make([]int, len(options))
	total := 0
	for i, o := range options {
		counts[i] = o.VoteCount
		total += o.VoteCount
	}
	pcts := Percentages(counts, r)
	t := models.Tally{
		PollID:     pollID,
		TotalVotes: total,
		Options:    make([]models.OptionTally, len(options)),
		Final:      final,
		ComputedAt: now,
	}
	for i, o := range options {
		t.Options[i] = models.OptionTally{
			OptionID:   o.ID,
			Text:       o.Text,
			Count:      o.VoteCount,
			Percentage: pcts[i],
		}
	}
	return t
}
