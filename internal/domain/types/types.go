// Package types contains the JSON shapes exchanged over the HTTP API.
package types

import "github.com/okian/prefstudy/internal/domain/model"

// Entry represents a global leaderboard entry.
type Entry struct {
	Rank       int     `json:"rank"`
	ItemID     string  `json:"item_id"`
	Filename   string  `json:"filename"`
	ImageURL   string  `json:"image_url"`
	Rating     float64 `json:"elo_rating"`
	VotesCount int     `json:"votes_count"`
}

// Option is one image offered in the current batch.
type Option struct {
	Label    string `json:"label"`
	ItemID   string `json:"item_id"`
	Filename string `json:"filename"`
	ImageURL string `json:"image_url"`
}

// SessionView is what a participant's client renders.
type SessionView struct {
	ID          string                `json:"id"`
	Participant string                `json:"participant"`
	Round       int                   `json:"round"` // round to answer next, 1-based
	Completed   int                   `json:"completed"`
	RoundLimit  int                   `json:"round_limit"`
	Finished    bool                  `json:"finished"`
	Batch       []Option              `json:"batch"`
	Comparison  []model.ComparisonRow `json:"comparison,omitempty"`
}

// VoteResult acknowledges a vote submission. Duplicate is set when the
// round had already been accepted and was not applied again.
type VoteResult struct {
	Status    string      `json:"status"`
	Duplicate bool        `json:"duplicate"`
	Session   SessionView `json:"session"`
}
