// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Item is one image in the study catalog. Identity fields never change;
// Rating and VotesCount are mutable.
type Item struct {
	ID         string  `json:"id" koanf:"id"`
	Filename   string  `json:"filename" koanf:"filename"`
	ImageURL   string  `json:"image_url" koanf:"image_url"`
	Rating     float64 `json:"elo_rating" koanf:"elo_rating"`
	VotesCount int     `json:"votes_count" koanf:"votes_count"`
}

// Decision records one round: the winner beat every loser, in LoserIDs order.
// It is immutable once created.
type Decision struct {
	SessionID      string
	Participant    string
	Sequence       int // 1-based round number
	WinnerID       string
	LoserIDs       []string
	LoserFilenames []string
	CreatedAt      time.Time
}

// Key identifies a decision within its session; used for idempotency.
func (d Decision) Key() string {
	return DecisionKey(d.SessionID, d.Sequence)
}

// DecisionKey builds the idempotency key for a session round.
func DecisionKey(sessionID string, sequence int) string {
	return fmt.Sprintf("%s:%d", sessionID, sequence)
}

// Vote is the append-only log row written for every decision.
type Vote struct {
	SessionID   string
	Participant string
	WinnerID    string
	Losers      string // loser filenames joined with ", "
	Sequence    int
	CreatedAt   time.Time
}

// VoteFromDecision builds the log row for a decision.
func VoteFromDecision(d Decision) Vote {
	return Vote{
		SessionID:   d.SessionID,
		Participant: d.Participant,
		WinnerID:    d.WinnerID,
		Losers:      strings.Join(d.LoserFilenames, ", "),
		Sequence:    d.Sequence,
		CreatedAt:   d.CreatedAt,
	}
}

// RankingRow is a participant's final personal ranking flattened into
// fixed slots. Ranks[i] is the personal rank of the item in slot i+1,
// nil when the slot's filename could not be matched.
type RankingRow struct {
	SessionID   string
	Participant string
	Ranks       []*int
	CreatedAt   time.Time
}

// RankColumn names the column holding the rank of a 1-based slot.
func RankColumn(slot int) string {
	return fmt.Sprintf("image_%d_rank", slot)
}

// ComparisonRow compares one item's personal and global rank.
// GlobalRank and Difference are nil when the global ranking was unavailable.
type ComparisonRow struct {
	Filename     string `json:"image"`
	PersonalRank int    `json:"your_rank"`
	GlobalRank   *int   `json:"global_rank"`
	Difference   *int   `json:"difference"`
}
