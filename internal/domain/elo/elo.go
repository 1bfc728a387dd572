// Package elo implements the multi-loser Elo update used by both rating tracks.
//
// One decision "winner beats L losers" is treated as L sequential pairwise
// games. The K-factor is split evenly across the losers, and the winner's
// running rating after each game feeds the expected score of the next one,
// so loser order matters slightly for the final winner rating.
package elo

import "math"

// Rating system constants.
const (
	// BaselineRating is the rating every item starts from in a fresh session.
	BaselineRating = 1200.0
	// DefaultKFactor is the step size used by every study variant.
	DefaultKFactor = 32.0
	// DefaultBatchSize is the number of items shown per round.
	DefaultBatchSize = 4

	scale = 400.0
)

// Expected returns the expected score of a player rated ra against one rated rb.
func Expected(ra, rb float64) float64 {
	return 1 / (1 + math.Pow(10, (rb-ra)/scale))
}

// Update applies one decision. It returns the winner's new rating and the
// losers' new ratings in the order given. Inputs are not modified. Ratings
// are never clamped.
func Update(winner float64, losers []float64, k float64) (float64, []float64) {
	out := make([]float64, len(losers))
	if len(losers) == 0 {
		return winner, out
	}

	effK := k / float64(len(losers))
	running := winner
	for i, rb := range losers {
		ew := Expected(running, rb)
		el := Expected(rb, running)
		out[i] = rb + effK*(0-el)
		running += effK * (1 - ew)
	}
	return running, out
}
