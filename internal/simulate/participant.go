package simulate

import (
	"hash/fnv"
	"math/rand/v2"

	"github.com/okian/prefstudy/internal/domain/types"
)

// participant has a hidden taste: a shared appeal per item plus a personal
// offset drawn once per item, plus fresh noise on every pick.
type participant struct {
	name  string
	noise float64
	rng   *rand.Rand
	taste map[string]float64
}

func newParticipant(name string, seed uint64, noise float64) *participant {
	return &participant{
		name:  name,
		noise: noise,
		rng:   rand.New(rand.NewPCG(seed, fnvHash(name))),
		taste: make(map[string]float64),
	}
}

func fnvHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// appeal is the same for every participant.
func appeal(itemID string) float64 {
	return float64(fnvHash(itemID)%1000) / 1000
}

func (p *participant) score(itemID string) float64 {
	t, ok := p.taste[itemID]
	if !ok {
		t = appeal(itemID) + p.rng.NormFloat64()*p.noise
		p.taste[itemID] = t
	}
	return t
}

// pick returns the item id the participant prefers in batch.
func (p *participant) pick(batch []types.Option) string {
	best, bestScore := "", 0.0
	for i, o := range batch {
		s := p.score(o.ItemID) + p.rng.NormFloat64()*p.noise/4
		if i == 0 || s > bestScore {
			best, bestScore = o.ItemID, s
		}
	}
	return best
}
