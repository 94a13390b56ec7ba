package game

import (
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/fridaybingo/bingo/internal/models"
)

// NewDrawSequence returns a seeded permutation of the full number domain
// 1..75. Only the launch election winner generates a sequence, but a
// deterministic seed means a crashed initiator that re-runs the launch
// produces the identical sequence.
func NewDrawSequence(seed int64) []int {
	seq := make([]int, models.NumberDomainSize)
	for i := range seq {
		seq[i] = i + 1
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(seq), func(i, j int) {
		seq[i], seq[j] = seq[j], seq[i]
	})
	return seq
}

// SeedFor derives the draw seed from the room and the countdown expiry, the
// two values every launch contender agrees on.
func SeedFor(roomID string, countdownEndAt time.Time) int64 {
	h := fnv.New64a()
	h.Write([]byte(roomID))
	var buf [8]byte
	ms := countdownEndAt.UnixMilli()
	for i := 0; i < 8; i++ {
		buf[i] = byte(ms >> (8 * i))
	}
	h.Write(buf[:])
	return int64(h.Sum64())
}

// HasBingo reports whether any of the card's 12 lines is fully covered by
// the revealed numbers. The free center cell always counts as covered.
func HasBingo(card *models.BingoCard, revealed []int) bool {
	covered := make(map[int]bool, len(revealed)+1)
	for _, n := range revealed {
		covered[n] = true
	}
	covered[models.FreeCell] = true

	for _, line := range card.Lines() {
		complete := true
		for _, cell := range line {
			if !covered[cell] {
				complete = false
				break
			}
		}
		if complete {
			return true
		}
	}
	return false
}
