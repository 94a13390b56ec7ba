package cards

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/fridaybingo/bingo/internal/models"
)

// Column ranges for the five card columns.
var columnRanges = [models.GridSize][2]int{
	{1, 15},  // B
	{16, 30}, // I
	{31, 45}, // N
	{46, 60}, // G
	{61, 75}, // O
}

// CardID builds the deterministic id for a card serial within a room, which
// makes the pool enumerable without a store listing primitive.
func CardID(roomID string, serial int) string {
	return fmt.Sprintf("%s-card-%d", roomID, serial)
}

// Generate builds one card. Each column draws distinct sorted numbers from
// its range; the center cell is free. The N column draws only four numbers.
func Generate(roomID string, serial int, rng *rand.Rand) models.BingoCard {
	card := models.BingoCard{
		ID:           CardID(roomID, serial),
		SerialNumber: serial,
	}

	center := models.GridSize / 2
	for col := 0; col < models.GridSize; col++ {
		count := models.GridSize
		if col == center {
			count--
		}
		nums := pickDistinct(columnRanges[col][0], columnRanges[col][1], count, rng)

		row := 0
		for _, n := range nums {
			if col == center && row == center {
				row++ // leave the free cell
			}
			card.Numbers[row][col] = n
			row++
		}
		if col == center {
			card.Numbers[center][center] = models.FreeCell
		}
	}
	return card
}

// GeneratePool builds the full claimable pool for a room.
func GeneratePool(roomID string, size int, rng *rand.Rand) []models.BingoCard {
	pool := make([]models.BingoCard, 0, size)
	for serial := 1; serial <= size; serial++ {
		pool = append(pool, Generate(roomID, serial, rng))
	}
	return pool
}

func pickDistinct(min, max, count int, rng *rand.Rand) []int {
	available := make([]int, 0, max-min+1)
	for n := min; n <= max; n++ {
		available = append(available, n)
	}
	rng.Shuffle(len(available), func(i, j int) {
		available[i], available[j] = available[j], available[i]
	})
	picked := available[:count]
	sort.Ints(picked)
	return picked
}
