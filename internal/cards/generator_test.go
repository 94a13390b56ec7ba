package cards

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fridaybingo/bingo/internal/models"
)

func TestGenerateColumnRanges(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	card := Generate("lucky7", 1, rng)

	require.Equal(t, "lucky7-card-1", card.ID)
	require.Equal(t, 1, card.SerialNumber)
	require.False(t, card.Claimed)

	center := models.GridSize / 2
	for row := 0; row < models.GridSize; row++ {
		for col := 0; col < models.GridSize; col++ {
			n := card.Numbers[row][col]
			if row == center && col == center {
				require.Equal(t, models.FreeCell, n, "center cell must be free")
				continue
			}
			min, max := columnRanges[col][0], columnRanges[col][1]
			require.GreaterOrEqual(t, n, min, "row %d col %d", row, col)
			require.LessOrEqual(t, n, max, "row %d col %d", row, col)
		}
	}
}

func TestGenerateNoDuplicatesWithinColumn(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for serial := 1; serial <= 50; serial++ {
		card := Generate("r", serial, rng)
		for col := 0; col < models.GridSize; col++ {
			seen := make(map[int]bool)
			for row := 0; row < models.GridSize; row++ {
				n := card.Numbers[row][col]
				if n == models.FreeCell {
					continue
				}
				require.False(t, seen[n], "duplicate %d in column %d of card %d", n, col, serial)
				seen[n] = true
			}
		}
	}
}

func TestGeneratePoolSerials(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	pool := GeneratePool("r", 25, rng)

	require.Len(t, pool, 25)
	for i, card := range pool {
		require.Equal(t, i+1, card.SerialNumber)
		require.Equal(t, CardID("r", i+1), card.ID)
	}
}

func TestCardLines(t *testing.T) {
	var card models.BingoCard
	v := 1
	for row := 0; row < models.GridSize; row++ {
		for col := 0; col < models.GridSize; col++ {
			card.Numbers[row][col] = v
			v++
		}
	}

	lines := card.Lines()
	require.Len(t, lines, 12)
	require.Equal(t, [models.GridSize]int{1, 2, 3, 4, 5}, lines[0], "first row")
	require.Equal(t, [models.GridSize]int{1, 6, 11, 16, 21}, lines[5], "first column")
	require.Equal(t, [models.GridSize]int{1, 7, 13, 19, 25}, lines[10], "main diagonal")
	require.Equal(t, [models.GridSize]int{5, 9, 13, 17, 21}, lines[11], "anti diagonal")
}
