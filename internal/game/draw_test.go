package game

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fridaybingo/bingo/internal/models"
	"github.com/fridaybingo/bingo/internal/store/memstore"
)

func TestNewDrawSequenceIsPermutation(t *testing.T) {
	seq := NewDrawSequence(42)
	require.Len(t, seq, models.NumberDomainSize)

	sorted := append([]int(nil), seq...)
	sort.Ints(sorted)
	for i, n := range sorted {
		require.Equal(t, i+1, n)
	}
}

func TestNewDrawSequenceDeterministicPerSeed(t *testing.T) {
	require.Equal(t, NewDrawSequence(7), NewDrawSequence(7))
	require.NotEqual(t, NewDrawSequence(7), NewDrawSequence(8))
}

func TestSeedForAgreesAcrossContenders(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	require.Equal(t, SeedFor("lucky7", at), SeedFor("lucky7", at))
	require.NotEqual(t, SeedFor("lucky7", at), SeedFor("other", at))
	require.NotEqual(t, SeedFor("lucky7", at), SeedFor("lucky7", at.Add(time.Millisecond)))
}

func TestRevealedCountDerivation(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g := &models.Game{
		DrawSequence: NewDrawSequence(1),
		StartedAt:    start,
		DrawInterval: 5 * time.Second,
	}

	require.Equal(t, 0, g.RevealedCount(start.Add(-time.Minute)), "before start nothing is revealed")
	require.Equal(t, 0, g.RevealedCount(start))
	require.Equal(t, 0, g.RevealedCount(start.Add(4*time.Second)))
	require.Equal(t, 1, g.RevealedCount(start.Add(5*time.Second)))
	require.Equal(t, 3, g.RevealedCount(start.Add(17*time.Second)))
	require.Equal(t, models.NumberDomainSize, g.RevealedCount(start.Add(time.Hour)), "clamped to sequence length")
	require.True(t, g.FullyRevealed(start.Add(time.Hour)))

	// monotonic in now
	prev := 0
	for s := 0; s <= 400; s += 3 {
		n := g.RevealedCount(start.Add(time.Duration(s) * time.Second))
		require.GreaterOrEqual(t, n, prev)
		prev = n
	}
}

func TestRevealedReturnsPrefix(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g := &models.Game{
		DrawSequence: []int{9, 4, 71},
		StartedAt:    start,
		DrawInterval: time.Second,
	}
	require.Empty(t, g.Revealed(start))
	require.Equal(t, []int{9}, g.Revealed(start.Add(time.Second)))
	require.Equal(t, []int{9, 4, 71}, g.Revealed(start.Add(10*time.Second)))
}

func lineCard() *models.BingoCard {
	var card models.BingoCard
	v := 1
	for row := 0; row < models.GridSize; row++ {
		for col := 0; col < models.GridSize; col++ {
			card.Numbers[row][col] = v
			v++
		}
	}
	return &card
}

func TestHasBingoRow(t *testing.T) {
	card := lineCard()
	require.True(t, HasBingo(card, []int{1, 2, 3, 4, 5}))
	require.False(t, HasBingo(card, []int{1, 2, 3, 4}), "missing one cell is not bingo")
}

func TestHasBingoColumn(t *testing.T) {
	card := lineCard()
	require.True(t, HasBingo(card, []int{1, 6, 11, 16, 21}))
}

func TestHasBingoDiagonal(t *testing.T) {
	card := lineCard()
	require.True(t, HasBingo(card, []int{1, 7, 13, 19, 25}))
	require.True(t, HasBingo(card, []int{5, 9, 13, 17, 21}))
}

func TestHasBingoFreeCellAlwaysCovered(t *testing.T) {
	card := lineCard()
	center := models.GridSize / 2
	card.Numbers[center][center] = models.FreeCell

	// middle row minus the free center
	require.True(t, HasBingo(card, []int{11, 12, 14, 15}))
	require.False(t, HasBingo(card, []int{11, 12, 14}))
}

func TestHasBingoScatteredCoverageIsNotBingo(t *testing.T) {
	card := lineCard()
	require.False(t, HasBingo(card, []int{1, 7, 12, 19, 24, 2, 10}))
	require.False(t, HasBingo(card, nil))
}

func TestCreateIsWriteOnce(t *testing.T) {
	repo := NewRepository(memstore.New())
	ctx := context.Background()
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	first := &models.Game{
		ID:           "g1",
		RoomID:       "lucky7",
		DrawSequence: NewDrawSequence(1),
		StartedAt:    start,
		DrawInterval: 5 * time.Second,
		Status:       models.GameStatusPlaying,
		Pot:          90,
	}
	require.NoError(t, repo.Create(ctx, first))

	// a launch retry with different contents must not overwrite
	second := *first
	second.DrawSequence = NewDrawSequence(2)
	second.Pot = 999
	require.NoError(t, repo.Create(ctx, &second))

	got, err := repo.Get(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, first.DrawSequence, got.DrawSequence)
	require.Equal(t, 90.0, got.Pot)
}

func TestEndIsIdempotent(t *testing.T) {
	repo := NewRepository(memstore.New())
	ctx := context.Background()

	g := &models.Game{
		ID:           "g1",
		RoomID:       "lucky7",
		DrawSequence: NewDrawSequence(1),
		StartedAt:    time.Now().UTC(),
		DrawInterval: 5 * time.Second,
		Status:       models.GameStatusPlaying,
	}
	require.NoError(t, repo.Create(ctx, g))

	require.NoError(t, repo.End(ctx, "g1"))
	require.NoError(t, repo.End(ctx, "g1"))

	got, err := repo.Get(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, models.GameStatusEnded, got.Status)
}

func TestGetMissingGame(t *testing.T) {
	repo := NewRepository(memstore.New())
	_, err := repo.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}
