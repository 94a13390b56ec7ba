package coordinator

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/fridaybingo/bingo/internal/cards"
	"github.com/fridaybingo/bingo/internal/events"
	"github.com/fridaybingo/bingo/internal/game"
	"github.com/fridaybingo/bingo/internal/models"
	"github.com/fridaybingo/bingo/internal/rooms"
	"github.com/fridaybingo/bingo/internal/store/memstore"
)

const testRoomID = "lucky7"

type testLedger struct {
	mu       sync.Mutex
	balances map[string]float64
}

func newTestLedger() *testLedger {
	return &testLedger{balances: make(map[string]float64)}
}

func (l *testLedger) fund(userID string, amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = amount
}

func (l *testLedger) balance(userID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

func (l *testLedger) Debit(ctx context.Context, userID string, amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[userID] < amount {
		return errors.New("insufficient funds")
	}
	l.balances[userID] -= amount
	return nil
}

func (l *testLedger) Credit(ctx context.Context, userID string, amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] += amount
	return nil
}

type harness struct {
	store  *memstore.Store
	clock  *clockwork.FakeClock
	rooms  *rooms.Repository
	pool   *cards.Pool
	games  *game.Repository
	ledger *testLedger
	cfg    Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	h := &harness{
		store:  memstore.New(),
		clock:  clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		ledger: newTestLedger(),
		cfg:    DefaultConfig(),
	}
	h.rooms = rooms.NewRepository(h.store, h.clock)
	h.games = game.NewRepository(h.store)
	h.pool = cards.NewPool(h.store, h.rooms, h.ledger)

	_, err := h.rooms.Create(ctx, rooms.CreateRoomParams{
		ID:           testRoomID,
		Name:         "Lucky Seven",
		BetAmount:    10,
		MaxPlayers:   20,
		CardPoolSize: 10,
	})
	require.NoError(t, err)
	require.NoError(t, h.pool.Seed(ctx, testRoomID, 10, rand.New(rand.NewSource(42))))

	for _, user := range []string{"alice", "bob", "carol"} {
		h.ledger.fund(user, 100)
	}
	return h
}

func (h *harness) coordinator() *Coordinator {
	return New(h.rooms, h.pool, h.games, h.ledger, events.NopPublisher{}, h.clock, h.cfg)
}

func (h *harness) claim(t *testing.T, userID string, serial int) {
	t.Helper()
	cardID := cards.CardID(testRoomID, serial)
	require.NoError(t, h.pool.Claim(context.Background(), testRoomID, cardID, userID, userID))
}

func (h *harness) room(t *testing.T) *models.Room {
	t.Helper()
	room, err := h.rooms.Get(context.Background(), testRoomID)
	require.NoError(t, err)
	return room
}

func TestCountdownStartsAtQuorum(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()
	ctx := context.Background()

	h.claim(t, "alice", 1)
	c.evaluate(ctx, h.room(t))
	require.Equal(t, models.RoomStatusWaiting, h.room(t).Status, "one player is below quorum")

	h.claim(t, "bob", 2)
	c.evaluate(ctx, h.room(t))

	room := h.room(t)
	require.Equal(t, models.RoomStatusCountdown, room.Status)
	require.NotNil(t, room.CountdownEndAt)
	require.True(t, room.CountdownEndAt.Equal(h.clock.Now().UTC().Add(h.cfg.CountdownDuration)))
	require.NotEmpty(t, room.CountdownOwner)
}

func TestConcurrentCountdownStartsElectOneOwner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.claim(t, "alice", 1)
	h.claim(t, "bob", 2)

	nodes := []*Coordinator{h.coordinator(), h.coordinator(), h.coordinator()}
	var wg sync.WaitGroup
	for _, node := range nodes {
		node := node
		wg.Add(1)
		go func() {
			defer wg.Done()
			node.tryStartCountdown(ctx, testRoomID)
		}()
	}
	wg.Wait()

	room := h.room(t)
	require.Equal(t, models.RoomStatusCountdown, room.Status)
	owners := map[string]bool{}
	for _, node := range nodes {
		owners[node.instanceID] = true
	}
	require.True(t, owners[room.CountdownOwner], "owner must be one of the contenders")
}

func TestCountdownCancelledWhenQuorumLost(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()
	ctx := context.Background()

	h.claim(t, "alice", 1)
	h.claim(t, "bob", 2)
	c.evaluate(ctx, h.room(t))
	require.Equal(t, models.RoomStatusCountdown, h.room(t).Status)

	// bob backs out mid-countdown
	require.NoError(t, h.pool.Cancel(ctx, testRoomID, cards.CardID(testRoomID, 2), "bob"))
	c.evaluate(ctx, h.room(t))

	room := h.room(t)
	require.Equal(t, models.RoomStatusWaiting, room.Status)
	require.Nil(t, room.CountdownEndAt)
	require.Empty(t, room.CountdownOwner)
	require.Equal(t, 100.0, h.ledger.balance("bob"), "cancelled bet refunded")
}

func TestConcurrentLaunchesElectOneGame(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.claim(t, "alice", 1)
	h.claim(t, "bob", 2)
	h.coordinator().evaluate(ctx, h.room(t))
	require.Equal(t, models.RoomStatusCountdown, h.room(t).Status)

	h.clock.Advance(h.cfg.CountdownDuration + time.Second)

	nodes := []*Coordinator{h.coordinator(), h.coordinator(), h.coordinator()}
	var wg sync.WaitGroup
	for _, node := range nodes {
		node := node
		wg.Add(1)
		go func() {
			defer wg.Done()
			node.tryLaunchGame(ctx, testRoomID)
		}()
	}
	wg.Wait()

	room := h.room(t)
	require.Equal(t, models.RoomStatusPlaying, room.Status)
	require.NotEmpty(t, room.GameID)
	require.Nil(t, room.CountdownEndAt, "countdown fields cleared after launch")
	require.Empty(t, room.CountdownOwner)

	g, err := h.games.Get(ctx, room.GameID)
	require.NoError(t, err)
	require.Equal(t, testRoomID, g.RoomID)
	require.Len(t, g.DrawSequence, models.NumberDomainSize)
	require.Len(t, g.Roster, 2)
	require.Equal(t, 2*10*h.cfg.PayoutRatio, g.Pot)
	require.Equal(t, h.cfg.DrawInterval, g.DrawInterval)
}

func TestLaunchRecoveryAfterInitiatorCrash(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()
	ctx := context.Background()

	h.claim(t, "alice", 1)
	h.claim(t, "bob", 2)
	c.evaluate(ctx, h.room(t))
	require.Equal(t, models.RoomStatusCountdown, h.room(t).Status)
	endAt := *h.room(t).CountdownEndAt

	h.clock.Advance(h.cfg.CountdownDuration + time.Second)

	// simulate a launch winner that died after the room commit but before
	// writing the game record: PLAYING and GameID are set, the countdown
	// fields are still in place, and no game exists
	const gameID = "crashed-launch"
	require.NoError(t, h.rooms.Transact(ctx, testRoomID, func(r *models.Room) error {
		r.Status = models.RoomStatusPlaying
		r.GameID = gameID
		return nil
	}))
	_, err := h.games.Get(ctx, gameID)
	require.ErrorIs(t, err, game.ErrNotFound)

	// within the grace window the winner is assumed alive
	c.evaluate(ctx, h.room(t))
	_, err = h.games.Get(ctx, gameID)
	require.ErrorIs(t, err, game.ErrNotFound)

	h.clock.Advance(h.cfg.TickInterval)
	c.evaluate(ctx, h.room(t))

	g, err := h.games.Get(ctx, gameID)
	require.NoError(t, err)
	require.Len(t, g.Roster, 2)
	require.Equal(t, 2*10*h.cfg.PayoutRatio, g.Pot)
	require.Equal(t, game.NewDrawSequence(game.SeedFor(testRoomID, endAt)), g.DrawSequence,
		"recovery derives the sequence the dead winner would have written")

	room := h.room(t)
	require.Equal(t, models.RoomStatusPlaying, room.Status)
	require.Equal(t, gameID, room.GameID)
	require.Nil(t, room.CountdownEndAt)
	require.Empty(t, room.CountdownOwner)

	// the recovered game plays out normally
	h.clock.Advance(time.Duration(models.NumberDomainSize+1) * h.cfg.DrawInterval)
	c.evaluate(ctx, h.room(t))
	require.Equal(t, models.RoomStatusEnded, h.room(t).Status)
}

func TestRunReturnsNilOnShutdown(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, testRoomID)
	}()

	cancel()
	require.NoError(t, <-done, "clean shutdown must not report store loss")
}

func TestLaunchContendersDeriveIdenticalSequence(t *testing.T) {
	endAt := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	a := game.NewDrawSequence(game.SeedFor(testRoomID, endAt))
	b := game.NewDrawSequence(game.SeedFor(testRoomID, endAt))
	require.Equal(t, a, b, "same room and countdown expiry must agree on the draws")
}

// installGame puts the room in PLAYING with a handcrafted game whose draw
// sequence reveals the given numbers first.
func installGame(t *testing.T, h *harness, firstDraws []int) *models.Game {
	t.Helper()
	ctx := context.Background()

	seen := make(map[int]bool, len(firstDraws))
	seq := append([]int(nil), firstDraws...)
	for _, n := range firstDraws {
		seen[n] = true
	}
	for n := 1; n <= models.NumberDomainSize; n++ {
		if !seen[n] {
			seq = append(seq, n)
		}
	}

	room := h.room(t)
	roster := make([]models.RosterEntry, 0, len(room.Players))
	for _, p := range room.Players {
		card, err := h.pool.Get(ctx, testRoomID, p.CardID)
		require.NoError(t, err)
		roster = append(roster, models.RosterEntry{UserID: p.UserID, CardID: p.CardID, Card: *card})
	}

	g := &models.Game{
		ID:           "test-game",
		RoomID:       testRoomID,
		DrawSequence: seq,
		StartedAt:    h.clock.Now().UTC(),
		DrawInterval: h.cfg.DrawInterval,
		Status:       models.GameStatusPlaying,
		Pot:          float64(len(roster)) * room.BetAmount * h.cfg.PayoutRatio,
		Roster:       roster,
	}
	require.NoError(t, h.games.Create(ctx, g))
	require.NoError(t, h.rooms.Transact(ctx, testRoomID, func(r *models.Room) error {
		r.Status = models.RoomStatusPlaying
		r.GameID = g.ID
		r.CountdownEndAt = nil
		r.CountdownOwner = ""
		return nil
	}))
	return g
}

func TestClaimWinDeclaresSingleWinner(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()
	ctx := context.Background()

	h.claim(t, "alice", 1)
	h.claim(t, "bob", 2)

	aliceCard, err := h.pool.Get(ctx, testRoomID, cards.CardID(testRoomID, 1))
	require.NoError(t, err)
	g := installGame(t, h, aliceCard.Numbers[0][:])

	// nothing revealed yet: the claim fails local validation
	won, err := c.ClaimWin(ctx, testRoomID, "alice")
	require.NoError(t, err)
	require.False(t, won)

	// reveal the first row
	h.clock.Advance(time.Duration(models.GridSize) * h.cfg.DrawInterval)

	won, err = c.ClaimWin(ctx, testRoomID, "alice")
	require.NoError(t, err)
	require.True(t, won)

	room := h.room(t)
	require.Equal(t, models.RoomStatusEnded, room.Status)
	require.Equal(t, "alice", room.Winner)
	require.Equal(t, g.Pot, room.Payout)
	require.Empty(t, room.GameID)
	require.NotNil(t, room.NextResetAt)
	require.True(t, room.NextResetAt.Equal(h.clock.Now().UTC().Add(h.cfg.Cooldown)))
	require.Equal(t, 90+g.Pot, h.ledger.balance("alice"), "pot credited on top of the post-bet balance")

	ended, err := h.games.Get(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, models.GameStatusEnded, ended.Status)

	// a second claim after the winner committed is a silent no-op
	won, err = c.ClaimWin(ctx, testRoomID, "bob")
	require.NoError(t, err)
	require.False(t, won)
	require.Equal(t, "alice", h.room(t).Winner)
	require.Equal(t, 90.0, h.ledger.balance("bob"))
}

func TestClaimWinRejectsNonWinningCard(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()
	ctx := context.Background()

	h.claim(t, "alice", 1)
	h.claim(t, "bob", 2)

	aliceCard, err := h.pool.Get(ctx, testRoomID, cards.CardID(testRoomID, 1))
	require.NoError(t, err)
	installGame(t, h, aliceCard.Numbers[0][:])
	h.clock.Advance(time.Duration(models.GridSize) * h.cfg.DrawInterval)

	// bob's card has no covered line at this point
	won, err := c.ClaimWin(ctx, testRoomID, "bob")
	require.NoError(t, err)
	require.False(t, won)
	require.Equal(t, models.RoomStatusPlaying, h.room(t).Status)
}

func TestClaimWinFromNonPlayerIsNoOp(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()
	ctx := context.Background()

	h.claim(t, "alice", 1)
	h.claim(t, "bob", 2)
	installGame(t, h, nil)
	h.clock.Advance(time.Hour)

	won, err := c.ClaimWin(ctx, testRoomID, "mallory")
	require.NoError(t, err)
	require.False(t, won)
}

func TestDrawExhaustionEndsGameWithoutWinner(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()
	ctx := context.Background()

	h.claim(t, "alice", 1)
	h.claim(t, "bob", 2)
	g := installGame(t, h, nil)

	// mid-draw: nothing to do
	h.clock.Advance(10 * h.cfg.DrawInterval)
	c.evaluate(ctx, h.room(t))
	require.Equal(t, models.RoomStatusPlaying, h.room(t).Status)

	// past the last draw
	h.clock.Advance(time.Duration(models.NumberDomainSize) * h.cfg.DrawInterval)
	c.evaluate(ctx, h.room(t))

	room := h.room(t)
	require.Equal(t, models.RoomStatusEnded, room.Status)
	require.Empty(t, room.Winner)
	require.Zero(t, room.Payout)
	require.Empty(t, room.GameID)
	require.NotNil(t, room.NextResetAt)
	require.True(t, room.NextResetAt.Equal(h.clock.Now().UTC().Add(h.cfg.Cooldown)))

	ended, err := h.games.Get(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, models.GameStatusEnded, ended.Status)
}

func TestRoomResetsAfterCooldown(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()
	ctx := context.Background()

	h.claim(t, "alice", 1)
	h.claim(t, "bob", 2)
	installGame(t, h, nil)
	h.clock.Advance(time.Duration(models.NumberDomainSize+1) * h.cfg.DrawInterval)
	c.evaluate(ctx, h.room(t))
	require.Equal(t, models.RoomStatusEnded, h.room(t).Status)

	// still cooling down
	c.evaluate(ctx, h.room(t))
	require.Equal(t, models.RoomStatusEnded, h.room(t).Status)

	h.clock.Advance(h.cfg.Cooldown + time.Second)
	c.evaluate(ctx, h.room(t))

	room := h.room(t)
	require.Equal(t, models.RoomStatusWaiting, room.Status)
	require.Empty(t, room.Players)
	require.Empty(t, room.Winner)
	require.Nil(t, room.NextResetAt)

	// the pool was regenerated: every card is claimable again
	for serial := 1; serial <= room.CardPoolSize; serial++ {
		card, err := h.pool.Get(ctx, testRoomID, cards.CardID(testRoomID, serial))
		require.NoError(t, err)
		require.False(t, card.Claimed, "card %d", serial)
	}
}

func TestFullRoundTripThroughElections(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()
	ctx := context.Background()

	h.claim(t, "alice", 1)
	h.claim(t, "bob", 2)
	c.evaluate(ctx, h.room(t))
	require.Equal(t, models.RoomStatusCountdown, h.room(t).Status)

	h.clock.Advance(h.cfg.CountdownDuration)
	c.evaluate(ctx, h.room(t))
	room := h.room(t)
	require.Equal(t, models.RoomStatusPlaying, room.Status)
	require.NotEmpty(t, room.GameID)

	g, err := h.games.Get(ctx, room.GameID)
	require.NoError(t, err)

	// find when alice's card first completes a line under this sequence
	aliceCard := &g.Roster[0].Card
	winner := g.Roster[0].UserID
	for _, entry := range g.Roster {
		entry := entry
		if entry.UserID == "alice" {
			aliceCard = &entry.Card
			winner = entry.UserID
		}
	}
	drawsNeeded := -1
	for n := 0; n <= len(g.DrawSequence); n++ {
		if game.HasBingo(aliceCard, g.DrawSequence[:n]) {
			drawsNeeded = n
			break
		}
	}
	require.GreaterOrEqual(t, drawsNeeded, 0, "a full sequence covers every card")

	h.clock.Advance(time.Duration(drawsNeeded) * g.DrawInterval)
	won, err := c.ClaimWin(ctx, testRoomID, winner)
	require.NoError(t, err)
	require.True(t, won)
	require.Equal(t, winner, h.room(t).Winner)
}
