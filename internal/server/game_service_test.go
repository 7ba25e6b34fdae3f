package server

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/housielabs/housie-server/internal/game"
	"github.com/housielabs/housie-server/internal/settlement"
	"github.com/housielabs/housie-server/internal/ticket"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
}

// fakeClient collects everything the service sends to one connection.
type fakeClient struct {
	id   string
	mu   sync.Mutex
	msgs []*Message
}

func newFakeClient() *fakeClient {
	return &fakeClient{id: uuid.NewString()}
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) SendMessage(msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeClient) countOf(msgType MessageType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.msgs {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

func (c *fakeClient) lastOf(msgType MessageType) (*Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.msgs) - 1; i >= 0; i-- {
		if c.msgs[i].Type == msgType {
			return c.msgs[i], true
		}
	}
	return nil, false
}

func decode(t *testing.T, msg *Message, v interface{}) {
	t.Helper()
	require.NotNil(t, msg)
	require.NoError(t, json.Unmarshal(msg.Data, v))
}

func requireLast(t *testing.T, c *fakeClient, msgType MessageType, v interface{}) {
	t.Helper()
	msg, ok := c.lastOf(msgType)
	require.True(t, ok, "expected a %s message", msgType)
	decode(t, msg, v)
}

type testEnv struct {
	svc      *GameService
	registry *game.Registry
	ledger   *settlement.MemoryLedger
	history  *settlement.MemoryHistory
}

func newTestEnv(t *testing.T, clock quartz.Clock, coins int) *testEnv {
	t.Helper()

	registry := game.NewRegistry(42)
	ledger := settlement.NewMemoryLedger(coins)
	history := settlement.NewMemoryHistory()
	svc := NewGameService(registry, ledger, history, clock, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	svc.Start(ctx)

	return &testEnv{svc: svc, registry: registry, ledger: ledger, history: history}
}

func TestCreateFreeRoom(t *testing.T) {
	env := newTestEnv(t, quartz.NewReal(), 100)
	c1 := newFakeClient()
	env.svc.Register(c1)

	env.svc.HandleCreateRoom(c1, CreateRoomData{PlayerName: "Asha"}, "req-1")

	var created RoomCreatedData
	requireLast(t, c1, MessageTypeRoomCreated, &created)

	assert.True(t, strings.HasPrefix(created.RoomID, "F-"))
	assert.Equal(t, game.StatusWaiting, created.State.Status)
	assert.Equal(t, game.ModeClassic, created.State.Mode)
	assert.Len(t, created.Player.Ticket.Numbers(), ticket.Rows*ticket.NumbersPerRow)
	assert.Equal(t, "Asha", created.Player.Name)

	msg, _ := c1.lastOf(MessageTypeRoomCreated)
	assert.Equal(t, "req-1", msg.RequestID)
	assert.Equal(t, 1, env.registry.Len())
}

func TestCreateStakedRoomDeductsFee(t *testing.T) {
	env := newTestEnv(t, quartz.NewReal(), 100)
	c1 := newFakeClient()
	env.svc.Register(c1)

	env.svc.HandleCreateRoom(c1, CreateRoomData{AccountID: "acct-1", PlayerName: "Asha", EntryFee: 20}, "req-1")

	var created RoomCreatedData
	requireLast(t, c1, MessageTypeRoomCreated, &created)
	assert.True(t, strings.HasPrefix(created.RoomID, "C-"))
	assert.Equal(t, game.ModeTwoPlayer, created.State.Mode)
	assert.Equal(t, 2, created.State.RequiredPlayers)

	var stats StatsUpdateData
	requireLast(t, c1, MessageTypeStatsUpdate, &stats)
	assert.Equal(t, 80, stats.Coins)
	assert.Equal(t, 80, env.ledger.Stats("acct-1").Coins)
}

func TestCreateStakedRoomInsufficientCoins(t *testing.T) {
	env := newTestEnv(t, quartz.NewReal(), 10)
	c1 := newFakeClient()
	env.svc.Register(c1)

	env.svc.HandleCreateRoom(c1, CreateRoomData{AccountID: "acct-1", PlayerName: "Asha", EntryFee: 20}, "req-1")

	var errData ErrorData
	requireLast(t, c1, MessageTypeError, &errData)
	assert.Equal(t, "insufficient_coins", errData.Code)

	// No room is created for a player who cannot pay.
	assert.Equal(t, 0, env.registry.Len())
	assert.Equal(t, 10, env.ledger.Stats("acct-1").Coins)
}

func TestCreateStakedRoomRequiresAccount(t *testing.T) {
	env := newTestEnv(t, quartz.NewReal(), 100)
	c1 := newFakeClient()
	env.svc.Register(c1)

	env.svc.HandleCreateRoom(c1, CreateRoomData{PlayerName: "Asha", EntryFee: 20}, "req-1")

	var errData ErrorData
	requireLast(t, c1, MessageTypeError, &errData)
	assert.Equal(t, "account_required", errData.Code)
	assert.Equal(t, 0, env.registry.Len())
}

func TestJoinStakedRoomPushesStats(t *testing.T) {
	env := newTestEnv(t, quartz.NewMock(t), 100)
	c1 := newFakeClient()
	c2 := newFakeClient()

	startStakedGame(t, env, c1, c2, 20)

	// The joiner's wallet snapshot arrives on the connection that paid, even
	// though the deduction happens before the seat is taken.
	var stats StatsUpdateData
	requireLast(t, c2, MessageTypeStatsUpdate, &stats)
	assert.Equal(t, 80, stats.Coins)
	assert.Equal(t, 80, env.ledger.Stats("acct-2").Coins)
}

func TestJoinStakedRoomRequiresAccount(t *testing.T) {
	env := newTestEnv(t, quartz.NewReal(), 100)
	c1 := newFakeClient()
	c2 := newFakeClient()
	env.svc.Register(c1)
	env.svc.Register(c2)

	env.svc.HandleCreateRoom(c1, CreateRoomData{AccountID: "acct-1", PlayerName: "Asha", EntryFee: 20}, "req-1")
	var created RoomCreatedData
	requireLast(t, c1, MessageTypeRoomCreated, &created)

	// The C- prefix alone is enough to turn away an anonymous join.
	env.svc.HandleJoinRoom(c2, JoinRoomData{RoomID: created.RoomID, PlayerName: "Bo"}, "req-2")

	var errData ErrorData
	requireLast(t, c2, MessageTypeError, &errData)
	assert.Equal(t, "account_required", errData.Code)

	room, ok := env.registry.Get(created.RoomID)
	require.True(t, ok)
	assert.Equal(t, 1, room.PlayerCount())
}

func TestJoinUnknownRoom(t *testing.T) {
	env := newTestEnv(t, quartz.NewReal(), 100)
	c1 := newFakeClient()
	env.svc.Register(c1)

	env.svc.HandleJoinRoom(c1, JoinRoomData{RoomID: "F-ZZZZZ", PlayerName: "Bo"}, "req-1")

	var errData ErrorData
	requireLast(t, c1, MessageTypeError, &errData)
	assert.Equal(t, "room_not_found", errData.Code)
}

func TestJoinStartsGameWhenFull(t *testing.T) {
	env := newTestEnv(t, quartz.NewMock(t), 100)
	c1 := newFakeClient()
	c2 := newFakeClient()
	env.svc.Register(c1)
	env.svc.Register(c2)

	env.svc.HandleCreateRoom(c1, CreateRoomData{PlayerName: "Asha"}, "req-1")
	var created RoomCreatedData
	requireLast(t, c1, MessageTypeRoomCreated, &created)

	env.svc.HandleJoinRoom(c2, JoinRoomData{RoomID: created.RoomID, PlayerName: "Bo"}, "req-2")

	var joined RoomJoinedData
	requireLast(t, c2, MessageTypeRoomJoined, &joined)
	assert.Equal(t, "Bo", joined.Player.Name)

	var start GameStartData
	requireLast(t, c1, MessageTypeGameStart, &start)
	assert.Equal(t, game.StatusPlaying, start.Status)
	requireLast(t, c2, MessageTypeGameStart, &start)

	var update game.Snapshot
	requireLast(t, c1, MessageTypeRoomUpdate, &update)
	assert.Len(t, update.Players, 2)
	// Opponent tickets never leave the server.
	for _, p := range update.Players {
		assert.Equal(t, 0, p.StruckCount)
	}
}

// startStakedGame creates a two-player staked room and joins both players,
// which flips the room to PLAYING and starts the mock-clocked number caller.
func startStakedGame(t *testing.T, env *testEnv, c1, c2 *fakeClient, fee int) (string, RoomCreatedData) {
	t.Helper()

	env.svc.Register(c1)
	env.svc.Register(c2)

	env.svc.HandleCreateRoom(c1, CreateRoomData{AccountID: "acct-1", PlayerName: "Asha", EntryFee: fee}, "req-1")
	var created RoomCreatedData
	requireLast(t, c1, MessageTypeRoomCreated, &created)

	env.svc.HandleJoinRoom(c2, JoinRoomData{RoomID: created.RoomID, AccountID: "acct-2", PlayerName: "Bo"}, "req-2")
	require.Equal(t, 1, c1.countOf(MessageTypeGameStart))
	require.Equal(t, 1, c2.countOf(MessageTypeGameStart))

	return created.RoomID, created
}

// nextNumber advances the mock clock one call interval and returns the number
// broadcast for it.
func nextNumber(t *testing.T, mClock *quartz.Mock, c *fakeClient, seen int) int {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mClock.Advance(game.DefaultCallInterval).MustWait(ctx)

	require.Eventually(t, func() bool {
		return c.countOf(MessageTypeNewNumber) > seen
	}, 5*time.Second, time.Millisecond)

	msg, _ := c.lastOf(MessageTypeNewNumber)
	var nn NewNumberData
	decode(t, msg, &nn)
	return nn.Number
}

// playToWin drives draws until c1 has a full house, then claims it.
func playToWin(t *testing.T, env *testEnv, mClock *quartz.Mock, c1, c2 *fakeClient, roomID string, created RoomCreatedData) {
	t.Helper()

	marked := 0
	for i := 0; i < ticket.MaxNumber; i++ {
		n := nextNumber(t, mClock, c1, i)
		if created.Player.Ticket.Contains(n) {
			env.svc.HandleMarkNumber(c1, MarkNumberData{RoomID: roomID, Number: n}, "")
			marked++
			if marked == ticket.Rows*ticket.NumbersPerRow {
				break
			}
		}
	}
	require.Equal(t, ticket.Rows*ticket.NumbersPerRow, marked)

	env.svc.HandleClaimWin(c1, ClaimWinData{RoomID: roomID, Type: game.ClaimFullHouse}, "req-claim")

	var res ClaimResultData
	requireLast(t, c1, MessageTypeClaimResult, &res)
	require.True(t, res.Success)
}

func TestStakedGameFullFlow(t *testing.T) {
	mClock := quartz.NewMock(t)
	env := newTestEnv(t, mClock, 100)
	c1 := newFakeClient()
	c2 := newFakeClient()

	roomID, created := startStakedGame(t, env, c1, c2, 20)
	playToWin(t, env, mClock, c1, c2, roomID, created)

	var announced WinnerAnnouncedData
	requireLast(t, c1, MessageTypeWinnerAnnounced, &announced)
	assert.Equal(t, "Asha won 1st Place!", announced.Message)
	assert.Equal(t, 1, announced.Winner.Place)
	require.Equal(t, 1, c2.countOf(MessageTypeWinnerAnnounced))

	var over GameOverData
	requireLast(t, c2, MessageTypeGameOver, &over)
	require.Len(t, over.Winners, 1)
	assert.Equal(t, "Asha", over.Winners[0].Name)

	// Settlement lands asynchronously: winner takes the pot, loser records a
	// loss, both get history.
	require.Eventually(t, func() bool {
		return env.ledger.Stats("acct-1").Wins == 1 && env.ledger.Stats("acct-2").Losses == 1
	}, 5*time.Second, time.Millisecond)

	assert.Equal(t, settlement.Stats{Coins: 120, Wins: 1}, env.ledger.Stats("acct-1"))
	assert.Equal(t, settlement.Stats{Coins: 80, Losses: 1}, env.ledger.Stats("acct-2"))

	winHist := env.history.RecordsFor("acct-1")
	require.Len(t, winHist, 1)
	assert.Equal(t, settlement.ResultWin, winHist[0].Result)
	assert.Equal(t, 40, winHist[0].Winnings)
	assert.Equal(t, settlement.ModePaid, winHist[0].Mode)

	// The winner sees their refreshed wallet.
	require.Eventually(t, func() bool {
		var stats StatsUpdateData
		msg, ok := c1.lastOf(MessageTypeStatsUpdate)
		if !ok {
			return false
		}
		decode(t, msg, &stats)
		return stats.Coins == 120 && stats.Wins == 1
	}, 5*time.Second, time.Millisecond)
}

func TestGameVoidWhenNumbersRunOut(t *testing.T) {
	mClock := quartz.NewMock(t)
	env := newTestEnv(t, mClock, 100)
	c1 := newFakeClient()
	c2 := newFakeClient()

	roomID, _ := startStakedGame(t, env, c1, c2, 20)

	// Nobody marks anything; drain the whole pool.
	for i := 0; i < ticket.MaxNumber; i++ {
		nextNumber(t, mClock, c1, i)
	}

	// The next tick finds the pool empty and voids the game.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mClock.Advance(game.DefaultCallInterval).MustWait(ctx)

	require.Eventually(t, func() bool {
		return c1.countOf(MessageTypeGameOver) == 1 && c2.countOf(MessageTypeGameOver) == 1
	}, 5*time.Second, time.Millisecond)

	var over GameOverData
	requireLast(t, c1, MessageTypeGameOver, &over)
	assert.Empty(t, over.Winners)

	room, ok := env.registry.Get(roomID)
	require.True(t, ok)
	assert.Equal(t, game.StatusEnded, room.Status())

	// A void game settles nothing; the stakes stay deducted.
	assert.Equal(t, 80, env.ledger.Stats("acct-1").Coins)
	assert.Equal(t, 80, env.ledger.Stats("acct-2").Coins)
	assert.Empty(t, env.history.RecordsFor("acct-1"))
}

func TestMarkRejectsStaleNumber(t *testing.T) {
	mClock := quartz.NewMock(t)
	env := newTestEnv(t, mClock, 100)
	c1 := newFakeClient()
	c2 := newFakeClient()

	roomID, _ := startStakedGame(t, env, c1, c2, 20)

	first := nextNumber(t, mClock, c1, 0)
	second := nextNumber(t, mClock, c1, 1)
	require.NotEqual(t, first, second)

	env.svc.HandleMarkNumber(c1, MarkNumberData{RoomID: roomID, Number: first}, "req-m")

	var errData ErrorData
	requireLast(t, c1, MessageTypeError, &errData)
	assert.Equal(t, "not_current_number", errData.Code)
}

func TestClaimWithoutFullHouse(t *testing.T) {
	mClock := quartz.NewMock(t)
	env := newTestEnv(t, mClock, 100)
	c1 := newFakeClient()
	c2 := newFakeClient()

	roomID, _ := startStakedGame(t, env, c1, c2, 20)
	nextNumber(t, mClock, c1, 0)

	env.svc.HandleClaimWin(c2, ClaimWinData{RoomID: roomID, Type: game.ClaimFullHouse}, "req-c")

	var errData ErrorData
	requireLast(t, c2, MessageTypeError, &errData)
	assert.Equal(t, "invalid_claim", errData.Code)
	assert.Equal(t, 0, c1.countOf(MessageTypeWinnerAnnounced))
}

func TestRejoinRebindsSeat(t *testing.T) {
	mClock := quartz.NewMock(t)
	env := newTestEnv(t, mClock, 100)
	c1 := newFakeClient()
	c2 := newFakeClient()

	roomID, _ := startStakedGame(t, env, c1, c2, 20)
	nextNumber(t, mClock, c1, 0)

	// Bo drops and comes back on a fresh connection.
	env.svc.HandleDisconnect(c2.ID())
	c3 := newFakeClient()
	env.svc.Register(c3)

	env.svc.HandleRejoin(c3, RejoinData{RoomID: roomID, AccountID: "acct-2"}, "req-r")

	var rejoined RejoinedData
	requireLast(t, c3, MessageTypeRejoined, &rejoined)
	assert.Equal(t, "Bo", rejoined.Player.Name)
	assert.Equal(t, c3.ID(), rejoined.Player.ID)
	assert.Equal(t, game.StatusPlaying, rejoined.State.Status)
	require.NotNil(t, rejoined.State.CurrentNumber)

	// Subsequent calls reach the new connection, not the old one.
	before := c2.countOf(MessageTypeNewNumber)
	nextNumber(t, mClock, c1, 1)
	require.Eventually(t, func() bool {
		return c3.countOf(MessageTypeNewNumber) == 1
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, before, c2.countOf(MessageTypeNewNumber))
}

func TestRejoinUnknownAccount(t *testing.T) {
	mClock := quartz.NewMock(t)
	env := newTestEnv(t, mClock, 100)
	c1 := newFakeClient()
	c2 := newFakeClient()

	roomID, _ := startStakedGame(t, env, c1, c2, 20)

	c3 := newFakeClient()
	env.svc.Register(c3)
	env.svc.HandleRejoin(c3, RejoinData{RoomID: roomID, AccountID: "acct-99"}, "req-r")

	var errData ErrorData
	requireLast(t, c3, MessageTypeError, &errData)
	assert.Equal(t, "player_not_found", errData.Code)
}

func TestRematchAcceptedRestartsGame(t *testing.T) {
	mClock := quartz.NewMock(t)
	env := newTestEnv(t, mClock, 100)
	c1 := newFakeClient()
	c2 := newFakeClient()

	roomID, created := startStakedGame(t, env, c1, c2, 20)
	playToWin(t, env, mClock, c1, c2, roomID, created)

	env.svc.HandleRequestRematch(c1, RequestRematchData{RoomID: roomID, PlayerName: "Asha"})
	var req RematchRequestedData
	requireLast(t, c2, MessageTypeRematchRequested, &req)
	assert.Equal(t, "Asha", req.By)
	assert.Equal(t, 0, c1.countOf(MessageTypeRematchRequested))

	env.svc.HandleRespondRematch(c2, RespondRematchData{RoomID: roomID, Accepted: true}, "req-rm")

	// Everyone gets a fresh private ticket and the game restarts.
	var view game.View
	requireLast(t, c1, MessageTypePlayerUpdate, &view)
	assert.Empty(t, view.StruckNumbers)
	assert.Len(t, view.Ticket.Numbers(), ticket.Rows*ticket.NumbersPerRow)

	require.Equal(t, 2, c1.countOf(MessageTypeGameStart))
	require.Equal(t, 2, c2.countOf(MessageTypeGameStart))

	room, ok := env.registry.Get(roomID)
	require.True(t, ok)
	assert.Equal(t, game.StatusPlaying, room.Status())

	// The restarted caller draws from a fresh pool.
	seen := c1.countOf(MessageTypeNewNumber)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mClock.Advance(game.DefaultCallInterval).MustWait(ctx)
	require.Eventually(t, func() bool {
		return c1.countOf(MessageTypeNewNumber) > seen
	}, 5*time.Second, time.Millisecond)
}

func TestRematchRejectedClosesRoom(t *testing.T) {
	mClock := quartz.NewMock(t)
	env := newTestEnv(t, mClock, 100)
	c1 := newFakeClient()
	c2 := newFakeClient()

	roomID, created := startStakedGame(t, env, c1, c2, 20)
	playToWin(t, env, mClock, c1, c2, roomID, created)

	env.svc.HandleRequestRematch(c1, RequestRematchData{RoomID: roomID, PlayerName: "Asha"})
	env.svc.HandleRespondRematch(c2, RespondRematchData{RoomID: roomID, Accepted: false}, "req-rm")

	var rejected RematchRejectedData
	requireLast(t, c1, MessageTypeRematchRejected, &rejected)
	assert.Equal(t, c2.ID(), rejected.ByID)

	_, ok := env.registry.Get(roomID)
	assert.False(t, ok)
	assert.Equal(t, 0, env.registry.Len())
}

func TestDuplicateAccountCannotJoinTwice(t *testing.T) {
	env := newTestEnv(t, quartz.NewReal(), 100)
	c1 := newFakeClient()
	c2 := newFakeClient()
	env.svc.Register(c1)
	env.svc.Register(c2)

	env.svc.HandleCreateRoom(c1, CreateRoomData{AccountID: "acct-1", PlayerName: "Asha", EntryFee: 20}, "req-1")
	var created RoomCreatedData
	requireLast(t, c1, MessageTypeRoomCreated, &created)

	env.svc.HandleJoinRoom(c2, JoinRoomData{RoomID: created.RoomID, AccountID: "acct-1", PlayerName: "Asha2"}, "req-2")

	var errData ErrorData
	requireLast(t, c2, MessageTypeError, &errData)
	assert.Equal(t, "duplicate_player", errData.Code)
	// The doomed join is caught before any fee changes hands.
	assert.Equal(t, 80, env.ledger.Stats("acct-1").Coins)
}
