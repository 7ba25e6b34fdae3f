package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/housielabs/housie-server/internal/game"
	"github.com/housielabs/housie-server/internal/roomid"
	"github.com/housielabs/housie-server/internal/settlement"
)

// client is the outbound side of one connected player. The websocket
// Connection implements it; tests substitute an in-memory sink.
type client interface {
	ID() string
	SendMessage(msg *Message) error
}

// GameService routes client requests into rooms and fans room events back
// out. It owns the connection and account indexes, the per-room number
// callers, and the settlement worker.
type GameService struct {
	registry *game.Registry
	ledger   settlement.Ledger
	settler  *settlement.Settler
	clock    quartz.Clock
	logger   *log.Logger

	callInterval    time.Duration
	requiredPlayers int

	ctx context.Context

	mu       sync.RWMutex
	clients  map[string]client       // conn id → client
	accounts map[string]string       // account id → conn id
	callers  map[string]*game.Caller // room id → live number caller
}

// Option customizes a GameService.
type Option func(*GameService)

// WithCallInterval overrides the cadence of the number caller.
func WithCallInterval(d time.Duration) Option {
	return func(s *GameService) {
		if d > 0 {
			s.callInterval = d
		}
	}
}

// WithRequiredPlayers overrides the free-room capacity.
func WithRequiredPlayers(n int) Option {
	return func(s *GameService) {
		if n >= 2 {
			s.requiredPlayers = n
		}
	}
}

// NewGameService creates a game service. The settlement worker is not running
// until Start.
func NewGameService(registry *game.Registry, ledger settlement.Ledger, history settlement.History, clock quartz.Clock, logger *log.Logger, opts ...Option) *GameService {
	s := &GameService{
		registry:        registry,
		ledger:          ledger,
		clock:           clock,
		logger:          logger.WithPrefix("game"),
		callInterval:    game.DefaultCallInterval,
		requiredPlayers: game.DefaultRequiredPlayers,
		ctx:             context.Background(),
		clients:         make(map[string]client),
		accounts:        make(map[string]string),
		callers:         make(map[string]*game.Caller),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.settler = settlement.NewSettler(ledger, history, clock, logger, s.pushStats)
	return s
}

// Start launches the settlement worker. ctx also bounds every number caller
// started afterwards.
func (s *GameService) Start(ctx context.Context) {
	s.ctx = ctx
	s.settler.Start(ctx)
}

// Stop halts all number callers. Rooms stay in the registry so a restart of
// the callers is possible, but in practice Stop is a shutdown path.
func (s *GameService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.callers {
		c.Stop()
		delete(s.callers, id)
	}
}

// Register makes a freshly connected client addressable.
func (s *GameService) Register(c client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID()] = c
}

// HandleDisconnect drops the connection from the indexes. The player's seat
// in the room survives; a rejoin by account id rebinds it to the next
// connection.
func (s *GameService) HandleDisconnect(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.clients, connID)
	for account, cid := range s.accounts {
		if cid == connID {
			delete(s.accounts, account)
		}
	}
}

// HandleCreateRoom creates a room and seats the creator as its first player.
// For a staked room the entry fee is deducted before the room exists, so a
// broke player never occupies an id.
func (s *GameService) HandleCreateRoom(c client, data CreateRoomData, requestID string) {
	name := data.PlayerName
	if name == "" {
		name = "Player"
	}
	fee := data.EntryFee
	if fee < 0 {
		fee = 0
	}

	// Bind before the deduction so the stats_update lands on this connection.
	s.bindAccount(data.AccountID, c.ID())

	if fee > 0 {
		if data.AccountID == "" {
			s.sendError(c, requestID, "account_required", "A staked room requires an account")
			return
		}
		if !s.deductEntryFee(c, data.AccountID, fee, requestID) {
			return
		}
	}

	room := s.registry.Create(game.Config{EntryFee: fee, RequiredPlayers: s.requiredPlayers})
	view, _, err := room.Join(c.ID(), data.AccountID, name)
	if err != nil {
		// A fresh room always has a free seat; treat this as fatal.
		s.refundEntryFee(data.AccountID, fee)
		s.registry.Remove(room.ID())
		s.sendError(c, requestID, errorCode(err), err.Error())
		return
	}

	s.logger.Info("Room created", "room", room.ID(), "mode", room.Mode(), "fee", fee, "host", name)

	s.respond(c, MessageTypeRoomCreated, RoomCreatedData{
		RoomID: room.ID(),
		Player: view,
		State:  room.Snapshot(),
	}, requestID)
	s.broadcastRoomUpdate(room)
}

// HandleJoinRoom seats a player in an existing room. The joinability
// pre-check runs before the entry fee is deducted; if another join races in
// between, the fee is refunded.
func (s *GameService) HandleJoinRoom(c client, data JoinRoomData, requestID string) {
	room, ok := s.registry.Get(data.RoomID)
	if !ok {
		s.sendError(c, requestID, errorCode(game.ErrRoomNotFound), "Room not found: "+data.RoomID)
		return
	}
	name := data.PlayerName
	if name == "" {
		name = "Player"
	}

	// The id prefix advertises the stake; reject an anonymous join before
	// touching the room, the same check clients run on the prefix.
	if roomid.IsStaked(data.RoomID) && data.AccountID == "" {
		s.sendError(c, requestID, "account_required", "A staked room requires an account")
		return
	}

	if err := room.CanJoin(data.AccountID); err != nil {
		s.sendError(c, requestID, errorCode(err), err.Error())
		return
	}

	// Bind before the deduction so the stats_update lands on this connection.
	s.bindAccount(data.AccountID, c.ID())

	fee := room.EntryFee()
	if fee > 0 {
		if data.AccountID == "" {
			s.sendError(c, requestID, "account_required", "A staked room requires an account")
			return
		}
		if !s.deductEntryFee(c, data.AccountID, fee, requestID) {
			return
		}
	}

	view, started, err := room.Join(c.ID(), data.AccountID, name)
	if err != nil {
		// Lost a race for the last seat after paying; give the fee back.
		s.refundEntryFee(data.AccountID, fee)
		s.sendError(c, requestID, errorCode(err), err.Error())
		return
	}

	s.logger.Info("Player joined", "room", room.ID(), "player", name, "seats", room.PlayerCount())

	s.respond(c, MessageTypeRoomJoined, RoomJoinedData{
		Player: view,
		State:  room.Snapshot(),
	}, requestID)
	s.broadcastRoomUpdate(room)

	if started {
		s.startGame(room)
	}
}

// HandleMarkNumber strikes the current number on the sender's ticket.
func (s *GameService) HandleMarkNumber(c client, data MarkNumberData, requestID string) {
	room, ok := s.registry.Get(data.RoomID)
	if !ok {
		s.sendError(c, requestID, errorCode(game.ErrRoomNotFound), "Room not found: "+data.RoomID)
		return
	}

	if err := room.Mark(c.ID(), data.Number); err != nil {
		s.sendError(c, requestID, errorCode(err), err.Error())
		return
	}
	s.respond(c, MessageTypeMarked, MarkedData{Success: true}, requestID)
}

// HandleClaimWin validates a claim, announces the winner, and ends the game.
// Settlement happens on the worker, off the broadcast path.
func (s *GameService) HandleClaimWin(c client, data ClaimWinData, requestID string) {
	room, ok := s.registry.Get(data.RoomID)
	if !ok {
		s.sendError(c, requestID, errorCode(game.ErrRoomNotFound), "Room not found: "+data.RoomID)
		return
	}

	res, err := room.Claim(c.ID(), data.Type)
	if err != nil {
		s.sendError(c, requestID, errorCode(err), err.Error())
		return
	}

	s.logger.Info("Win claimed", "room", room.ID(), "winner", res.Winner.Name, "place", res.Winner.Place)

	s.respond(c, MessageTypeClaimResult, ClaimResultData{Success: true}, requestID)
	s.broadcast(room, MessageTypeWinnerAnnounced, WinnerAnnouncedData{
		Winner:  res.Winner,
		Message: res.Message,
	})

	if res.GameEnded {
		s.stopCalling(room.ID())
		s.broadcast(room, MessageTypeGameOver, GameOverData{Winners: res.Winners})
		s.settleGame(room, res)
	}
}

// HandleRejoin rebinds a returning player's seat to their new connection and
// resyncs them with the full room state and their own ticket.
func (s *GameService) HandleRejoin(c client, data RejoinData, requestID string) {
	room, ok := s.registry.Get(data.RoomID)
	if !ok {
		s.sendError(c, requestID, errorCode(game.ErrRoomNotFound), "Room not found: "+data.RoomID)
		return
	}

	view, err := room.Rejoin(data.AccountID, c.ID())
	if err != nil {
		s.sendError(c, requestID, errorCode(err), err.Error())
		return
	}
	s.bindAccount(data.AccountID, c.ID())

	s.logger.Info("Player rejoined", "room", room.ID(), "account", data.AccountID)

	s.respond(c, MessageTypeRejoined, RejoinedData{
		State:  room.Snapshot(),
		Player: view,
	}, requestID)
}

// HandleRequestRematch relays a rematch offer to everyone else in the room.
func (s *GameService) HandleRequestRematch(c client, data RequestRematchData) {
	room, ok := s.registry.Get(data.RoomID)
	if !ok {
		s.sendError(c, "", errorCode(game.ErrRoomNotFound), "Room not found: "+data.RoomID)
		return
	}

	name := data.PlayerName
	if name == "" {
		name = "Player"
	}
	s.broadcastExcept(room, c.ID(), MessageTypeRematchRequested, RematchRequestedData{
		By:   name,
		ByID: c.ID(),
	})
}

// HandleRespondRematch either restarts the finished game with fresh tickets
// or tears the room down for good.
func (s *GameService) HandleRespondRematch(c client, data RespondRematchData, requestID string) {
	room, ok := s.registry.Get(data.RoomID)
	if !ok {
		s.sendError(c, requestID, errorCode(game.ErrRoomNotFound), "Room not found: "+data.RoomID)
		return
	}

	if !data.Accepted {
		s.logger.Info("Rematch rejected, closing room", "room", room.ID())
		s.broadcastExcept(room, c.ID(), MessageTypeRematchRejected, RematchRejectedData{ByID: c.ID()})
		s.stopCalling(room.ID())
		s.registry.Remove(room.ID())
		return
	}

	if err := room.ResetForRematch(); err != nil {
		s.sendError(c, requestID, errorCode(err), err.Error())
		return
	}

	s.logger.Info("Rematch starting", "room", room.ID())

	// Fresh tickets are private; push each player their own view.
	for _, view := range room.Views() {
		s.sendTo(view.ID, MessageTypePlayerUpdate, view)
	}
	s.broadcastRoomUpdate(room)
	s.startGame(room)
}

// startGame announces PLAYING and begins the number loop.
func (s *GameService) startGame(room *game.Room) {
	s.logger.Info("Game starting", "room", room.ID(), "players", room.PlayerCount())
	s.broadcast(room, MessageTypeGameStart, GameStartData{Status: game.StatusPlaying})
	s.startCalling(room)
}

func (s *GameService) startCalling(room *game.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.callers[room.ID()]; ok {
		old.Stop()
	}
	s.callers[room.ID()] = game.StartCaller(s.ctx, room, s.clock, s.callInterval, s.logger,
		s.handleNumberCalled, s.handleGameVoid)
}

func (s *GameService) stopCalling(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.callers[roomID]; ok {
		c.Stop()
		delete(s.callers, roomID)
	}
}

func (s *GameService) handleNumberCalled(room *game.Room, draw game.Draw) {
	s.broadcast(room, MessageTypeNewNumber, NewNumberData{
		Number:  draw.Number,
		History: draw.History,
	})
}

// handleGameVoid fires when every number was called with no winner. Nobody
// wins, nobody is settled; staked fees are gone to the house.
func (s *GameService) handleGameVoid(room *game.Room) {
	s.logger.Info("Game void, no winner", "room", room.ID())
	s.broadcast(room, MessageTypeGameOver, GameOverData{Winners: []game.Winner{}})

	s.mu.Lock()
	delete(s.callers, room.ID())
	s.mu.Unlock()
}

// settleGame queues the finished game for the settlement worker. Free games
// carry a zero pot but still record wins, losses and history for any player
// with an account.
func (s *GameService) settleGame(room *game.Room, res game.ClaimResult) {
	mode := settlement.ModeFree
	if res.EntryFee > 0 {
		mode = settlement.ModePaid
	}

	losers := make([]string, 0, len(res.Losers))
	for _, l := range res.Losers {
		losers = append(losers, l.AccountID)
	}

	s.settler.Enqueue(settlement.Job{
		TxnID:         "settle-" + uuid.NewString(),
		RoomID:        room.ID(),
		Mode:          mode,
		EntryFee:      res.EntryFee,
		Pot:           res.Pot,
		WinnerAccount: res.Winner.AccountID,
		LoserAccounts: losers,
	})
}

// deductEntryFee takes the stake up front. Returns false after reporting the
// failure to the client.
func (s *GameService) deductEntryFee(c client, accountID string, fee int, requestID string) bool {
	stats, err := s.ledger.Deduct(s.ctx, accountID, fee, "entry-"+uuid.NewString())
	if err != nil {
		if errors.Is(err, settlement.ErrInsufficientFunds) {
			s.sendError(c, requestID, errorCode(err), "Not enough coins for the entry fee")
		} else {
			s.logger.Error("Entry fee deduction failed", "account", accountID, "error", err)
			s.sendError(c, requestID, errorCode(err), "Could not charge the entry fee")
		}
		return false
	}
	s.pushStats(accountID, stats)
	return true
}

// refundEntryFee returns a stake after a join that failed post-deduction.
func (s *GameService) refundEntryFee(accountID string, fee int) {
	if accountID == "" || fee <= 0 {
		return
	}
	stats, err := s.ledger.Credit(s.ctx, accountID, fee, "refund-"+uuid.NewString())
	if err != nil {
		s.logger.Error("Entry fee refund failed, manual credit required", "account", accountID, "fee", fee, "error", err)
		return
	}
	s.pushStats(accountID, stats)
}

func (s *GameService) bindAccount(accountID, connID string) {
	if accountID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[accountID] = connID
}

// pushStats sends a private wallet snapshot to the account's live connection,
// if it has one.
func (s *GameService) pushStats(accountID string, stats settlement.Stats) {
	s.mu.RLock()
	connID, ok := s.accounts[accountID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	s.sendTo(connID, MessageTypeStatsUpdate, StatsUpdateData{
		Coins:  stats.Coins,
		Wins:   stats.Wins,
		Losses: stats.Losses,
	})
}

func (s *GameService) broadcastRoomUpdate(room *game.Room) {
	s.broadcast(room, MessageTypeRoomUpdate, room.Snapshot())
}

// broadcast sends a message to every seated player with a live connection.
func (s *GameService) broadcast(room *game.Room, msgType MessageType, data interface{}) {
	s.broadcastExcept(room, "", msgType, data)
}

func (s *GameService) broadcastExcept(room *game.Room, exceptConnID string, msgType MessageType, data interface{}) {
	msg, err := NewMessage(msgType, data)
	if err != nil {
		s.logger.Error("Failed to marshal broadcast", "type", msgType, "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, connID := range room.ConnIDs() {
		if connID == exceptConnID {
			continue
		}
		if c, ok := s.clients[connID]; ok {
			if err := c.SendMessage(msg); err != nil {
				s.logger.Debug("Failed to send broadcast", "conn", connID, "error", err)
			}
		}
	}
}

func (s *GameService) sendTo(connID string, msgType MessageType, data interface{}) {
	msg, err := NewMessage(msgType, data)
	if err != nil {
		s.logger.Error("Failed to marshal message", "type", msgType, "error", err)
		return
	}

	s.mu.RLock()
	c, ok := s.clients[connID]
	s.mu.RUnlock()
	if ok {
		_ = c.SendMessage(msg)
	}
}

func (s *GameService) respond(c client, msgType MessageType, data interface{}, requestID string) {
	msg, err := NewResponse(msgType, data, requestID)
	if err != nil {
		s.logger.Error("Failed to marshal response", "type", msgType, "error", err)
		return
	}
	_ = c.SendMessage(msg)
}

func (s *GameService) sendError(c client, requestID, code, message string) {
	msg, err := NewResponse(MessageTypeError, ErrorData{Code: code, Message: message}, requestID)
	if err != nil {
		s.logger.Error("Failed to marshal error", "error", err)
		return
	}
	_ = c.SendMessage(msg)
}
