package game

import (
	"fmt"
	rand "math/rand/v2"
	"sync"
	"time"

	"github.com/housielabs/housie-server/internal/ticket"
)

// Status is the room lifecycle state. Transitions are one-way
// (WAITING → PLAYING → ENDED) except for the explicit rematch reset, which
// re-enters PLAYING directly from ENDED.
type Status string

const (
	StatusWaiting Status = "WAITING"
	StatusPlaying Status = "PLAYING"
	StatusEnded   Status = "ENDED"
)

// Mode distinguishes strict two-player stake matches from open classic ones.
type Mode string

const (
	ModeClassic   Mode = "CLASSIC"
	ModeTwoPlayer Mode = "2-PLAYER"
)

// ClaimFullHouse is the only claim type currently played: every number on the
// ticket has been struck.
const ClaimFullHouse = "HOUSIE"

// DefaultRequiredPlayers is the capacity of a classic room when the creator
// does not ask for more seats. Staked rooms are always exactly two.
const DefaultRequiredPlayers = 2

// Config carries the creator-supplied room settings.
type Config struct {
	EntryFee        int
	RequiredPlayers int
}

// Winner is one entry in the room's ordered podium.
type Winner struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId,omitempty"`
	Name      string    `json:"name"`
	Place     int       `json:"place"`
	At        time.Time `json:"at"`
}

// PlayerRef identifies a seated player for settlement purposes.
type PlayerRef struct {
	ConnID    string
	AccountID string
	Name      string
}

// ClaimResult describes a successful claim, including everything the gateway
// needs to broadcast the win and settle the pot.
type ClaimResult struct {
	Winner    Winner
	Message   string
	GameEnded bool
	Winners   []Winner

	Mode     Mode
	EntryFee int
	Pot      int
	Losers   []PlayerRef
}

// Snapshot is the public room state broadcast as room_update. Tickets are
// deliberately absent; opponents only see struck counts.
type Snapshot struct {
	RoomID          string         `json:"roomId"`
	Mode            Mode           `json:"mode"`
	Status          Status         `json:"status"`
	Players         []PublicPlayer `json:"players"`
	CurrentNumber   *int           `json:"currentNumber"`
	LastNumbers     []int          `json:"lastNumbers"`
	Winners         []Winner       `json:"winners"`
	RequiredPlayers int            `json:"requiredPlayers"`
	EntryFee        int            `json:"entryFee"`
}

// Room is the per-session state machine. Every mutation happens under the
// room mutex, which also serializes client events against timer draws.
type Room struct {
	id       string
	mode     Mode
	entryFee int
	required int

	mu      sync.Mutex
	status  Status
	players []*Player
	numbers []int
	drawn   map[int]bool
	current int
	winners []Winner
	rng     *rand.Rand
	tickets *ticket.Generator
	now     func() time.Time
}

// NewRoom builds a WAITING room. A positive entry fee forces the strict
// two-player stake mode; free rooms are classic with a configurable capacity.
func NewRoom(id string, cfg Config, rng *rand.Rand) *Room {
	mode := ModeClassic
	required := cfg.RequiredPlayers
	if required <= 0 {
		required = DefaultRequiredPlayers
	}
	if cfg.EntryFee > 0 {
		mode = ModeTwoPlayer
		required = 2
	}

	return &Room{
		id:       id,
		mode:     mode,
		entryFee: cfg.EntryFee,
		required: required,
		status:   StatusWaiting,
		drawn:    make(map[int]bool),
		rng:      rng,
		tickets:  ticket.NewGenerator(rng),
		now:      time.Now,
	}
}

func (r *Room) ID() string           { return r.id }
func (r *Room) Mode() Mode           { return r.mode }
func (r *Room) EntryFee() int        { return r.entryFee }
func (r *Room) RequiredPlayers() int { return r.required }

// Status returns the current lifecycle state.
func (r *Room) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// CanJoin reports whether a join by accountID would currently succeed,
// without seating anyone. The gateway uses it to avoid deducting an entry fee
// for a join that is doomed to fail.
func (r *Room) CanJoin(accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joinable(accountID)
}

func (r *Room) joinable(accountID string) error {
	if r.status != StatusWaiting {
		return ErrAlreadyStarted
	}
	if len(r.players) >= r.required {
		return ErrRoomFull
	}
	if accountID != "" {
		for _, p := range r.players {
			if p.AccountID == accountID {
				return ErrDuplicatePlayer
			}
		}
	}
	return nil
}

// Join seats a new player and issues their ticket. The second return value
// reports whether this join filled the room and flipped it to PLAYING, in
// which case the caller must start the number caller.
func (r *Room) Join(connID, accountID, name string) (View, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.joinable(accountID); err != nil {
		return View{}, false, err
	}

	p := newPlayer(connID, accountID, name, r.tickets.Generate())
	r.players = append(r.players, p)

	started := false
	if len(r.players) == r.required {
		r.status = StatusPlaying
		started = true
	}
	return p.View(), started, nil
}

// Rejoin rebinds an existing seat to a new connection. It matches on the
// stable account identifier, never the connection id, and works in every
// state so a reconnecting client can resync even after the game ended.
func (r *Room) Rejoin(accountID, newConnID string) (View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if accountID == "" {
		return View{}, ErrPlayerNotFound
	}
	for _, p := range r.players {
		if p.AccountID == accountID {
			p.ConnID = newConnID
			return p.View(), nil
		}
	}
	return View{}, ErrPlayerNotFound
}

// Mark strikes a number on the caller's ticket. Only the most recently drawn
// number can be marked, and only if it is on the ticket. Re-marking an
// already-struck number is a no-op success.
func (r *Room) Mark(connID string, number int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusPlaying {
		return ErrNotPlaying
	}
	if r.current == 0 || number != r.current {
		return ErrNotCurrentNumber
	}
	p := r.playerByConn(connID)
	if p == nil {
		return ErrPlayerNotFound
	}
	if !p.Ticket.Contains(number) {
		return ErrNotOnTicket
	}
	p.mark(number)
	return nil
}

// Claim validates a win claim. The first valid full house ends the game in
// both modes; anything arriving after that is rejected.
func (r *Room) Claim(connID, claimType string) (ClaimResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.playerByConn(connID)
	if p == nil {
		return ClaimResult{}, ErrPlayerNotFound
	}
	for _, w := range r.winners {
		if w.ID == connID || (p.AccountID != "" && w.AccountID == p.AccountID) {
			return ClaimResult{}, ErrAlreadyClaimed
		}
	}
	// The first full house already ended the game; a losing claim arriving
	// after that must not mint a second winner or a second settlement.
	if r.status != StatusPlaying {
		return ClaimResult{}, ErrNotPlaying
	}
	if claimType != ClaimFullHouse {
		return ClaimResult{}, ErrInvalidClaim
	}
	if !p.hasFullHouse() {
		return ClaimResult{}, ErrInvalidClaim
	}

	place := len(r.winners) + 1
	w := Winner{
		ID:        p.ConnID,
		AccountID: p.AccountID,
		Name:      p.Name,
		Place:     place,
		At:        r.now(),
	}
	r.winners = append(r.winners, w)
	r.status = StatusEnded

	res := ClaimResult{
		Winner:    w,
		Message:   fmt.Sprintf("%s won %d%s Place!", p.Name, place, ordinal(place)),
		GameEnded: true,
		Winners:   append([]Winner(nil), r.winners...),
		Mode:      r.mode,
		EntryFee:  r.entryFee,
		Pot:       r.entryFee * len(r.players),
	}
	for _, other := range r.players {
		if r.isWinner(other) {
			continue
		}
		res.Losers = append(res.Losers, PlayerRef{
			ConnID:    other.ConnID,
			AccountID: other.AccountID,
			Name:      other.Name,
		})
	}
	return res, nil
}

func (r *Room) isWinner(p *Player) bool {
	for _, w := range r.winners {
		if w.ID == p.ConnID {
			return true
		}
	}
	return false
}

// ResetForRematch clears calls and winners, issues every player a fresh
// ticket, and re-enters PLAYING. Only valid from ENDED.
func (r *Room) ResetForRematch() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusEnded {
		return ErrGameNotEnded
	}

	r.numbers = nil
	r.drawn = make(map[int]bool)
	r.current = 0
	r.winners = nil
	for _, p := range r.players {
		p.reset(r.tickets.Generate())
	}
	r.status = StatusPlaying
	return nil
}

// Draw is one call from the timed number loop.
type Draw struct {
	Number  int
	History []int
}

// DrawOutcome tells the caller whether to keep ticking.
type DrawOutcome int

const (
	// DrawOK delivered a fresh number.
	DrawOK DrawOutcome = iota
	// DrawStopped means the room left PLAYING; no number was drawn.
	DrawStopped
	// DrawExhausted means all numbers were drawn with no winner; the room is
	// now a void ENDED game.
	DrawExhausted
)

// DrawNumber picks a uniform random undrawn number from 1..MaxNumber, appends
// it to the call history, and makes it current. Holding the room lock here is
// what guarantees a draw can never interleave with a mark or claim.
func (r *Room) DrawNumber() (Draw, DrawOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusPlaying {
		return Draw{}, DrawStopped
	}
	if len(r.numbers) >= ticket.MaxNumber {
		// Every number called and nobody claimed: the game is void.
		r.status = StatusEnded
		return Draw{}, DrawExhausted
	}

	remaining := make([]int, 0, ticket.MaxNumber-len(r.numbers))
	for n := 1; n <= ticket.MaxNumber; n++ {
		if !r.drawn[n] {
			remaining = append(remaining, n)
		}
	}
	n := remaining[r.rng.IntN(len(remaining))]
	r.drawn[n] = true
	r.numbers = append(r.numbers, n)
	r.current = n

	return Draw{Number: n, History: r.lastNumbers()}, DrawOK
}

// lastNumbers returns a copy of the most recent five calls. Callers hold the
// lock.
func (r *Room) lastNumbers() []int {
	start := 0
	if len(r.numbers) > 5 {
		start = len(r.numbers) - 5
	}
	return append([]int(nil), r.numbers[start:]...)
}

// Snapshot renders the public room state.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	players := make([]PublicPlayer, len(r.players))
	for i, p := range r.players {
		players[i] = PublicPlayer{ID: p.ConnID, Name: p.Name, StruckCount: p.StruckCount()}
	}

	var current *int
	if r.current != 0 {
		n := r.current
		current = &n
	}

	return Snapshot{
		RoomID:          r.id,
		Mode:            r.mode,
		Status:          r.status,
		Players:         players,
		CurrentNumber:   current,
		LastNumbers:     r.lastNumbers(),
		Winners:         append([]Winner(nil), r.winners...),
		RequiredPlayers: r.required,
		EntryFee:        r.entryFee,
	}
}

// Views returns the private view of every seated player, used to push fresh
// tickets individually after a rematch reset.
func (r *Room) Views() []View {
	r.mu.Lock()
	defer r.mu.Unlock()

	views := make([]View, len(r.players))
	for i, p := range r.players {
		views[i] = p.View()
	}
	return views
}

// ConnIDs returns the connection ids of every seated player.
func (r *Room) ConnIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, len(r.players))
	for i, p := range r.players {
		ids[i] = p.ConnID
	}
	return ids
}

// PlayerCount returns how many seats are taken.
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

func (r *Room) playerByConn(connID string) *Player {
	for _, p := range r.players {
		if p.ConnID == connID {
			return p
		}
	}
	return nil
}

func ordinal(n int) string {
	switch {
	case n%100 >= 11 && n%100 <= 13:
		return "th"
	case n%10 == 1:
		return "st"
	case n%10 == 2:
		return "nd"
	case n%10 == 3:
		return "rd"
	default:
		return "th"
	}
}
