package game

import (
	"sort"

	"github.com/housielabs/housie-server/internal/ticket"
)

// Player is a seat in a room. ConnID is the volatile connection identifier
// and is rebound on rejoin; AccountID is the stable identity used for
// settlement and rejoin matching. AccountID may be empty for anonymous
// players in free rooms.
type Player struct {
	ConnID    string
	AccountID string
	Name      string
	Ticket    ticket.Ticket

	struck map[int]bool
}

func newPlayer(connID, accountID, name string, t ticket.Ticket) *Player {
	return &Player{
		ConnID:    connID,
		AccountID: accountID,
		Name:      name,
		Ticket:    t,
		struck:    make(map[int]bool),
	}
}

// mark records n as struck. Idempotent.
func (p *Player) mark(n int) {
	p.struck[n] = true
}

// StruckCount returns how many numbers the player has marked.
func (p *Player) StruckCount() int {
	return len(p.struck)
}

// StruckNumbers returns the marked numbers in ascending order.
func (p *Player) StruckNumbers() []int {
	nums := make([]int, 0, len(p.struck))
	for n := range p.struck {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// hasFullHouse reports whether every ticket number has been struck.
func (p *Player) hasFullHouse() bool {
	for _, n := range p.Ticket.Numbers() {
		if !p.struck[n] {
			return false
		}
	}
	return true
}

// reset hands the player a fresh ticket and clears all marks.
func (p *Player) reset(t ticket.Ticket) {
	p.Ticket = t
	p.struck = make(map[int]bool)
}

// View is the private per-player payload: the full ticket and marks. It is
// only ever sent to the player it describes.
type View struct {
	ID            string        `json:"id"`
	AccountID     string        `json:"accountId,omitempty"`
	Name          string        `json:"name"`
	Ticket        ticket.Ticket `json:"ticket"`
	StruckNumbers []int         `json:"struckNumbers"`
}

// View builds the private payload for this player.
func (p *Player) View() View {
	return View{
		ID:            p.ConnID,
		AccountID:     p.AccountID,
		Name:          p.Name,
		Ticket:        p.Ticket,
		StruckNumbers: p.StruckNumbers(),
	}
}

// PublicPlayer is what opponents see: progress but never the ticket.
type PublicPlayer struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	StruckCount int    `json:"struckCount"`
}
