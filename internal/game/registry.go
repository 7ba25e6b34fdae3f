package game

import (
	rand "math/rand/v2"
	"sync"

	"github.com/housielabs/housie-server/internal/randutil"
	"github.com/housielabs/housie-server/internal/roomid"
)

// Registry owns the mapping of room id to live room. Rooms exist only in
// process memory; registry lifetime is server lifetime.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	rng   *rand.Rand
	seed  int64
	seq   uint64
}

// NewRegistry creates an empty registry. All room ids, tickets and draws
// derive from seed, so a fixed seed makes an entire server run reproducible.
func NewRegistry(seed int64) *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		rng:   randutil.New(seed),
		seed:  seed,
	}
}

// Create instantiates a WAITING room with a fresh mode-prefixed id and its
// own derived RNG stream.
func (reg *Registry) Create(cfg Config) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var id string
	for {
		id = roomid.New(cfg.EntryFee > 0, reg.rng)
		if _, exists := reg.rooms[id]; !exists {
			break
		}
	}

	reg.seq++
	room := NewRoom(id, cfg, randutil.New(randutil.Derive(reg.seed, reg.seq)))
	reg.rooms[id] = room
	return room
}

// Get looks up a room by id.
func (reg *Registry) Get(id string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[id]
	return room, ok
}

// Remove evicts a room. Used by teardown paths such as rematch rejection.
func (reg *Registry) Remove(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.rooms, id)
}

// Len returns the number of live rooms.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}
