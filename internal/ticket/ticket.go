// Package ticket generates housie tickets.
//
// A ticket is a 3x9 grid holding 15 numbers from 1-35, five per row. Each
// column only accepts a narrow slice of the range (column 0 holds 1-4,
// column 1 holds 5-8, ... column 8 holds 33-35), and no number repeats within
// a ticket.
package ticket

import (
	"encoding/json"
	rand "math/rand/v2"
)

const (
	Rows          = 3
	Cols          = 9
	NumbersPerRow = 5
	MaxNumber     = 35

	// How many random picks per cell before falling back to a linear sweep of
	// the column range. The sweep guarantees termination under collisions.
	maxPickAttempts = 100
)

// Ticket is an immutable 3x9 grid. A zero cell is empty.
type Ticket struct {
	cells [Rows][Cols]int
}

// ColumnRange returns the inclusive number range allowed in column c.
func ColumnRange(c int) (lo, hi int) {
	lo = 4*c + 1
	hi = 4*c + 4
	if hi > MaxNumber {
		hi = MaxNumber
	}
	return lo, hi
}

// Cell returns the number at (row, col) and whether the cell is populated.
func (t Ticket) Cell(row, col int) (int, bool) {
	n := t.cells[row][col]
	return n, n != 0
}

// Numbers returns every populated value in row-major order.
func (t Ticket) Numbers() []int {
	nums := make([]int, 0, Rows*NumbersPerRow)
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			if n := t.cells[r][c]; n != 0 {
				nums = append(nums, n)
			}
		}
	}
	return nums
}

// Contains reports whether n appears anywhere on the ticket.
func (t Ticket) Contains(n int) bool {
	if n < 1 || n > MaxNumber {
		return false
	}
	// The column a number can live in is determined by its value.
	c := (n - 1) / 4
	if c >= Cols {
		c = Cols - 1
	}
	for r := 0; r < Rows; r++ {
		if t.cells[r][c] == n {
			return true
		}
	}
	return false
}

// MarshalJSON renders the grid as rows of numbers with nulls for empty cells,
// the shape clients render directly.
func (t Ticket) MarshalJSON() ([]byte, error) {
	grid := make([][]*int, Rows)
	for r := 0; r < Rows; r++ {
		grid[r] = make([]*int, Cols)
		for c := 0; c < Cols; c++ {
			if n := t.cells[r][c]; n != 0 {
				v := n
				grid[r][c] = &v
			}
		}
	}
	return json.Marshal(grid)
}

// UnmarshalJSON accepts the same rows-with-nulls shape.
func (t *Ticket) UnmarshalJSON(data []byte) error {
	var grid [][]*int
	if err := json.Unmarshal(data, &grid); err != nil {
		return err
	}
	var cells [Rows][Cols]int
	for r := 0; r < len(grid) && r < Rows; r++ {
		for c := 0; c < len(grid[r]) && c < Cols; c++ {
			if grid[r][c] != nil {
				cells[r][c] = *grid[r][c]
			}
		}
	}
	t.cells = cells
	return nil
}

// Generator produces tickets from an injected RNG so generation is
// reproducible under a fixed seed.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator creates a ticket generator backed by rng.
func NewGenerator(rng *rand.Rand) *Generator {
	return &Generator{rng: rng}
}

// Generate builds a fresh valid ticket. Each row picks five distinct columns,
// then each picked cell draws a random unused value from its column range,
// sweeping the range deterministically if random picks keep colliding.
func (g *Generator) Generate() Ticket {
	var t Ticket
	used := make(map[int]bool, Rows*NumbersPerRow)

	for r := 0; r < Rows; r++ {
		cols := g.pickColumns()
		for _, c := range cols {
			if n, ok := g.pickNumber(c, used); ok {
				t.cells[r][c] = n
				used[n] = true
			}
		}
	}
	return t
}

// pickColumns selects five distinct columns for a row, in ascending order.
func (g *Generator) pickColumns() []int {
	var chosen [Cols]bool
	count := 0
	for count < NumbersPerRow {
		c := g.rng.IntN(Cols)
		if !chosen[c] {
			chosen[c] = true
			count++
		}
	}
	cols := make([]int, 0, NumbersPerRow)
	for c := 0; c < Cols; c++ {
		if chosen[c] {
			cols = append(cols, c)
		}
	}
	return cols
}

func (g *Generator) pickNumber(col int, used map[int]bool) (int, bool) {
	lo, hi := ColumnRange(col)

	for attempt := 0; attempt < maxPickAttempts; attempt++ {
		n := lo + g.rng.IntN(hi-lo+1)
		if !used[n] {
			return n, true
		}
	}

	// Column range saturated by random collisions: sweep for any unused value.
	for n := lo; n <= hi; n++ {
		if !used[n] {
			return n, true
		}
	}
	// A column is never picked more than three times and every range holds at
	// least three values, so the sweep cannot come up empty.
	return 0, false
}
