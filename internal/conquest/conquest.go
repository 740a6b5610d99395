// Package conquest holds the territory rules for conquest-mode games: a
// shared 10x10 grid that players claim cell by cell over a fixed number of
// rounds, with multiplier cells worth extra territory.
package conquest

import "math/rand/v2"

const (
	// GridSize is the width and height of the board.
	GridSize = 10

	// TotalRounds is the number of claim rounds in a game.
	TotalRounds = 12

	// SpecialCellCount is how many multiplier cells each board gets.
	SpecialCellCount = 8

	// ActionPointsPerRound is advertised to clients each round as their
	// claim budget. The server does not enforce it; see Resolve.
	ActionPointsPerRound = 3
)

// Cell is a grid coordinate.
type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// SpecialCell is a multiplier cell, fixed for the whole game.
type SpecialCell struct {
	X          int `json:"x"`
	Y          int `json:"y"`
	Multiplier int `json:"multiplier"`
}

// MapState is the wire representation of a board: row-major cell owners
// ("" for unowned) plus the multiplier cells.
type MapState struct {
	Grid         [][]string    `json:"grid"`
	SpecialCells []SpecialCell `json:"specialCells"`
}

// Grid is a conquest board. Cell owners are player connection IDs, "" for
// unowned. Not safe for concurrent use; the owning room serializes access.
type Grid struct {
	owners   [GridSize][GridSize]string
	specials []SpecialCell
}

// NewGrid creates an empty board with freshly placed special cells.
func NewGrid() *Grid {
	return &Grid{specials: generateSpecialCells(SpecialCellCount)}
}

// generateSpecialCells places n multiplier cells at distinct random
// coordinates. The first half are worth 2x, the rest 3x.
func generateSpecialCells(n int) []SpecialCell {
	cells := make([]SpecialCell, 0, n)
	taken := make(map[Cell]bool, n)

	for len(cells) < n {
		c := Cell{X: rand.IntN(GridSize), Y: rand.IntN(GridSize)}
		if taken[c] {
			continue
		}
		taken[c] = true

		multiplier := 2
		if len(cells) >= n/2 {
			multiplier = 3
		}
		cells = append(cells, SpecialCell{X: c.X, Y: c.Y, Multiplier: multiplier})
	}
	return cells
}

// InBounds reports whether c is on the board.
func InBounds(c Cell) bool {
	return c.X >= 0 && c.X < GridSize && c.Y >= 0 && c.Y < GridSize
}

// Owner returns the owner of a cell, or "" if unowned.
func (g *Grid) Owner(c Cell) string {
	return g.owners[c.X][c.Y]
}

// Multiplier returns a cell's territory value: its special multiplier, or 1
// for ordinary cells.
func (g *Grid) Multiplier(c Cell) int {
	for _, s := range g.specials {
		if s.X == c.X && s.Y == c.Y {
			return s.Multiplier
		}
	}
	return 1
}

// SpecialCells returns the board's multiplier cells.
func (g *Grid) SpecialCells() []SpecialCell {
	return g.specials
}

// State snapshots the board for broadcasting.
func (g *Grid) State() MapState {
	rows := make([][]string, GridSize)
	for x := range g.owners {
		row := make([]string, GridSize)
		copy(row, g.owners[x][:])
		rows[x] = row
	}
	return MapState{Grid: rows, SpecialCells: g.specials}
}
