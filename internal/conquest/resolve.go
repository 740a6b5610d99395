package conquest

import "sort"

// Resolve applies one round of claims to the board and returns the cells
// that were contested. Claims are grouped by cell; a cell wanted by exactly
// one distinct player becomes theirs, a cell wanted by two or more stays
// unowned and is reported as a conflict (it remains contestable in later
// rounds). A player claiming the same cell repeatedly counts once.
//
// Out-of-bounds coordinates and claims on already-owned cells are dropped
// before grouping, so a lone re-claim of an owned cell is a no-op rather
// than a transfer, and an owned cell can never be flipped.
func (g *Grid) Resolve(claims map[string][]Cell) (conflicts []Cell) {
	claimants := make(map[Cell]map[string]bool)
	for playerID, cells := range claims {
		for _, c := range cells {
			if !InBounds(c) || g.owners[c.X][c.Y] != "" {
				continue
			}
			if claimants[c] == nil {
				claimants[c] = make(map[string]bool)
			}
			claimants[c][playerID] = true
		}
	}

	conflicts = []Cell{}
	for c, players := range claimants {
		if len(players) == 1 {
			for playerID := range players {
				g.owners[c.X][c.Y] = playerID
			}
			continue
		}
		conflicts = append(conflicts, c)
	}

	// Map iteration order is random; keep the conflict list deterministic.
	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].X != conflicts[j].X {
			return conflicts[i].X < conflicts[j].X
		}
		return conflicts[i].Y < conflicts[j].Y
	})
	return conflicts
}

// Territories recomputes every owner's territory: the sum of multipliers
// over the cells they hold. Players with no cells are absent from the map.
func (g *Grid) Territories() map[string]int {
	territories := make(map[string]int)
	for x := range g.owners {
		for y, owner := range g.owners[x] {
			if owner == "" {
				continue
			}
			territories[owner] += g.Multiplier(Cell{X: x, Y: y})
		}
	}
	return territories
}
