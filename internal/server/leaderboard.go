package server

import "sort"

// Standing is one row of a leaderboard projection.
type Standing struct {
	ID        string `json:"id"`
	Nickname  string `json:"nickname"`
	Score     int    `json:"score"`
	Territory int    `json:"territory"`
	Rank      int    `json:"rank"`
}

// leaderboardSize caps in-game leaderboard broadcasts. Final standings at
// game over are never capped.
const leaderboardSize = 10

// standingsLocked projects the room's players into ranked standings,
// sorted descending by the mode's accumulator. Equal values keep join
// order. Caller holds r.mu.
func (r *Room) standingsLocked() []Standing {
	players := r.playerListLocked()
	standings := make([]Standing, len(players))
	for i, p := range players {
		standings[i] = Standing{
			ID:        p.ID,
			Nickname:  p.Nickname,
			Score:     p.Score,
			Territory: p.Territory,
		}
	}

	byTerritory := r.mode == ModeConquest
	sort.SliceStable(standings, func(i, j int) bool {
		if byTerritory {
			return standings[i].Territory > standings[j].Territory
		}
		return standings[i].Score > standings[j].Score
	})
	for i := range standings {
		standings[i].Rank = i + 1
	}
	return standings
}

func topStandings(standings []Standing, n int) []Standing {
	if len(standings) > n {
		return standings[:n]
	}
	return standings
}

func standingFor(standings []Standing, playerID string) (Standing, bool) {
	for _, s := range standings {
		if s.ID == playerID {
			return s, true
		}
	}
	return Standing{}, false
}
