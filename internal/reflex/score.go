package reflex

import "sort"

const (
	maxCorrectPoints = 1000
	minCorrectPoints = 100
	wrongPenalty     = -200

	shakePointsPerCount = 10
	tapPointsPerCount   = 5
)

// MaxResponseTimeMs caps the latency used for scoring. Anything slower
// already earns the floor, and the cap keeps hostile timestamps out of the
// arithmetic.
const MaxResponseTimeMs = 10_000

// MaxVolumeCount caps self-reported shake/tap counts. Honest rounds top out
// near a hundred per player.
const MaxVolumeCount = 10_000

// placementBonuses rewards the top three finishers of a volume round.
var placementBonuses = []int{500, 300, 100}

// ScoreResponse scores a single correctness-round answer. Faster correct
// answers earn more, floored at minCorrectPoints; a wrong answer costs a
// flat penalty regardless of timing. Negative response times (client clock
// ahead of the round open) are treated as zero.
func ScoreResponse(k Kind, c Challenge, response string, responseTimeMs int64) (correct bool, points int) {
	if k.VolumeScored() {
		return false, 0
	}
	if responseTimeMs < 0 {
		responseTimeMs = 0
	}
	if responseTimeMs > MaxResponseTimeMs {
		responseTimeMs = MaxResponseTimeMs
	}
	if response != c.Target(k) {
		return false, wrongPenalty
	}
	points = maxCorrectPoints - int(2*responseTimeMs)
	if points < minCorrectPoints {
		points = minCorrectPoints
	}
	return true, points
}

// CountEntry is one player's final self-reported count for a volume round,
// in the order their first update arrived.
type CountEntry struct {
	PlayerID string
	Count    int
}

// VolumeResult is the points a player earned from a volume round.
type VolumeResult struct {
	PlayerID string
	Count    int
	Rank     int
	Points   int
}

// RankCounts scores a volume round at close: counts are clamped to
// [0, MaxVolumeCount], ranked descending and converted to points, with
// placement bonuses for the top three.
// Equal counts keep their submission order; that ordering is the accepted
// tie-break, no fairness beyond the count itself is attempted.
func RankCounts(k Kind, entries []CountEntry) []VolumeResult {
	perCount := shakePointsPerCount
	if k == TapSpam {
		perCount = tapPointsPerCount
	}

	ranked := make([]CountEntry, len(entries))
	copy(ranked, entries)
	for i := range ranked {
		if ranked[i].Count < 0 {
			ranked[i].Count = 0
		}
		if ranked[i].Count > MaxVolumeCount {
			ranked[i].Count = MaxVolumeCount
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})

	results := make([]VolumeResult, len(ranked))
	for i, e := range ranked {
		points := e.Count * perCount
		if i < len(placementBonuses) {
			points += placementBonuses[i]
		}
		results[i] = VolumeResult{
			PlayerID: e.PlayerID,
			Count:    e.Count,
			Rank:     i + 1,
			Points:   points,
		}
	}
	return results
}
