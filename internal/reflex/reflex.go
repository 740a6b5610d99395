// Package reflex holds the scoring rules for reflex-mode games: four timed
// challenge rounds where players either race to answer correctly or rack up
// as many shakes/taps as they can before the round closes.
package reflex

import (
	"math/rand/v2"
	"time"
)

// Kind identifies one of the four challenge types.
type Kind string

const (
	ColorTap Kind = "COLOR_TAP"
	Swipe    Kind = "SWIPE"
	Shake    Kind = "SHAKE"
	TapSpam  Kind = "TAP_SPAM"
)

// RoundSequence is the fixed order challenges appear in across a game.
// Round N uses RoundSequence[N-1]; the sequence is not randomized.
var RoundSequence = []Kind{ColorTap, Swipe, Shake, TapSpam}

// TotalRounds is the number of rounds in a reflex game.
const TotalRounds = 4

// VolumeRoundDuration is how long shake and tap-spam rounds stay open.
const VolumeRoundDuration = 10 * time.Second

var (
	colors     = []string{"RED", "BLUE", "YELLOW", "PURPLE"}
	directions = []string{"UP", "DOWN", "LEFT", "RIGHT"}
)

// VolumeScored reports whether the kind is scored from self-reported counts
// at round close, rather than per response.
func (k Kind) VolumeScored() bool {
	return k == Shake || k == TapSpam
}

// Challenge carries the parameters of a single round. Only the field
// matching the round kind is populated.
type Challenge struct {
	Color     string `json:"color,omitempty"`
	Direction string `json:"direction,omitempty"`
	Duration  int64  `json:"duration,omitempty"` // milliseconds
}

// NewChallenge picks the round parameters for a kind: a random target color
// or direction for correctness rounds, a fixed duration for volume rounds.
func NewChallenge(k Kind) Challenge {
	switch k {
	case ColorTap:
		return Challenge{Color: colors[rand.IntN(len(colors))]}
	case Swipe:
		return Challenge{Direction: directions[rand.IntN(len(directions))]}
	default:
		return Challenge{Duration: VolumeRoundDuration.Milliseconds()}
	}
}

// Target returns the value a correct response must match, or "" for volume
// rounds, which have no notion of correctness.
func (c Challenge) Target(k Kind) string {
	switch k {
	case ColorTap:
		return c.Color
	case Swipe:
		return c.Direction
	}
	return ""
}
