package server

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"reflex-royale-server/internal/conquest"
	"reflex-royale-server/internal/reflex"
)

type GameMode string

const (
	ModeReflex   GameMode = "REFLEX"
	ModeConquest GameMode = "CONQUEST"
)

// ParseGameMode maps a client-supplied mode string to a GameMode. An empty
// string defaults to reflex, the original game mode.
func ParseGameMode(s string) (GameMode, error) {
	switch GameMode(strings.ToUpper(s)) {
	case "", ModeReflex:
		return ModeReflex, nil
	case ModeConquest:
		return ModeConquest, nil
	}
	return "", errors.New("INVALID_MODE: Game mode must be REFLEX or CONQUEST")
}

// RoomState is the room-level lifecycle. Transitions only move forward:
// WAITING -> PLAYING -> FINISHED.
type RoomState string

const (
	StateWaiting  RoomState = "WAITING"
	StatePlaying  RoomState = "PLAYING"
	StateFinished RoomState = "FINISHED"
)

type Player struct {
	ID        string `json:"id"`
	Nickname  string `json:"nickname"`
	Score     int    `json:"score"`
	Territory int    `json:"territory"`
}

// storedResponse is a player's input for the round in progress. For
// correctness rounds it holds the answer and its latency; for volume rounds
// it holds the latest self-reported count.
type storedResponse struct {
	value          string
	responseTimeMs int64
	count          int
}

// Room is one live game session. All fields are guarded by mu; handlers and
// timer callbacks take the lock for their full run, so state never mutates
// mid-handler. Rooms exist only in process memory.
type Room struct {
	mu sync.Mutex

	code   string
	hostID string
	mode   GameMode
	state  RoomState

	players     map[string]*Player
	playerOrder []string // join order, for stable list and tie-break ordering

	currentRound int
	totalRounds  int

	// Working data for the round in progress.
	roundKind   reflex.Kind
	challenge   reflex.Challenge
	roundOpened time.Time
	roundClosed bool

	responses     map[string]*storedResponse
	responseOrder []string // first-submission order

	// Conquest only.
	grid    *conquest.Grid
	actions map[string][]conquest.Cell

	// The room's single outstanding timer. Arming always stops the previous
	// one, so two close events can never overlap.
	roundTimer *time.Timer

	leaderboardLimiter *rate.Limiter
	energyLimiter      *rate.Limiter
}

func NewRoom(code string, mode GameMode, hostID string) *Room {
	r := &Room{
		code:               code,
		hostID:             hostID,
		mode:               mode,
		state:              StateWaiting,
		players:            make(map[string]*Player),
		responses:          make(map[string]*storedResponse),
		leaderboardLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
		energyLimiter:      rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
	switch mode {
	case ModeConquest:
		r.totalRounds = conquest.TotalRounds
		r.grid = conquest.NewGrid()
		r.actions = make(map[string][]conquest.Cell)
	default:
		r.totalRounds = reflex.TotalRounds
	}
	return r
}

// AddPlayer registers a connection as a player. Nicknames are already
// sanitized by the caller; an empty one gets a default name. Fails if the
// game started or the nickname is taken (case-sensitive). The player set is
// untouched on failure.
func (r *Room) AddPlayer(connectionID, nickname string) (Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateWaiting {
		return Player{}, errors.New("GAME_ALREADY_STARTED: Cannot join a game in progress")
	}
	if nickname == "" {
		nickname = fmt.Sprintf("Player%d", len(r.players)+1)
	}
	for _, p := range r.players {
		if p.Nickname == nickname {
			return Player{}, fmt.Errorf("NICKNAME_TAKEN: Nickname %q is already in use", nickname)
		}
	}

	player := &Player{ID: connectionID, Nickname: nickname}
	r.players[connectionID] = player
	r.playerOrder = append(r.playerOrder, connectionID)
	return *player, nil
}

// RemovePlayer evicts a player. Safe to call for connections that never
// joined.
func (r *Room) RemovePlayer(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.players[connectionID]; !ok {
		return false
	}
	delete(r.players, connectionID)
	for i, id := range r.playerOrder {
		if id == connectionID {
			r.playerOrder = append(r.playerOrder[:i], r.playerOrder[i+1:]...)
			break
		}
	}
	return true
}

// PlayerList snapshots the players in join order.
func (r *Room) PlayerList() []Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playerListLocked()
}

func (r *Room) playerListLocked() []Player {
	list := make([]Player, 0, len(r.players))
	for _, id := range r.playerOrder {
		if p, ok := r.players[id]; ok {
			list = append(list, *p)
		}
	}
	return list
}

// ConnectionIDs returns every connection in the room, host first.
func (r *Room) ConnectionIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.playerOrder)+1)
	ids = append(ids, r.hostID)
	ids = append(ids, r.playerOrder...)
	return ids
}

func (r *Room) Code() string { return r.code }

func (r *Room) Mode() GameMode { return r.mode }

func (r *Room) State() RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// armTimerLocked schedules fn as the room's one outstanding timer, replacing
// any pending one. Caller holds r.mu.
func (r *Room) armTimerLocked(d time.Duration, fn func()) {
	if r.roundTimer != nil {
		r.roundTimer.Stop()
	}
	r.roundTimer = time.AfterFunc(d, fn)
}

// StopTimer cancels any pending round timer. Called on room teardown.
func (r *Room) StopTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StopTimerLocked()
}

// StopTimerLocked is StopTimer for callers already holding r.mu.
func (r *Room) StopTimerLocked() {
	if r.roundTimer != nil {
		r.roundTimer.Stop()
		r.roundTimer = nil
	}
}

const maxNicknameLength = 20

var nicknameStripper = strings.NewReplacer(
	"<", "", ">", "", "&", "", "\"", "", "'", "", "/", "", "\\", "",
)

// SanitizeNickname strips markup-significant characters, trims whitespace
// and truncates to maxNicknameLength runes. May return "", in which case
// AddPlayer substitutes a default name.
func SanitizeNickname(raw string) string {
	s := strings.TrimSpace(nicknameStripper.Replace(raw))
	runes := []rune(s)
	if len(runes) > maxNicknameLength {
		s = string(runes[:maxNicknameLength])
	}
	return s
}
