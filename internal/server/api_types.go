package server

import (
	"reflex-royale-server/internal/conquest"
	"reflex-royale-server/internal/reflex"
)

// ============================================================================
// ERROR RESPONSES
// ============================================================================
type ErrorMessage struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ============================================================================
// ROOM LIFECYCLE (create_room, check_room_mode, join_room)
// ============================================================================
type CreateRoomRequest struct {
	Mode string `json:"mode"` // REFLEX (default) or CONQUEST
}

type RoomCreatedResponse struct {
	RoomCode string `json:"roomCode"`
	Mode     string `json:"mode"`
}

type CheckRoomModeRequest struct {
	RoomCode string `json:"roomCode"`
}

type RoomModeResponse struct {
	RoomCode string `json:"roomCode"`
	GameMode string `json:"gameMode"`
}

type JoinRoomRequest struct {
	RoomCode string `json:"roomCode"`
	Nickname string `json:"nickname"`
}

type JoinedRoomResponse struct {
	RoomCode string `json:"roomCode"`
	PlayerID string `json:"playerId"`
	Nickname string `json:"nickname"`
	Mode     string `json:"mode"`
}

type PlayerListUpdate struct {
	Players []Player `json:"players"`
}

type HostLeftNotification struct {
	Message string `json:"message"`
}

// ============================================================================
// GAME FLOW (start_game, next_round)
// ============================================================================
type StartGameRequest struct {
	RoomCode string `json:"roomCode"`
}

type NextRoundRequest struct {
	RoomCode string `json:"roomCode"`
}

type GameStartedNotification struct {
	Mode string `json:"mode"`
}

type RoundStartNotification struct {
	RoundNumber int              `json:"roundNumber"`
	TotalRounds int              `json:"totalRounds"`
	RoundType   string           `json:"roundType"`
	RoundData   reflex.Challenge `json:"roundData"`
	StartTime   int64            `json:"startTime"` // unix millis
}

type RoundEndNotification struct {
	RoundNumber int `json:"roundNumber"`
}

type GameOverNotification struct {
	FinalLeaderboard []Standing `json:"finalLeaderboard"`
}

// ============================================================================
// REFLEX INPUT (submit_response, shake_update, tap_update)
// ============================================================================
type SubmitResponseRequest struct {
	RoomCode  string `json:"roomCode"`
	Response  string `json:"response"`
	Timestamp int64  `json:"timestamp"` // client unix millis
}

type ResponseResult struct {
	Correct    bool `json:"correct"`
	Points     int  `json:"points"`
	TotalScore int  `json:"totalScore"`
}

type ShakeUpdateRequest struct {
	RoomCode   string `json:"roomCode"`
	ShakeCount int    `json:"shakeCount"`
}

type TapUpdateRequest struct {
	RoomCode string `json:"roomCode"`
	TapCount int    `json:"tapCount"`
}

type EnergyUpdate struct {
	TotalShakes int `json:"totalShakes"`
	MaxShakes   int `json:"maxShakes"`
}

type LeaderboardUpdate struct {
	Leaderboard []Standing `json:"leaderboard"`
}

// ============================================================================
// CONQUEST (submit_actions, cell_preview, round broadcasts)
// ============================================================================
type SubmitActionsRequest struct {
	RoomCode string          `json:"roomCode"`
	Actions  []conquest.Cell `json:"actions"`
}

type CellPreviewRequest struct {
	RoomCode string `json:"roomCode"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Action   string `json:"action"` // "add" or "remove"
}

type CellPreviewNotification struct {
	PlayerID       string `json:"playerId"`
	PlayerNickname string `json:"playerNickname"`
	X              int    `json:"x"`
	Y              int    `json:"y"`
	Action         string `json:"action"`
}

type ConquestRoundStart struct {
	RoundNumber  int               `json:"roundNumber"`
	MaxRounds    int               `json:"maxRounds"`
	ActionPoints int               `json:"currentAP"`
	MapState     conquest.MapState `json:"mapState"`
	Duration     int64             `json:"duration"` // player-facing window, millis
}

type MapUpdate struct {
	MapState    conquest.MapState `json:"mapState"`
	Leaderboard []Standing        `json:"leaderboard"`
	Conflicts   []conquest.Cell   `json:"conflictsThisRound"`
}

type ConquestRoundEnd struct {
	MapState      conquest.MapState `json:"mapState"`
	Conflicts     []conquest.Cell   `json:"conflicts"`
	YourTerritory int               `json:"yourTerritory"`
	YourRank      int               `json:"yourRank"`
}

type ConquestGameOver struct {
	YourTerritory int `json:"yourTerritory"`
	YourRank      int `json:"yourRank"`
}

// ============================================================================
// HTTP (password gate, health)
// ============================================================================
type VerifyPasswordRequest struct {
	Password string `json:"password"`
}

type VerifyPasswordResponse struct {
	Success bool `json:"success"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Rooms       int    `json:"rooms"`
	Connections int    `json:"connections"`
}
