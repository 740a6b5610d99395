package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"reflex-royale-server/internal/reflex"
)

// dispatch routes one inbound message to its handler. A panicking handler
// is contained here: one malformed message must never take the process or
// another room down.
func (s *Server) dispatch(connectionID string, msg ClientMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().Interface("panic", rec).Str("conn", connectionID).
				Str("type", msg.Type).Msg("handler panicked")
		}
	}()

	switch msg.Type {
	case "ping":
		s.ToConnection(connectionID, "pong", struct{}{})
	case "create_room":
		s.handleCreateRoom(connectionID, msg.Payload)
	case "check_room_mode":
		s.handleCheckRoomMode(connectionID, msg.Payload)
	case "join_room":
		s.handleJoinRoom(connectionID, msg.Payload)
	case "start_game":
		s.handleStartGame(connectionID, msg.Payload)
	case "submit_response":
		s.handleSubmitResponse(connectionID, msg.Payload)
	case "shake_update":
		s.handleShakeUpdate(connectionID, msg.Payload)
	case "tap_update":
		s.handleTapUpdate(connectionID, msg.Payload)
	case "next_round":
		s.handleNextRound(connectionID, msg.Payload)
	case "submit_actions":
		s.handleSubmitActions(connectionID, msg.Payload)
	case "cell_preview":
		s.handleCellPreview(connectionID, msg.Payload)
	default:
		s.sendError(connectionID, fmt.Errorf("UNKNOWN_TYPE: Unknown message type %q", msg.Type))
	}
}

// decode unmarshals a payload, reporting a user-facing error on garbage.
// A missing payload decodes to the zero value.
func (s *Server) decode(connectionID string, payload json.RawMessage, v any) bool {
	if len(payload) == 0 {
		return true
	}
	if err := json.Unmarshal(payload, v); err != nil {
		s.sendError(connectionID, errors.New("INVALID_PAYLOAD: Malformed message payload"))
		return false
	}
	return true
}

func (s *Server) sendError(connectionID string, err error) {
	code, message := splitErrorCode(err)
	s.ToConnection(connectionID, "error", ErrorMessage{Message: message, Code: code})
}

// splitErrorCode peels a leading "SOME_CODE: " off an error message so
// clients get a machine-readable code next to the human text.
func splitErrorCode(err error) (code, message string) {
	text := err.Error()
	i := strings.Index(text, ": ")
	if i <= 0 {
		return "", text
	}
	for _, ch := range text[:i] {
		if (ch < 'A' || ch > 'Z') && ch != '_' {
			return "", text
		}
	}
	return text[:i], text[i+2:]
}

func (s *Server) handleCreateRoom(connectionID string, payload json.RawMessage) {
	var req CreateRoomRequest
	if !s.decode(connectionID, payload, &req) {
		return
	}
	mode, err := ParseGameMode(req.Mode)
	if err != nil {
		s.sendError(connectionID, err)
		return
	}

	// A connection reusing itself as a host abandons whatever room it was in.
	s.leaveCurrentRoom(connectionID)

	room := s.registry.Create(mode, connectionID)
	s.connections.SetMembership(connectionID, room.Code(), RoleHost)
	s.ToConnection(connectionID, "room_created", RoomCreatedResponse{
		RoomCode: room.Code(),
		Mode:     string(mode),
	})
	s.log.Info().Str("room", room.Code()).Str("mode", string(mode)).Msg("room created")
}

func (s *Server) handleCheckRoomMode(connectionID string, payload json.RawMessage) {
	var req CheckRoomModeRequest
	if !s.decode(connectionID, payload, &req) {
		return
	}
	room, err := s.registry.Get(req.RoomCode)
	if err != nil {
		s.sendError(connectionID, err)
		return
	}
	s.ToConnection(connectionID, "room_mode", RoomModeResponse{
		RoomCode: room.Code(),
		GameMode: string(room.Mode()),
	})
}

func (s *Server) handleJoinRoom(connectionID string, payload json.RawMessage) {
	var req JoinRoomRequest
	if !s.decode(connectionID, payload, &req) {
		return
	}
	if err := ValidateRoomCode(req.RoomCode); err != nil {
		s.sendError(connectionID, err)
		return
	}
	room, err := s.registry.Get(req.RoomCode)
	if err != nil {
		s.sendError(connectionID, err)
		return
	}

	// Single-room membership: joining always leaves the previous room first.
	s.leaveCurrentRoom(connectionID)

	player, err := room.AddPlayer(connectionID, SanitizeNickname(req.Nickname))
	if err != nil {
		s.sendError(connectionID, err)
		return
	}
	s.connections.SetMembership(connectionID, room.Code(), RolePlayer)

	s.ToConnection(connectionID, "joined_room", JoinedRoomResponse{
		RoomCode: room.Code(),
		PlayerID: connectionID,
		Nickname: player.Nickname,
		Mode:     string(room.Mode()),
	})
	s.ToRoom(room, "player_list_update", PlayerListUpdate{Players: room.PlayerList()})
	s.log.Info().Str("room", room.Code()).Str("nickname", player.Nickname).Msg("player joined")
}

func (s *Server) handleStartGame(connectionID string, payload json.RawMessage) {
	var req StartGameRequest
	if !s.decode(connectionID, payload, &req) {
		return
	}
	if err := s.scheduler.StartGame(req.RoomCode, connectionID); err != nil {
		s.sendError(connectionID, err)
	}
}

func (s *Server) handleNextRound(connectionID string, payload json.RawMessage) {
	var req NextRoundRequest
	if !s.decode(connectionID, payload, &req) {
		return
	}
	if err := s.scheduler.RequestNextRound(req.RoomCode, connectionID); err != nil {
		s.sendError(connectionID, err)
	}
}

func (s *Server) handleSubmitResponse(connectionID string, payload json.RawMessage) {
	var req SubmitResponseRequest
	if !s.decode(connectionID, payload, &req) {
		return
	}
	room, err := s.registry.Get(req.RoomCode)
	if err != nil {
		s.sendError(connectionID, err)
		return
	}

	room.mu.Lock()
	if room.mode != ModeReflex || room.state != StatePlaying ||
		room.currentRound == 0 || room.roundClosed || room.roundKind.VolumeScored() {
		// Late, early or wrong-kind input is discarded, not an error.
		room.mu.Unlock()
		return
	}
	player, ok := room.players[connectionID]
	if !ok {
		room.mu.Unlock()
		return
	}

	// The client's clock sets the latency, but it can never claim to be
	// faster than zero or slower than the server has actually waited.
	responseTime := req.Timestamp - room.roundOpened.UnixMilli()
	if elapsed := time.Since(room.roundOpened).Milliseconds(); responseTime > elapsed {
		responseTime = elapsed
	}
	if responseTime < 0 {
		responseTime = 0
	}
	_, answered := room.responses[connectionID]
	room.responses[connectionID] = &storedResponse{value: req.Response, responseTimeMs: responseTime}
	if answered {
		// Later responses overwrite the stored value but only the first
		// one scored; latency is the scored dimension and it already fired.
		room.mu.Unlock()
		return
	}
	room.responseOrder = append(room.responseOrder, connectionID)

	correct, points := reflex.ScoreResponse(room.roundKind, room.challenge, req.Response, responseTime)
	player.Score += points
	result := ResponseResult{Correct: correct, Points: points, TotalScore: player.Score}

	var leaderboard []Standing
	if room.leaderboardLimiter.Allow() {
		leaderboard = topStandings(room.standingsLocked(), leaderboardSize)
	}
	room.mu.Unlock()

	s.ToConnection(connectionID, "response_result", result)
	if leaderboard != nil {
		s.ToRoom(room, "leaderboard_update", LeaderboardUpdate{Leaderboard: leaderboard})
	}
}

func (s *Server) handleShakeUpdate(connectionID string, payload json.RawMessage) {
	var req ShakeUpdateRequest
	if !s.decode(connectionID, payload, &req) {
		return
	}
	room, err := s.registry.Get(req.RoomCode)
	if err != nil {
		s.sendError(connectionID, err)
		return
	}

	count := clampCount(req.ShakeCount)

	room.mu.Lock()
	if room.state != StatePlaying || room.roundClosed || room.roundKind != reflex.Shake {
		room.mu.Unlock()
		return
	}
	if _, ok := room.players[connectionID]; !ok {
		room.mu.Unlock()
		return
	}
	room.storeCountLocked(connectionID, count)

	var energy *EnergyUpdate
	if room.energyLimiter.Allow() {
		total := 0
		for _, resp := range room.responses {
			total += resp.count
		}
		energy = &EnergyUpdate{TotalShakes: total, MaxShakes: len(room.players) * 100}
	}
	room.mu.Unlock()

	if energy != nil {
		s.ToRoom(room, "energy_update", *energy)
	}
}

func (s *Server) handleTapUpdate(connectionID string, payload json.RawMessage) {
	var req TapUpdateRequest
	if !s.decode(connectionID, payload, &req) {
		return
	}
	room, err := s.registry.Get(req.RoomCode)
	if err != nil {
		s.sendError(connectionID, err)
		return
	}

	count := clampCount(req.TapCount)

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.state != StatePlaying || room.roundClosed || room.roundKind != reflex.TapSpam {
		return
	}
	if _, ok := room.players[connectionID]; !ok {
		return
	}
	room.storeCountLocked(connectionID, count)
}

// clampCount bounds a self-reported volume count so runaway values cannot
// distort the energy aggregate or the round scoring.
func clampCount(count int) int {
	if count < 0 {
		return 0
	}
	if count > reflex.MaxVolumeCount {
		return reflex.MaxVolumeCount
	}
	return count
}

// storeCountLocked records a volume-round count: last value wins, but the
// player keeps the position of their first update for tie-breaking.
// Caller holds room.mu.
func (r *Room) storeCountLocked(connectionID string, count int) {
	if resp, ok := r.responses[connectionID]; ok {
		resp.count = count
		return
	}
	r.responses[connectionID] = &storedResponse{count: count}
	r.responseOrder = append(r.responseOrder, connectionID)
}

func (s *Server) handleSubmitActions(connectionID string, payload json.RawMessage) {
	var req SubmitActionsRequest
	if !s.decode(connectionID, payload, &req) {
		return
	}
	room, err := s.registry.Get(req.RoomCode)
	if err != nil {
		s.sendError(connectionID, err)
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.mode != ModeConquest || room.state != StatePlaying ||
		room.currentRound == 0 || room.roundClosed {
		return
	}
	if _, ok := room.players[connectionID]; !ok {
		return
	}
	// Whole-list replacement, like a fresh form submit. Out-of-bounds and
	// already-owned coordinates are dropped by the resolver at round close.
	room.actions[connectionID] = req.Actions
	s.log.Debug().Str("room", room.code).Str("conn", connectionID).
		Int("actions", len(req.Actions)).Msg("conquest actions submitted")
}

func (s *Server) handleCellPreview(connectionID string, payload json.RawMessage) {
	var req CellPreviewRequest
	if !s.decode(connectionID, payload, &req) {
		return
	}
	room, err := s.registry.Get(req.RoomCode)
	if err != nil {
		s.sendError(connectionID, err)
		return
	}

	room.mu.Lock()
	if room.state != StatePlaying {
		room.mu.Unlock()
		return
	}
	nickname := "Player"
	if p, ok := room.players[connectionID]; ok {
		nickname = p.Nickname
	}
	hostID := room.hostID
	room.mu.Unlock()

	// Host-only channel: the host screen animates selections live, other
	// players see nothing until round close.
	s.ToConnection(hostID, "cell_preview", CellPreviewNotification{
		PlayerID:       connectionID,
		PlayerNickname: nickname,
		X:              req.X,
		Y:              req.Y,
		Action:         req.Action,
	})
}

// leaveCurrentRoom detaches a connection from whatever room it is in:
// players are evicted and the remaining list rebroadcast, a departing host
// tears the whole room down.
func (s *Server) leaveCurrentRoom(connectionID string) {
	m, ok := s.connections.ClearMembership(connectionID)
	if !ok {
		return
	}
	room, err := s.registry.Get(m.RoomCode)
	if err != nil {
		return
	}

	switch m.Role {
	case RoleHost:
		s.teardownRoom(room)
	default:
		if room.RemovePlayer(connectionID) {
			s.ToRoom(room, "player_list_update", PlayerListUpdate{Players: room.PlayerList()})
		}
	}
}

// teardownRoom deletes a room because its host is gone. Rooms are never
// transferred to another connection.
func (s *Server) teardownRoom(room *Room) {
	s.ToRoom(room, "host_left", HostLeftNotification{Message: "The host has left the game"})
	room.StopTimer()
	s.registry.Delete(room.Code())
	s.log.Info().Str("room", room.Code()).Msg("room deleted, host left")
}

// handleDisconnect runs when a websocket drops for any reason.
func (s *Server) handleDisconnect(connectionID string) {
	m, ok := s.connections.Remove(connectionID)
	s.log.Info().Str("conn", connectionID).Msg("connection closed")
	if !ok {
		return
	}
	room, err := s.registry.Get(m.RoomCode)
	if err != nil {
		return
	}

	switch m.Role {
	case RoleHost:
		s.teardownRoom(room)
	default:
		if room.RemovePlayer(connectionID) {
			s.ToRoom(room, "player_list_update", PlayerListUpdate{Players: room.PlayerList()})
		}
	}
}
