package server

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"reflex-royale-server/internal/conquest"
	"reflex-royale-server/internal/reflex"
)

var (
	errNotHost            = errors.New("NOT_HOST: Only the room host can do that")
	errGameAlreadyStarted = errors.New("GAME_ALREADY_STARTED: Game already started")
)

// SchedulerTiming collects every delay the round state machine uses. Tests
// shrink these to keep timer-driven paths fast.
type SchedulerTiming struct {
	// GameStartDelay is the pause between game_started and the first round,
	// so clients can render the transition before timing matters.
	GameStartDelay time.Duration

	// VolumeRound is how long shake/tap-spam rounds stay open.
	VolumeRound time.Duration

	// ConquestWindow is the player-facing claim window broadcast to clients.
	ConquestWindow time.Duration

	// ConquestClose is when the server actually closes a conquest round;
	// the extra slack over ConquestWindow absorbs network latency.
	ConquestClose time.Duration

	// InterRoundPause is the results pause before a conquest round opens
	// the next one on its own.
	InterRoundPause time.Duration

	// SinkTimeout bounds each result-sink call.
	SinkTimeout time.Duration
}

func DefaultTiming() SchedulerTiming {
	return SchedulerTiming{
		GameStartDelay:  2 * time.Second,
		VolumeRound:     reflex.VolumeRoundDuration,
		ConquestWindow:  12 * time.Second,
		ConquestClose:   14 * time.Second,
		InterRoundPause: 3 * time.Second,
		SinkTimeout:     5 * time.Second,
	}
}

// Scheduler drives each room's round state machine. Rounds open and close
// on timers regardless of client liveness; every transition takes the
// room's lock, so timer callbacks and message handlers never interleave for
// one room. Timers always go through Room.armTimerLocked, which cancels the
// previous one, so a room has at most one pending transition.
type Scheduler struct {
	registry *RoomRegistry
	bus      Broadcaster
	sink     ResultSink
	timing   SchedulerTiming
	log      zerolog.Logger
}

func NewScheduler(registry *RoomRegistry, bus Broadcaster, sink ResultSink, timing SchedulerTiming, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		registry: registry,
		bus:      bus,
		sink:     sink,
		timing:   timing,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// StartGame moves a room from WAITING to PLAYING. Host-only; accumulators
// reset to zero and the first round is scheduled after a fixed delay.
func (sc *Scheduler) StartGame(code, requesterID string) error {
	room, err := sc.registry.Get(code)
	if err != nil {
		return err
	}

	room.mu.Lock()
	if room.hostID != requesterID {
		room.mu.Unlock()
		return errNotHost
	}
	if room.state != StateWaiting {
		room.mu.Unlock()
		return errGameAlreadyStarted
	}

	room.state = StatePlaying
	room.currentRound = 0
	for _, p := range room.players {
		p.Score = 0
		p.Territory = 0
	}
	mode := room.mode
	room.armTimerLocked(sc.timing.GameStartDelay, func() { sc.OpenNextRound(code) })
	room.mu.Unlock()

	sc.bus.ToRoom(room, "game_started", GameStartedNotification{Mode: string(mode)})
	sc.log.Info().Str("room", code).Str("mode", string(mode)).Msg("game started")
	return nil
}

// OpenNextRound advances the round counter and broadcasts the new round's
// parameters, or ends the game once the counter passes the mode's total.
// Stale timer callbacks for deleted or finished rooms fall through quietly.
func (sc *Scheduler) OpenNextRound(code string) {
	room, err := sc.registry.Get(code)
	if err != nil {
		return
	}

	room.mu.Lock()
	if room.state != StatePlaying {
		room.mu.Unlock()
		return
	}
	if room.currentRound > 0 && !room.roundClosed {
		// A round is already open; whoever opened it owns the transition.
		room.mu.Unlock()
		return
	}

	room.currentRound++
	if room.currentRound > room.totalRounds {
		room.mu.Unlock()
		sc.EndGame(code)
		return
	}
	room.roundClosed = false

	var payload any
	switch room.mode {
	case ModeConquest:
		// Pending actions are not cleared here: they are consumed and
		// cleared by CloseRound.
		room.roundOpened = time.Now()
		payload = ConquestRoundStart{
			RoundNumber:  room.currentRound,
			MaxRounds:    room.totalRounds,
			ActionPoints: conquest.ActionPointsPerRound,
			MapState:     room.grid.State(),
			Duration:     sc.timing.ConquestWindow.Milliseconds(),
		}
		room.armTimerLocked(sc.timing.ConquestClose, func() { sc.CloseRound(code) })

	default:
		room.responses = make(map[string]*storedResponse)
		room.responseOrder = nil
		kind := reflex.RoundSequence[room.currentRound-1]
		room.roundKind = kind
		room.challenge = reflex.NewChallenge(kind)
		room.roundOpened = time.Now()
		payload = RoundStartNotification{
			RoundNumber: room.currentRound,
			TotalRounds: room.totalRounds,
			RoundType:   string(kind),
			RoundData:   room.challenge,
			StartTime:   room.roundOpened.UnixMilli(),
		}
		if kind.VolumeScored() {
			room.armTimerLocked(sc.timing.VolumeRound, func() { sc.CloseRound(code) })
		} else {
			// Correctness rounds close on the host's advance, not a timer.
			room.StopTimerLocked()
		}
	}
	round := room.currentRound
	room.mu.Unlock()

	sc.bus.ToRoom(room, "round_start", payload)
	sc.log.Info().Str("room", code).Int("round", round).Msg("round opened")
}

// CloseRound scores the round in progress from whatever input arrived
// before now, zero players included. Closing an already-closed round is a
// no-op, so a host advance racing an automatic close cannot double-score.
func (sc *Scheduler) CloseRound(code string) {
	room, err := sc.registry.Get(code)
	if err != nil {
		return
	}

	room.mu.Lock()
	if room.state != StatePlaying || room.roundClosed {
		room.mu.Unlock()
		return
	}
	room.roundClosed = true

	switch room.mode {
	case ModeConquest:
		sc.closeConquestRoundLocked(room, code)
	default:
		sc.closeReflexRoundLocked(room, code)
	}
}

type volumeDelivery struct {
	connectionID string
	result       ResponseResult
}

// closeReflexRoundLocked finishes a reflex round: volume rounds are scored
// from the collected counts, correctness rounds were already scored per
// response. Enters with room.mu held, releases it before broadcasting.
func (sc *Scheduler) closeReflexRoundLocked(room *Room, code string) {
	var deliveries []volumeDelivery
	if room.roundKind.VolumeScored() {
		entries := make([]reflex.CountEntry, 0, len(room.responseOrder))
		for _, id := range room.responseOrder {
			if resp, ok := room.responses[id]; ok {
				entries = append(entries, reflex.CountEntry{PlayerID: id, Count: resp.count})
			}
		}
		for _, res := range reflex.RankCounts(room.roundKind, entries) {
			p, ok := room.players[res.PlayerID]
			if !ok {
				continue // disconnected mid-round
			}
			p.Score += res.Points
			deliveries = append(deliveries, volumeDelivery{
				connectionID: res.PlayerID,
				result:       ResponseResult{Correct: true, Points: res.Points, TotalScore: p.Score},
			})
		}
	}
	leaderboard := topStandings(room.standingsLocked(), leaderboardSize)
	round := room.currentRound
	// Reflex waits for the host between rounds; no transition is pending.
	room.StopTimerLocked()
	room.mu.Unlock()

	for _, d := range deliveries {
		sc.bus.ToConnection(d.connectionID, "response_result", d.result)
	}
	// Round-close leaderboards bypass the per-room throttle.
	sc.bus.ToRoom(room, "leaderboard_update", LeaderboardUpdate{Leaderboard: leaderboard})
	sc.bus.ToRoom(room, "round_end", RoundEndNotification{RoundNumber: round})
	sc.log.Info().Str("room", code).Int("round", round).Msg("round closed")
}

// closeConquestRoundLocked resolves the round's claims against the grid,
// recomputes territory and schedules the next round after a results pause.
// Enters with room.mu held, releases it before broadcasting.
func (sc *Scheduler) closeConquestRoundLocked(room *Room, code string) {
	conflicts := room.grid.Resolve(room.actions)
	territories := room.grid.Territories()
	for id, p := range room.players {
		p.Territory = territories[id]
	}
	room.actions = make(map[string][]conquest.Cell) // consumed

	standings := room.standingsLocked()
	state := room.grid.State()

	perPlayer := make(map[string]ConquestRoundEnd, len(room.players))
	for id, p := range room.players {
		rank := 0
		if st, ok := standingFor(standings, id); ok {
			rank = st.Rank
		}
		perPlayer[id] = ConquestRoundEnd{
			MapState:      state,
			Conflicts:     conflicts,
			YourTerritory: p.Territory,
			YourRank:      rank,
		}
	}
	hostID := room.hostID
	round := room.currentRound
	room.armTimerLocked(sc.timing.InterRoundPause, func() { sc.OpenNextRound(code) })
	room.mu.Unlock()

	sc.bus.ToConnection(hostID, "map_update", MapUpdate{
		MapState:    state,
		Leaderboard: standings,
		Conflicts:   conflicts,
	})
	for id, payload := range perPlayer {
		sc.bus.ToConnection(id, "conquest_round_end", payload)
	}
	sc.bus.ToRoom(room, "round_end", RoundEndNotification{RoundNumber: round})
	sc.log.Info().Str("room", code).Int("round", round).Int("conflicts", len(conflicts)).Msg("round closed")
}

// RequestNextRound is the host's manual advance. Honored any time during
// play: the pending automatic transition, if any, is cancelled, then a
// still-open round is closed (idempotently) and the next one opened. When
// the cancel loses the race to a firing timer, that timer's transition is
// already underway and this request stands down.
func (sc *Scheduler) RequestNextRound(code, requesterID string) error {
	room, err := sc.registry.Get(code)
	if err != nil {
		return err
	}

	room.mu.Lock()
	if room.hostID != requesterID {
		room.mu.Unlock()
		return errNotHost
	}
	if room.state != StatePlaying {
		// Expected race with game end; nothing to advance.
		room.mu.Unlock()
		return nil
	}
	if room.roundTimer != nil && !room.roundTimer.Stop() {
		// The timer fired and its callback is waiting on the room lock.
		room.mu.Unlock()
		return nil
	}
	room.roundTimer = nil
	roundInProgress := room.currentRound > 0 && !room.roundClosed
	room.mu.Unlock()

	if roundInProgress {
		sc.CloseRound(code)
	}
	sc.OpenNextRound(code)
	return nil
}

// EndGame finishes a room exactly once: final standings go to the room and
// the result sink. A second call is a no-op, so a host advance racing the
// last automatic close cannot double-report.
func (sc *Scheduler) EndGame(code string) {
	room, err := sc.registry.Get(code)
	if err != nil {
		return
	}

	room.mu.Lock()
	if room.state == StateFinished {
		room.mu.Unlock()
		return
	}
	room.state = StateFinished
	room.StopTimerLocked()
	standings := room.standingsLocked()
	players := room.playerListLocked()
	mode := room.mode
	hostID := room.hostID
	room.mu.Unlock()

	switch mode {
	case ModeConquest:
		for _, p := range players {
			rank := 0
			if st, ok := standingFor(standings, p.ID); ok {
				rank = st.Rank
			}
			sc.bus.ToConnection(p.ID, "game_over", ConquestGameOver{
				YourTerritory: p.Territory,
				YourRank:      rank,
			})
		}
		sc.bus.ToConnection(hostID, "game_over", GameOverNotification{FinalLeaderboard: standings})
	default:
		sc.bus.ToRoom(room, "game_over", GameOverNotification{FinalLeaderboard: standings})
	}
	sc.log.Info().Str("room", code).Msg("game over")

	var winner *Standing
	if len(standings) > 0 {
		w := standings[0]
		winner = &w
	}
	result := GameResult{RoomCode: code, Mode: mode, Standings: standings, Winner: winner}

	// Fire-and-forget: the game is already FINISHED whatever the sink does.
	go sc.emitResult(result, players, mode)
}

func (sc *Scheduler) emitResult(result GameResult, players []Player, mode GameMode) {
	ctx, cancel := context.WithTimeout(context.Background(), sc.timing.SinkTimeout)
	defer cancel()

	if err := sc.sink.RecordGameResult(ctx, result); err != nil {
		sc.log.Warn().Err(err).Str("room", result.RoomCode).Msg("result sink rejected game result")
	}
	for _, p := range players {
		delta := p.Score
		if mode == ModeConquest {
			delta = p.Territory
		}
		if err := sc.sink.RecordPlayerActivity(ctx, p.ID, p.Nickname, delta); err != nil {
			sc.log.Warn().Err(err).Str("player", p.ID).Msg("result sink rejected player activity")
		}
	}
}
