package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"reflex-royale-server/internal/conquest"
	"reflex-royale-server/internal/reflex"
)

// fakeBus records every broadcast so tests can assert on message flow
// without websockets. Safe for use from timer goroutines.
type fakeBus struct {
	mu      sync.Mutex
	records []busRecord
}

type busRecord struct {
	target  string // "room:<code>" for broadcasts, connection ID otherwise
	kind    string
	payload any
}

func (b *fakeBus) ToRoom(room *Room, kind string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, busRecord{target: "room:" + room.Code(), kind: kind, payload: payload})
}

func (b *fakeBus) ToConnection(connectionID, kind string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, busRecord{target: connectionID, kind: kind, payload: payload})
}

func (b *fakeBus) count(kind string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, r := range b.records {
		if r.kind == kind {
			n++
		}
	}
	return n
}

func (b *fakeBus) last(kind string) (busRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.records) - 1; i >= 0; i-- {
		if b.records[i].kind == kind {
			return b.records[i], true
		}
	}
	return busRecord{}, false
}

func (b *fakeBus) lastFor(target, kind string) (busRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.records) - 1; i >= 0; i-- {
		if b.records[i].kind == kind && b.records[i].target == target {
			return b.records[i], true
		}
	}
	return busRecord{}, false
}

// recordingSink captures result-sink calls for assertions.
type recordingSink struct {
	mu       sync.Mutex
	results  []GameResult
	activity map[string]int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{activity: make(map[string]int)}
}

func (s *recordingSink) RecordGameResult(_ context.Context, result GameResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return nil
}

func (s *recordingSink) RecordPlayerActivity(_ context.Context, playerID, _ string, scoreDelta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity[playerID] += scoreDelta
	return nil
}

func (s *recordingSink) Close() {}

func (s *recordingSink) resultCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func (s *recordingSink) lastResult() GameResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[len(s.results)-1]
}

// testTiming shrinks every delay so timer-driven transitions happen within
// a few milliseconds.
func testTiming() SchedulerTiming {
	return SchedulerTiming{
		GameStartDelay:  5 * time.Millisecond,
		VolumeRound:     60 * time.Millisecond,
		ConquestWindow:  30 * time.Millisecond,
		ConquestClose:   40 * time.Millisecond,
		InterRoundPause: 5 * time.Millisecond,
		SinkTimeout:     time.Second,
	}
}

type schedulerFixture struct {
	scheduler *Scheduler
	registry  *RoomRegistry
	room      *Room
	bus       *fakeBus
	sink      *recordingSink
}

func newSchedulerFixture(t *testing.T, mode GameMode, players map[string]string) *schedulerFixture {
	t.Helper()

	registry := NewRoomRegistry()
	bus := &fakeBus{}
	sink := newRecordingSink()
	sc := NewScheduler(registry, bus, sink, testTiming(), zerolog.Nop())

	room := registry.Create(mode, "host")
	for id, nickname := range players {
		_, err := room.AddPlayer(id, nickname)
		assert.NoError(t, err)
	}
	t.Cleanup(room.StopTimer)

	return &schedulerFixture{scheduler: sc, registry: registry, room: room, bus: bus, sink: sink}
}

// waitRound blocks until round n has opened.
func (f *schedulerFixture) waitRound(t *testing.T, n int) {
	t.Helper()
	assert.Eventually(t, func() bool {
		f.room.mu.Lock()
		defer f.room.mu.Unlock()
		return f.room.currentRound >= n && !f.room.roundClosed
	}, 2*time.Second, 2*time.Millisecond, "round %d never opened", n)
}

func TestStartGameRequiresHost(t *testing.T) {
	assert := assert.New(t)
	f := newSchedulerFixture(t, ModeReflex, map[string]string{"ann": "Ann"})

	err := f.scheduler.StartGame(f.room.Code(), "ann")

	assert.Error(err)
	assert.Contains(err.Error(), "NOT_HOST")
	assert.Equal(StateWaiting, f.room.State())
	assert.Equal(0, f.bus.count("game_started"))
}

func TestStartGameOnlyFromWaiting(t *testing.T) {
	assert := assert.New(t)
	f := newSchedulerFixture(t, ModeReflex, map[string]string{"ann": "Ann"})

	assert.NoError(f.scheduler.StartGame(f.room.Code(), "host"))

	err := f.scheduler.StartGame(f.room.Code(), "host")
	assert.Error(err)
	assert.Contains(err.Error(), "GAME_ALREADY_STARTED")
	assert.Equal(1, f.bus.count("game_started"))
}

func TestStartGameUnknownRoom(t *testing.T) {
	f := newSchedulerFixture(t, ModeReflex, nil)

	err := f.scheduler.StartGame("0000", "host")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ROOM_NOT_FOUND")
}

func TestStartGameOpensFirstRoundAfterDelay(t *testing.T) {
	assert := assert.New(t)
	f := newSchedulerFixture(t, ModeReflex, map[string]string{"ann": "Ann"})

	assert.NoError(f.scheduler.StartGame(f.room.Code(), "host"))
	assert.Equal(StatePlaying, f.room.State())

	rec, ok := f.bus.last("game_started")
	assert.True(ok)
	assert.Equal(GameStartedNotification{Mode: "REFLEX"}, rec.payload)

	f.waitRound(t, 1)

	rec, ok = f.bus.last("round_start")
	assert.True(ok)
	start := rec.payload.(RoundStartNotification)
	assert.Equal(1, start.RoundNumber)
	assert.Equal(reflex.TotalRounds, start.TotalRounds)
	assert.Equal(string(reflex.ColorTap), start.RoundType)
	assert.NotEmpty(start.RoundData.Color)
}

func TestStartGameResetsAccumulators(t *testing.T) {
	assert := assert.New(t)
	f := newSchedulerFixture(t, ModeReflex, map[string]string{"ann": "Ann"})

	f.room.mu.Lock()
	f.room.players["ann"].Score = 1234
	f.room.mu.Unlock()

	assert.NoError(f.scheduler.StartGame(f.room.Code(), "host"))

	f.room.mu.Lock()
	score := f.room.players["ann"].Score
	f.room.mu.Unlock()
	assert.Equal(0, score)
}

func TestRequestNextRoundRequiresHost(t *testing.T) {
	f := newSchedulerFixture(t, ModeReflex, map[string]string{"ann": "Ann"})
	assert.NoError(t, f.scheduler.StartGame(f.room.Code(), "host"))
	f.waitRound(t, 1)

	err := f.scheduler.RequestNextRound(f.room.Code(), "ann")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_HOST")
}

func TestReflexHostAdvancesThroughSequence(t *testing.T) {
	assert := assert.New(t)
	f := newSchedulerFixture(t, ModeReflex, map[string]string{"ann": "Ann"})
	assert.NoError(f.scheduler.StartGame(f.room.Code(), "host"))
	f.waitRound(t, 1)

	assert.NoError(f.scheduler.RequestNextRound(f.room.Code(), "host"))
	f.waitRound(t, 2)

	rec, _ := f.bus.last("round_start")
	start := rec.payload.(RoundStartNotification)
	assert.Equal(2, start.RoundNumber)
	assert.Equal(string(reflex.Swipe), start.RoundType)
	assert.NotEmpty(start.RoundData.Direction)

	// Advancing past an open round closes it first.
	assert.Equal(1, f.bus.count("round_end"))
}

func TestVolumeRoundAutoClosesAndScores(t *testing.T) {
	assert := assert.New(t)
	f := newSchedulerFixture(t, ModeReflex, map[string]string{"ann": "Ann", "ben": "Ben"})
	assert.NoError(f.scheduler.StartGame(f.room.Code(), "host"))
	f.waitRound(t, 1)
	assert.NoError(f.scheduler.RequestNextRound(f.room.Code(), "host"))
	f.waitRound(t, 2)
	assert.NoError(f.scheduler.RequestNextRound(f.room.Code(), "host"))
	f.waitRound(t, 3)

	f.room.mu.Lock()
	assert.Equal(reflex.Shake, f.room.roundKind)
	f.room.storeCountLocked("ann", 50)
	f.room.storeCountLocked("ben", 30)
	f.room.mu.Unlock()

	// The round closes on its own with no host involvement.
	assert.Eventually(func() bool {
		f.room.mu.Lock()
		defer f.room.mu.Unlock()
		return f.room.roundClosed
	}, 2*time.Second, 2*time.Millisecond)

	f.room.mu.Lock()
	annScore := f.room.players["ann"].Score
	benScore := f.room.players["ben"].Score
	f.room.mu.Unlock()

	// 50 shakes * 10 + 500 first-place bonus; 30 * 10 + 300.
	assert.Equal(1000, annScore)
	assert.Equal(600, benScore)

	rec, ok := f.bus.lastFor("ann", "response_result")
	assert.True(ok)
	assert.Equal(ResponseResult{Correct: true, Points: 1000, TotalScore: 1000}, rec.payload)

	rec, ok = f.bus.last("leaderboard_update")
	assert.True(ok)
	board := rec.payload.(LeaderboardUpdate).Leaderboard
	assert.Equal("Ann", board[0].Nickname)
	assert.Equal(1, board[0].Rank)
	assert.Equal("Ben", board[1].Nickname)
}

func TestVolumeRoundClosesWithNoInput(t *testing.T) {
	assert := assert.New(t)
	f := newSchedulerFixture(t, ModeReflex, map[string]string{"ann": "Ann"})
	assert.NoError(f.scheduler.StartGame(f.room.Code(), "host"))
	f.waitRound(t, 1)
	assert.NoError(f.scheduler.RequestNextRound(f.room.Code(), "host"))
	f.waitRound(t, 2)
	assert.NoError(f.scheduler.RequestNextRound(f.room.Code(), "host"))
	f.waitRound(t, 3)

	assert.Eventually(func() bool {
		f.room.mu.Lock()
		defer f.room.mu.Unlock()
		return f.room.roundClosed
	}, 2*time.Second, 2*time.Millisecond)

	f.room.mu.Lock()
	score := f.room.players["ann"].Score
	f.room.mu.Unlock()
	assert.Equal(0, score)
	assert.Equal(StatePlaying, f.room.State())
}

func TestReflexGameOverAfterFinalRound(t *testing.T) {
	assert := assert.New(t)
	f := newSchedulerFixture(t, ModeReflex, map[string]string{"ann": "Ann", "ben": "Ben"})
	assert.NoError(f.scheduler.StartGame(f.room.Code(), "host"))
	f.waitRound(t, 1)

	for range reflex.TotalRounds {
		assert.NoError(f.scheduler.RequestNextRound(f.room.Code(), "host"))
	}

	assert.Eventually(func() bool {
		return f.room.State() == StateFinished
	}, 2*time.Second, 2*time.Millisecond)

	assert.Equal(1, f.bus.count("game_over"))
	rec, _ := f.bus.last("game_over")
	assert.Equal("room:"+f.room.Code(), rec.target)
	assert.Len(rec.payload.(GameOverNotification).FinalLeaderboard, 2)

	assert.Eventually(func() bool {
		return f.sink.resultCount() == 1
	}, 2*time.Second, 2*time.Millisecond)
	result := f.sink.lastResult()
	assert.Equal(f.room.Code(), result.RoomCode)
	assert.Equal(ModeReflex, result.Mode)
	assert.NotNil(result.Winner)
}

func TestEndGameIdempotent(t *testing.T) {
	assert := assert.New(t)
	f := newSchedulerFixture(t, ModeReflex, map[string]string{"ann": "Ann"})
	assert.NoError(f.scheduler.StartGame(f.room.Code(), "host"))

	f.scheduler.EndGame(f.room.Code())
	f.scheduler.EndGame(f.room.Code())

	assert.Equal(StateFinished, f.room.State())
	assert.Equal(1, f.bus.count("game_over"))
	assert.Eventually(func() bool {
		return f.sink.resultCount() == 1
	}, 2*time.Second, 2*time.Millisecond)

	// Nothing else schedules after the game is over.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(1, f.sink.resultCount())
	assert.Equal(1, f.bus.count("game_over"))
}

func TestConquestRoundsAutoAdvance(t *testing.T) {
	assert := assert.New(t)
	f := newSchedulerFixture(t, ModeConquest, map[string]string{"cam": "Cam"})
	assert.NoError(f.scheduler.StartGame(f.room.Code(), "host"))
	f.waitRound(t, 1)

	rec, ok := f.bus.last("round_start")
	assert.True(ok)
	start := rec.payload.(ConquestRoundStart)
	assert.Equal(1, start.RoundNumber)
	assert.Equal(conquest.TotalRounds, start.MaxRounds)
	assert.Equal(conquest.ActionPointsPerRound, start.ActionPoints)
	assert.Len(start.MapState.Grid, conquest.GridSize)

	// Round 2 opens with no host action at all.
	f.waitRound(t, 2)
	assert.GreaterOrEqual(f.bus.count("round_end"), 1)
}

func TestConquestClaimsResolveAtClose(t *testing.T) {
	assert := assert.New(t)
	f := newSchedulerFixture(t, ModeConquest, map[string]string{"cam": "Cam", "dee": "Dee"})
	assert.NoError(f.scheduler.StartGame(f.room.Code(), "host"))
	f.waitRound(t, 1)

	claimed := []conquest.Cell{{X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}}
	contested := conquest.Cell{X: 5, Y: 5}

	f.room.mu.Lock()
	f.room.actions["cam"] = append(append([]conquest.Cell{}, claimed...), contested)
	f.room.actions["dee"] = []conquest.Cell{contested}
	expected := 0
	for _, c := range claimed {
		expected += f.room.grid.Multiplier(c)
	}
	f.room.mu.Unlock()

	f.waitRound(t, 2)

	f.room.mu.Lock()
	camTerritory := f.room.players["cam"].Territory
	owner := f.room.grid.Owner(contested)
	pending := len(f.room.actions)
	f.room.mu.Unlock()

	assert.Equal(expected, camTerritory)
	assert.Empty(owner, "contested cell must stay unowned")
	assert.Equal(0, pending, "actions are consumed at close")

	rec, ok := f.bus.lastFor("host", "map_update")
	assert.True(ok)
	update := rec.payload.(MapUpdate)
	assert.Equal("cam", update.MapState.Grid[1][1])
	assert.Contains(update.Conflicts, contested)
	assert.Equal("Cam", update.Leaderboard[0].Nickname)

	rec, ok = f.bus.lastFor("cam", "conquest_round_end")
	assert.True(ok)
	end := rec.payload.(ConquestRoundEnd)
	assert.Equal(expected, end.YourTerritory)
	assert.Equal(1, end.YourRank)
}

func TestConquestGameOverPerPlayer(t *testing.T) {
	assert := assert.New(t)
	f := newSchedulerFixture(t, ModeConquest, map[string]string{"cam": "Cam"})
	assert.NoError(f.scheduler.StartGame(f.room.Code(), "host"))
	f.waitRound(t, 1)

	// Jump to the last round so the next close ends the game.
	f.room.mu.Lock()
	f.room.currentRound = conquest.TotalRounds
	f.room.actions["cam"] = []conquest.Cell{{X: 0, Y: 0}}
	f.room.mu.Unlock()

	f.scheduler.CloseRound(f.room.Code())

	assert.Eventually(func() bool {
		return f.room.State() == StateFinished
	}, 2*time.Second, 2*time.Millisecond)

	rec, ok := f.bus.lastFor("cam", "game_over")
	assert.True(ok)
	over := rec.payload.(ConquestGameOver)
	assert.GreaterOrEqual(over.YourTerritory, 1)
	assert.Equal(1, over.YourRank)

	rec, ok = f.bus.lastFor("host", "game_over")
	assert.True(ok)
	assert.Len(rec.payload.(GameOverNotification).FinalLeaderboard, 1)

	assert.Eventually(func() bool {
		return f.sink.resultCount() == 1
	}, 2*time.Second, 2*time.Millisecond)
	assert.Equal(ModeConquest, f.sink.lastResult().Mode)
}

func TestHostAdvanceSupersedesPendingAutoAdvance(t *testing.T) {
	assert := assert.New(t)
	f := newSchedulerFixture(t, ModeConquest, map[string]string{"cam": "Cam"})
	assert.NoError(f.scheduler.StartGame(f.room.Code(), "host"))
	f.waitRound(t, 1)

	assert.NoError(f.scheduler.RequestNextRound(f.room.Code(), "host"))
	f.waitRound(t, 2)

	// The cancelled claim-window timer must not fire a second close for
	// round 1 or skip round numbering.
	time.Sleep(60 * time.Millisecond)
	f.bus.mu.Lock()
	var opened []int
	for _, r := range f.bus.records {
		if r.kind == "round_start" {
			opened = append(opened, r.payload.(ConquestRoundStart).RoundNumber)
		}
	}
	f.bus.mu.Unlock()

	assert.GreaterOrEqual(len(opened), 2)
	for i, n := range opened {
		assert.Equal(i+1, n, "rounds must open consecutively")
	}
}
