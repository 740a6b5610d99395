package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// GameResult is what a finished game reports to the sink: the final
// standings and the winner, if anyone played.
type GameResult struct {
	RoomCode  string
	Mode      GameMode
	Standings []Standing
	Winner    *Standing
}

// ResultSink receives final game results and per-player activity. It is a
// best-effort collaborator: calls are made off the game path and errors are
// logged by the caller, never surfaced to players. Game correctness must
// not depend on any implementation of this interface.
type ResultSink interface {
	RecordGameResult(ctx context.Context, result GameResult) error
	RecordPlayerActivity(ctx context.Context, playerID, nickname string, scoreDelta int) error
	Close()
}

// NoopSink is the default when no database is configured.
type NoopSink struct{}

func (NoopSink) RecordGameResult(context.Context, GameResult) error { return nil }

func (NoopSink) RecordPlayerActivity(context.Context, string, string, int) error { return nil }

func (NoopSink) Close() {}

// PostgresSink records results in two tables: an append-only game history
// and a per-player activity upsert.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(ctx context.Context, databaseURL string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	sink := &PostgresSink{pool: pool}
	if err := sink.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return sink, nil
}

func (s *PostgresSink) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS game_results (
			id          BIGSERIAL PRIMARY KEY,
			room_code   TEXT NOT NULL,
			mode        TEXT NOT NULL,
			standings   JSONB NOT NULL,
			winner_id   TEXT,
			finished_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS player_activity (
			player_id    TEXT PRIMARY KEY,
			nickname     TEXT NOT NULL,
			games_played INT NOT NULL DEFAULT 0,
			total_score  BIGINT NOT NULL DEFAULT 0,
			last_played  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure sink schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresSink) RecordGameResult(ctx context.Context, result GameResult) error {
	standings, err := json.Marshal(result.Standings)
	if err != nil {
		return fmt.Errorf("failed to serialize standings: %w", err)
	}

	var winnerID *string
	if result.Winner != nil {
		winnerID = &result.Winner.ID
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO game_results (room_code, mode, standings, winner_id)
		 VALUES ($1, $2, $3, $4)`,
		result.RoomCode, string(result.Mode), standings, winnerID,
	)
	if err != nil {
		return fmt.Errorf("failed to record result for room %s: %w", result.RoomCode, err)
	}
	return nil
}

func (s *PostgresSink) RecordPlayerActivity(ctx context.Context, playerID, nickname string, scoreDelta int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO player_activity (player_id, nickname, games_played, total_score, last_played)
		 VALUES ($1, $2, 1, $3, now())
		 ON CONFLICT (player_id) DO UPDATE SET
			nickname     = EXCLUDED.nickname,
			games_played = player_activity.games_played + 1,
			total_score  = player_activity.total_score + EXCLUDED.total_score,
			last_played  = now()`,
		playerID, nickname, scoreDelta,
	)
	if err != nil {
		return fmt.Errorf("failed to record activity for player %s: %w", playerID, err)
	}
	return nil
}

func (s *PostgresSink) Close() {
	s.pool.Close()
}
