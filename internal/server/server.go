package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Port         int
	HostPassword string
	DatabaseURL  string // empty string disables the result sink
	PublicURL    string // base URL encoded into join QR codes
}

const (
	connAttemptLimit  = 10
	connAttemptWindow = 10 * time.Second
)

// Server wires the room registry, connection gateway, round scheduler and
// result sink together. It is the Broadcaster implementation the scheduler
// emits through.
type Server struct {
	cfg         Config
	log         zerolog.Logger
	registry    *RoomRegistry
	connections *ConnectionManager
	scheduler   *Scheduler
	sink        ResultSink
	connLimiter *ConnectionLimiter

	done      chan struct{}
	closeOnce sync.Once
}

func New(ctx context.Context, cfg Config, logger zerolog.Logger) *Server {
	// A sink that cannot come up degrades observability, never gameplay:
	// fall back to the no-op and keep serving.
	var sink ResultSink = NoopSink{}
	if cfg.DatabaseURL != "" {
		pg, err := NewPostgresSink(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Warn().Err(err).Msg("result sink unavailable, continuing without persistence")
		} else {
			sink = pg
		}
	}

	s := &Server{
		cfg:         cfg,
		log:         logger.With().Str("component", "server").Logger(),
		registry:    NewRoomRegistry(),
		connections: NewConnectionManager(),
		sink:        sink,
		connLimiter: NewConnectionLimiter(connAttemptLimit, connAttemptWindow),
		done:        make(chan struct{}),
	}
	s.scheduler = NewScheduler(s.registry, s, sink, DefaultTiming(), logger)

	go s.limiterCleanupTask()
	return s
}

func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.sink.Close()
	})
}

// limiterCleanupTask periodically drops idle addresses from the connection
// limiter so it doesn't grow with every visitor ever seen.
func (s *Server) limiterCleanupTask() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.connLimiter.Cleanup()
		case <-s.done:
			return
		}
	}
}
