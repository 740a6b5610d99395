package server

import (
	"net"
	"sync"
	"time"
)

// ConnectionLimiter rate-limits websocket connection attempts per
// originating address using a sliding window. It only gates new
// connections; sockets already accepted are never touched, so a flood from
// one address cannot drop a room's existing players.
type ConnectionLimiter struct {
	maxAttempts int
	window      time.Duration
	attempts    map[string][]time.Time // remote address -> recent attempt times
	mu          sync.Mutex
}

func NewConnectionLimiter(maxAttempts int, window time.Duration) *ConnectionLimiter {
	return &ConnectionLimiter{
		maxAttempts: maxAttempts,
		window:      window,
		attempts:    make(map[string][]time.Time),
	}
}

// Allow reports whether a new connection from addr may proceed. Attempts
// older than the window age out; within the window, attempts beyond the
// threshold are refused.
func (l *ConnectionLimiter) Allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)

	recent := l.attempts[addr][:0]
	for _, ts := range l.attempts[addr] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= l.maxAttempts {
		l.attempts[addr] = recent
		return false
	}

	l.attempts[addr] = append(recent, now)
	return true
}

// Cleanup drops addresses with no attempts inside the window. Run
// periodically so idle addresses don't accumulate.
func (l *ConnectionLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.window)
	for addr, stamps := range l.attempts {
		active := false
		for _, ts := range stamps {
			if ts.After(cutoff) {
				active = true
				break
			}
		}
		if !active {
			delete(l.attempts, addr)
		}
	}
}

// remoteAddr extracts the host part of an address like "1.2.3.4:5678",
// falling back to the raw string when it has no port.
func remoteAddr(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return host
}
