package server

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
)

type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
)

// Membership records which room a connection currently belongs to, and in
// what capacity. A connection is in at most one room at a time.
type Membership struct {
	RoomCode string
	Role     Role
}

const (
	writeTimeout      = 5 * time.Second
	outboundQueueSize = 64
)

// clientConn pairs a websocket with a buffered outbound queue drained by a
// single writer goroutine. Sends never block the caller: a full queue means
// the client is too slow and the message is dropped.
type clientConn struct {
	sock *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (c *clientConn) writeLoop() {
	for {
		select {
		case data := <-c.out:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			_ = c.sock.Write(ctx, websocket.MessageText, data)
			cancel()
		case <-c.done:
			return
		}
	}
}

func (c *clientConn) stop() {
	c.once.Do(func() { close(c.done) })
}

// ConnectionManager tracks live websockets by connection ID and each
// connection's room membership.
type ConnectionManager struct {
	conns   map[string]*clientConn
	members map[string]Membership
	mu      sync.RWMutex
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		conns:   make(map[string]*clientConn),
		members: make(map[string]Membership),
	}
}

func (cm *ConnectionManager) Add(connectionID string, sock *websocket.Conn) {
	c := &clientConn{
		sock: sock,
		out:  make(chan []byte, outboundQueueSize),
		done: make(chan struct{}),
	}

	cm.mu.Lock()
	cm.conns[connectionID] = c
	cm.mu.Unlock()

	go c.writeLoop()
}

// Remove drops a connection and returns whatever membership it still held.
func (cm *ConnectionManager) Remove(connectionID string) (Membership, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if c, ok := cm.conns[connectionID]; ok {
		c.stop()
	}
	delete(cm.conns, connectionID)

	m, ok := cm.members[connectionID]
	delete(cm.members, connectionID)
	return m, ok
}

func (cm *ConnectionManager) SetMembership(connectionID, roomCode string, role Role) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.members[connectionID] = Membership{RoomCode: roomCode, Role: role}
}

func (cm *ConnectionManager) ClearMembership(connectionID string) (Membership, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	m, ok := cm.members[connectionID]
	delete(cm.members, connectionID)
	return m, ok
}

func (cm *ConnectionManager) Membership(connectionID string) (Membership, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	m, ok := cm.members[connectionID]
	return m, ok
}

// Send queues data for a connection. Returns false if the connection is
// gone or its queue is full; either way the caller moves on.
func (cm *ConnectionManager) Send(connectionID string, data []byte) bool {
	cm.mu.RLock()
	c, ok := cm.conns[connectionID]
	cm.mu.RUnlock()

	if !ok {
		return false
	}
	select {
	case c.out <- data:
		return true
	default:
		return false
	}
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns)
}
