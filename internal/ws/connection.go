package ws

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is one WebSocket client. UserID is empty when the upgrade
// request carried no valid credentials; such connections stay open but every
// session event they send is ignored.
type Connection struct {
	ID         string    // connection id (UUID)
	UserID     string    // authenticated user, may be empty
	Conn       net.Conn  // underlying TCP connection
	Fd         int       // file descriptor, -1 off Linux
	CreatedAt  time.Time // when the connection was established
	LastPing   time.Time // last frame received from the client
	writeMu    sync.Mutex
	processing int32 // atomic flag: 0 = idle, 1 = being read by handleConn
}

// WriteMessage sends a WebSocket text frame to this connection.
func (c *Connection) WriteMessage(data []byte) error {
	return c.write(data, 0)
}

// write sends a text frame with an optional write deadline. The deadline is
// set and cleared under the write mutex so it only covers this frame.
func (c *Connection) write(data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(timeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9).
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe registry of live connections, indexed by
// connection id, by net.Conn (for readiness lookups) and by user.
type ConnectionManager struct {
	mu     sync.RWMutex
	byID   map[string]*Connection
	byConn map[net.Conn]*Connection
	byUser map[string]map[string]*Connection // user id -> connection id -> Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:   make(map[string]*Connection),
		byConn: make(map[net.Conn]*Connection),
		byUser: make(map[string]map[string]*Connection),
	}
}

// Add registers a new connection in every index.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byConn[conn.Conn] = conn
	if conn.UserID != "" {
		conns, ok := cm.byUser[conn.UserID]
		if !ok {
			conns = make(map[string]*Connection)
			cm.byUser[conn.UserID] = conns
		}
		conns[conn.ID] = conn
	}
	cm.mu.Unlock()
}

// Remove removes a connection by id and closes the underlying network
// connection. Returns true if the connection was found and removed, false if
// it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		delete(cm.byConn, conn.Conn)
		if conns := cm.byUser[conn.UserID]; conns != nil {
			delete(conns, id)
			if len(conns) == 0 {
				delete(cm.byUser, conn.UserID)
			}
		}
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given id, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByConn returns the connection wrapping c, or nil if not found.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	cm.mu.RLock()
	conn := cm.byConn[c]
	cm.mu.RUnlock()
	return conn
}

// UserOf returns the authenticated user of a live connection.
func (cm *ConnectionManager) UserOf(id string) (string, bool) {
	cm.mu.RLock()
	conn, ok := cm.byID[id]
	cm.mu.RUnlock()
	if !ok || conn.UserID == "" {
		return "", false
	}
	return conn.UserID, true
}

// ByUser returns a snapshot of the live connections of userID.
func (cm *ConnectionManager) ByUser(userID string) []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byUser[userID]))
	for _, conn := range cm.byUser[userID] {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
