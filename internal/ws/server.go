// Package ws handles WebSocket connection management, including upgrading
// HTTP connections, maintaining active client connections and their
// broadcast groups, and dispatching incoming messages to the appropriate
// handlers.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/whisper/realtime/internal/metrics"
	"github.com/whisper/realtime/internal/session"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	ServeMetrics   bool          // expose /metrics on the listen address
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Authenticator resolves the user behind an upgrade request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// Server is the WebSocket server built on gobwas/ws and a readiness poller
// (epoll on Linux). It upgrades HTTP connections to WebSocket, registers them
// with the poller for I/O readiness notifications, and dispatches ready connections
// to a bounded worker pool for frame reading. It also owns the broadcast
// groups and implements the transport used by the hub.
type Server struct {
	config       ServerConfig
	poller       poller
	conns        *ConnectionManager
	groups       *GroupRegistry
	auth         Authenticator
	sessionStore *session.Store // Redis-backed session index, optional
	workerPool   chan struct{}  // semaphore limiting concurrent read workers
	onMessage    func(conn *Connection, data []byte)
	onConnect    func(connID string)
	onDisconnect func(connID string)
	httpServer   *http.Server
	done         chan struct{}
	startedAt    time.Time
}

// NewServer creates a Server. auth and sessionStore may be nil; without an
// authenticator every connection is anonymous. The onMessage function is
// called from a worker goroutine whenever a complete WebSocket text frame is
// received from a client.
func NewServer(config ServerConfig, auth Authenticator, sessionStore *session.Store, onMessage func(conn *Connection, data []byte)) *Server {
	return &Server{
		config:       config,
		conns:        NewConnectionManager(),
		groups:       NewGroupRegistry(),
		auth:         auth,
		sessionStore: sessionStore,
		workerPool:   make(chan struct{}, config.WorkerPoolSize),
		onMessage:    onMessage,
		done:         make(chan struct{}),
	}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	if s.config.ServeMetrics {
		mux.Handle("/metrics", metrics.Handler())
	}
	return mux
}

// Start creates the readiness poller, configures the HTTP server, and begins
// accepting WebSocket connections. It starts the event loop in a background
// goroutine and blocks on http.Server.ListenAndServe.
func (s *Server) Start() error {
	var err error
	s.poller, err = newPoller()
	if err != nil {
		return err
	}

	s.startedAt = time.Now()
	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: s.Handler(),
	}

	go s.startEventLoop()

	// Close dead connections and keep Redis sessions alive.
	StartHeartbeat(s, DefaultHeartbeatConfig())

	log.Printf("ws: server listening on %s (workers=%d, max_conns=%d)",
		s.config.ListenAddr, s.config.WorkerPoolSize, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade authenticates and upgrades an HTTP request to a WebSocket
// connection. A request without valid credentials is still upgraded but the
// connection carries no user, so the hub ignores its events.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	var userID string
	if s.auth != nil {
		id, err := s.auth.Authenticate(r)
		if err != nil {
			log.Printf("ws: unauthenticated upgrade from %s: %v", r.RemoteAddr, err)
		} else {
			userID = id
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}
	conn = s.poller.Prepare(conn)

	connID := uuid.New().String()
	c := &Connection{
		ID:        connID,
		UserID:    userID,
		Conn:      conn,
		Fd:        socketFD(conn),
		CreatedAt: time.Now(),
		LastPing:  time.Now(),
	}

	s.conns.Add(c)
	metrics.ConnectionsTotal.Set(float64(s.conns.Count()))

	if s.sessionStore != nil && userID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := s.sessionStore.Create(ctx, connID, userID); err != nil {
			log.Printf("ws: failed to create redis session for %s: %v", connID, err)
		}
		cancel()
	}

	// The connect hook must finish before the connection becomes readable.
	if s.onConnect != nil {
		s.onConnect(connID)
	}

	if err := s.poller.Add(conn); err != nil {
		log.Printf("ws: poller add failed for conn %s: %v", connID, err)
		s.RemoveConnection(c)
		return
	}

	log.Printf("ws: new connection conn=%s user=%q fd=%d (total=%d)", connID, userID, c.Fd, s.conns.Count())
}

// handleHealth responds with the server's health status as JSON, including the
// current connection count and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop runs the readiness wait loop. For each batch of ready
// connections, it dispatches each to a worker goroutine (bounded by the
// worker pool semaphore) that reads and processes the WebSocket frame.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.poller.Wait(pollInterval)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			log.Printf("ws: poll error: %v", err)
			continue
		}

		for _, conn := range conns {
			conn := conn

			// Acquire a worker slot (blocks if pool is full).
			s.workerPool <- struct{}{}

			go func() {
				defer func() { <-s.workerPool }()
				defer s.poller.Done(conn)
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection. Only one
// worker reads a given connection at a time, so the frames of a connection
// are handled in the order they arrived.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Guard against duplicate dispatch from a level-triggered poller.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A read timeout means no data was available (stale dispatch).
		// The heartbeat handles dead connections.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	_ = netConn.SetReadDeadline(time.Time{})

	// Any frame proves the connection is alive.
	c.LastPing = time.Now()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err = io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// SetOnConnect registers a callback invoked after a connection is registered
// and its session created.
func (s *Server) SetOnConnect(fn func(connID string)) {
	s.onConnect = fn
}

// SetOnDisconnect registers a callback invoked when a connection is removed
// (due to read error, heartbeat timeout, or graceful close). It runs after
// the connection left the manager but before it leaves its groups and its
// Redis session is deleted.
func (s *Server) SetOnDisconnect(fn func(connID string)) {
	s.onDisconnect = fn
}

// RemoveConnection removes a connection from the poller, the connection manager
// and all of its groups, and closes the underlying network connection. It is
// exported so that the heartbeat monitor can evict dead connections.
func (s *Server) RemoveConnection(c *Connection) {
	if s.poller != nil {
		if err := s.poller.Remove(c.Conn); err != nil {
			log.Printf("ws: %v", err)
		}
	}

	// Only the first of several racing removals proceeds.
	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Set(float64(s.conns.Count()))

	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}
	s.groups.LeaveAll(c.ID)

	if s.sessionStore != nil && c.UserID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.sessionStore.Delete(ctx, c.ID, c.UserID); err != nil {
			log.Printf("ws: failed to delete redis session for %s: %v", c.ID, err)
		}
	}

	log.Printf("ws: connection closed conn=%s user=%q (total=%d)", c.ID, c.UserID, s.conns.Count())
}

// SendMessage writes a WebSocket text frame to the connection identified by
// connID.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}
	return c.write(data, s.config.WriteTimeout)
}

// SendToConnection is SendMessage.
func (s *Server) SendToConnection(connID string, data []byte) error {
	return s.SendMessage(connID, data)
}

// SendToUser writes data to every live connection of userID. Write errors
// are ignored; failed connections are cleaned up by the read path.
func (s *Server) SendToUser(userID string, data []byte) {
	for _, c := range s.conns.ByUser(userID) {
		_ = c.write(data, s.config.WriteTimeout)
	}
}

// SendToGroups writes data once to every connection in the union of groups,
// skipping the excluded connections. Membership is snapshotted before any
// write, so no lock is held while writing.
func (s *Server) SendToGroups(groups []string, data []byte, exclude ...string) {
	for _, id := range s.groups.Members(groups, exclude...) {
		c := s.conns.Get(id)
		if c == nil {
			continue
		}
		_ = c.write(data, s.config.WriteTimeout)
	}
}

// JoinGroup adds a live connection to a broadcast group.
func (s *Server) JoinGroup(connID, group string) {
	if s.conns.Get(connID) == nil {
		return
	}
	s.groups.Join(connID, group)
	// RemoveConnection drops the connection before LeaveAll; if it is
	// already gone, LeaveAll may have run before this join.
	if s.conns.Get(connID) == nil {
		s.groups.Leave(connID, group)
	}
}

// LeaveGroup removes a connection from a broadcast group.
func (s *Server) LeaveGroup(connID, group string) {
	s.groups.Leave(connID, group)
}

// UserOf returns the authenticated user of a live connection.
func (s *Server) UserOf(connID string) (string, bool) {
	return s.conns.UserOf(connID)
}

// Connections returns the ConnectionManager for external access to connection
// state (e.g., by the heartbeat).
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Groups returns the broadcast group registry.
func (s *Server) Groups() *GroupRegistry {
	return s.groups
}

// SessionStore returns the Redis session store, or nil.
func (s *Server) SessionStore() *session.Store {
	return s.sessionStore
}

// Shutdown performs a graceful shutdown of the server. It stops the HTTP
// listener, signals the event loop to exit, removes every connection through
// the normal disconnect path, and closes the poller.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("ws: shutting down server...")

	close(s.done)

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("ws: http shutdown error: %v", err)
		}
	}

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}

	if s.poller != nil {
		_ = s.poller.Close()
	}

	log.Printf("ws: server stopped, all connections closed")
	return nil
}
