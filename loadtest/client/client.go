// Package client provides a reusable WebSocket load test client for the
// Whisper realtime server. It connects using gobwas/ws (the same library the
// server uses), records the connection id from the connected handshake, and
// tracks per-connection performance metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ---------------------------------------------------------------------------
// Protocol message types (local equivalents of internal/protocol constants)
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinServer       = "join_server"
	TypeJoinChannel      = "join_channel"
	TypeTypingStart      = "typing_start"
	TypeTypingStop       = "typing_stop"
	TypeVoiceJoin        = "voice_join"
	TypeVoiceLeave       = "voice_leave"
	TypeVoiceMute        = "voice_mute"
	TypeScreenShareStart = "screen_share_start"
	TypeSetStatus        = "set_status"
	TypePing             = "ping"
)

// Server -> Client message types.
const (
	TypeConnected          = "connected"
	TypeUserStatusSnapshot = "user_status_snapshot"
	TypeUserOnline         = "user_online"
	TypeUserOffline        = "user_offline"
	TypeUserStatusChanged  = "user_status_changed"
	TypeUserTyping         = "user_typing"
	TypeChannelJoined      = "channel_joined"
	TypeAllUsersInVoice    = "all_users_in_voice_channel"
	TypeUserJoinedVoice    = "user_joined_voice_channel"
	TypeUserLeftVoice      = "user_left_voice_channel"
	TypeUserMuted          = "user_muted"
	TypeRateLimited        = "rate_limited"
	TypeError              = "error"
	TypePong               = "pong"
)

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	FirstMsgLatency  time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client represents a single simulated user connection to the Whisper server.
// It manages the WebSocket lifecycle and dispatches incoming messages to
// registered handlers.
type Client struct {
	conn       net.Conn
	mu         sync.Mutex
	metrics    Metrics
	handlersMu sync.RWMutex
	handlers   map[string]func(json.RawMessage)
	done       chan struct{}
	closeOnce  sync.Once
	firstMsg   time.Time

	idMu   sync.Mutex
	connID string
	userID string
}

// New creates a new load test client connected to the given WebSocket URL.
// The URL carries the credentials, e.g. ws://host/ws?token=... or
// ?user_id=... against a server running in insecure mode. A background
// goroutine begins reading messages immediately.
func New(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	// Start reading messages in background.
	go c.readLoop()

	return c, nil
}

// Send sends a JSON message to the server. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.MessagesSent++
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// On registers a handler for a specific server message type. The handler
// receives the full raw JSON of the message for flexible decoding.
// Handlers are invoked from the read loop goroutine so they should not block
// for extended periods. Only one handler per message type is supported;
// registering a second handler for the same type replaces the first.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.handlersMu.Lock()
	c.handlers[msgType] = handler
	c.handlersMu.Unlock()
}

// WaitForConnected blocks until the server has sent the connected handshake
// or the context is cancelled.
func (c *Client) WaitForConnected(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return fmt.Errorf("connection closed before the connected handshake")
		case <-ticker.C:
			if c.ConnectionID() != "" {
				return nil
			}
		}
	}
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// ConnectionID returns the connection id assigned by the server, or an empty
// string if the handshake has not completed yet.
func (c *Client) ConnectionID() string {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	return c.connID
}

// UserID returns the user the server authenticated this connection as.
func (c *Client) UserID() string {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	return c.userID
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// readLoop continuously reads WebSocket frames from the server and dispatches
// them to registered handlers. It runs until the connection is closed or an
// unrecoverable error occurs.
func (c *Client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Connection was intentionally closed; do not count as error.
				return
			default:
			}
			c.mu.Lock()
			c.metrics.Errors++
			c.mu.Unlock()
			return
		}

		// Track time of first message for FirstMsgLatency.
		c.mu.Lock()
		if c.firstMsg.IsZero() {
			c.firstMsg = time.Now()
			c.metrics.FirstMsgLatency = c.metrics.ConnectLatency + time.Since(c.firstMsg)
		}
		c.metrics.MessagesReceived++
		c.mu.Unlock()

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		if envelope.Type == TypeConnected {
			var msg struct {
				ConnectionID string `json:"connection_id"`
				UserID       string `json:"user_id"`
			}
			if err := json.Unmarshal(data, &msg); err == nil {
				c.idMu.Lock()
				c.connID = msg.ConnectionID
				c.userID = msg.UserID
				c.idMu.Unlock()
			}
		}

		// Dispatch to registered handler if one exists.
		c.handlersMu.RLock()
		handler, ok := c.handlers[envelope.Type]
		c.handlersMu.RUnlock()
		if ok {
			handler(json.RawMessage(data))
		}
	}
}
