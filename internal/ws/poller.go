package ws

import (
	"net"
	"time"
)

// pollInterval bounds a single Wait so the event loop notices shutdown.
const pollInterval = 500 * time.Millisecond

// poller reports which registered connections have a frame ready to read.
// Wait is called from a single goroutine; the other methods may be called
// concurrently with it.
type poller interface {
	// Prepare is called once, right after the upgrade, and returns the
	// connection the server must use from then on.
	Prepare(conn net.Conn) net.Conn
	// Add starts watching conn for readability.
	Add(conn net.Conn) error
	// Remove stops watching conn.
	Remove(conn net.Conn) error
	// Wait returns the ready connections, or none after timeout.
	Wait(timeout time.Duration) ([]net.Conn, error)
	// Done tells the poller that the worker for conn has finished reading.
	Done(conn net.Conn)
	Close() error
}
