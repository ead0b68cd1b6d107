//go:build !linux

package ws

import (
	"bufio"
	"net"
	"sync"
	"time"
)

// peekConn buffers reads so readiness can be detected with Peek without
// consuming frame bytes.
type peekConn struct {
	net.Conn
	br    *bufio.Reader
	rearm chan struct{}
}

func (c *peekConn) Read(b []byte) (int, error) { return c.br.Read(b) }

// goPoller is the portable poller: one goroutine per connection blocks in
// Peek and reports the connection once; it peeks again only after the
// worker called Done, so Peek and the worker's reads never overlap.
type goPoller struct {
	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	ready  chan net.Conn
	closed chan struct{}
	once   sync.Once
}

func newPoller() (poller, error) {
	return &goPoller{
		conns:  make(map[net.Conn]struct{}),
		ready:  make(chan net.Conn, 256),
		closed: make(chan struct{}),
	}, nil
}

func (p *goPoller) Prepare(conn net.Conn) net.Conn {
	return &peekConn{Conn: conn, br: bufio.NewReader(conn), rearm: make(chan struct{}, 1)}
}

func (p *goPoller) Add(conn net.Conn) error {
	pc, ok := conn.(*peekConn)
	if !ok {
		pc = p.Prepare(conn).(*peekConn)
	}
	p.mu.Lock()
	p.conns[conn] = struct{}{}
	p.mu.Unlock()
	go p.watch(conn, pc)
	return nil
}

func (p *goPoller) watch(conn net.Conn, pc *peekConn) {
	for {
		// A read error is reported as readiness too; the worker's read
		// then fails and removes the connection.
		_, err := pc.br.Peek(1)
		if !p.watching(conn) {
			return
		}
		select {
		case p.ready <- conn:
		case <-p.closed:
			return
		}
		if err != nil {
			return
		}
		select {
		case <-pc.rearm:
		case <-p.closed:
			return
		}
	}
}

func (p *goPoller) watching(conn net.Conn) bool {
	p.mu.Lock()
	_, ok := p.conns[conn]
	p.mu.Unlock()
	return ok
}

func (p *goPoller) Remove(conn net.Conn) error {
	p.mu.Lock()
	delete(p.conns, conn)
	p.mu.Unlock()
	p.Done(conn)
	return nil
}

func (p *goPoller) Wait(timeout time.Duration) ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-p.ready:
	case <-p.closed:
		return nil, net.ErrClosed
	case <-time.After(timeout):
		return nil, nil
	}

	ready := []net.Conn{first}
	for {
		select {
		case conn := <-p.ready:
			ready = append(ready, conn)
		default:
			return ready, nil
		}
	}
}

func (p *goPoller) Done(conn net.Conn) {
	if pc, ok := conn.(*peekConn); ok {
		select {
		case pc.rearm <- struct{}{}:
		default:
		}
	}
}

func (p *goPoller) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func socketFD(net.Conn) int { return -1 }
