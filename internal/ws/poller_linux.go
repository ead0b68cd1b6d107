//go:build linux

package ws

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux poller. Sockets are registered level-triggered,
// so a connection stays ready until its frame has been read; duplicate
// dispatch is filtered by Connection.processing.
type epollPoller struct {
	fd     int
	mu     sync.RWMutex
	byFd   map[int]net.Conn
	fds    map[net.Conn]int
	events []unix.EpollEvent
}

func newPoller() (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("ws: epoll_create1: %w", err)
	}
	return &epollPoller{
		fd:     fd,
		byFd:   make(map[int]net.Conn),
		fds:    make(map[net.Conn]int),
		events: make([]unix.EpollEvent, 256),
	}, nil
}

func (p *epollPoller) Prepare(conn net.Conn) net.Conn { return conn }

func (p *epollPoller) Add(conn net.Conn) error {
	fd := socketFD(conn)
	if fd < 0 {
		return fmt.Errorf("ws: epoll add: connection has no socket descriptor")
	}
	ev := &unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP, Fd: int32(fd)}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return fmt.Errorf("ws: epoll add fd=%d: %w", fd, err)
	}
	p.mu.Lock()
	p.byFd[fd] = conn
	p.fds[conn] = fd
	p.mu.Unlock()
	return nil
}

// Remove drops conn from the maps first, so a Wait racing the removal no
// longer reports it. The descriptor is looked up by connection because a
// closed connection can no longer report it.
func (p *epollPoller) Remove(conn net.Conn) error {
	p.mu.Lock()
	fd, registered := p.fds[conn]
	if registered {
		delete(p.fds, conn)
		delete(p.byFd, fd)
	}
	p.mu.Unlock()
	if !registered {
		return nil
	}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && !errors.Is(err, unix.EBADF) && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("ws: epoll del fd=%d: %w", fd, err)
	}
	return nil
}

func (p *epollPoller) Wait(timeout time.Duration) ([]net.Conn, error) {
	n, err := unix.EpollWait(p.fd, p.events, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("ws: epoll wait: %w", err)
	}

	ready := make([]net.Conn, 0, n)
	p.mu.RLock()
	for _, ev := range p.events[:n] {
		if conn, ok := p.byFd[int(ev.Fd)]; ok {
			ready = append(ready, conn)
		}
	}
	p.mu.RUnlock()
	return ready, nil
}

func (p *epollPoller) Done(net.Conn) {}

func (p *epollPoller) Close() error {
	p.mu.Lock()
	p.byFd = make(map[int]net.Conn)
	p.fds = make(map[net.Conn]int)
	p.mu.Unlock()
	return unix.Close(p.fd)
}

// socketFD returns the descriptor behind conn without dup'ing it, or -1.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	if err := raw.Control(func(s uintptr) { fd = int(s) }); err != nil {
		return -1
	}
	return fd
}
