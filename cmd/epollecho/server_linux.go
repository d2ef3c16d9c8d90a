//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/joeycumines/go-eventpoll"
	"github.com/joeycumines/go-eventpoll/fdsource"
	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

// server is the single-threaded echo loop: the listener is level-triggered,
// and each client is edge-triggered, read until EAGAIN. Output the kernel
// will not take is queued per client, and flushed on EventWrite.
type server struct {
	poll        *eventpoll.EventPoll
	source      *fdsource.Source
	logger      *logiface.Logger[logiface.Event]
	clients     map[int]*client
	buf         []byte
	events      []eventpoll.Event
	lfd         int
	maxPending  int
	waitTimeout time.Duration
}

// client is the per-connection state.
type client struct {
	// out[off:] is waiting to be written
	out     []byte
	off     int
	fd      int
	eof     bool
	writing bool
}

func (x *client) pending() int { return len(x.out) - x.off }

func listenTCP4(addr netip.AddrPort) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf(`socket: %w`, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf(`setsockopt: %w`, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: int(addr.Port()), Addr: addr.Addr().As4()}); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf(`bind %s: %w`, addr, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf(`listen: %w`, err)
	}
	return fd, nil
}

func boundAddr(fd int) (netip.AddrPort, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return netip.AddrPort{}, err
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return netip.AddrPort{}, fmt.Errorf(`unexpected sockaddr %T`, sa)
	}
	return netip.AddrPortFrom(netip.AddrFrom4(sa4.Addr), uint16(sa4.Port)), nil
}

// newServer takes ownership of lfd, registering it with source.
func newServer(poll *eventpoll.EventPoll, source *fdsource.Source, logger *logiface.Logger[logiface.Event], lfd int, opts *options) (*server, error) {
	if err := source.Add(lfd, eventpoll.EventRead, eventpoll.LevelTriggered); err != nil {
		_ = unix.Close(lfd)
		return nil, err
	}
	return &server{
		poll:        poll,
		source:      source,
		logger:      logger,
		clients:     make(map[int]*client),
		buf:         make([]byte, 64<<10),
		events:      make([]eventpoll.Event, opts.maxEvents),
		lfd:         lfd,
		maxPending:  opts.maxPending,
		waitTimeout: opts.waitTimeout,
	}, nil
}

// serve runs until ctx is done, or the poll is closed.
func (x *server) serve(ctx context.Context) error {
	for ctx.Err() == nil {
		n, err := x.poll.WaitEvents(x.events, x.waitTimeout)
		if err != nil {
			if errors.Is(err, eventpoll.ErrClosed) {
				return nil
			}
			return err
		}
		for _, ev := range x.events[:n] {
			if ev.ID == x.lfd {
				x.accept()
			} else {
				x.handle(ev)
			}
		}
	}
	return nil
}

func (x *server) accept() {
	for {
		fd, _, err := unix.Accept4(x.lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.ECONNABORTED) {
				continue
			}
			if !errors.Is(err, unix.EAGAIN) {
				x.logger.Warning().
					Err(err).
					Log(`accept failed`)
			}
			break
		}

		if err := x.source.Add(fd, eventpoll.EventRead|eventpoll.EventReadHangup, eventpoll.EdgeTriggered); err != nil {
			x.logger.Err().
				Err(err).
				Int(`fd`, fd).
				Log(`failed to add client`)
			_ = unix.Close(fd)
			continue
		}
		x.clients[fd] = &client{fd: fd}

		x.logger.Debug().
			Int(`fd`, fd).
			Int(`clients`, len(x.clients)).
			Log(`client connected`)
	}

	// reported again if the backlog is still non-empty
	if err := x.source.Reassert(x.lfd); err != nil {
		x.logger.Err().
			Err(err).
			Log(`failed to re-arm listener`)
	}
}

func (x *server) handle(ev eventpoll.Event) {
	c, ok := x.clients[ev.ID]
	if !ok {
		return
	}

	if ev.Events&(eventpoll.EventError|eventpoll.EventHangup) != 0 {
		x.closeClient(c)
		return
	}

	if err := x.flush(c); err != nil {
		x.logger.Debug().
			Err(err).
			Int(`fd`, c.fd).
			Log(`echo failed`)
		x.closeClient(c)
		return
	}

	// reading stops while too much output is pending, and resumes on a
	// later EventWrite, once the client has caught up
	for !c.eof && c.pending() < x.maxPending {
		n, err := unix.Read(c.fd, x.buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				break
			}
			x.closeClient(c)
			return
		}
		if n == 0 {
			c.eof = true
			break
		}
		c.out = append(c.out, x.buf[:n]...)
		if err := x.flush(c); err != nil {
			x.logger.Debug().
				Err(err).
				Int(`fd`, c.fd).
				Log(`echo failed`)
			x.closeClient(c)
			return
		}
	}

	if c.eof && c.pending() == 0 {
		x.closeClient(c)
		return
	}

	if err := x.updateInterest(c); err != nil {
		x.logger.Err().
			Err(err).
			Int(`fd`, c.fd).
			Log(`failed to modify client`)
		x.closeClient(c)
	}
}

// flush writes pending output until it is exhausted, or the kernel send
// buffer is full. Any pending output left implies EAGAIN was observed, so
// an EventWrite edge will follow.
func (x *server) flush(c *client) error {
	for c.pending() != 0 {
		n, err := unix.Write(c.fd, c.out[c.off:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				c.out = c.out[:copy(c.out, c.out[c.off:])]
				c.off = 0
				return nil
			}
			return err
		}
		c.off += n
	}
	c.out = c.out[:0]
	c.off = 0
	return nil
}

// updateInterest adds EventWrite while output is pending, and removes it
// once it is not.
func (x *server) updateInterest(c *client) error {
	writing := c.pending() != 0
	if writing == c.writing {
		return nil
	}
	events := eventpoll.EventRead | eventpoll.EventReadHangup
	if writing {
		events |= eventpoll.EventWrite
	}
	if err := x.source.Modify(c.fd, events, eventpoll.EdgeTriggered); err != nil {
		return err
	}
	c.writing = writing
	x.logger.Trace().
		Int(`fd`, c.fd).
		Int(`pending`, c.pending()).
		Bool(`writing`, writing).
		Log(`client interest changed`)
	return nil
}

func (x *server) closeClient(c *client) {
	if err := x.source.Remove(c.fd); err != nil && !errors.Is(err, eventpoll.ErrClosed) {
		x.logger.Warning().
			Err(err).
			Int(`fd`, c.fd).
			Log(`failed to remove client`)
	}
	_ = unix.Close(c.fd)
	delete(x.clients, c.fd)
	x.logger.Debug().
		Int(`fd`, c.fd).
		Int(`clients`, len(x.clients)).
		Int(`discarded`, c.pending()).
		Log(`client disconnected`)
}

// close releases every descriptor, and must be called after serve returns.
func (x *server) close() {
	for _, c := range x.clients {
		x.closeClient(c)
	}
	_ = x.source.Remove(x.lfd)
	_ = unix.Close(x.lfd)
}
