package memnet

import (
	"fmt"
	"sync"

	"github.com/eapache/queue"
	"github.com/joeycumines/go-eventpoll"
)

// Listener accepts connections dialed to its address. It is readable
// whenever its backlog is non-empty.
type Listener struct {
	endpoint
	addr    string
	backlog *queue.Queue // of *Conn
	max     int
	mu      sync.Mutex
	closed  bool
}

// Listen creates a listener on addr, with up to backlog connections
// awaiting Accept (values <= 0 use a default).
func (x *Network) Listen(addr string, backlog int) (*Listener, error) {
	if backlog <= 0 {
		backlog = defaultBacklog
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.listeners[addr]; ok {
		return nil, fmt.Errorf(`%w: %q`, ErrAddrInUse, addr)
	}

	l := &Listener{
		endpoint: endpoint{net: x, id: x.allocID()},
		addr:     addr,
		backlog:  queue.New(),
		max:      backlog,
	}
	x.listeners[addr] = l

	x.logger.Debug().
		Str(`addr`, addr).
		Int(`id`, l.id).
		Log(`memnet listening`)

	return l, nil
}

// Dial connects to the listener on addr, completing the handshake
// immediately, and returns the client side.
func (x *Network) Dial(addr string) (*Conn, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	l, ok := x.listeners[addr]
	if !ok {
		return nil, fmt.Errorf(`%w: %q`, ErrRefused, addr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.backlog.Length() >= l.max {
		return nil, fmt.Errorf(`%w: %q`, ErrRefused, addr)
	}

	client, server := x.newConnPair()
	l.backlog.Add(server)
	l.update(l.state())

	return client, nil
}

// Addr returns the address the listener was created with.
func (x *Listener) Addr() string { return x.addr }

// Register registers the listener with the network's registrar, and
// notifies its current state.
func (x *Listener) Register(events eventpoll.Events, mode eventpoll.Mode) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrClosed
	}
	if err := x.register(events, mode); err != nil {
		return err
	}
	x.update(x.state())
	return nil
}

// Modify changes the registration, and re-notifies the current state.
func (x *Listener) Modify(events eventpoll.Events, mode eventpoll.Mode) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrClosed
	}
	if err := x.modify(events, mode); err != nil {
		return err
	}
	x.update(x.state())
	return nil
}

// Unregister removes the listener from the registrar.
func (x *Listener) Unregister() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.unregister()
}

// Accept returns the next pending connection, or ErrWouldBlock.
func (x *Listener) Accept() (*Conn, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil, ErrClosed
	}
	if x.backlog.Length() == 0 {
		return nil, eventpoll.ErrWouldBlock
	}

	c := x.backlog.Remove().(*Conn)
	x.update(x.state())
	return c, nil
}

// Reassert re-notifies the listener's current state, if it is
// level-triggered, or does nothing otherwise.
func (x *Listener) Reassert() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.mode.Edge() {
		x.update(x.state())
	}
}

// Close stops the listener, and closes any connections not yet accepted.
// The registration, if any, is left to the caller.
func (x *Listener) Close() error {
	x.net.mu.Lock()
	defer x.net.mu.Unlock()

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return ErrClosed
	}
	x.closed = true
	delete(x.net.listeners, x.addr)

	for x.backlog.Length() != 0 {
		_ = x.backlog.Remove().(*Conn).Close()
	}
	x.update(0)

	return nil
}

func (x *Listener) state() eventpoll.Events {
	if !x.closed && x.backlog.Length() != 0 {
		return eventpoll.EventRead
	}
	return 0
}
