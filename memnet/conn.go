package memnet

import (
	"io"
	"sync"

	"github.com/joeycumines/go-eventpoll"
)

// pipe is the state shared by both sides of a connection.
type pipe struct {
	mu     sync.Mutex
	window int
}

// Conn is one side of an in-memory stream connection. All methods are
// non-blocking, and safe for concurrent use.
type Conn struct {
	endpoint
	pipe *pipe
	peer *Conn
	rx   buffer
	// closed is set by Close, eof once the peer has closed
	closed bool
	eof    bool
}

func (x *Network) newConnPair() (client, server *Conn) {
	p := &pipe{window: x.window}
	client = &Conn{endpoint: endpoint{net: x, id: x.allocID()}, pipe: p, rx: newBuffer()}
	server = &Conn{endpoint: endpoint{net: x, id: x.allocID()}, pipe: p, rx: newBuffer()}
	client.peer = server
	server.peer = client
	x.logger.Debug().
		Int(`client`, client.id).
		Int(`server`, server.id).
		Log(`memnet connected`)
	return client, server
}

// Register registers the conn with the network's registrar, and notifies
// its current state.
func (x *Conn) Register(events eventpoll.Events, mode eventpoll.Mode) error {
	x.pipe.mu.Lock()
	defer x.pipe.mu.Unlock()
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
func (x *Conn) Modify(events eventpoll.Events, mode eventpoll.Mode) error {
	x.pipe.mu.Lock()
	defer x.pipe.mu.Unlock()
	if x.closed {
		return ErrClosed
	}
	if err := x.modify(events, mode); err != nil {
		return err
	}
	x.update(x.state())
	return nil
}

// Unregister removes the conn from the registrar.
func (x *Conn) Unregister() error {
	x.pipe.mu.Lock()
	defer x.pipe.mu.Unlock()
	return x.unregister()
}

// Read reads buffered data. It returns ErrWouldBlock if nothing is
// buffered, or io.EOF once the buffer is empty and the peer has closed.
func (x *Conn) Read(p []byte) (int, error) {
	x.pipe.mu.Lock()
	defer x.pipe.mu.Unlock()

	if x.closed {
		return 0, ErrClosed
	}
	if x.rx.size == 0 {
		if x.eof {
			return 0, io.EOF
		}
		return 0, eventpoll.ErrWouldBlock
	}
	if len(p) == 0 {
		return 0, nil
	}

	n := x.rx.read(p)
	x.update(x.state())
	// window space freed
	x.peer.update(x.peer.state())
	return n, nil
}

// Write buffers as much of p as fits in the peer's receive window. If not
// all of p fits, it returns the number written, and ErrWouldBlock.
func (x *Conn) Write(p []byte) (int, error) {
	x.pipe.mu.Lock()
	defer x.pipe.mu.Unlock()

	if x.closed {
		return 0, ErrClosed
	}
	if x.eof {
		return 0, ErrPeerClosed
	}

	n := min(len(p), x.pipe.window-x.peer.rx.size)
	if n > 0 {
		x.peer.rx.write(p[:n])
		x.peer.update(x.peer.state())
	}
	x.update(x.state())

	if n < len(p) {
		return n, eventpoll.ErrWouldBlock
	}
	return n, nil
}

// Buffered returns the number of bytes available to Read.
func (x *Conn) Buffered() int {
	x.pipe.mu.Lock()
	defer x.pipe.mu.Unlock()
	return x.rx.size
}

// Reassert re-notifies the conn's current state, if it is level-triggered,
// or does nothing otherwise.
func (x *Conn) Reassert() {
	x.pipe.mu.Lock()
	defer x.pipe.mu.Unlock()
	if !x.mode.Edge() {
		x.update(x.state())
	}
}

// Close closes both directions, discarding unread data. The peer observes
// end of stream, and read hangup. The registration, if any, is left to the
// caller.
func (x *Conn) Close() error {
	x.pipe.mu.Lock()
	defer x.pipe.mu.Unlock()

	if x.closed {
		return ErrClosed
	}
	x.closed = true
	x.rx.reset()
	x.update(0)

	if !x.peer.closed {
		x.peer.eof = true
		x.peer.update(x.peer.state())
	}

	return nil
}

// state must be called holding pipe.mu.
func (x *Conn) state() eventpoll.Events {
	if x.closed {
		return 0
	}
	var state eventpoll.Events
	if x.rx.size != 0 || x.eof {
		state |= eventpoll.EventRead
	}
	if x.eof {
		// writes fail immediately, rather than blocking
		state |= eventpoll.EventWrite | eventpoll.EventReadHangup
	} else if x.peer.rx.size < x.pipe.window {
		state |= eventpoll.EventWrite
	}
	return state
}
