// Package memnet is an in-memory, non-blocking stream transport, which acts
// as a readiness producer for an [eventpoll.Registrar].
//
// Notifications are raised at the points a TCP stack would wake an epoll
// instance: a completed handshake makes a [Listener] readable, arriving data
// makes a [Conn] readable, the peer closing makes it readable with
// [eventpoll.EventReadHangup], and freed receive window makes the peer
// writable.
//
// Each endpoint honors the mode it was registered with. In edge-triggered
// mode, only transitions into a ready state are notified, so consumers must
// call Read, Write, or Accept until they return [eventpoll.ErrWouldBlock].
// In level-triggered mode, every operation on the endpoint re-notifies any
// condition that still holds, and Reassert may be used to do so explicitly.
package memnet

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-eventpoll"
	"github.com/joeycumines/logiface"
)

var (
	// ErrClosed is returned by operations on a closed endpoint.
	ErrClosed = errors.New("memnet: use of closed endpoint")

	// ErrPeerClosed is returned by Write once the peer has closed.
	ErrPeerClosed = errors.New("memnet: peer closed")

	// ErrRefused is returned by Dial if nothing is listening on the
	// address, or its backlog is full.
	ErrRefused = errors.New("memnet: connection refused")

	// ErrAddrInUse is returned by Listen if the address is taken.
	ErrAddrInUse = errors.New("memnet: address in use")
)

const (
	defaultWindow  = 64 << 10
	defaultBacklog = 128
)

type networkOptions struct {
	logger *logiface.Logger[logiface.Event]
	window int
	baseID int
}

// Option configures a Network.
type Option interface {
	applyOption(*networkOptions) error
}

type optionImpl struct {
	applyOptionFunc func(*networkOptions) error
}

func (o *optionImpl) applyOption(opts *networkOptions) error {
	return o.applyOptionFunc(opts)
}

// WithLogger sets the structured logger, nil (the default) disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *networkOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithWindow sets the per-connection receive buffer size, in bytes. Writes
// that would exceed the peer's window are short, with ErrWouldBlock.
func WithWindow(size int) Option {
	return &optionImpl{func(opts *networkOptions) error {
		if size <= 0 {
			return fmt.Errorf(`%w: memnet window %d`, eventpoll.ErrInvalidArgument, size)
		}
		opts.window = size
		return nil
	}}
}

// WithBaseID sets the first id allocated to endpoints, which is useful if
// the registrar is shared with other id spaces (e.g. file descriptors).
func WithBaseID(id int) Option {
	return &optionImpl{func(opts *networkOptions) error {
		opts.baseID = id
		return nil
	}}
}

// Network is a namespace of listeners, sharing one Registrar.
type Network struct {
	registrar eventpoll.Registrar
	logger    *logiface.Logger[logiface.Event]
	listeners map[string]*Listener
	window    int
	nextID    atomic.Int64
	mu        sync.Mutex
}

// New initializes a Network, which will notify registrar.
func New(registrar eventpoll.Registrar, opts ...Option) (*Network, error) {
	if registrar == nil {
		return nil, fmt.Errorf(`%w: nil registrar`, eventpoll.ErrInvalidArgument)
	}
	cfg := networkOptions{window: defaultWindow, baseID: 1}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyOption(&cfg); err != nil {
			return nil, err
		}
	}
	x := &Network{
		registrar: registrar,
		logger:    cfg.logger,
		listeners: make(map[string]*Listener),
		window:    cfg.window,
	}
	x.nextID.Store(int64(cfg.baseID))
	return x, nil
}

func (x *Network) allocID() int { return int(x.nextID.Add(1) - 1) }

// endpoint is the registration state shared by listeners and conns. All
// methods must be called holding the owner's lock.
type endpoint struct {
	net        *Network
	id         int
	mode       eventpoll.Mode
	last       eventpoll.Events
	registered bool
}

// ID returns the id used to register the endpoint.
func (x *endpoint) ID() int { return x.id }

func (x *endpoint) register(events eventpoll.Events, mode eventpoll.Mode) error {
	if x.registered {
		return eventpoll.ErrAlreadyRegistered
	}
	if err := x.net.registrar.Register(x.id, events, mode); err != nil {
		return err
	}
	x.registered = true
	x.mode = mode
	x.last = 0
	return nil
}

func (x *endpoint) modify(events eventpoll.Events, mode eventpoll.Mode) error {
	if !x.registered {
		return eventpoll.ErrNotRegistered
	}
	if err := x.net.registrar.Modify(x.id, events, mode); err != nil {
		return err
	}
	x.mode = mode
	x.last = 0
	return nil
}

func (x *endpoint) unregister() error {
	if !x.registered {
		return eventpoll.ErrNotRegistered
	}
	x.registered = false
	return x.net.registrar.Unregister(x.id)
}

// update publishes the endpoint's current readiness: rising edges only in
// edge-triggered mode, otherwise every condition that holds.
func (x *endpoint) update(state eventpoll.Events) {
	last := x.last
	x.last = state
	if !x.registered {
		return
	}

	notify := state
	if x.mode.Edge() {
		notify &^= last
	}
	if notify == 0 {
		return
	}

	if err := x.net.registrar.NotifyReady(x.id, notify); err != nil &&
		!errors.Is(err, eventpoll.ErrNotRegistered) &&
		!errors.Is(err, eventpoll.ErrClosed) {
		x.net.logger.Warning().
			Err(err).
			Int(`id`, x.id).
			Stringer(`events`, notify).
			Log(`memnet notify failed`)
	}
}
