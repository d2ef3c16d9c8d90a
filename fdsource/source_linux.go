//go:build linux

package fdsource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-eventpoll"
	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

type registration struct {
	events eventpoll.Events
	mode   eventpoll.Mode
}

// Source is an epoll instance, forwarding kernel readiness to a
// Registrar. Instances must be initialized using New.
type Source struct {
	target   eventpoll.Registrar
	logger   *logiface.Logger[logiface.Event]
	fds      map[int]registration
	eventBuf []unix.EpollEvent
	epfd     int
	wakeFd   int
	// mu guards fds and released, and serializes epoll_ctl calls with
	// releasing the descriptors
	mu       sync.RWMutex
	once     sync.Once
	released bool
	running  atomic.Bool
	closed   atomic.Bool
}

// New creates an epoll instance, with an eventfd used to interrupt Run.
func New(target eventpoll.Registrar, opts ...Option) (*Source, error) {
	if target == nil {
		return nil, fmt.Errorf(`%w: nil target`, eventpoll.ErrInvalidArgument)
	}

	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf(`fdsource: epoll_create1: %w`, err)
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf(`fdsource: eventfd: %w`, err)
	}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFd),
	}); err != nil {
		_ = unix.Close(wakeFd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf(`fdsource: epoll add wake fd: %w`, err)
	}

	return &Source{
		target:   target,
		logger:   cfg.logger,
		fds:      make(map[int]registration),
		eventBuf: make([]unix.EpollEvent, cfg.maxEvents),
		epfd:     epfd,
		wakeFd:   wakeFd,
	}, nil
}

// Add registers fd with the target and the kernel. If the kernel rejects
// fd (e.g. it is a regular file), the target registration is rolled back.
func (s *Source) Add(fd int, events eventpoll.Events, mode eventpoll.Mode) error {
	if fd < 0 {
		return fmt.Errorf(`%w: fd %d`, eventpoll.ErrInvalidArgument, fd)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return eventpoll.ErrClosed
	}
	if fd == s.wakeFd {
		return fmt.Errorf(`%w: fd %d is internal`, eventpoll.ErrInvalidArgument, fd)
	}
	if _, ok := s.fds[fd]; ok {
		return eventpoll.ErrAlreadyRegistered
	}

	if err := s.target.Register(fd, events, mode); err != nil {
		return err
	}

	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: eventsToEpoll(events, mode),
		Fd:     int32(fd),
	}); err != nil {
		_ = s.target.Unregister(fd) // rollback
		return fmt.Errorf(`fdsource: epoll add fd %d: %w`, fd, err)
	}

	s.fds[fd] = registration{events: events, mode: mode}

	s.logger.Debug().
		Int(`fd`, fd).
		Stringer(`events`, events).
		Stringer(`mode`, mode).
		Log(`fd added`)

	return nil
}

// Modify updates the target registration, then re-arms fd in the kernel.
// If the kernel rejects the change (e.g. fd was closed), the target is
// restored to the previous registration.
func (s *Source) Modify(fd int, events eventpoll.Events, mode eventpoll.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return eventpoll.ErrClosed
	}
	prev, ok := s.fds[fd]
	if !ok {
		return eventpoll.ErrNotRegistered
	}

	if err := s.target.Modify(fd, events, mode); err != nil {
		return err
	}

	if err := s.epollMod(fd, events, mode); err != nil {
		if rbErr := s.target.Modify(fd, prev.events, prev.mode); rbErr != nil {
			s.logger.Warning().
				Err(rbErr).
				Int(`fd`, fd).
				Log(`failed to restore registration`)
		}
		return err
	}

	s.fds[fd] = registration{events: events, mode: mode}
	return nil
}

// Reassert re-arms fd in the kernel, with its current registration, which
// causes it to be reported again if it is still ready.
func (s *Source) Reassert(fd int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed.Load() {
		return eventpoll.ErrClosed
	}
	reg, ok := s.fds[fd]
	if !ok {
		return eventpoll.ErrNotRegistered
	}
	return s.epollMod(fd, reg.events, reg.mode)
}

func (s *Source) epollMod(fd int, events eventpoll.Events, mode eventpoll.Mode) error {
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: eventsToEpoll(events, mode),
		Fd:     int32(fd),
	}); err != nil {
		return fmt.Errorf(`fdsource: epoll mod fd %d: %w`, fd, err)
	}
	return nil
}

// Remove deregisters fd from the kernel and the target. It tolerates fd
// having already been closed, since the kernel drops closed descriptors.
//
// As with any poller, an event read by Run before Remove may still be
// forwarded. Usually the target rejects it with ErrNotRegistered, but if fd
// is closed, and the number reused by a new Add, the stale event is
// delivered to the new registration. Consumers must therefore tolerate
// spurious readiness, which non-blocking operations report as EAGAIN.
func (s *Source) Remove(fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return eventpoll.ErrClosed
	}
	if _, ok := s.fds[fd]; !ok {
		return eventpoll.ErrNotRegistered
	}
	delete(s.fds, fd)

	var epErr error
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil &&
		!errors.Is(err, unix.EBADF) &&
		!errors.Is(err, unix.ENOENT) {
		epErr = fmt.Errorf(`fdsource: epoll del fd %d: %w`, fd, err)
	}

	if err := s.target.Unregister(fd); err != nil {
		return err
	}

	s.logger.Debug().
		Int(`fd`, fd).
		Log(`fd removed`)

	return epErr
}

// Run forwards kernel readiness to the target until ctx is done, returning
// ctx.Err(), or the Source is closed, returning ErrClosed. Only one Run may
// be active at a time.
func (s *Source) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer func() {
		s.running.Store(false)
		if s.closed.Load() {
			s.release()
		}
	}()

	stop := context.AfterFunc(ctx, s.wake)
	defer stop()

	for {
		if s.closed.Load() {
			return eventpoll.ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := unix.EpollWait(s.epfd, s.eventBuf, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if s.closed.Load() {
				return eventpoll.ErrClosed
			}
			return fmt.Errorf(`fdsource: epoll_wait: %w`, err)
		}

		if err := s.dispatch(n); err != nil {
			return err
		}
	}
}

func (s *Source) dispatch(n int) error {
	for i := 0; i < n; i++ {
		fd := int(s.eventBuf[i].Fd)
		if fd == s.wakeFd {
			s.drainWake()
			continue
		}

		events := epollToEvents(s.eventBuf[i].Events)
		if events == 0 {
			continue
		}

		switch err := s.target.NotifyReady(fd, events); {
		case err == nil:
		case errors.Is(err, eventpoll.ErrNotRegistered):
			// raced with Remove
			s.logger.Debug().
				Int(`fd`, fd).
				Stringer(`events`, events).
				Log(`event for removed fd`)
		case errors.Is(err, eventpoll.ErrClosed):
			return err
		default:
			s.logger.Warning().
				Err(err).
				Int(`fd`, fd).
				Log(`notify failed`)
		}
	}
	return nil
}

// Close stops Run, and releases the kernel resources, once Run has
// returned. The target is left untouched. Close is idempotent.
func (s *Source) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.wake()
	if !s.running.Load() {
		s.release()
	}
	return nil
}

func (s *Source) wake() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.released {
		return
	}
	var buf [8]byte
	buf[0] = 1
	// EAGAIN means the counter is saturated, which is still a wakeup
	_, _ = unix.Write(s.wakeFd, buf[:])
}

func (s *Source) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(s.wakeFd, buf[:]); err != nil {
			return
		}
	}
}

func (s *Source) release() {
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.released = true
		_ = unix.Close(s.wakeFd)
		_ = unix.Close(s.epfd)
		s.logger.Debug().
			Int(`fds`, len(s.fds)).
			Log(`fdsource released`)
	})
}

// eventsToEpoll converts a registration to epoll flags. Error and hangup
// conditions are always reported by the kernel.
func eventsToEpoll(events eventpoll.Events, mode eventpoll.Mode) uint32 {
	var epollEvents uint32
	if events&eventpoll.EventRead != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&eventpoll.EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	if events&eventpoll.EventPriority != 0 {
		epollEvents |= unix.EPOLLPRI
	}
	if events&eventpoll.EventReadHangup != 0 {
		epollEvents |= unix.EPOLLRDHUP
	}
	if mode.Edge() {
		epollEvents |= unix.EPOLLET
	}
	if mode.OneShot() || !mode.Edge() {
		epollEvents |= unix.EPOLLONESHOT
	}
	return epollEvents
}

// epollToEvents converts epoll event flags to Events.
func epollToEvents(epollEvents uint32) eventpoll.Events {
	var events eventpoll.Events
	if epollEvents&unix.EPOLLIN != 0 {
		events |= eventpoll.EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= eventpoll.EventWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= eventpoll.EventError
	}
	if epollEvents&unix.EPOLLHUP != 0 {
		events |= eventpoll.EventHangup
	}
	if epollEvents&unix.EPOLLPRI != 0 {
		events |= eventpoll.EventPriority
	}
	if epollEvents&unix.EPOLLRDHUP != 0 {
		events |= eventpoll.EventReadHangup
	}
	return events
}
