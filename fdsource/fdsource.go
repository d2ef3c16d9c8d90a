// Package fdsource bridges kernel file descriptors into an
// [eventpoll.Registrar], using epoll(7) on Linux.
//
// A [Source] keeps kernel and user-space registrations in step, and its
// [Source.Run] loop forwards kernel readiness via NotifyReady, acting as the
// producer half of the readiness contract. Edge-triggered registrations map
// directly to EPOLLET. Level-triggered (and OneShot) registrations are armed
// one-shot in the kernel, and re-evaluated by [Source.Reassert], which the
// consumer must call once it has handled an event, if it wants to be
// notified again while the condition persists.
//
// Events may be spurious, e.g. after a descriptor number is reused, so
// consumers must rely on EAGAIN rather than on an event implying readiness.
package fdsource

import (
	"errors"

	"github.com/joeycumines/logiface"
)

var (
	// ErrNotSupported is returned on platforms without epoll.
	ErrNotSupported = errors.New("fdsource: not supported on this platform")

	// ErrRunning is returned by Run if it is already running.
	ErrRunning = errors.New("fdsource: already running")
)

// defaultMaxEvents is the epoll_wait batch size.
const defaultMaxEvents = 256

type sourceOptions struct {
	logger    *logiface.Logger[logiface.Event]
	maxEvents int
}

// Option configures a Source.
type Option interface {
	applyOption(*sourceOptions) error
}

type optionImpl struct {
	applyOptionFunc func(*sourceOptions) error
}

func (o *optionImpl) applyOption(opts *sourceOptions) error {
	return o.applyOptionFunc(opts)
}

// WithLogger sets the structured logger, nil (the default) disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *sourceOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithMaxEvents sets the maximum number of kernel events handled per
// epoll_wait call. Values <= 0 use the default.
func WithMaxEvents(n int) Option {
	return &optionImpl{func(opts *sourceOptions) error {
		if n <= 0 {
			n = defaultMaxEvents
		}
		opts.maxEvents = n
		return nil
	}}
}

func resolveOptions(opts []Option) (*sourceOptions, error) {
	cfg := &sourceOptions{maxEvents: defaultMaxEvents}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyOption(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
