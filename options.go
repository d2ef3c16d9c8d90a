// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventpoll

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// defaultWarningRates limits repeated warnings of the same kind, e.g.
// notifications for ids that are not registered, which are expected while
// producers race with unregistration.
var defaultWarningRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

// epollOptions holds configuration options for EventPoll creation.
type epollOptions struct {
	logger  *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter
}

// Option configures an EventPoll instance.
type Option interface {
	applyOption(*epollOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyOptionFunc func(*epollOptions) error
}

func (o *optionImpl) applyOption(opts *epollOptions) error {
	return o.applyOptionFunc(opts)
}

// WithLogger sets the structured logger. Logging is disabled if logger is
// nil, which is the default.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *epollOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithWarningRateLimit configures per-category rate limits for warning
// logs, see [catrate.NewLimiter] for the format. A nil or empty map disables
// rate limiting. Invalid rates result in an error wrapping
// ErrInvalidArgument.
func WithWarningRateLimit(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *epollOptions) (err error) {
		if len(rates) == 0 {
			opts.limiter = nil
			return nil
		}
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf(`%w: warning rate limit: %v`, ErrInvalidArgument, r)
			}
		}()
		opts.limiter = catrate.NewLimiter(rates)
		return nil
	}}
}

// resolveOptions applies Option instances to epollOptions.
func resolveOptions(opts []Option) (*epollOptions, error) {
	cfg := &epollOptions{
		limiter: catrate.NewLimiter(defaultWarningRates),
	}
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
