//go:build !linux

package fdsource

import (
	"context"

	"github.com/joeycumines/go-eventpoll"
)

// Source is unavailable on this platform, see ErrNotSupported.
type Source struct{}

// New always returns ErrNotSupported.
func New(eventpoll.Registrar, ...Option) (*Source, error) {
	return nil, ErrNotSupported
}

func (*Source) Add(int, eventpoll.Events, eventpoll.Mode) error    { return ErrNotSupported }
func (*Source) Modify(int, eventpoll.Events, eventpoll.Mode) error { return ErrNotSupported }
func (*Source) Reassert(int) error                                 { return ErrNotSupported }
func (*Source) Remove(int) error                                   { return ErrNotSupported }
func (*Source) Run(context.Context) error                          { return ErrNotSupported }
func (*Source) Close() error                                       { return nil }
