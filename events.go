// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventpoll

import (
	"strconv"
	"strings"
	"time"
)

// Events is a bitmask of readiness event kinds.
type Events uint32

const (
	// EventRead indicates the descriptor is ready for reading.
	EventRead Events = 1 << iota
	// EventWrite indicates the descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the descriptor.
	EventError
	// EventHangup indicates the descriptor was hung up.
	EventHangup
	// EventPriority indicates urgent (out-of-band) data is available.
	EventPriority
	// EventReadHangup indicates the peer closed its writing half.
	EventReadHangup

	// AllEvents is the union of every supported event kind.
	AllEvents = EventRead | EventWrite | EventError | EventHangup | EventPriority | EventReadHangup
)

var eventNames = [...]struct {
	event Events
	name  string
}{
	{EventRead, `READ`},
	{EventWrite, `WRITE`},
	{EventError, `ERROR`},
	{EventHangup, `HUP`},
	{EventPriority, `PRI`},
	{EventReadHangup, `RDHUP`},
}

// Valid returns true if the mask is non-empty and contains only supported
// event kinds.
func (x Events) Valid() bool {
	return x != 0 && x&^AllEvents == 0
}

// String renders the mask as names joined by "|", e.g. "READ|WRITE".
func (x Events) String() string {
	if x == 0 {
		return `NONE`
	}
	var b strings.Builder
	for _, v := range eventNames {
		if x&v.event == 0 {
			continue
		}
		if b.Len() != 0 {
			b.WriteByte('|')
		}
		b.WriteString(v.name)
		x &^= v.event
	}
	if x != 0 {
		if b.Len() != 0 {
			b.WriteByte('|')
		}
		b.WriteString(`0x`)
		b.WriteString(strconv.FormatUint(uint64(x), 16))
	}
	return b.String()
}

// Mode selects the triggering behavior of a registration.
//
// The zero value is LevelTriggered. EdgeTriggered and OneShot are flags, and
// may be combined.
type Mode uint8

const (
	// LevelTriggered is the default mode. The producer re-notifies for as
	// long as the underlying condition holds, after each consumption.
	LevelTriggered Mode = 0

	// EdgeTriggered means the producer notifies only on a transition into
	// the ready state. Consumers must exhaust the resource (until it reports
	// ErrWouldBlock) on each event, or risk never being notified again.
	EdgeTriggered Mode = 1 << (iota - 1)

	// OneShot disarms the registration after one event has been drained.
	// Notifications are suppressed until the registration is re-armed, by
	// Modify.
	OneShot

	validModes = EdgeTriggered | OneShot
)

// Valid returns true if the mode contains only supported flags.
func (x Mode) Valid() bool { return x&^validModes == 0 }

// Edge returns true if EdgeTriggered is set.
func (x Mode) Edge() bool { return x&EdgeTriggered != 0 }

// OneShot returns true if OneShot is set.
func (x Mode) OneShot() bool { return x&OneShot != 0 }

func (x Mode) String() string {
	var s string
	if x.Edge() {
		s = `EDGE`
	} else {
		s = `LEVEL`
	}
	if x.OneShot() {
		s += `|ONESHOT`
	}
	if x&^validModes != 0 {
		s += `|0x` + strconv.FormatUint(uint64(x&^validModes), 16)
	}
	return s
}

// Event is a single readiness event, as delivered to consumers.
type Event struct {
	ID     int
	Events Events
}

// WaitOutcome is the result of a successful wait.
type WaitOutcome int

const (
	// TimedOut means the wait ended without any ready descriptors.
	TimedOut WaitOutcome = iota
	// Ready means at least one descriptor was ready when the wait ended.
	Ready
)

func (x WaitOutcome) String() string {
	switch x {
	case TimedOut:
		return `TimedOut`
	case Ready:
		return `Ready`
	default:
		return `WaitOutcome(` + strconv.Itoa(int(x)) + `)`
	}
}

// Infinite may be passed as a timeout, to wait with no upper bound.
// Any negative duration has the same meaning.
const Infinite time.Duration = -1
