// Package eventpoll provides a user-space readiness registry, modelled on
// epoll(7), for transports that are not backed by kernel file descriptors.
//
// # Architecture
//
// An [EventPoll] combines three structures:
//   - the interest registry, an ordered map from id to registration, holding
//     the interest mask and [Mode] of each id
//   - the ready queue, a FIFO of ids with pending events, where each id
//     appears at most once, and repeated notifications are merged
//   - the wait gate, which parks consumers until the ready queue is
//     non-empty, a timeout elapses, or the instance is closed
//
// Producers (transports) call [EventPoll.NotifyReady]. Consumers call
// [EventPoll.Wait] (or [EventPoll.WaitContext]) followed by
// [EventPoll.Drain], or the combined [EventPoll.WaitEvents].
//
// # Producer Contract
//
// The registry does not observe the underlying resource, so the triggering
// mode is a contract between producer and consumer:
//   - [LevelTriggered]: the producer must call NotifyReady again after each
//     consumption, for as long as the condition still holds (e.g. unread
//     bytes remain after a read)
//   - [EdgeTriggered]: the producer calls NotifyReady only on a transition
//     into the ready state (e.g. the receive buffer becoming non-empty), and
//     the consumer must consume until the transport reports
//     [ErrWouldBlock]
//   - [OneShot]: after one event is drained, notifications are suppressed
//     until the registration is re-armed with [EventPoll.Modify]
//
// The memnet sub-package is an in-memory transport that implements this
// contract, and fdsource bridges kernel descriptors on Linux.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Internally, the registry lock is
// always taken before the ready queue lock, and consumers draining the
// queue take only the latter. Waiters are woken by broadcast, after all
// locks have been released, so any number of consumers may share an
// instance. Each queued event is delivered to exactly one consumer.
//
// # Usage
//
//	poll, err := eventpoll.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer poll.Close()
//
//	if err := poll.Register(5, eventpoll.EventRead, eventpoll.LevelTriggered); err != nil {
//	    log.Fatal(err)
//	}
//
//	// elsewhere, in a transport
//	_ = poll.NotifyReady(5, eventpoll.EventRead)
//
//	events := make([]eventpoll.Event, 64)
//	n, err := poll.WaitEvents(events, eventpoll.Infinite)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, ev := range events[:n] {
//	    // handle ev.ID, ev.Events
//	}
package eventpoll
