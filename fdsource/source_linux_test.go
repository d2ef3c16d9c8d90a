//go:build linux

package fdsource

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/joeycumines/go-eventpoll"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type harness struct {
	poll   *eventpoll.EventPoll
	source *Source
	runErr chan error
	cancel context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	poll, err := eventpoll.New()
	require.NoError(t, err)

	source, err := New(poll, WithMaxEvents(8))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{poll: poll, source: source, runErr: make(chan error, 1), cancel: cancel}
	go func() { h.runErr <- source.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		_ = source.Close()
		_ = poll.Close()
	})
	return h
}

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func (h *harness) waitEvent(t *testing.T, timeout time.Duration) (eventpoll.Event, bool) {
	t.Helper()
	dst := make([]eventpoll.Event, 1)
	n, err := h.poll.WaitEvents(dst, timeout)
	require.NoError(t, err)
	return dst[0], n == 1
}

func TestSource_edgeTriggered(t *testing.T) {
	h := newHarness(t)
	r, w := newPipe(t)

	require.NoError(t, h.source.Add(r, eventpoll.EventRead, eventpoll.EdgeTriggered))

	_, err := unix.Write(w, []byte(`hello`))
	require.NoError(t, err)

	ev, ok := h.waitEvent(t, 5*time.Second)
	require.True(t, ok)
	assert.Equal(t, eventpoll.Event{ID: r, Events: eventpoll.EventRead}, ev)

	// consume until exhausted, as required in edge mode
	buf := make([]byte, 64)
	n, err := unix.Read(r, buf)
	require.NoError(t, err)
	assert.Equal(t, `hello`, string(buf[:n]))
	_, err = unix.Read(r, buf)
	assert.ErrorIs(t, err, unix.EAGAIN)

	// a new edge
	_, err = unix.Write(w, []byte(`again`))
	require.NoError(t, err)
	ev, ok = h.waitEvent(t, 5*time.Second)
	require.True(t, ok)
	assert.Equal(t, r, ev.ID)
}

func TestSource_levelTriggeredReassert(t *testing.T) {
	h := newHarness(t)
	r, w := newPipe(t)

	require.NoError(t, h.source.Add(r, eventpoll.EventRead, eventpoll.LevelTriggered))
	_, err := unix.Write(w, []byte(`ab`))
	require.NoError(t, err)

	ev, ok := h.waitEvent(t, 5*time.Second)
	require.True(t, ok)
	assert.Equal(t, r, ev.ID)

	// partially consume, the condition still holds
	buf := make([]byte, 1)
	_, err = unix.Read(r, buf)
	require.NoError(t, err)
	require.NoError(t, h.source.Reassert(r))

	ev, ok = h.waitEvent(t, 5*time.Second)
	require.True(t, ok)
	assert.Equal(t, r, ev.ID)

	_, err = unix.Read(r, buf)
	require.NoError(t, err)
	require.NoError(t, h.source.Reassert(r))

	_, ok = h.waitEvent(t, 50*time.Millisecond)
	assert.False(t, ok)
}

func TestSource_hangup(t *testing.T) {
	h := newHarness(t)
	r, w := newPipe(t)

	require.NoError(t, h.source.Add(r, eventpoll.EventRead|eventpoll.EventHangup, eventpoll.EdgeTriggered))
	require.NoError(t, unix.Close(w))

	ev, ok := h.waitEvent(t, 5*time.Second)
	require.True(t, ok)
	assert.Equal(t, r, ev.ID)
	assert.NotZero(t, ev.Events&eventpoll.EventHangup, ev.Events.String())
}

func TestSource_addRollback(t *testing.T) {
	h := newHarness(t)

	f, err := os.CreateTemp(t.TempDir(), `regular`)
	require.NoError(t, err)
	defer f.Close()

	// regular files are not pollable
	err = h.source.Add(int(f.Fd()), eventpoll.EventRead, eventpoll.LevelTriggered)
	require.ErrorIs(t, err, unix.EPERM)
	assert.Empty(t, h.poll.Interests())

	r, _ := newPipe(t)
	require.NoError(t, h.source.Add(r, eventpoll.EventRead, eventpoll.LevelTriggered))
	assert.ErrorIs(t, h.source.Add(r, eventpoll.EventRead, eventpoll.LevelTriggered), eventpoll.ErrAlreadyRegistered)
	assert.ErrorIs(t, h.source.Add(-1, eventpoll.EventRead, eventpoll.LevelTriggered), eventpoll.ErrInvalidArgument)
}

func TestSource_modifyRemove(t *testing.T) {
	h := newHarness(t)
	r, w := newPipe(t)

	require.NoError(t, h.source.Add(w, eventpoll.EventRead, eventpoll.EdgeTriggered))
	_, ok := h.waitEvent(t, 20*time.Millisecond)
	assert.False(t, ok)

	// an empty pipe is writable
	require.NoError(t, h.source.Modify(w, eventpoll.EventWrite, eventpoll.EdgeTriggered|eventpoll.OneShot))
	ev, ok := h.waitEvent(t, 5*time.Second)
	require.True(t, ok)
	assert.Equal(t, eventpoll.Event{ID: w, Events: eventpoll.EventWrite}, ev)

	require.NoError(t, h.source.Remove(w))
	assert.ErrorIs(t, h.source.Remove(w), eventpoll.ErrNotRegistered)
	assert.ErrorIs(t, h.source.Modify(w, eventpoll.EventWrite, eventpoll.LevelTriggered), eventpoll.ErrNotRegistered)
	assert.ErrorIs(t, h.source.Reassert(w), eventpoll.ErrNotRegistered)
	assert.Empty(t, h.poll.Interests())
	_ = r
}

func TestSource_modifyKernelFailureRestores(t *testing.T) {
	h := newHarness(t)

	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	r, w := fds[0], fds[1]
	defer unix.Close(w)

	require.NoError(t, h.source.Add(r, eventpoll.EventRead, eventpoll.EdgeTriggered))

	// the kernel drops closed descriptors, so MOD fails
	require.NoError(t, unix.Close(r))
	err := h.source.Modify(r, eventpoll.EventRead|eventpoll.EventWrite, eventpoll.LevelTriggered)
	require.ErrorIs(t, err, unix.EBADF)

	assert.Equal(t, []eventpoll.Interest{
		{ID: r, Events: eventpoll.EventRead, Mode: eventpoll.EdgeTriggered},
	}, h.poll.Interests())
	assert.Equal(t, registration{events: eventpoll.EventRead, mode: eventpoll.EdgeTriggered}, h.source.fds[r])

	require.NoError(t, h.source.Remove(r))
	assert.Empty(t, h.poll.Interests())
}

func TestSource_runStops(t *testing.T) {
	t.Run(`cancel`, func(t *testing.T) {
		h := newHarness(t)
		h.cancel()
		select {
		case err := <-h.runErr:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Fatal(`run did not stop`)
		}
	})

	t.Run(`close`, func(t *testing.T) {
		h := newHarness(t)
		require.Eventually(t, h.source.running.Load, 5*time.Second, time.Millisecond)
		require.NoError(t, h.source.Close())
		require.NoError(t, h.source.Close())
		select {
		case err := <-h.runErr:
			assert.ErrorIs(t, err, eventpoll.ErrClosed)
		case <-time.After(5 * time.Second):
			t.Fatal(`run did not stop`)
		}
		assert.ErrorIs(t, h.source.Add(0, eventpoll.EventRead, eventpoll.LevelTriggered), eventpoll.ErrClosed)
		assert.ErrorIs(t, h.source.Run(context.Background()), eventpoll.ErrClosed)
	})

	t.Run(`concurrent`, func(t *testing.T) {
		h := newHarness(t)
		require.Eventually(t, h.source.running.Load, 5*time.Second, time.Millisecond)
		err := h.source.Run(context.Background())
		assert.True(t, errors.Is(err, ErrRunning), err)
	})
}

func TestEpollConversion(t *testing.T) {
	assert.Equal(t, uint32(unix.EPOLLIN|unix.EPOLLONESHOT), eventsToEpoll(eventpoll.EventRead, eventpoll.LevelTriggered))
	assert.Equal(t, uint32(unix.EPOLLIN|unix.EPOLLOUT|unix.EPOLLET), eventsToEpoll(eventpoll.EventRead|eventpoll.EventWrite, eventpoll.EdgeTriggered))
	assert.Equal(t, uint32(unix.EPOLLOUT|unix.EPOLLET|unix.EPOLLONESHOT), eventsToEpoll(eventpoll.EventWrite, eventpoll.EdgeTriggered|eventpoll.OneShot))
	assert.Equal(t, uint32(unix.EPOLLPRI|unix.EPOLLRDHUP|unix.EPOLLONESHOT), eventsToEpoll(eventpoll.EventPriority|eventpoll.EventReadHangup|eventpoll.EventHangup, eventpoll.LevelTriggered))

	assert.Equal(t, eventpoll.AllEvents, epollToEvents(unix.EPOLLIN|unix.EPOLLOUT|unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLPRI|unix.EPOLLRDHUP))
	assert.Equal(t, eventpoll.Events(0), epollToEvents(unix.EPOLLET))
}
