package eventpoll

import (
	"bytes"
	"sync"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for concurrent writes, for capturing
// log output.
type syncBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (x *syncBuffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.Write(p)
}

func (x *syncBuffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.String()
}

func newTestLogger(w *syncBuffer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}

func newTestPoll(t *testing.T, opts ...Option) *EventPoll {
	t.Helper()
	poll, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = poll.Close() })
	return poll
}

func requireInvariants(t *testing.T, poll *EventPoll) {
	t.Helper()
	require.NoError(t, poll.checkInvariants())
}
