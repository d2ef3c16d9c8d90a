package eventpoll

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_defaults(t *testing.T) {
	poll, err := New()
	require.NoError(t, err)
	defer poll.Close()
	assert.Nil(t, poll.logger)
	assert.NotNil(t, poll.limiter)
}

func TestNew_nilOptionSkipped(t *testing.T) {
	poll, err := New(nil, WithLogger(nil), nil)
	require.NoError(t, err)
	defer poll.Close()
	// a nil logger is valid, and never logs
	require.NoError(t, poll.Register(1, EventRead, LevelTriggered))
	assert.ErrorIs(t, poll.NotifyReady(2, EventRead), ErrNotRegistered)
}

func TestWithWarningRateLimit(t *testing.T) {
	t.Run(`disabled`, func(t *testing.T) {
		poll, err := New(WithWarningRateLimit(nil))
		require.NoError(t, err)
		defer poll.Close()
		assert.Nil(t, poll.limiter)
	})

	t.Run(`invalid`, func(t *testing.T) {
		// the longer window permits a higher rate, which is rejected
		_, err := New(WithWarningRateLimit(map[time.Duration]int{
			time.Second: 10,
			time.Minute: 1000,
		}))
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run(`valid`, func(t *testing.T) {
		poll, err := New(WithWarningRateLimit(map[time.Duration]int{time.Second: 1}))
		require.NoError(t, err)
		defer poll.Close()
		assert.NotNil(t, poll.limiter)
	})
}
