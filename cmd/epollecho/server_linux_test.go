//go:build linux

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// lockedBuffer collects log output from concurrent goroutines.
type lockedBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (x *lockedBuffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.Write(p)
}

func (x *lockedBuffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.String()
}

// startServer runs the server on a free port, returning its address, the
// log output, and a func that stops it, failing the test on error.
func startServer(t *testing.T, modify func(o *options)) (string, *lockedBuffer, func()) {
	t.Helper()

	// reserve a free port
	lfd, err := listenTCP4(netip.MustParseAddrPort(`127.0.0.1:0`))
	require.NoError(t, err)
	addr, err := boundAddr(lfd)
	require.NoError(t, err)
	require.NoError(t, unix.Close(lfd))

	opts := newOptions()
	opts.listen = addr.String()
	opts.logLevel = `debug`
	opts.waitTimeout = 20 * time.Millisecond
	if modify != nil {
		modify(opts)
	}

	logs := new(lockedBuffer)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, opts, logs) }()

	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), `"msg":"listening"`)
	}, 5*time.Second, 5*time.Millisecond)

	var stopped bool
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal(`run did not stop`)
		}
	}
	t.Cleanup(stop)

	return addr.String(), logs, stop
}

func TestRun_echo(t *testing.T) {
	addr, logs, stop := startServer(t, nil)

	var g errgroup.Group
	for i := range 4 {
		g.Go(func() error {
			conn, err := net.DialTimeout(`tcp4`, addr, 5*time.Second)
			if err != nil {
				return err
			}
			defer conn.Close()
			_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

			for j := range 3 {
				msg := fmt.Sprintf("client %d message %d\n", i, j)
				if _, err := io.WriteString(conn, msg); err != nil {
					return err
				}
				got := make([]byte, len(msg))
				if _, err := io.ReadFull(conn, got); err != nil {
					return err
				}
				if string(got) != msg {
					return fmt.Errorf(`echo mismatch: %q != %q`, got, msg)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	stop()

	out := logs.String()
	assert.Contains(t, out, `"msg":"client connected"`)
	assert.Contains(t, out, `"msg":"shutdown complete"`)
}

func echoPayload(size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(i*7 + i>>13)
	}
	return b
}

// TestRun_echoSlowReader sends far more than the socket buffers hold before
// reading anything, so the server must queue output and flush it on
// EventWrite.
func TestRun_echoSlowReader(t *testing.T) {
	addr, _, _ := startServer(t, nil)

	conn, err := net.DialTimeout(`tcp4`, addr, 5*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(30*time.Second)))

	payload := echoPayload(16 << 20)
	_, err = conn.Write(payload)
	require.NoError(t, err)
	time.Sleep(500 * time.Millisecond)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	got, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Equal(t, len(payload), len(got))
	assert.True(t, bytes.Equal(payload, got), `echo content mismatch`)
}

// TestRun_echoReadPause uses a small pending limit, so the server stops
// reading until the client catches up, pushing back on the writer.
func TestRun_echoReadPause(t *testing.T) {
	addr, logs, _ := startServer(t, func(o *options) {
		o.logLevel = `trace`
		o.maxPending = 64 << 10
	})

	conn, err := net.DialTimeout(`tcp4`, addr, 5*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(30*time.Second)))

	payload := echoPayload(16 << 20)
	var g errgroup.Group
	g.Go(func() error {
		if _, err := conn.Write(payload); err != nil {
			return err
		}
		return conn.(*net.TCPConn).CloseWrite()
	})

	time.Sleep(200 * time.Millisecond)
	got, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.NoError(t, g.Wait())
	require.Equal(t, len(payload), len(got))
	assert.True(t, bytes.Equal(payload, got), `echo content mismatch`)
	assert.Contains(t, logs.String(), `"msg":"client interest changed"`)
}

func TestRun_invalidOptions(t *testing.T) {
	opts := newOptions()
	opts.listen = `[::1]:80`
	assert.ErrorContains(t, run(context.Background(), opts, io.Discard), `not IPv4`)
}
