package main

import (
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_flags(t *testing.T) {
	opts := newOptions()
	fs := pflag.NewFlagSet(`test`, pflag.ContinueOnError)
	opts.addFlags(fs)
	require.NoError(t, fs.Parse([]string{`-l`, `0.0.0.0:9000`, `--log-level`, `DEBUG`, `--max-events`, `8`, `--max-pending`, `1024`}))

	listen, level, err := opts.validate()
	require.NoError(t, err)
	assert.Equal(t, `0.0.0.0:9000`, listen.String())
	assert.Equal(t, logiface.LevelDebug, level)
	assert.Equal(t, 8, opts.maxEvents)
	assert.Equal(t, 1024, opts.maxPending)
}

func TestOptions_validate(t *testing.T) {
	for _, tc := range [...]struct {
		name   string
		modify func(o *options)
		err    string
	}{
		{`bad listen`, func(o *options) { o.listen = `nope` }, `invalid --listen`},
		{`ipv6`, func(o *options) { o.listen = `[::1]:1` }, `not IPv4`},
		{`bad level`, func(o *options) { o.logLevel = `loud` }, `invalid --log-level`},
		{`max events`, func(o *options) { o.maxEvents = 0 }, `invalid --max-events`},
		{`max pending`, func(o *options) { o.maxPending = -1 }, `invalid --max-pending`},
		{`wait timeout`, func(o *options) { o.waitTimeout = 0 }, `invalid --wait-timeout`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			opts := newOptions()
			tc.modify(opts)
			_, _, err := opts.validate()
			assert.ErrorContains(t, err, tc.err)
		})
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{`trace`, `debug`, `info`, `notice`, `warning`, `err`, `crit`, `disabled`} {
		level, err := parseLevel(s)
		require.NoError(t, err)
		assert.Equal(t, s, level.String())
	}
}
