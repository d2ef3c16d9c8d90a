package main

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/spf13/pflag"
)

type options struct {
	listen      string
	metricsAddr string
	logLevel    string
	maxEvents   int
	maxPending  int
	waitTimeout time.Duration
}

func newOptions() *options {
	return &options{
		listen:      `127.0.0.1:7777`,
		logLevel:    `info`,
		maxEvents:   64,
		maxPending:  64 << 20,
		waitTimeout: 250 * time.Millisecond,
	}
}

func (x *options) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&x.listen, `listen`, `l`, x.listen, `IPv4 address and port to accept connections on`)
	fs.StringVar(&x.metricsAddr, `metrics-addr`, x.metricsAddr, `address to serve Prometheus metrics on, disabled if empty`)
	fs.StringVar(&x.logLevel, `log-level`, x.logLevel, `one of trace, debug, info, notice, warning, err, disabled`)
	fs.IntVar(&x.maxEvents, `max-events`, x.maxEvents, `maximum events handled per wait`)
	fs.IntVar(&x.maxPending, `max-pending`, x.maxPending, `bytes of unsent output per client, beyond which reads pause`)
	fs.DurationVar(&x.waitTimeout, `wait-timeout`, x.waitTimeout, `upper bound on each wait, between shutdown checks`)
}

func (x *options) validate() (listen netip.AddrPort, level logiface.Level, err error) {
	listen, err = netip.ParseAddrPort(x.listen)
	if err != nil {
		return listen, level, fmt.Errorf(`invalid --listen: %w`, err)
	}
	if !listen.Addr().Is4() {
		return listen, level, fmt.Errorf(`invalid --listen: %s is not IPv4`, listen.Addr())
	}
	if level, err = parseLevel(x.logLevel); err != nil {
		return listen, level, err
	}
	if x.maxEvents <= 0 {
		return listen, level, fmt.Errorf(`invalid --max-events: %d`, x.maxEvents)
	}
	if x.maxPending <= 0 {
		return listen, level, fmt.Errorf(`invalid --max-pending: %d`, x.maxPending)
	}
	if x.waitTimeout <= 0 {
		return listen, level, fmt.Errorf(`invalid --wait-timeout: %s`, x.waitTimeout)
	}
	return listen, level, nil
}

func parseLevel(s string) (logiface.Level, error) {
	for _, level := range [...]logiface.Level{
		logiface.LevelDisabled,
		logiface.LevelEmergency,
		logiface.LevelAlert,
		logiface.LevelCritical,
		logiface.LevelError,
		logiface.LevelWarning,
		logiface.LevelNotice,
		logiface.LevelInformational,
		logiface.LevelDebug,
		logiface.LevelTrace,
	} {
		if strings.EqualFold(s, level.String()) {
			return level, nil
		}
	}
	return logiface.LevelDisabled, fmt.Errorf(`invalid --log-level: %q`, s)
}
