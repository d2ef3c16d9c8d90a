//go:build linux

// Command epollecho is a TCP echo server, driven by an eventpoll.EventPoll,
// with kernel readiness forwarded by fdsource.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/go-eventpoll"
	"github.com/joeycumines/go-eventpoll/fdsource"
	"github.com/joeycumines/go-eventpoll/promstats"
	"github.com/joeycumines/stumpy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	opts := newOptions()
	fs := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	opts.addFlags(fs)
	_ = fs.Parse(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, logOutput io.Writer) error {
	listen, level, err := opts.validate()
	if err != nil {
		return err
	}

	logger := stumpy.L.New(
		stumpy.L.WithStumpy(
			stumpy.WithWriter(logOutput),
			stumpy.WithTimeField(`time`),
		),
		stumpy.L.WithLevel(level),
	).Logger()

	poll, err := eventpoll.New(eventpoll.WithLogger(logger))
	if err != nil {
		return err
	}
	defer poll.Close()

	source, err := fdsource.New(poll, fdsource.WithLogger(logger), fdsource.WithMaxEvents(opts.maxEvents))
	if err != nil {
		return err
	}
	defer source.Close()

	lfd, err := listenTCP4(listen)
	if err != nil {
		return err
	}
	srv, err := newServer(poll, source, logger, lfd, opts)
	if err != nil {
		return err
	}

	if bound, err := boundAddr(lfd); err == nil {
		listen = bound
	}
	logger.Info().
		Str(`listen`, listen.String()).
		Log(`listening`)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := source.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		defer srv.close()
		return srv.serve(ctx)
	})

	if opts.metricsAddr != `` {
		registry := prometheus.NewRegistry()
		registry.MustRegister(promstats.New(poll, `epollecho`, nil))
		httpServer := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info().
				Str(`addr`, opts.metricsAddr).
				Log(`serving metrics`)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()

	logger.Info().
		Log(`shutdown complete`)

	return err
}
