package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	"github.com/ashpect/cachefirst/pkg/proxy"
	"github.com/ashpect/cachefirst/pkg/worker"
)

func (a *app) serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "install the responder and serve requests; SIGHUP installs it again",
		Action: a.serve,
	}
}

func (a *app) serve(ctx context.Context, _ *cli.Command) error {
	cfg := a.cfg
	storage, closeStorage, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStorage(); err != nil {
			log.WithError(err).Warn("close cache store")
		}
	}()

	reg := newRegistration(cfg, storage)
	register(ctx, reg, a)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				if v := reg.Installing(); v != nil {
					log.WithField("version", v.ID()).Warn("install already running, SIGHUP ignored")
					continue
				}
				go register(ctx, reg, a)
			case <-ctx.Done():
				return
			}
		}
	}()

	server := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: proxy.New(reg,
			proxy.WithClientHeader(cfg.Client.Header),
			proxy.WithPreserveOriginalHost(cfg.Client.PreserveOriginalHost),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{"addr": cfg.ListenAddr, "scope": cfg.Origin.URL}).Info("cache-first responder listening")
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down")
	return server.Shutdown(shutdownCtx)
}

// register installs a new version. A failed install is logged only: pages
// keep their current controller, or go to the network, until the next trigger.
func register(ctx context.Context, reg *worker.Registration, a *app) {
	v, err := reg.Register(ctx, script(a.cfg))
	if err != nil {
		log.WithError(err).Error("responder not installed, serving from network")
		return
	}
	log.WithFields(log.Fields{"version": v.ID(), "state": v.State(), "cache": a.cfg.Cache.Name}).Info("responder installed")
}
