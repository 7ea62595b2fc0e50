package main

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"
)

func (a *app) installCommand() *cli.Command {
	return &cli.Command{
		Name:   "install",
		Usage:  "run one install and activate cycle against the configured cache store",
		Action: a.install,
	}
}

func (a *app) install(ctx context.Context, cmd *cli.Command) error {
	storage, closeStorage, err := openStorage(a.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStorage(); err != nil {
			log.WithError(err).Warn("close cache store")
		}
	}()

	reg := newRegistration(a.cfg, storage)
	v, err := reg.Register(ctx, script(a.cfg))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "version %s %s\n", v.ID(), v.State())
	return listCaches(ctx, cmd.Root().Writer, storage)
}
