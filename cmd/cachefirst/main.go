package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/ashpect/cachefirst/pkg/config"
	"github.com/ashpect/cachefirst/pkg/utils"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	a := &app{}
	root := a.command()
	if err := root.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

type app struct {
	cfg *config.SystemCfg
}

func (a *app) command() *cli.Command {
	return &cli.Command{
		Name:  "cachefirst",
		Usage: "cache-first responder in front of an origin server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "location of config file",
				Value:   "config.toml",
				Sources: cli.EnvVars(config.EnvPrefix + "CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn, error or fatal",
				Sources: cli.EnvVars(config.EnvPrefix + "LOG"),
			},
		},
		Before: a.before,
		Commands: []*cli.Command{
			a.serveCommand(),
			a.installCommand(),
			a.cachesCommand(),
		},
	}
}

func (a *app) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := config.LoadConfig(cmd.String("config"), cmd.IsSet("config"))
	if err != nil {
		return ctx, err
	}
	level := cfg.LogLevel
	if cmd.IsSet("log-level") {
		level = cmd.String("log-level")
	}
	if err := utils.InitLogger(level); err != nil {
		return ctx, err
	}
	a.cfg = cfg
	return ctx, nil
}
