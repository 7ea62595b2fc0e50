package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/ashpect/cachefirst/pkg/cache"
)

func (a *app) cachesCommand() *cli.Command {
	return &cli.Command{
		Name:   "caches",
		Usage:  "list caches and their entries",
		Action: a.caches,
	}
}

func (a *app) caches(ctx context.Context, cmd *cli.Command) error {
	storage, closeStorage, err := openStorage(a.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStorage(); err != nil {
			log.WithError(err).Warn("close cache store")
		}
	}()
	return listCaches(ctx, cmd.Root().Writer, storage)
}

func listCaches(ctx context.Context, w io.Writer, storage cache.Storage) error {
	names, err := storage.Keys(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CACHE\tURL\tSTATUS\tSIZE\tCACHED")
	for _, name := range names {
		c, err := storage.Open(ctx, name)
		if err != nil {
			return err
		}
		keys, err := c.Keys(ctx)
		if err != nil {
			return err
		}
		for _, key := range keys {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, key, nil)
			if err != nil {
				return fmt.Errorf("entry %s: %w", key, err)
			}
			resp, ok, err := c.Match(ctx, req)
			if err != nil {
				return err
			}
			if !ok {
				// stored with Vary, not reproducible without the original headers
				fmt.Fprintf(tw, "%s\t%s\t-\t-\t-\n", name, key)
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", name, key, resp.Status,
				humanize.Bytes(uint64(len(resp.Body))), humanize.Time(resp.CachedAt))
		}
	}
	return tw.Flush()
}
