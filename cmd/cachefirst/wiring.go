package main

import (
	"fmt"
	"net/http"

	"github.com/ashpect/cachefirst/pkg/cache"
	"github.com/ashpect/cachefirst/pkg/cache/sqlite"
	"github.com/ashpect/cachefirst/pkg/client"
	"github.com/ashpect/cachefirst/pkg/config"
	"github.com/ashpect/cachefirst/pkg/responder"
	"github.com/ashpect/cachefirst/pkg/worker"
)

func openStorage(cfg *config.SystemCfg) (cache.Storage, func() error, error) {
	switch cfg.Cache.Store {
	case config.StoreSQLite:
		s, err := sqlite.Open(cfg.Cache.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open cache store: %w", err)
		}
		return s, s.Close, nil
	default:
		s := cache.NewMemoryStorage(cache.WithEntryCapacity(cfg.Cache.Capacity))
		return s, func() error { return nil }, nil
	}
}

func newNetwork(cfg *config.SystemCfg) *client.Network {
	transport := client.NewTransport(
		client.WithIdlePool(client.IdlePool{
			MaxConns:        cfg.Origin.MaxIdleConns,
			MaxConnsPerHost: cfg.Origin.MaxIdleConnsPerHost,
			Timeout:         cfg.Origin.IdleConnTimeout,
		}),
		client.WithResponseHeaderTimeout(cfg.Origin.HeaderTimeout),
	)
	return client.NewNetwork(client.NewClient(
		client.WithTimeout(cfg.Origin.Timeout),
		client.WithTransport(transport),
	))
}

func newRegistration(cfg *config.SystemCfg, storage cache.Storage) *worker.Registration {
	return worker.NewRegistration(cfg.Scope(), storage, newNetwork(cfg),
		worker.WithMaxClients(cfg.Client.MaxClients),
	)
}

func script(cfg *config.SystemCfg) worker.Script {
	header := make(http.Header, len(cfg.Cache.RequestHeaders))
	for k, v := range cfg.Cache.RequestHeaders {
		header.Set(k, v)
	}
	return responder.CacheFirst(cfg.Cache.Name, cfg.Cache.Files,
		responder.WithRequestHeader(header),
		responder.WithIgnoreVary(cfg.Cache.IgnoreVary),
	)
}
