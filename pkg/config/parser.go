package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "CACHEFIRST_"

func defaultSystemCfg() *SystemCfg {
	return &SystemCfg{
		ListenAddr: ":8000",
		Origin: originCfg{
			URL:                 "http://localhost:9000/",
			Timeout:             30 * time.Second,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     10 * time.Second,
			HeaderTimeout:       10 * time.Second,
		},
		Cache: cacheCfg{
			Name:  "portal-breaker-v1",
			Files: []string{"./index.html"},
			Store: StoreMemory,
			Path:  "cachefirst.db",
			// the pre-cache request carries no Accept-Encoding, so the stored
			// body is identity-encoded and fits every client
			IgnoreVary: true,
		},
		Client: clientCfg{
			Header:     "X-Client-Id",
			MaxClients: 1024,
		},
	}
}

// LoadConfig layers the TOML file at path (skipped when it does not exist and
// mustExist is false) and CACHEFIRST_* environment variables over the defaults.
func LoadConfig(path string, mustExist bool) (*SystemCfg, error) {
	config := defaultSystemCfg()

	if path != "" {
		md, err := toml.DecodeFile(path, config)
		switch {
		case errors.Is(err, fs.ErrNotExist) && !mustExist:
		case err != nil:
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		default:
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				return nil, fmt.Errorf("unknown config keys in %s: %v", path, undecoded)
			}
		}
	}

	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the config and normalizes the origin URL into a scope
// ending in "/".
func (c *SystemCfg) Validate() error {
	u, err := url.Parse(c.Origin.URL)
	if err != nil {
		return fmt.Errorf("origin url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin url %q: scheme must be http or https", c.Origin.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("origin url %q: missing host", c.Origin.URL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	c.Origin.URL = u.String()

	if strings.TrimSpace(c.Cache.Name) == "" {
		return errors.New("cache name is required")
	}
	switch c.Cache.Store {
	case StoreMemory:
	case StoreSQLite:
		if strings.TrimSpace(c.Cache.Path) == "" {
			return errors.New("cache path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unknown cache store %q", c.Cache.Store)
	}
	if c.Cache.Capacity < 0 {
		return errors.New("cache capacity must be >= 0")
	}
	if c.Client.Header == "" {
		return errors.New("client header is required")
	}
	if c.Client.MaxClients < 0 {
		return errors.New("client maxClients must be >= 0")
	}
	return nil
}

// Scope returns the validated origin URL.
func (c *SystemCfg) Scope() *url.URL {
	u, _ := url.Parse(c.Origin.URL)
	return u
}
