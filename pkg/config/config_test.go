package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"), false)
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.ListenAddr)
	assert.Equal(t, "http://localhost:9000/", cfg.Origin.URL)
	assert.Equal(t, "portal-breaker-v1", cfg.Cache.Name)
	assert.Equal(t, []string{"./index.html"}, cfg.Cache.Files)
	assert.Equal(t, StoreMemory, cfg.Cache.Store)
	assert.Equal(t, 10*time.Second, cfg.Origin.IdleConnTimeout)
}

func TestLoadConfig_MissingFileWhenRequired(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"), true)
	assert.Error(t, err)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
listenaddr = ":9100"

[origin]
url = "https://origin.example/app"
timeout = "5s"

[cache]
name = "portal-breaker-v2"
files = ["./index.html", "./app.js"]
store = "sqlite"
path = "/var/lib/cachefirst/cache.db"
`)
	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.ListenAddr)
	assert.Equal(t, "https://origin.example/app/", cfg.Origin.URL)
	assert.Equal(t, "/app/", cfg.Scope().Path)
	assert.Equal(t, 5*time.Second, cfg.Origin.Timeout)
	assert.Equal(t, 100, cfg.Origin.MaxIdleConns)
	assert.Equal(t, "portal-breaker-v2", cfg.Cache.Name)
	assert.Equal(t, []string{"./index.html", "./app.js"}, cfg.Cache.Files)
	assert.Equal(t, StoreSQLite, cfg.Cache.Store)
}

func TestLoadConfig_UnknownKey(t *testing.T) {
	path := writeConfig(t, `listenadr = ":1"`)
	_, err := LoadConfig(path, true)
	assert.ErrorContains(t, err, "unknown config keys")
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `listenaddr = ":9100"`)
	t.Setenv("CACHEFIRST_LISTEN_ADDR", ":9200")
	t.Setenv("CACHEFIRST_CACHE_NAME", "from-env")
	t.Setenv("CACHEFIRST_CACHE_FILES", "./a.html,./b.html")
	t.Setenv("CACHEFIRST_ORIGIN_TIMEOUT", "2s")

	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)
	assert.Equal(t, ":9200", cfg.ListenAddr)
	assert.Equal(t, "from-env", cfg.Cache.Name)
	assert.Equal(t, []string{"./a.html", "./b.html"}, cfg.Cache.Files)
	assert.Equal(t, 2*time.Second, cfg.Origin.Timeout)
}

func TestLoadConfig_PrecacheRequest(t *testing.T) {
	path := writeConfig(t, `
[cache]
ignoreVary = false
requestHeaders = { Accept-Encoding = "gzip, br" }

[client]
maxClients = 16
`)
	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)
	assert.False(t, cfg.Cache.IgnoreVary)
	assert.Equal(t, map[string]string{"Accept-Encoding": "gzip, br"}, cfg.Cache.RequestHeaders)
	assert.Equal(t, 16, cfg.Client.MaxClients)

	t.Setenv("CACHEFIRST_CACHE_REQUEST_HEADERS", "Accept-Encoding=gzip, deflate;Accept-Language=en")
	cfg, err = LoadConfig(path, true)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Accept-Encoding": "gzip, deflate", "Accept-Language": "en"}, cfg.Cache.RequestHeaders)

	cfg, err = LoadConfig("", false)
	require.NoError(t, err)
	assert.True(t, cfg.Cache.IgnoreVary)
	assert.Equal(t, 1024, cfg.Client.MaxClients)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*SystemCfg){
		"bad scheme":     func(c *SystemCfg) { c.Origin.URL = "ftp://origin/" },
		"missing host":   func(c *SystemCfg) { c.Origin.URL = "http:///x" },
		"empty name":     func(c *SystemCfg) { c.Cache.Name = " " },
		"unknown store":  func(c *SystemCfg) { c.Cache.Store = "redis" },
		"sqlite no path": func(c *SystemCfg) { c.Cache.Store = StoreSQLite; c.Cache.Path = "" },
		"negative cap":   func(c *SystemCfg) { c.Cache.Capacity = -1 },
		"no header":      func(c *SystemCfg) { c.Client.Header = "" },
		"negative max":   func(c *SystemCfg) { c.Client.MaxClients = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := defaultSystemCfg()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, defaultSystemCfg().Validate())
}
