package config

import "time"

type originCfg struct {
	URL                 string        `toml:"url" env:"URL"`
	Timeout             time.Duration `toml:"timeout" env:"TIMEOUT"`
	MaxIdleConns        int           `toml:"maxIdleConn" env:"MAX_IDLE_CONN"`
	MaxIdleConnsPerHost int           `toml:"maxIdleConnPerHost" env:"MAX_IDLE_CONN_PER_HOST"`
	IdleConnTimeout     time.Duration `toml:"idleConnTimeout" env:"IDLE_CONN_TIMEOUT"`
	HeaderTimeout       time.Duration `toml:"headerTimeout" env:"HEADER_TIMEOUT"`
}

type cacheCfg struct {
	Name       string   `toml:"name" env:"NAME"`
	Files      []string `toml:"files" env:"FILES"`
	Store      string   `toml:"store" env:"STORE"`
	Path       string   `toml:"path" env:"PATH"`
	Capacity   int      `toml:"capacity" env:"CAPACITY"`
	IgnoreVary bool     `toml:"ignoreVary" env:"IGNORE_VARY"`
	// RequestHeaders are sent with every pre-cache request.
	RequestHeaders map[string]string `toml:"requestHeaders" env:"REQUEST_HEADERS" envSeparator:";" envKeyValSeparator:"="`
}

type clientCfg struct {
	Header               string `toml:"header" env:"HEADER"`
	PreserveOriginalHost bool   `toml:"preserveOriginalHost" env:"PRESERVE_ORIGINAL_HOST"`
	MaxClients           int    `toml:"maxClients" env:"MAX_CLIENTS"`
}

type SystemCfg struct {
	ListenAddr string    `toml:"listenaddr" env:"LISTEN_ADDR"`
	LogLevel   string    `toml:"loglevel" env:"LOG"`
	Origin     originCfg `toml:"origin" envPrefix:"ORIGIN_"`
	Cache      cacheCfg  `toml:"cache" envPrefix:"CACHE_"`
	Client     clientCfg `toml:"client" envPrefix:"CLIENT_"`
}

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)
