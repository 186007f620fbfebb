package lcfs

import (
	"net"
	"strconv"
	"time"

	"github.com/lioncloud/lcfs/internal/logging"
	"gopkg.in/ini.v1"
)

// Config carries the client's build-time-injected connection target plus
// operational knobs. Most fields are optional: DefaultConfig and
// New's nil and zero-field handling mean only Host/Port need to be set
// for the common case.
type Config struct {
	Host string
	Port int

	// DialTimeout bounds how long Connect will wait for the initial TCP
	// handshake with the controller.
	DialTimeout time.Duration

	// CacheBlocks is the block cache's capacity (the original's
	// LC_CACHE_MAXBLOCKS).
	CacheBlocks int

	Logger *logging.Logger
}

// DefaultConfig returns sane defaults: localhost:5600, a 5s dial
// timeout, and a 128-block cache.
func DefaultConfig() *Config {
	return &Config{
		Host:        "127.0.0.1",
		Port:        5600,
		DialTimeout: 5 * time.Second,
		CacheBlocks: 128,
		Logger:      logging.Default(),
	}
}

func (c *Config) withDefaults() *Config {
	if c == nil {
		return DefaultConfig()
	}
	out := *c
	if out.Host == "" {
		out.Host = "127.0.0.1"
	}
	if out.Port == 0 {
		out.Port = 5600
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 5 * time.Second
	}
	if out.CacheBlocks <= 0 {
		out.CacheBlocks = 128
	}
	if out.Logger == nil {
		out.Logger = logging.Default()
	}
	return &out
}

// configFile is the on-disk shape of an lcfs.ini file.
type configFile struct {
	Host        string `ini:"host"`
	Port        int    `ini:"port"`
	CacheBlocks int    `ini:"cache_blocks"`
	DialTimeoutMs int  `ini:"dial_timeout_ms"`
}

// LoadConfigFile reads an INI file (host, port, cache_blocks,
// dial_timeout_ms under a [lcfs] section, or the top-level default
// section) and returns a Config seeded from it, falling back to
// DefaultConfig's values for anything unset.
func LoadConfigFile(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, err
	}

	var cf configFile
	section, err := f.GetSection("lcfs")
	if err != nil {
		section = f.Section(ini.DefaultSection)
	}
	if err := section.MapTo(&cf); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if cf.Host != "" {
		cfg.Host = cf.Host
	}
	if cf.Port != 0 {
		cfg.Port = cf.Port
	}
	if cf.CacheBlocks != 0 {
		cfg.CacheBlocks = cf.CacheBlocks
	}
	if cf.DialTimeoutMs != 0 {
		cfg.DialTimeout = time.Duration(cf.DialTimeoutMs) * time.Millisecond
	}
	return cfg, nil
}

func (c *Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
