package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Peer represents a configured seed node.
type Peer struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr"`
}

// Config holds the node configuration.
type Config struct {
	NodeID      string `yaml:"node_id"`
	ServiceName string `yaml:"service_name"`
	Host        string `yaml:"host"`

	AnnouncePort int `yaml:"announce_port"`
	SyncPort     int `yaml:"sync_port"`

	LogEnabled bool   `yaml:"log_enabled"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	SyncInterval     time.Duration `yaml:"sync_interval"`
	FailoverRetries  int           `yaml:"failover_retries"`
	FailoverDelay    time.Duration `yaml:"failover_delay"`
	RestartDelay     time.Duration `yaml:"restart_delay"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`

	ChangeLogDriver string `yaml:"changelog_driver"`
	ChangeLogDSN    string `yaml:"changelog_dsn"`

	// Seeds replaces UDP discovery with a fixed list when non-empty.
	Seeds []Peer `yaml:"seeds"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ServiceName:      "coordsync",
		Host:             "127.0.0.1",
		AnnouncePort:     47011,
		SyncPort:         7011,
		LogEnabled:       true,
		LogLevel:         "info",
		LogFormat:        "text",
		DiscoveryTimeout: 3 * time.Second,
		PollInterval:     100 * time.Millisecond,
		SyncInterval:     200 * time.Millisecond,
		FailoverRetries:  20,
		FailoverDelay:    5 * time.Second,
		RestartDelay:     2 * time.Second,
		ConnectTimeout:   5 * time.Second,
		ChangeLogDriver:  "sqlite",
		ChangeLogDSN:     "coordsync.db",
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays COORDSYNC_* variables. Variables from envFiles are
// used when the process environment does not set them; missing files
// are skipped.
func (c *Config) ApplyEnv(envFiles ...string) error {
	fileVars := make(map[string]string)
	for _, f := range envFiles {
		vars, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read env file %s: %w", f, err)
		}
		for k, v := range vars {
			if _, ok := fileVars[k]; !ok {
				fileVars[k] = v
			}
		}
	}

	return c.applyLookup(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVars[key]
		return v, ok
	})
}

func (c *Config) applyLookup(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup("COORDSYNC_" + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup("COORDSYNC_" + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("COORDSYNC_%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup("COORDSYNC_" + key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("COORDSYNC_%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("NODE_ID", &c.NodeID)
	str("SERVICE_NAME", &c.ServiceName)
	str("HOST", &c.Host)
	num("ANNOUNCE_PORT", &c.AnnouncePort)
	num("SYNC_PORT", &c.SyncPort)
	if v, ok := lookup("COORDSYNC_LOG_ENABLED"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("COORDSYNC_LOG_ENABLED: %w", err))
		} else {
			c.LogEnabled = b
		}
	}
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	dur("DISCOVERY_TIMEOUT", &c.DiscoveryTimeout)
	dur("POLL_INTERVAL", &c.PollInterval)
	dur("SYNC_INTERVAL", &c.SyncInterval)
	num("FAILOVER_RETRIES", &c.FailoverRetries)
	dur("FAILOVER_DELAY", &c.FailoverDelay)
	dur("RESTART_DELAY", &c.RestartDelay)
	dur("CONNECT_TIMEOUT", &c.ConnectTimeout)
	str("CHANGELOG_DRIVER", &c.ChangeLogDriver)
	str("CHANGELOG_DSN", &c.ChangeLogDSN)
	if v, ok := lookup("COORDSYNC_SEEDS"); ok {
		seeds, err := ParsePeers(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("COORDSYNC_SEEDS: %w", err))
		} else {
			c.Seeds = seeds
		}
	}

	return errors.Join(errs...)
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ServiceName) == "" {
		errs = append(errs, errors.New("service_name cannot be empty"))
	}
	if c.Host == "" {
		errs = append(errs, errors.New("host cannot be empty"))
	}
	if c.SyncPort <= 0 || c.SyncPort > 65535 {
		errs = append(errs, fmt.Errorf("sync_port out of range: %d", c.SyncPort))
	}
	if len(c.Seeds) == 0 && (c.AnnouncePort <= 0 || c.AnnouncePort > 65535) {
		errs = append(errs, fmt.Errorf("announce_port out of range: %d", c.AnnouncePort))
	}
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"discovery_timeout", c.DiscoveryTimeout},
		{"poll_interval", c.PollInterval},
		{"sync_interval", c.SyncInterval},
		{"connect_timeout", c.ConnectTimeout},
	}
	for _, p := range positive {
		if p.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", p.name))
		}
	}
	if c.FailoverRetries < 0 {
		errs = append(errs, errors.New("failover_retries cannot be negative"))
	}
	if c.FailoverDelay < 0 || c.RestartDelay < 0 {
		errs = append(errs, errors.New("failover_delay and restart_delay cannot be negative"))
	}
	switch c.ChangeLogDriver {
	case "memory", "sqlite", "sqlite3", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown changelog_driver %q", c.ChangeLogDriver))
	}
	return errors.Join(errs...)
}

// ParsePeers parses a comma-separated list of peers in the format:
// "id1=addr1,id2=addr2,id3=addr3"
func ParsePeers(peersStr string) ([]Peer, error) {
	if peersStr == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer format: %s (expected id=host:port)", part)
		}

		id := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])

		if id == "" || addr == "" {
			return nil, fmt.Errorf("peer ID and address cannot be empty: %s", part)
		}

		peers = append(peers, Peer{
			ID:   id,
			Addr: addr,
		})
	}

	return peers, nil
}
