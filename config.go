package ppdbg

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMatchListURL = "https://report.ppsspp.org/match/list"
	DefaultPath         = "/debugger"
	DefaultSubprotocol  = "debugger.ppsspp.org"
)

// Config configures a Client. The zero value is not usable; start from DefaultConfig.
type Config struct {
	// Address, if set, is what the CLI connects to instead of discovering.
	Address string `yaml:"address"`
	// MatchListURL lists targets announced to the report server. Empty skips it.
	MatchListURL string `yaml:"match_list_url"`
	// Candidates are probed in order after the match list.
	Candidates  []string `yaml:"candidates"`
	Path        string   `yaml:"path"`
	Subprotocol string   `yaml:"subprotocol"`

	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	DiscoveryTimeout  time.Duration `yaml:"discovery_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	// HeartbeatInterval is how often a live connection is pinged. A ping not
	// answered within one interval drops the connection. Negative disables it.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReadLimitBytes    int64         `yaml:"read_limit_bytes"`

	Handshake        bool   `yaml:"handshake"`
	ClientName       string `yaml:"client_name"`
	ClientVersion    string `yaml:"client_version"`
	MinServerVersion string `yaml:"min_server_version"`

	HistorySize int `yaml:"history_size"`

	Log LogConfig `yaml:"log"`
}

func DefaultConfig() Config {
	return Config{
		MatchListURL:      DefaultMatchListURL,
		Candidates:        []string{"localhost:45000"},
		Path:              DefaultPath,
		Subprotocol:       DefaultSubprotocol,
		ConnectTimeout:    5 * time.Second,
		DiscoveryTimeout:  15 * time.Second,
		WriteTimeout:      5 * time.Second,
		HeartbeatInterval: 20 * time.Second,
		ReadLimitBytes:    16 << 20,
		Handshake:         true,
		ClientName:        "ppdbg",
		ClientVersion:     "0.1.0",
		HistorySize:       256,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads path (if not empty) over the defaults, then applies
// PPDBG_* environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.Address = getEnv("PPDBG_ADDRESS", c.Address)
	c.MatchListURL = getEnv("PPDBG_MATCH_LIST_URL", c.MatchListURL)
	c.Candidates = getEnvList("PPDBG_CANDIDATES", c.Candidates)
	c.ConnectTimeout = getEnvDuration("PPDBG_CONNECT_TIMEOUT", c.ConnectTimeout)
	c.DiscoveryTimeout = getEnvDuration("PPDBG_DISCOVERY_TIMEOUT", c.DiscoveryTimeout)
	c.HeartbeatInterval = getEnvDuration("PPDBG_HEARTBEAT_INTERVAL", c.HeartbeatInterval)
	c.Handshake = getEnvBool("PPDBG_HANDSHAKE", c.Handshake)
	c.MinServerVersion = getEnv("PPDBG_MIN_SERVER_VERSION", c.MinServerVersion)
	c.Log.Level = getEnv("PPDBG_LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("PPDBG_LOG_FILE", c.Log.File)
}

// Validate fills unset durations and limits with defaults and rejects
// values that cannot work.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.Path == "" {
		c.Path = def.Path
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = def.DiscoveryTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.ReadLimitBytes <= 0 {
		c.ReadLimitBytes = def.ReadLimitBytes
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("history_size must not be negative, got %d", c.HistorySize)
	}
	if c.MinServerVersion != "" {
		if _, err := parseConstraint(c.MinServerVersion); err != nil {
			return fmt.Errorf("min_server_version: %w", err)
		}
	}
	return nil
}
