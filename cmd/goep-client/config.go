package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/backkem/goep/pkg/bearer"
	"github.com/backkem/goep/pkg/discovery"
	"github.com/pion/logging"
	"gopkg.in/yaml.v3"
)

// Bearer and discovery selections.
const (
	bearerStream = "stream"
	bearerPacket = "packet"

	discoveryStatic = "static"
	discoveryDNSSD  = "dnssd"
)

// Config is the resolved client configuration.
type Config struct {
	// Peer is the default peer address ("AA:BB:CC:DD:EE:FF").
	Peer string

	// Bearer is "stream" (TCP) or "packet" (UDP).
	Bearer string

	// Discovery is "static" (Endpoints table) or "dnssd".
	Discovery string

	LogLevel string

	// Timeout bounds each command from open to disconnect.
	Timeout time.Duration

	// MTU caps the packet length this side sends. Zero keeps the bearer default.
	MTU int

	// Hosts maps peer addresses to network hosts.
	Hosts map[bearer.Address]string

	// Endpoints maps services to endpoints for static discovery.
	Endpoints map[discovery.ServiceID]uint16
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Bearer:    bearerStream,
		Discovery: discoveryStatic,
		LogLevel:  "warn",
		Timeout:   10 * time.Second,
		Hosts:     make(map[bearer.Address]string),
		Endpoints: make(map[discovery.ServiceID]uint16),
	}
}

type fileConfig struct {
	Peer      string            `toml:"peer" yaml:"peer"`
	Bearer    string            `toml:"bearer" yaml:"bearer"`
	Discovery string            `toml:"discovery" yaml:"discovery"`
	LogLevel  string            `toml:"log_level" yaml:"log_level"`
	Timeout   string            `toml:"timeout" yaml:"timeout"`
	MTU       int               `toml:"mtu" yaml:"mtu"`
	Hosts     map[string]string `toml:"hosts" yaml:"hosts"`
	Endpoints map[string]int    `toml:"endpoints" yaml:"endpoints"`
}

// loadConfig reads path on top of DefaultConfig. An empty path yields
// the defaults. The format follows the file extension.
func loadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	var (
		raw     fileConfig
		defined func(key string) bool
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
		}
		defined = func(key string) bool { return meta.IsDefined(key) }

	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		if err := node.Decode(&raw); err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		keys := yamlKeys(&node)
		defined = func(key string) bool { return keys[key] }

	default:
		return Config{}, fmt.Errorf("load config: unsupported format %q", ext)
	}

	if err := cfg.apply(raw, defined); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// yamlKeys returns the top-level mapping keys of a document.
func yamlKeys(doc *yaml.Node) map[string]bool {
	keys := make(map[string]bool)
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return keys
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return keys
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		keys[root.Content[i].Value] = true
	}
	return keys
}

func (c *Config) apply(raw fileConfig, defined func(key string) bool) error {
	if defined("peer") {
		c.Peer = strings.TrimSpace(raw.Peer)
	}
	if defined("bearer") {
		c.Bearer = strings.ToLower(strings.TrimSpace(raw.Bearer))
	}
	if defined("discovery") {
		c.Discovery = strings.ToLower(strings.TrimSpace(raw.Discovery))
	}
	if defined("log_level") {
		c.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if defined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return fmt.Errorf("parse timeout: %w", err)
		}
		c.Timeout = d
	}
	if defined("mtu") {
		c.MTU = raw.MTU
	}

	if defined("hosts") {
		for k, host := range raw.Hosts {
			peer, err := bearer.ParseAddress(k)
			if err != nil {
				return fmt.Errorf("parse hosts key %q: %w", k, err)
			}
			c.Hosts[peer] = strings.TrimSpace(host)
		}
	}

	if defined("endpoints") {
		for k, v := range raw.Endpoints {
			service, err := discovery.ParseServiceID(k)
			if err != nil {
				return fmt.Errorf("parse endpoints key %q: %w", k, err)
			}
			if v <= 0 || v > 0xFFFF {
				return fmt.Errorf("endpoint for %s out of range: %d", service, v)
			}
			c.Endpoints[service] = uint16(v)
		}
	}
	return nil
}

// Validate checks the selections and ranges.
func (c Config) Validate() error {
	switch c.Bearer {
	case bearerStream, bearerPacket:
	default:
		return fmt.Errorf("invalid bearer %q (want %s or %s)", c.Bearer, bearerStream, bearerPacket)
	}
	switch c.Discovery {
	case discoveryStatic, discoveryDNSSD:
	default:
		return fmt.Errorf("invalid discovery %q (want %s or %s)", c.Discovery, discoveryStatic, discoveryDNSSD)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("invalid timeout %s", c.Timeout)
	}
	if c.MTU < 0 {
		return fmt.Errorf("invalid mtu %d", c.MTU)
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func parseLogLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(s) {
	case "disabled", "off":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	}
	return logging.LogLevelDisabled, fmt.Errorf("invalid log level %q", s)
}
