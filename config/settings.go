package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the boot configuration shared by the switch, hub and gateway binaries.
// Per-device state that the portal can edit lives in the persisted Device record.
type Settings struct {
	Log     LogConfig     `yaml:"log"`
	Device  DeviceConfig  `yaml:"device"`
	Mesh    MeshConfig    `yaml:"mesh"`
	Portal  PortalConfig  `yaml:"portal"`
	Timing  TimingConfig  `yaml:"timing"`
	MCP     MCPConfig     `yaml:"mcp"`
	Hub     HubConfig     `yaml:"hub"`
	Gateway GatewayConfig `yaml:"gateway"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DeviceConfig struct {
	Store      string `yaml:"store"`
	Chip       string `yaml:"chip"`
	SensorPath string `yaml:"sensor_path"`
}

type MeshConfig struct {
	Hub             string        `yaml:"hub"`
	Net             string        `yaml:"net"`
	Key             string        `yaml:"key"`
	Addr            string        `yaml:"addr"`
	DiscoverTimeout time.Duration `yaml:"discover_timeout"`
}

type PortalConfig struct {
	Addr   string `yaml:"addr"`
	Assets string `yaml:"assets"`
}

type TimingConfig struct {
	Tick           time.Duration `yaml:"tick"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	Attributes     time.Duration `yaml:"attributes"`
	Status         time.Duration `yaml:"status"`
	GatewayTimeout time.Duration `yaml:"gateway_timeout"`
	PortalWindow   time.Duration `yaml:"portal_window"`
	Debounce       time.Duration `yaml:"debounce"`
}

type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

type HubConfig struct {
	Listen    string `yaml:"listen"`
	MaxPeers  int    `yaml:"max_peers"`
	Advertise bool   `yaml:"advertise"`
	Instance  string `yaml:"instance"`
}

type GatewayConfig struct {
	Broker          string        `yaml:"broker"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Prefix          string        `yaml:"prefix"`
	DiscoveryPrefix string        `yaml:"discovery_prefix"`
	DeviceTimeout   time.Duration `yaml:"device_timeout"`
}

func Default() *Settings {
	return &Settings{
		Log:    LogConfig{Level: "info", Format: "text"},
		Device: DeviceConfig{Store: "config.json"},
		Mesh:   MeshConfig{Net: "DEFAULT", DiscoverTimeout: 5 * time.Second},
		Portal: PortalConfig{Addr: ":8080"},
		Timing: TimingConfig{
			Tick:           10 * time.Millisecond,
			KeepAlive:      10 * time.Second,
			Attributes:     60 * time.Second,
			Status:         300 * time.Second,
			GatewayTimeout: 15 * time.Second,
			PortalWindow:   300 * time.Second,
			Debounce:       100 * time.Millisecond,
		},
		Hub: HubConfig{Listen: ":8090", MaxPeers: 64, Advertise: true, Instance: "meshhub"},
		Gateway: GatewayConfig{
			Broker:          "tcp://localhost:1883",
			Prefix:          "meshswitch",
			DiscoveryPrefix: "homeassistant",
			DeviceTimeout:   30 * time.Second,
		},
	}
}

// Load reads a YAML file over the defaults and applies MESHSWITCH_* environment
// overrides. An empty filename yields the defaults.
func Load(filename string) (*Settings, error) {
	cfg := Default()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Settings) applyEnvOverrides() {
	if v := os.Getenv("MESHSWITCH_HUB"); v != "" {
		c.Mesh.Hub = v
	}
	if v := os.Getenv("MESHSWITCH_NET"); v != "" {
		c.Mesh.Net = v
	}
	if v := os.Getenv("MESHSWITCH_KEY"); v != "" {
		c.Mesh.Key = v
	}
	if v := os.Getenv("MESHSWITCH_STORE"); v != "" {
		c.Device.Store = v
	}
	if v := os.Getenv("MESHSWITCH_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("MESHSWITCH_MQTT_BROKER"); v != "" {
		c.Gateway.Broker = v
	}
}

func (c *Settings) Validate() error {
	var errs []error
	durations := map[string]time.Duration{
		"timing.tick":            c.Timing.Tick,
		"timing.keep_alive":      c.Timing.KeepAlive,
		"timing.attributes":      c.Timing.Attributes,
		"timing.status":          c.Timing.Status,
		"timing.gateway_timeout": c.Timing.GatewayTimeout,
		"timing.portal_window":   c.Timing.PortalWindow,
		"timing.debounce":        c.Timing.Debounce,
		"gateway.device_timeout": c.Gateway.DeviceTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Mesh.Net == "" {
		errs = append(errs, errors.New("mesh.net is required"))
	}
	if c.Hub.MaxPeers <= 0 {
		errs = append(errs, fmt.Errorf("hub.max_peers must be positive, got %d", c.Hub.MaxPeers))
	}
	return errors.Join(errs...)
}

func (c *Settings) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
