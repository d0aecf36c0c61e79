package config

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ClientConfig is the on-disk profile for a pose-service client.
type ClientConfig struct {
	Host             string       `toml:"host"`
	Port             int          `toml:"port"`
	ConnectTimeoutMS int          `toml:"connect_timeout_ms"`
	MaxPayloadBytes  uint32       `toml:"max_payload_bytes"`
	SO3GridSize      int          `toml:"so3_grid_size"`
	Camera           CameraConfig `toml:"camera"`
}

type CameraConfig struct {
	Px     float64 `toml:"px"`
	Py     float64 `toml:"py"`
	U0     float64 `toml:"u0"`
	V0     float64 `toml:"v0"`
	Height int     `toml:"height"`
	Width  int     `toml:"width"`
}

const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 5555
	DefaultConnectTimeout = 5 * time.Second
)

// ConnectTimeout is the dial bound.
func (c ClientConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

func LoadClientConfig(path string) (ClientConfig, error) {
	var cfg ClientConfig
	if err := loadToml(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	cfg = cfg.withDefaults()
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func (c ClientConfig) withDefaults() ClientConfig {
	if strings.TrimSpace(c.Host) == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ConnectTimeoutMS == 0 {
		c.ConnectTimeoutMS = int(DefaultConnectTimeout / time.Millisecond)
	}
	return c
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateClientConfig(cfg ClientConfig) error {
	addr, err := netip.ParseAddr(strings.TrimSpace(cfg.Host))
	if err != nil || !addr.Is4() {
		return fmt.Errorf("client config host must be an ipv4 address: %q", cfg.Host)
	}
	if cfg.Port <= 0 || cfg.Port > 0xffff {
		return fmt.Errorf("client config port out of range: %d", cfg.Port)
	}
	if cfg.ConnectTimeoutMS < 0 {
		return fmt.Errorf("client config connect_timeout_ms must not be negative")
	}
	if cfg.SO3GridSize < 0 {
		return fmt.Errorf("client config so3_grid_size must not be negative")
	}
	if err := validateCamera(cfg.Camera); err != nil {
		return fmt.Errorf("camera invalid: %w", err)
	}
	return nil
}

func validateCamera(cam CameraConfig) error {
	if cam.Px <= 0 || cam.Py <= 0 {
		return fmt.Errorf("focal lengths px and py are required")
	}
	if cam.Height <= 0 || cam.Width <= 0 {
		return fmt.Errorf("height and width are required")
	}
	return nil
}
