package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/Clouded-Sabre/Raw-TCP/lib"
	"gopkg.in/yaml.v3"
)

// Device types understood by the server program.
const (
	DeviceTun   = "tun"
	DeviceTap   = "tap"
	DeviceRawIP = "rawip"
)

type DeviceConfig struct {
	Type    string `yaml:"type" json:"type"`       // tun, tap or rawip
	Name    string `yaml:"name" json:"name"`       // interface name for tun and tap; empty lets the kernel pick
	Address string `yaml:"address" json:"address"` // local IPv4 address the rawip socket binds to
}

type ServiceConfig struct {
	IP     string `yaml:"ip" json:"ip"`
	Port   int    `yaml:"port" json:"port"`
	Filter string `yaml:"filter" json:"filter"` // RST filter identifier; empty disables filtering
}

type CoreConfig struct {
	MaxFrameSize         int  `yaml:"maxFrameSize" json:"maxFrameSize"`
	FramePoolSize        int  `yaml:"framePoolSize" json:"framePoolSize"`
	InputQueueLength     int  `yaml:"inputQueueLength" json:"inputQueueLength"`
	VerifyChecksum       bool `yaml:"verifyChecksum" json:"verifyChecksum"`
	Debug                bool `yaml:"debug" json:"debug"`
	PoolDebug            bool `yaml:"poolDebug" json:"poolDebug"`
	ProcessTimeThreshold int  `yaml:"processTimeThreshold" json:"processTimeThreshold"`
}

type ConnectionConfig struct {
	RandomISN      bool   `yaml:"randomISN" json:"randomISN"`
	FixedISN       uint32 `yaml:"fixedISN" json:"fixedISN"`
	Window         uint16 `yaml:"window" json:"window"`
	TTL            uint8  `yaml:"ttl" json:"ttl"`
	LegacyFinWait2 bool   `yaml:"legacyFinWait2" json:"legacyFinWait2"`
	ResetOnAbort   bool   `yaml:"resetOnAbort" json:"resetOnAbort"`
}

type Config struct {
	Device     DeviceConfig     `yaml:"device" json:"device"`
	Service    ServiceConfig    `yaml:"service" json:"service"`
	Core       CoreConfig       `yaml:"core" json:"core"`
	Connection ConnectionConfig `yaml:"connection" json:"connection"`
}

// AppConfig is the configuration the running program was started with.
var AppConfig *Config

// DefaultConfig mirrors lib.DefaultTcpCoreConfig and lib.DefaultConnectionConfig.
func DefaultConfig() *Config {
	core := lib.DefaultTcpCoreConfig()
	conn := lib.DefaultConnectionConfig()
	return &Config{
		Device: DeviceConfig{
			Type: DeviceTun,
			Name: "rawtcp0",
		},
		Service: ServiceConfig{
			IP:     "10.0.0.1",
			Port:   80,
			Filter: "RAW_TCP",
		},
		Core: CoreConfig{
			MaxFrameSize:         core.MaxFrameSize,
			FramePoolSize:        core.FramePoolSize,
			InputQueueLength:     core.InputQueueLength,
			VerifyChecksum:       core.VerifyChecksum,
			Debug:                core.Debug,
			PoolDebug:            core.PoolDebug,
			ProcessTimeThreshold: core.ProcessTimeThreshold,
		},
		Connection: ConnectionConfig{
			RandomISN:      conn.RandomISN,
			FixedISN:       conn.FixedISN,
			Window:         conn.Window,
			TTL:            conn.TTL,
			LegacyFinWait2: conn.LegacyFinWait2,
			ResetOnAbort:   conn.ResetOnAbort,
		},
	}
}

// ReadConfig reads a yaml configuration file. Keys missing from the file keep
// their default values; unknown keys are an error.
func ReadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", filename, err)
	}
	return Parse(data)
}

// Parse decodes yaml configuration data on top of DefaultConfig.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Device.Type {
	case DeviceTun, DeviceTap:
	case DeviceRawIP:
		if ip := net.ParseIP(c.Device.Address); ip == nil || ip.To4() == nil {
			return fmt.Errorf("device.address %q is not an IPv4 address", c.Device.Address)
		}
	default:
		return fmt.Errorf("device.type %q is not one of %s, %s, %s", c.Device.Type, DeviceTun, DeviceTap, DeviceRawIP)
	}
	if ip := net.ParseIP(c.Service.IP); ip == nil || ip.To4() == nil {
		return fmt.Errorf("service.ip %q is not an IPv4 address", c.Service.IP)
	}
	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		return fmt.Errorf("service.port %d is out of range", c.Service.Port)
	}
	if c.Core.MaxFrameSize < lib.IpHeaderLength+lib.TcpHeaderLength {
		return fmt.Errorf("core.maxFrameSize %d cannot hold an ip and a tcp header", c.Core.MaxFrameSize)
	}
	if c.Core.FramePoolSize <= 0 {
		return fmt.Errorf("core.framePoolSize must be positive")
	}
	if c.Connection.TTL == 0 {
		return fmt.Errorf("connection.ttl must be positive")
	}
	return nil
}

// TcpCoreConfig converts the core section.
func (c *Config) TcpCoreConfig() *lib.TcpCoreConfig {
	return &lib.TcpCoreConfig{
		MaxFrameSize:         c.Core.MaxFrameSize,
		FramePoolSize:        c.Core.FramePoolSize,
		InputQueueLength:     c.Core.InputQueueLength,
		VerifyChecksum:       c.Core.VerifyChecksum,
		Debug:                c.Core.Debug,
		PoolDebug:            c.Core.PoolDebug,
		ProcessTimeThreshold: c.Core.ProcessTimeThreshold,
	}
}

// ConnectionConfig converts the connection section. Segments are never
// larger than the core accepts.
func (c *Config) ConnectionConfig() *lib.ConnectionConfig {
	return &lib.ConnectionConfig{
		RandomISN:      c.Connection.RandomISN,
		FixedISN:       c.Connection.FixedISN,
		Window:         c.Connection.Window,
		TTL:            c.Connection.TTL,
		MaxFrameSize:   c.Core.MaxFrameSize,
		LegacyFinWait2: c.Connection.LegacyFinWait2,
		ResetOnAbort:   c.Connection.ResetOnAbort,
	}
}

// LoadConfig reads filename and returns the core and connection configs
// built from it.
func LoadConfig(filename string) (*lib.TcpCoreConfig, *lib.ConnectionConfig, error) {
	cfg, err := ReadConfig(filename)
	if err != nil {
		return nil, nil, err
	}
	AppConfig = cfg
	return cfg.TcpCoreConfig(), cfg.ConnectionConfig(), nil
}
