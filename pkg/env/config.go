// Package env loads the configuration shared by the link commands.
//
// Values are taken, in increasing priority, from built-in defaults, the
// YAML file named by LINK_CONFIG, the LINK_* environment variables and
// command line flags.
package env

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
	"gopkg.in/yaml.v3"

	"github.com/robotalks/framelink/pkg/crc16"
	"github.com/robotalks/framelink/pkg/l0/comm"
)

// Environment variables.
const (
	EnvConfig   = "LINK_CONFIG"
	EnvPort     = "LINK_PORT"
	EnvMQTTURL  = "LINK_MQTT_URL"
	EnvDeviceID = "LINK_DEVICE_ID"
)

// Config is the configuration of a link daemon.
type Config struct {
	// Port is the URL of the byte stream, see package port.
	Port string `yaml:"port"`
	// MQTTURL is the broker URL, e.g. mqtt://host:1883/framelink/.
	// The path is used as topic prefix.
	MQTTURL string `yaml:"mqtt_url"`
	// DeviceID identifies the target on the broker.
	DeviceID string `yaml:"device_id"`

	Link LinkConfig `yaml:"link"`
}

// LinkConfig is the YAML form of comm.LinkConfig.
type LinkConfig struct {
	SyncByte            uint8         `yaml:"sync_byte"`
	BufferSize          int           `yaml:"buffer_size"`
	FirstByteTimeout    time.Duration `yaml:"first_byte_timeout"`
	BetweenBytesTimeout time.Duration `yaml:"between_bytes_timeout"`
	CRC                 string        `yaml:"crc"`
}

var defaultConfig = Config{
	Port:    "serial:///dev/ttyUSB0",
	MQTTURL: "mqtt://localhost:1883/framelink/",
	Link: LinkConfig{
		SyncByte:            comm.SyncByte,
		BufferSize:          comm.DefaultBufferSize,
		FirstByteTimeout:    comm.DefaultFirstByteTimeout,
		BetweenBytesTimeout: comm.DefaultBetweenBytesTimeout,
		CRC:                 "ccitt-false",
	},
}

func init() {
	if fn := os.Getenv(EnvConfig); fn != "" {
		if err := defaultConfig.LoadFile(fn); err != nil {
			glog.Errorf("load %s: %v", fn, err)
		}
	}
	defaultConfig.ApplyEnv()
}

// Default gets the process wide config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig returns a copy of the default config.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// ApplyEnv overrides fields from LINK_* environment variables.
func (c *Config) ApplyEnv() {
	if val := os.Getenv(EnvPort); val != "" {
		c.Port = val
	}
	if val := os.Getenv(EnvMQTTURL); val != "" {
		c.MQTTURL = val
	}
	if val := os.Getenv(EnvDeviceID); val != "" {
		c.DeviceID = val
	}
}

// LoadFile merges the YAML file into c.
func (c *Config) LoadFile(fn string) error {
	data, err := os.ReadFile(fn)
	if err != nil {
		return err
	}
	return c.Load(data)
}

// Load merges YAML data into c. Absent fields keep their values.
func (c *Config) Load(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SetupFlags registers command line flags on the default config.
func SetupFlags() {
	defaultConfig.SetupFlagSet(flag.CommandLine)
}

// SetupFlagSet registers flags bound to c.
func (c *Config) SetupFlagSet(fs *flag.FlagSet) {
	fs.StringVar(&c.Port, "port", c.Port, "Port URL: serial:///dev/tty?baud=N, tcp://host:port or ws://host:port/path.")
	fs.StringVar(&c.MQTTURL, "mqtt", c.MQTTURL, "MQTT broker URL, path is the topic prefix.")
	fs.StringVar(&c.DeviceID, "device-id", c.DeviceID, "Device ID, defaults to the machine ID.")
	fs.IntVar(&c.Link.BufferSize, "link-buffer", c.Link.BufferSize, "Receive buffer capacity in bytes.")
	fs.DurationVar(&c.Link.FirstByteTimeout, "link-first-byte-timeout", c.Link.FirstByteTimeout, "Timeout waiting for the first byte of a fragment.")
	fs.DurationVar(&c.Link.BetweenBytesTimeout, "link-between-bytes-timeout", c.Link.BetweenBytesTimeout, "Timeout waiting for the following bytes of a fragment.")
	fs.StringVar(&c.Link.CRC, "link-crc", c.Link.CRC, "CRC variant: ccitt-false or xmodem.")
}

// Device returns DeviceID or the machine ID if not set.
func (c *Config) Device() (string, error) {
	if c.DeviceID != "" {
		return c.DeviceID, nil
	}
	id, err := machineid.ProtectedID("framelink")
	if err != nil {
		return "", fmt.Errorf("machine id: %w", err)
	}
	return id, nil
}

// CommLinkConfig converts to comm.LinkConfig.
func (c *LinkConfig) CommLinkConfig() (comm.LinkConfig, error) {
	conf := comm.DefaultLinkConfig()
	if c.SyncByte != 0 {
		conf.SyncByte = c.SyncByte
	}
	if c.BufferSize > 0 {
		if c.BufferSize < comm.FrameOverhead {
			return conf, fmt.Errorf("buffer size %d is smaller than frame overhead", c.BufferSize)
		}
		conf.BufferSize = c.BufferSize
	}
	if c.FirstByteTimeout > 0 {
		conf.FirstByteTimeout = c.FirstByteTimeout
	}
	if c.BetweenBytesTimeout > 0 {
		conf.BetweenBytesTimeout = c.BetweenBytesTimeout
	}
	if c.CRC != "" {
		params, ok := crc16.Lookup(c.CRC)
		if !ok {
			return conf, fmt.Errorf("unknown crc %q", c.CRC)
		}
		conf.CRC = params
	}
	return conf, nil
}
