package config

import (
	"bufio"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/caarlos0/env"
	"github.com/google/uuid"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker          string
	MQTTClientIDDriver  string
	MQTTClientIDWeb     string
	MQTTClientIDConsole string
	MQTTClientIDDisplay string
	MQTTClientIDTeleop  string

	// Topics
	TopicCmdVel    string
	TopicScan      string
	TopicTelemetry string // empty disables telemetry

	// Robot link
	I2CBus        string // e.g. /dev/i2c-4 or "4"
	I2CTransport  string // "periph", "i2cdev" or "sim"
	MCUI2CAddr    uint16
	TickInterval  int    // milliseconds
	FrameChecksum bool   // seal actuator frames and verify sensor frames
	StaleScan     string // "skip" or "republish"

	// Scan
	ScanFrameID       string
	DistanceTableFile string // JSON breakpoint table; empty uses the built-in table

	// Console
	ConsoleLogInterval int // milliseconds

	// Web Server
	WebServerPort int

	// Display
	DisplayI2CBus         string
	DisplayI2CAddr        uint16
	DisplayUpdateInterval int // milliseconds
}

// overrides lists the keys that may also come from the environment as
// EPUCK_<KEY>. Empty means unset.
type overrides struct {
	MQTTBroker        string `env:"EPUCK_MQTT_BROKER" key:"MQTT_BROKER"`
	TopicCmdVel       string `env:"EPUCK_TOPIC_CMD_VEL" key:"TOPIC_CMD_VEL"`
	TopicScan         string `env:"EPUCK_TOPIC_SCAN" key:"TOPIC_SCAN"`
	TopicTelemetry    string `env:"EPUCK_TOPIC_TELEMETRY" key:"TOPIC_TELEMETRY"`
	I2CBus            string `env:"EPUCK_I2C_BUS" key:"I2C_BUS"`
	I2CTransport      string `env:"EPUCK_I2C_TRANSPORT" key:"I2C_TRANSPORT"`
	MCUI2CAddr        string `env:"EPUCK_MCU_I2C_ADDR" key:"MCU_I2C_ADDR"`
	TickInterval      string `env:"EPUCK_TICK_INTERVAL" key:"TICK_INTERVAL"`
	FrameChecksum     string `env:"EPUCK_FRAME_CHECKSUM" key:"FRAME_CHECKSUM"`
	StaleScan         string `env:"EPUCK_STALE_SCAN_POLICY" key:"STALE_SCAN_POLICY"`
	ScanFrameID       string `env:"EPUCK_SCAN_FRAME_ID" key:"SCAN_FRAME_ID"`
	DistanceTableFile string `env:"EPUCK_DISTANCE_TABLE_FILE" key:"DISTANCE_TABLE_FILE"`
	WebServerPort     string `env:"EPUCK_WEB_SERVER_PORT" key:"WEB_SERVER_PORT"`
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal and Get.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// DisplayAddr is the SSD1306 address; periph's driver does not take another.
const DisplayAddr = 0x3C

// Defaults returns a Config with every optional field filled in.
func Defaults() *Config {
	return &Config{
		MQTTBroker:            "tcp://localhost:1883",
		TopicCmdVel:           "epuck/cmd_vel",
		TopicScan:             "epuck/scan",
		I2CBus:                "/dev/i2c-4",
		I2CTransport:          "periph",
		MCUI2CAddr:            0x1F,
		TickInterval:          64,
		StaleScan:             "skip",
		ScanFrameID:           "laser_scanner",
		ConsoleLogInterval:    500,
		WebServerPort:         8080,
		DisplayI2CBus:         "1",
		DisplayI2CAddr:        DisplayAddr,
		DisplayUpdateInterval: 250,
	}
}

// Load reads the configuration file, applies EPUCK_* environment overrides
// and returns the validated Config.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.fillClientIDs()

	// Validate required fields
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv routes every non-empty EPUCK_* variable through setValue so the
// environment gets the same checks as the file.
func (c *Config) applyEnv() error {
	var o overrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	v := reflect.ValueOf(o)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		value := v.Field(i).String()
		if value == "" {
			continue
		}
		f := t.Field(i)
		if err := c.setValue(f.Tag.Get("key"), value); err != nil {
			return fmt.Errorf("environment %s: %w", f.Tag.Get("env"), err)
		}
	}
	return nil
}

// fillClientIDs gives every role without an explicit client id a unique one,
// so two tools on the same host never kick each other off the broker.
func (c *Config) fillClientIDs() {
	ids := []struct {
		role string
		dst  *string
	}{
		{"driver", &c.MQTTClientIDDriver},
		{"web", &c.MQTTClientIDWeb},
		{"console", &c.MQTTClientIDConsole},
		{"display", &c.MQTTClientIDDisplay},
		{"teleop", &c.MQTTClientIDTeleop},
	}
	for _, id := range ids {
		if *id.dst == "" {
			*id.dst = "epuck-" + id.role + "-" + uuid.NewString()[:8]
		}
	}
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_DRIVER":
		c.MQTTClientIDDriver = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value
	case "MQTT_CLIENT_ID_TELEOP":
		c.MQTTClientIDTeleop = value

	// Topics
	case "TOPIC_CMD_VEL":
		c.TopicCmdVel = value
	case "TOPIC_SCAN":
		c.TopicScan = value
	case "TOPIC_TELEMETRY":
		c.TopicTelemetry = value

	// Robot link
	case "I2C_BUS":
		c.I2CBus = value
	case "I2C_TRANSPORT":
		if value != "periph" && value != "i2cdev" && value != "sim" {
			return fmt.Errorf("I2C_TRANSPORT must be periph, i2cdev or sim, got %q", value)
		}
		c.I2CTransport = value
	case "MCU_I2C_ADDR":
		addr, err := parseAddr(value)
		if err != nil {
			return fmt.Errorf("invalid MCU_I2C_ADDR %q: %w", value, err)
		}
		c.MCUI2CAddr = addr
	case "TICK_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid TICK_INTERVAL %q: %w", value, err)
		}
		if interval < 10 || interval > 1000 {
			return fmt.Errorf("TICK_INTERVAL must be 10-1000 ms, got %d", interval)
		}
		c.TickInterval = interval
	case "FRAME_CHECKSUM":
		on, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid FRAME_CHECKSUM %q: %w", value, err)
		}
		c.FrameChecksum = on
	case "STALE_SCAN_POLICY":
		if value != "skip" && value != "republish" {
			return fmt.Errorf("STALE_SCAN_POLICY must be skip or republish, got %q", value)
		}
		c.StaleScan = value

	// Scan
	case "SCAN_FRAME_ID":
		c.ScanFrameID = value
	case "DISTANCE_TABLE_FILE":
		c.DistanceTableFile = value

	// Console
	case "CONSOLE_LOG_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid CONSOLE_LOG_INTERVAL %q: %w", value, err)
		}
		c.ConsoleLogInterval = interval

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("WEB_SERVER_PORT must be 1-65535, got %d", port)
		}
		c.WebServerPort = port

	// Display
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_I2C_ADDR":
		addr, err := parseAddr(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, err)
		}
		if addr != DisplayAddr {
			return fmt.Errorf("DISPLAY_I2C_ADDR must be 0x%02X, the only address the SSD1306 driver supports, got 0x%02X", DisplayAddr, addr)
		}
		c.DisplayI2CAddr = addr
	case "DISPLAY_UPDATE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_UPDATE_INTERVAL %q: %w", value, err)
		}
		c.DisplayUpdateInterval = interval

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// parseAddr accepts 7-bit addresses in any base strconv understands (0x1F, 31).
func parseAddr(value string) (uint16, error) {
	addr, err := strconv.ParseUint(value, 0, 16)
	if err != nil {
		return 0, err
	}
	if addr > 0x7F {
		return 0, fmt.Errorf("address 0x%X out of 7-bit range", addr)
	}
	return uint16(addr), nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.I2CBus == "" {
		return fmt.Errorf("I2C_BUS is required")
	}
	if c.TopicCmdVel == "" || c.TopicScan == "" {
		return fmt.Errorf("TOPIC_CMD_VEL and TOPIC_SCAN are required")
	}
	if c.TopicTelemetry != "" && (c.TopicTelemetry == c.TopicScan || c.TopicTelemetry == c.TopicCmdVel) {
		return fmt.Errorf("TOPIC_TELEMETRY must differ from the scan and command topics")
	}
	if c.ConsoleLogInterval <= 0 {
		return fmt.Errorf("CONSOLE_LOG_INTERVAL must be positive")
	}
	if c.DisplayUpdateInterval <= 0 {
		return fmt.Errorf("DISPLAY_UPDATE_INTERVAL must be positive")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
