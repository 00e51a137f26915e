// Package config reads the clock's configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jrockway/segment-clock/control/clock"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Display DisplayConfig `yaml:"display"`
	Serial  SerialConfig  `yaml:"serial"`
	GPSD    GPSDConfig    `yaml:"gpsd"`
	Remote  RemoteConfig  `yaml:"remote"`
	Chrony  ChronyConfig  `yaml:"chrony"`
	Rates   RatesConfig   `yaml:"rates"`
	HTTP    HTTPConfig    `yaml:"http"`
	DB      DBConfig      `yaml:"db"`
}

// ---- DISPLAY ----

type DisplayConfig struct {
	// Driver is "periph" (SPI port plus a GPIO latch), "spidev" (chip select is the latch) or
	// "none" (preview only).
	Driver  string `yaml:"driver"`
	SPI     string `yaml:"spi"`   // periph port name, or /dev/spidevX.Y
	Latch   string `yaml:"latch"` // gpio name, periph only
	SpeedHz int64  `yaml:"speed_hz"`
}

// ---- TIME SOURCES ----

type SerialConfig struct {
	Port       string `yaml:"port"` // empty disables the serial receiver
	Baud       int    `yaml:"baud"`
	Prefix     string `yaml:"prefix"`
	RequireFix *bool  `yaml:"require_fix"`
	RetryMs    int    `yaml:"retry_ms"`
}

type GPSDConfig struct {
	Addr       string `yaml:"addr"` // empty disables gpsd
	WatchdogMs int    `yaml:"watchdog_ms"`
}

type ChronyConfig struct {
	Addr      string `yaml:"addr"`
	Seed      bool   `yaml:"seed"` // start from the system clock if chronyd says it's synchronized
	TimeoutMs int    `yaml:"timeout_ms"`
}

// ---- REMOTE ----

type RemoteConfig struct {
	Device string `yaml:"device"` // empty disables the remote
}

// ---- RATES ----

type RatesConfig struct {
	TickMs    int `yaml:"tick_ms"`
	AnimateMs int `yaml:"animate_ms"`
	RenderUs  int `yaml:"render_us"`
	IRPollUs  int `yaml:"ir_poll_us"`
	PreviewMs int `yaml:"preview_ms"`
}

// ---- DEBUG ----

type HTTPConfig struct {
	Bind string `yaml:"bind"`
}

type DBConfig struct {
	Path      string `yaml:"path"` // empty disables the sync log
	IntervalS int    `yaml:"interval_s"`
}

// Load reads a config file.  Unknown keys are an error.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse parses a config file's contents.  An empty document is a valid, default config.
func Parse(b []byte) (*Config, error) {
	cfg := new(Config)
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Clock returns the task settings for the clock.  The config must have been normalized.
func (c *Config) Clock() clock.Config {
	requireFix := true
	if c.Serial.RequireFix != nil {
		requireFix = *c.Serial.RequireFix
	}
	return clock.Config{
		Tick:       time.Duration(c.Rates.TickMs) * time.Millisecond,
		Animate:    time.Duration(c.Rates.AnimateMs) * time.Millisecond,
		Render:     time.Duration(c.Rates.RenderUs) * time.Microsecond,
		IRPoll:     time.Duration(c.Rates.IRPollUs) * time.Microsecond,
		Preview:    time.Duration(c.Rates.PreviewMs) * time.Millisecond,
		Prefix:     c.Serial.Prefix,
		RequireFix: requireFix,
	}
}
