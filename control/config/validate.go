package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrDriver = errors.New("unknown display driver")
	ErrBaud   = errors.New("non-standard baud rate")
	ErrRates  = errors.New("task rates out of order")
)

// Rates a GPS receiver might be configured for.
var standardBauds = map[int]bool{
	4800:   true,
	9600:   true,
	19200:  true,
	38400:  true,
	57600:  true,
	115200: true,
}

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("no config")
	}

	// ------------------------------------------------------------
	// DISPLAY
	// ------------------------------------------------------------

	d := cfg.Display
	switch d.Driver {
	case "periph":
		if d.SPI == "" || d.Latch == "" {
			return fmt.Errorf("display: periph driver needs spi and latch")
		}
	case "spidev":
		if !strings.HasPrefix(d.SPI, "/dev/") {
			return fmt.Errorf("display: spidev driver needs a device path, not %q", d.SPI)
		}
	case "none":
	default:
		return fmt.Errorf("display: %w %q", ErrDriver, d.Driver)
	}
	if d.SpeedHz <= 0 {
		return fmt.Errorf("display: speed_hz must be positive")
	}

	// ------------------------------------------------------------
	// TIME SOURCES
	// ------------------------------------------------------------

	s := cfg.Serial
	if s.Port != "" && !standardBauds[s.Baud] {
		return fmt.Errorf("serial: %w %d", ErrBaud, s.Baud)
	}
	if !strings.HasPrefix(s.Prefix, "$") || len(s.Prefix) < 2 {
		return fmt.Errorf("serial: prefix %q must be a sentence name like $GNZDA", s.Prefix)
	}
	if s.RetryMs < 0 || cfg.GPSD.WatchdogMs < 0 || cfg.Chrony.TimeoutMs < 0 {
		return errors.New("timeouts must not be negative")
	}

	// ------------------------------------------------------------
	// RATES
	// ------------------------------------------------------------

	// The remote is polled faster than the display is refreshed, which is faster than the
	// digits change, which is faster than the clock ticks.
	r := cfg.Clock()
	order := []struct {
		name string
		d    time.Duration
	}{
		{"ir_poll_us", r.IRPoll},
		{"render_us", r.Render},
		{"animate_ms", r.Animate},
		{"tick_ms", r.Tick},
	}
	for i, o := range order {
		if o.d <= 0 {
			return fmt.Errorf("rates: %s must be positive", o.name)
		}
		if i > 0 && order[i-1].d >= o.d {
			return fmt.Errorf("rates: %w: %s (%v) must be shorter than %s (%v)", ErrRates, order[i-1].name, order[i-1].d, o.name, o.d)
		}
	}
	if r.Preview <= 0 {
		return fmt.Errorf("rates: preview_ms must be positive")
	}

	if cfg.DB.Path != "" && cfg.DB.IntervalS <= 0 {
		return fmt.Errorf("db: interval_s must be positive")
	}
	return nil
}
