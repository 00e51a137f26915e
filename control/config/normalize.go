package config

import (
	"github.com/jrockway/segment-clock/control/clock"
)

const (
	DefaultSpeedHz    = 10_000_000
	DefaultBaud       = 9600
	DefaultRetryMs    = 1000
	DefaultWatchdogMs = 60_000
	DefaultChronyAddr = "localhost:323"
	DefaultTimeoutMs  = 1000
	DefaultBind       = ":8080"
	DefaultIntervalS  = 60
	DefaultDriver     = "periph"
	DefaultSPI        = "SPI0.0"
	DefaultLatch      = "GPIO48"
)

// Normalize fills in defaults for everything that was left out.  It MUST be called before
// Validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	rates := clock.DefaultConfig()

	d := &cfg.Display
	if d.Driver == "" {
		d.Driver = DefaultDriver
	}
	if d.Driver == "periph" {
		if d.SPI == "" {
			d.SPI = DefaultSPI
		}
		if d.Latch == "" {
			d.Latch = DefaultLatch
		}
	}
	if d.SpeedHz == 0 {
		d.SpeedHz = DefaultSpeedHz
	}

	s := &cfg.Serial
	if s.Baud == 0 {
		s.Baud = DefaultBaud
	}
	if s.Prefix == "" {
		s.Prefix = rates.Prefix
	}
	if s.RequireFix == nil {
		requireFix := rates.RequireFix
		s.RequireFix = &requireFix
	}
	if s.RetryMs == 0 {
		s.RetryMs = DefaultRetryMs
	}

	if cfg.GPSD.WatchdogMs == 0 {
		cfg.GPSD.WatchdogMs = DefaultWatchdogMs
	}

	if cfg.Chrony.Addr == "" {
		cfg.Chrony.Addr = DefaultChronyAddr
	}
	if cfg.Chrony.TimeoutMs == 0 {
		cfg.Chrony.TimeoutMs = DefaultTimeoutMs
	}

	r := &cfg.Rates
	if r.TickMs == 0 {
		r.TickMs = int(rates.Tick.Milliseconds())
	}
	if r.AnimateMs == 0 {
		r.AnimateMs = int(rates.Animate.Milliseconds())
	}
	if r.RenderUs == 0 {
		r.RenderUs = int(rates.Render.Microseconds())
	}
	if r.IRPollUs == 0 {
		r.IRPollUs = int(rates.IRPoll.Microseconds())
	}
	if r.PreviewMs == 0 {
		r.PreviewMs = int(rates.Preview.Milliseconds())
	}

	if cfg.HTTP.Bind == "" {
		cfg.HTTP.Bind = DefaultBind
	}
	if cfg.DB.IntervalS == 0 {
		cfg.DB.IntervalS = DefaultIntervalS
	}
}
