// Package watch keeps the time shown on the clock, along with the display mode and brightness.
//
// A Watch is not safe for concurrent use; the scheduler serializes access to it.
package watch

import (
	"math"

	"github.com/jrockway/segment-clock/control/calendar"
	"github.com/jrockway/segment-clock/control/remote"
)

// Mode selects what number the clock displays.
type Mode int

const (
	// Forward shows seconds since the Unix epoch.
	Forward Mode = iota
	// Countdown shows the seconds remaining until the 32-bit time_t overflows.
	Countdown
)

func (m Mode) String() string {
	switch m {
	case Forward:
		return "forward"
	case Countdown:
		return "countdown"
	}
	return "unknown"
}

const (
	// Positions is the number of digits on the display.
	Positions = 10

	MinBrightness     = 8
	MaxBrightness     = math.MaxUint8
	BrightnessStep    = 8
	ResetBrightness   = 16
	DefaultBrightness = MinBrightness

	// Doomsday is 2038-01-19T03:14:07Z.
	Doomsday = math.MaxInt32

	nudge = 1
	jump  = 10
)

// Digits are the 7-segment patterns for 0-9, segment a in bit 0 through g in bit 6.
var Digits = [10]uint8{
	0b0111111, 0b0000110, 0b1011011, 0b1001111, 0b1100110,
	0b1101101, 0b1111101, 0b0000111, 0b1111111, 0b1101111,
}

// Printer draws one digit pattern at a display position.
type Printer interface {
	Print(pos int, symbol uint8, brightness uint8)
}

// State is a copy of everything a Watch knows.
type State struct {
	Mode       Mode
	Brightness uint8
	Timestamp  uint64
}

// Watch is the clock's time-keeping state.
type Watch struct {
	mode       Mode
	brightness uint8
	ts         uint64
}

// New returns a watch at the epoch, counting forward, at the lowest brightness.
func New() *Watch {
	return &Watch{
		mode:       Forward,
		brightness: DefaultBrightness,
	}
}

// Tick advances the clock by one second.
func (w *Watch) Tick() {
	w.ts++
}

// SetUTCTime replaces the clock's time.  The fields are not checked; callers should not pass
// the all-zero time that GPS receivers report before they have a fix.
func (w *Watch) SetUTCTime(year, month, day, hour, minute, second uint64) {
	w.ts = uint64(calendar.Seconds(int64(year), int64(month), int64(day), int64(hour), int64(minute), int64(second)))
}

// IRCommand applies the action bound to a remote button, and reports whether there was one.
func (w *Watch) IRCommand(code remote.Code) bool {
	action, ok := remote.Lookup(code)
	if !ok {
		return false
	}
	switch action {
	case remote.Forward:
		w.mode = Forward
	case remote.Countdown:
		w.mode = Countdown
	case remote.BrightnessReset:
		w.brightness = ResetBrightness
	case remote.BrightnessUp:
		if w.brightness > MaxBrightness-BrightnessStep {
			w.brightness = MaxBrightness
		} else {
			w.brightness += BrightnessStep
		}
	case remote.BrightnessDown:
		if w.brightness < MinBrightness+BrightnessStep {
			w.brightness = MinBrightness
		} else {
			w.brightness -= BrightnessStep
		}
	case remote.NudgeForward:
		w.ts += nudge
	case remote.NudgeBack:
		w.back(nudge)
	case remote.JumpForward:
		w.ts += jump
	case remote.JumpBack:
		w.back(jump)
	default:
		return false
	}
	return true
}

func (w *Watch) back(n uint64) {
	if w.ts < n {
		w.ts = 0
		return
	}
	w.ts -= n
}

// Value returns the number that the display should show.
func (w *Watch) Value() uint64 {
	if w.mode == Countdown {
		return Doomsday - w.ts
	}
	return w.ts
}

// Animate draws the current value onto the display, least significant digit on the right.
// Anything past ten digits is dropped.
func (w *Watch) Animate(p Printer) {
	val := w.Value()
	for pos := 0; pos < Positions; pos++ {
		p.Print(Positions-1-pos, Digits[val%10], w.brightness)
		val /= 10
	}
}

func (w *Watch) Timestamp() uint64 { return w.ts }
func (w *Watch) Mode() Mode        { return w.mode }
func (w *Watch) Brightness() uint8 { return w.brightness }

// State returns a copy of the watch's state.
func (w *Watch) State() State {
	return State{Mode: w.mode, Brightness: w.brightness, Timestamp: w.ts}
}
