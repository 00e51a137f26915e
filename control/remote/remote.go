// Package remote maps NEC command codes from the clock's infrared remote to clock actions.
package remote

import "fmt"

// Code is a decoded NEC command byte.
type Code uint8

// Buttons on the 21-key remote that ships with the clock.
const (
	A     Code = 0x45
	B     Code = 0x46
	C     Code = 0x47
	D     Code = 0x44
	Plus  Code = 0x43
	Minus Code = 0x0d
	OK    Code = 0x15
	Up    Code = 0x40
	Down  Code = 0x19
	Left  Code = 0x07
	Right Code = 0x09
	Zero  Code = 0x16
	One   Code = 0x0c
	Two   Code = 0x18
	Three Code = 0x5e
	Four  Code = 0x08
	Five  Code = 0x1c
	Six   Code = 0x5a
	Seven Code = 0x42
	Eight Code = 0x52
	Nine  Code = 0x4a
)

// Action is something the clock does in response to a button.
type Action int

const (
	None Action = iota
	Forward
	Countdown
	BrightnessUp
	BrightnessDown
	BrightnessReset
	NudgeForward
	NudgeBack
	JumpForward
	JumpBack
)

var actionNames = map[Action]string{
	None:            "none",
	Forward:         "forward",
	Countdown:       "countdown",
	BrightnessUp:    "brightness-up",
	BrightnessDown:  "brightness-down",
	BrightnessReset: "brightness-reset",
	NudgeForward:    "nudge-forward",
	NudgeBack:       "nudge-back",
	JumpForward:     "jump-forward",
	JumpBack:        "jump-back",
}

func (a Action) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Commands is the complete button table.  Buttons not listed do nothing.
var Commands = map[Code]Action{
	A:     Forward,
	C:     Forward,
	B:     Countdown,
	Left:  Countdown,
	D:     BrightnessReset,
	OK:    BrightnessReset,
	Plus:  BrightnessUp,
	Up:    BrightnessDown,
	Minus: BrightnessDown,
	Six:   NudgeForward,
	Four:  NudgeBack,
	Two:   JumpForward,
	Eight: JumpBack,
}

// Lookup returns the action bound to code, if any.
func Lookup(code Code) (Action, bool) {
	a, ok := Commands[code]
	return a, ok
}
