package remote

import "testing"

func TestLookup(t *testing.T) {
	testData := []struct {
		code   Code
		want   Action
		wantOK bool
	}{
		{A, Forward, true},
		{C, Forward, true},
		{B, Countdown, true},
		{Left, Countdown, true},
		{D, BrightnessReset, true},
		{OK, BrightnessReset, true},
		{Plus, BrightnessUp, true},
		{Up, BrightnessDown, true},
		{Minus, BrightnessDown, true},
		{Six, NudgeForward, true},
		{Four, NudgeBack, true},
		{Two, JumpForward, true},
		{Eight, JumpBack, true},
		{Right, None, false},
		{Down, None, false},
		{Zero, None, false},
		{0xff, None, false},
	}

	for _, test := range testData {
		t.Run(test.want.String(), func(t *testing.T) {
			got, ok := Lookup(test.code)
			if ok != test.wantOK {
				t.Errorf("lookup %#x: ok:\n  got: %v\n want: %v", test.code, ok, test.wantOK)
			}
			if want := test.want; got != want {
				t.Errorf("lookup %#x:\n  got: %v\n want: %v", test.code, got, want)
			}
		})
	}
}

func TestActionString(t *testing.T) {
	if got, want := JumpBack.String(), "jump-back"; got != want {
		t.Errorf("string:\n  got: %v\n want: %v", got, want)
	}
	if got, want := Action(42).String(), "Action(42)"; got != want {
		t.Errorf("string:\n  got: %v\n want: %v", got, want)
	}
}
