package clock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jrockway/segment-clock/control/display"
	"github.com/jrockway/segment-clock/control/nmea"
	"github.com/jrockway/segment-clock/control/remote"
	"github.com/jrockway/segment-clock/control/synclog"
	"github.com/jrockway/segment-clock/control/watch"
)

const timeout = 5 * time.Second

type fakeReceiver struct {
	codes chan remote.Code
	err   error
}

func (r *fakeReceiver) Poll() (remote.Code, bool, error) {
	if r.err != nil {
		err := r.err
		r.err = nil
		return 0, false, err
	}
	select {
	case code := <-r.codes:
		return code, true, nil
	default:
		return 0, false, nil
	}
}

type fakePreview struct {
	sync.Mutex
	canvas [display.Segments]uint8
	state  watch.State
	n      int
}

func (p *fakePreview) Update(canvas [display.Segments]uint8, state watch.State) {
	p.Lock()
	defer p.Unlock()
	p.canvas, p.state = canvas, state
	p.n++
}

// waitFor polls the preview until f returns true.
func (p *fakePreview) waitFor(t *testing.T, what string, f func(canvas [display.Segments]uint8, state watch.State) bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		p.Lock()
		ok := p.n > 0 && f(p.canvas, p.state)
		p.Unlock()
		if ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Tick = time.Hour
	cfg.Animate = time.Millisecond
	cfg.Render = 100 * time.Microsecond
	cfg.IRPoll = 100 * time.Microsecond
	cfg.Preview = time.Millisecond
	return cfg
}

func run(t *testing.T, c *Clock) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Run(ctx)
	}()
	var once sync.Once
	var err error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case err = <-errCh:
			case <-time.After(timeout):
				err = errors.New("timeout waiting for clock to stop")
			}
		})
		return err
	}
	t.Cleanup(func() { stop() })
	return stop
}

func waitEvent(t *testing.T, ch <-chan synclog.Event) synclog.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(timeout):
		t.Fatal("timeout waiting for sync event")
	}
	return synclog.Event{}
}

func TestInitialRender(t *testing.T) {
	c, err := New(testConfig(), display.New(nil, nil), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	var frame [display.Digits]byte
	c.display.Init(func(d *display.Controller) {
		frame = d.Frame()
	})
	for i, got := range frame {
		if want := watch.Digits[0]; got != want {
			t.Errorf("digit %d:\n  got: %#08b\n want: %#08b", i, got, want)
		}
	}

	c.Seed(time.Date(2023, 8, 8, 0, 41, 1, 0, time.UTC))
	c.display.Init(func(d *display.Controller) {
		frame = d.Frame()
	})
	var digits strings.Builder
	for _, b := range frame {
		for n, pattern := range watch.Digits {
			if pattern == b {
				digits.WriteByte(byte('0' + n))
			}
		}
	}
	if got, want := digits.String(), "1691455261"; got != want {
		t.Errorf("display after seed:\n  got: %v\n want: %v", got, want)
	}
}

func TestNewErrors(t *testing.T) {
	if _, err := New(testConfig(), nil, nil, nil); err == nil {
		t.Error("expected error without a display")
	}
	cfg := testConfig()
	cfg.Render = 0
	if _, err := New(cfg, display.New(nil, nil), nil, nil); err == nil {
		t.Error("expected error with a zero render period")
	}
	cfg = testConfig()
	cfg.IRPoll = 0
	if _, err := New(cfg, display.New(nil, nil), nil, nil); err != nil {
		t.Errorf("ir poll period is unused without a receiver: %v", err)
	}
	if _, err := New(cfg, display.New(nil, nil), &fakeReceiver{}, nil); err == nil {
		t.Error("expected error with a receiver and a zero poll period")
	}
}

func TestSerialSync(t *testing.T) {
	preview := new(fakePreview)
	c, err := New(testConfig(), display.New(nil, nil), nil, preview)
	if err != nil {
		t.Fatal(err)
	}
	events := make(chan synclog.Event, 10)
	c.SyncEvents = events
	stop := run(t, c)

	serial := c.Serial()
	// Receivers without a fix report zeros; those must not reset the clock.
	for _, line := range []string{
		"$GNZDA,000000.000,00,00,0000,00,00*48\r\n",
		"$GNGGA,004101.000,,,,,0,0,,,M,,M,,*52\r\n",
		"$GNZDA,004101.000,08,08,2023,00,00*4F\r\n",
	} {
		if _, err := serial.Write([]byte(line)); err != nil {
			t.Fatal(err)
		}
	}
	e := waitEvent(t, events)
	if got, want := e.Source, "serial"; got != want {
		t.Errorf("source:\n  got: %v\n want: %v", got, want)
	}
	if got, want := e.Before, uint64(0); got != want {
		t.Errorf("before:\n  got: %v\n want: %v", got, want)
	}
	if got, want := e.After, uint64(1691455261); got != want {
		t.Errorf("after:\n  got: %v\n want: %v", got, want)
	}
	preview.waitFor(t, "preview to show the new time", func(_ [display.Segments]uint8, s watch.State) bool {
		return s.Timestamp == 1691455261
	})

	if err := stop(); !errors.Is(err, context.Canceled) {
		t.Errorf("unexpected error after cancel: %v", err)
	}
}

func TestGPSFix(t *testing.T) {
	c, err := New(testConfig(), display.New(nil, nil), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	events := make(chan synclog.Event, 10)
	c.SyncEvents = events
	run(t, c)

	c.GPSFix(nmea.Fix{})
	c.GPSFix(nmea.Fix{Year: 2000, Month: 2, Day: 29, Hour: 12})
	e := waitEvent(t, events)
	if got, want := e.Source, "gpsd"; got != want {
		t.Errorf("source:\n  got: %v\n want: %v", got, want)
	}
	if got, want := e.After, uint64(951825600); got != want {
		t.Errorf("after:\n  got: %v\n want: %v", got, want)
	}
	select {
	case e := <-events:
		t.Errorf("unexpected event: %+v", e)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestRemote(t *testing.T) {
	rx := &fakeReceiver{codes: make(chan remote.Code, 10), err: errors.New("device went away")}
	preview := new(fakePreview)
	c, err := New(testConfig(), display.New(nil, nil), rx, preview)
	if err != nil {
		t.Fatal(err)
	}
	c.Seed(time.Unix(1000, 0))
	run(t, c)

	rx.codes <- remote.Plus
	rx.codes <- remote.Six
	rx.codes <- 0xee
	preview.waitFor(t, "brightness and nudge", func(_ [display.Segments]uint8, s watch.State) bool {
		return s.Brightness == watch.DefaultBrightness+watch.BrightnessStep && s.Timestamp == 1001
	})

	rx.codes <- remote.B
	preview.waitFor(t, "countdown on the display", func(canvas [display.Segments]uint8, s watch.State) bool {
		if s.Mode != watch.Countdown {
			return false
		}
		// 2147483647 - 1001 = 2147482646; the last digit is a 6.
		last := canvas[(display.Digits-1)*display.SegmentsPerDigit:]
		for offset := 0; offset < display.SegmentsPerDigit; offset++ {
			lit := last[display.SegmentsPerDigit-1-offset] != 0
			if want := watch.Digits[6]>>offset&1 == 1; lit != want {
				return false
			}
		}
		return true
	})
}

func TestBlankAfterRun(t *testing.T) {
	c, err := New(testConfig(), display.New(nil, nil), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	c.Seed(time.Unix(1691455261, 0))
	stop := run(t, c)
	if err := stop(); !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error after cancel: %v", err)
	}
	c.Blank()
	var frame [display.Digits]byte
	c.display.Init(func(d *display.Controller) {
		frame = d.Frame()
	})
	if got, want := frame, [display.Digits]byte{}; got != want {
		t.Errorf("frame after blank:\n  got: %v\n want: %v", got, want)
	}
}
