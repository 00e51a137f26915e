// Package clock binds the watch, the display and the time sources together as a set of
// scheduled tasks.
package clock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/jrockway/segment-clock/control/display"
	"github.com/jrockway/segment-clock/control/nmea"
	"github.com/jrockway/segment-clock/control/remote"
	"github.com/jrockway/segment-clock/control/sched"
	"github.com/jrockway/segment-clock/control/synclog"
	"github.com/jrockway/segment-clock/control/uart"
	"github.com/jrockway/segment-clock/control/watch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
)

// Task priorities.  Higher runs first.
const (
	previewPriority sched.Priority = iota
	inputPriority
	animatePriority
	renderPriority
)

const (
	fixQueue  = 4
	fifoBytes = 1024
)

var (
	syncCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clock_syncs",
		Help: "count of times the clock was set from a time source",
	}, []string{"source"})
	ignoredFixCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clock_ignored_fixes",
		Help: "count of fixes from a time source that were not used to set the clock",
	}, []string{"source", "reason"})
	buttonCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remote_buttons",
		Help: "count of remote control buttons received, by action",
	}, []string{"action"})
)

// Config controls how often each task runs.
type Config struct {
	Tick    time.Duration
	Animate time.Duration
	Render  time.Duration
	IRPoll  time.Duration
	Preview time.Duration

	// Prefix selects the serial sentence that carries the time.
	Prefix string
	// RequireFix ignores time reports from a receiver that hasn't got a fix yet.
	RequireFix bool
}

// DefaultConfig returns the rates the clock was designed for.
func DefaultConfig() Config {
	return Config{
		Tick:       time.Second,
		Animate:    125 * time.Millisecond,
		Render:     250 * time.Microsecond,
		IRPoll:     100 * time.Microsecond,
		Preview:    250 * time.Millisecond,
		Prefix:     nmea.DefaultPrefix,
		RequireFix: true,
	}
}

func (cfg Config) validate(hasRemote, hasPreview bool) error {
	periods := []struct {
		name string
		d    time.Duration
		used bool
	}{
		{"tick", cfg.Tick, true},
		{"animate", cfg.Animate, true},
		{"render", cfg.Render, true},
		{"ir poll", cfg.IRPoll, hasRemote},
		{"preview", cfg.Preview, hasPreview},
	}
	for _, p := range periods {
		if p.used && p.d <= 0 {
			return fmt.Errorf("%s period must be positive, not %v", p.name, p.d)
		}
	}
	return nil
}

// Receiver is a source of decoded remote control buttons, like *remote.LIRC.
type Receiver interface {
	Poll() (remote.Code, bool, error)
}

// Previewer receives a copy of the display and watch state a few times a second.
type Previewer interface {
	Update(canvas [display.Segments]uint8, state watch.State)
}

// Clock is the running clock.
type Clock struct {
	// SyncEvents, if set before Run, receives an event every time a time source sets the clock.
	// Sends never block; events are dropped when the channel is full.
	SyncEvents chan<- synclog.Event

	cfg     Config
	sched   *sched.Scheduler
	watch   *sched.Shared[watch.Watch]
	display *sched.Shared[display.Controller]

	rx        Receiver
	preview   Previewer
	assembler *nmea.Assembler
	fifo      *uart.FIFO
	fixes     chan nmea.Fix
	gpsSync   sched.Handle

	remoteEvents trace.EventLog
	syncEvents   trace.EventLog
}

// New returns a Clock that draws on d.  The clock takes ownership of d.  rx and preview may be
// nil.  The display shows the epoch until a time source sets the clock.
func New(cfg Config, d *display.Controller, rx Receiver, preview Previewer) (*Clock, error) {
	if d == nil {
		return nil, errors.New("no display")
	}
	if err := cfg.validate(rx != nil, preview != nil); err != nil {
		return nil, err
	}
	c := &Clock{
		cfg:          cfg,
		sched:        sched.New(),
		watch:        sched.NewShared("watch", *watch.New()),
		display:      sched.NewShared("display", *d),
		rx:           rx,
		preview:      preview,
		assembler:    nmea.NewAssembler(cfg.Prefix, cfg.RequireFix),
		fixes:        make(chan nmea.Fix, fixQueue),
		remoteEvents: trace.NewEventLog("clock", "remote"),
		syncEvents:   trace.NewEventLog("clock", "sync"),
	}

	var err error
	add := func(t sched.Task) sched.Handle {
		if err != nil {
			return sched.Handle{}
		}
		h, addErr := c.sched.Add(t)
		if addErr != nil {
			err = fmt.Errorf("add task %s: %w", t.Name, addErr)
		}
		return h
	}
	add(sched.Task{Name: "tick", Priority: inputPriority, Every: cfg.Tick, Shared: []sched.Resource{c.watch}, Run: c.tick})
	if rx != nil {
		add(sched.Task{Name: "ir_poll", Priority: inputPriority, Every: cfg.IRPoll, Shared: []sched.Resource{c.watch}, Run: c.irPoll})
	}
	uartRx := add(sched.Task{Name: "uart_rx", Priority: inputPriority, Shared: []sched.Resource{c.watch}, Run: c.uartRx})
	c.gpsSync = add(sched.Task{Name: "gps_sync", Priority: inputPriority, Shared: []sched.Resource{c.watch}, Run: c.gpsRx})
	add(sched.Task{Name: "animate", Priority: animatePriority, Every: cfg.Animate, Shared: []sched.Resource{c.watch, c.display}, Run: c.animate})
	add(sched.Task{Name: "render", Priority: renderPriority, Every: cfg.Render, Shared: []sched.Resource{c.display}, Run: c.render})
	if preview != nil {
		add(sched.Task{Name: "preview", Priority: previewPriority, Every: cfg.Preview, Shared: []sched.Resource{c.watch, c.display}, Run: c.updatePreview})
	}
	if err != nil {
		return nil, err
	}
	c.fifo = uart.NewFIFO(fifoBytes, uartRx.Pend)

	c.initialRender()
	return c, nil
}

// initialRender puts the current time on the display before the scheduler starts.
func (c *Clock) initialRender() {
	c.watch.Init(func(w *watch.Watch) {
		c.display.Init(func(d *display.Controller) {
			w.Animate(d)
			d.Render()
		})
	})
}

// Seed sets the clock from t, usually the system clock once it is known to be synchronized.  It
// must not be called while Run is running.
func (c *Clock) Seed(t time.Time) {
	t = t.UTC()
	c.watch.Init(func(w *watch.Watch) {
		w.SetUTCTime(uint64(t.Year()), uint64(t.Month()), uint64(t.Day()), uint64(t.Hour()), uint64(t.Minute()), uint64(t.Second()))
	})
	c.initialRender()
}

// Blank turns the display off.  It must not be called while Run is running.
func (c *Clock) Blank() {
	c.display.Init(func(d *display.Controller) {
		d.Clear()
		d.Render()
	})
}

// Serial returns the writer that bytes from the GPS receiver's serial port should be copied to.
// Writes never block.
func (c *Clock) Serial() io.Writer {
	return c.fifo
}

// GPSFix queues a fix from another time source, like gpsd.  It never blocks.
func (c *Clock) GPSFix(f nmea.Fix) {
	select {
	case c.fixes <- f:
		c.gpsSync.Pend()
	default:
		ignoredFixCounter.WithLabelValues("gpsd", "queue_full").Inc()
	}
}

// Run runs the clock until the context is cancelled.
func (c *Clock) Run(ctx context.Context) error {
	defer c.remoteEvents.Finish()
	defer c.syncEvents.Finish()
	if err := c.sched.Run(ctx); err != nil {
		return fmt.Errorf("run tasks: %w", err)
	}
	return nil
}

func (c *Clock) tick(cx *sched.Context) {
	sched.Lock(cx, c.watch, func(w *watch.Watch) {
		w.Tick()
	})
}

func (c *Clock) irPoll(cx *sched.Context) {
	code, ok, err := c.rx.Poll()
	if err != nil {
		log.Printf("read remote: %v", err)
		c.remoteEvents.Errorf("read remote: %v", err)
		return
	}
	if !ok {
		return
	}
	action, _ := remote.Lookup(code)
	buttonCounter.WithLabelValues(action.String()).Inc()
	var handled bool
	sched.Lock(cx, c.watch, func(w *watch.Watch) {
		handled = w.IRCommand(code)
	})
	if handled {
		c.remoteEvents.Printf("button %#02x: %v", uint8(code), action)
	} else {
		c.remoteEvents.Printf("button %#02x: ignored", uint8(code))
	}
}

func (c *Clock) uartRx(cx *sched.Context) {
	for {
		b, err := c.fifo.ReadByte()
		if err != nil {
			return
		}
		if fix, ok := c.assembler.Feed(b); ok {
			c.commit(cx, "serial", fix)
		}
	}
}

func (c *Clock) gpsRx(cx *sched.Context) {
	for {
		select {
		case fix := <-c.fixes:
			if c.cfg.RequireFix && !fix.Complete() {
				ignoredFixCounter.WithLabelValues("gpsd", "no_fix").Inc()
				continue
			}
			c.commit(cx, "gpsd", fix)
		default:
			return
		}
	}
}

// commit sets the watch from a fix.
func (c *Clock) commit(cx *sched.Context, source string, fix nmea.Fix) {
	var before, after uint64
	sched.Lock(cx, c.watch, func(w *watch.Watch) {
		before = w.Timestamp()
		w.SetUTCTime(fix.Year, fix.Month, fix.Day, fix.Hour, fix.Minute, fix.Second)
		after = w.Timestamp()
	})
	syncCounter.WithLabelValues(source).Inc()
	if before != after {
		c.syncEvents.Printf("%s: %d -> %d (%+d)", source, before, after, int64(after-before))
	}
	if c.SyncEvents == nil {
		return
	}
	select {
	case c.SyncEvents <- synclog.Event{Source: source, Before: before, After: after, At: time.Now()}:
	default:
	}
}

func (c *Clock) animate(cx *sched.Context) {
	sched.Lock2(cx, c.watch, c.display, func(w *watch.Watch, d *display.Controller) {
		w.Animate(d)
	})
}

func (c *Clock) render(cx *sched.Context) {
	sched.Lock(cx, c.display, func(d *display.Controller) {
		d.Render()
	})
}

func (c *Clock) updatePreview(cx *sched.Context) {
	var canvas [display.Segments]uint8
	var state watch.State
	sched.Lock2(cx, c.watch, c.display, func(w *watch.Watch, d *display.Controller) {
		canvas = d.Canvas()
		state = w.State()
	})
	c.preview.Update(canvas, state)
}
