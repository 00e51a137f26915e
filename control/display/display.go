// Package display drives the clock's LED segments through a chain of shift registers.
//
// The shift registers can only turn a segment on or off, so brightness is faked by temporal
// dithering: every frame compares each segment's brightness against a threshold that rises by
// ThresholdStep per frame and wraps around.  A segment with brightness b is lit in roughly b/256
// of the frames, which looks like 64 brightness levels if frames are rendered quickly enough.
package display

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"periph.io/x/conn/v3/gpio"
)

const (
	// Digits is the number of digit positions, one shift register each.
	Digits = 10
	// SegmentsPerDigit is the number of outputs on each shift register.
	SegmentsPerDigit = 8
	// Segments is the number of individually addressable segments.
	Segments = Digits * SegmentsPerDigit
	// ThresholdStep is how far the dither threshold moves each frame.
	ThresholdStep = 4
)

var (
	framesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "display_frames",
		Help: "count of frames rendered",
	})
	droppedFramesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "display_dropped_frames",
		Help: "count of frames that did not make it to the display, by the step that failed",
	}, []string{"step"})
)

// Conn is the part of a periph.io spi.Conn that the display uses.
type Conn interface {
	Tx(w, r []byte) error
}

// Latch is the part of a periph.io gpio.PinOut that the display uses.  The shift registers copy
// their contents to their outputs on the rising edge.
type Latch interface {
	Out(l gpio.Level) error
}

// Controller owns the segment canvas and the dither threshold.  It is not safe for concurrent
// use.
type Controller struct {
	conn      Conn
	latch     Latch
	threshold uint8
	canvas    [Segments]uint8
	frame     [Digits]byte
}

// New returns a Controller that sends frames over conn, framed by latch.  Either may be nil; with
// no conn, frames are only rendered into memory.
func New(conn Conn, latch Latch) *Controller {
	return &Controller{conn: conn, latch: latch}
}

// UpdateSegment sets the brightness of one segment.
func (c *Controller) UpdateSegment(idx int, brightness uint8) {
	c.canvas[idx] = brightness
}

// Print draws a segment pattern at a digit position.  Bit 0 of symbol is the last segment of the
// position, so that after rendering, the byte shifted out for the position is the symbol itself.
func (c *Controller) Print(pos int, symbol uint8, brightness uint8) {
	for offset := 0; offset < SegmentsPerDigit; offset++ {
		var b uint8
		if (symbol>>offset)&1 == 1 {
			b = brightness
		}
		c.canvas[pos*SegmentsPerDigit+SegmentsPerDigit-1-offset] = b
	}
}

// Clear turns every segment off.
func (c *Controller) Clear() {
	c.canvas = [Segments]uint8{}
}

// Render compares the canvas against the current threshold, advances the threshold, and shifts
// the resulting frame out to the display.  Transfer errors are counted and otherwise ignored; the
// next frame will be along shortly.
func (c *Controller) Render() {
	for i := 0; i < Digits; i++ {
		var b byte
		for _, luma := range c.canvas[i*SegmentsPerDigit : (i+1)*SegmentsPerDigit] {
			b <<= 1
			if luma > c.threshold {
				b |= 1
			}
		}
		c.frame[i] = b
	}
	c.threshold += ThresholdStep
	framesCounter.Inc()

	if c.conn == nil {
		return
	}
	if c.latch != nil {
		if err := c.latch.Out(gpio.Low); err != nil {
			droppedFramesCounter.WithLabelValues("latch_low").Inc()
		}
	}
	if err := c.conn.Tx(c.frame[:], nil); err != nil {
		droppedFramesCounter.WithLabelValues("tx").Inc()
	}
	if c.latch != nil {
		if err := c.latch.Out(gpio.High); err != nil {
			droppedFramesCounter.WithLabelValues("latch_high").Inc()
		}
	}
}

// Canvas returns a copy of the segment brightnesses.
func (c *Controller) Canvas() [Segments]uint8 { return c.canvas }

// Frame returns the most recently rendered frame.
func (c *Controller) Frame() [Digits]byte { return c.frame }

// Threshold returns the threshold that the next frame will be rendered against.
func (c *Controller) Threshold() uint8 { return c.threshold }
