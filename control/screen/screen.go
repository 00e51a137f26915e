// Package screen draws a picture of the clock's display, for debugging the rest of the program
// without the display attached.
package screen

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/jrockway/segment-clock/control/display"
	"github.com/jrockway/segment-clock/control/watch"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	digitWidth    = 40 // Size of one digit, not counting the decimal point.
	digitHeight   = 70
	thickness     = 6  // Width of a segment.
	digitSpacing  = 16 // Space between digits, including the decimal point.
	border        = 10
	captionHeight = 20
)

var (
	background = color.NRGBA{R: 0, G: 0, B: 0, A: 0xff}
	unlit      = color.NRGBA{R: 0x20, G: 0x10, B: 0x10, A: 0xff}
	caption    = color.NRGBA{R: 0xc0, G: 0xc0, B: 0xc0, A: 0xff}
)

// segments are the rectangles making up a digit, in the order of the bits of a symbol: a through
// g, then the decimal point.
var segments = [display.SegmentsPerDigit]image.Rectangle{
	image.Rect(thickness, 0, digitWidth-thickness, thickness),
	image.Rect(digitWidth-thickness, thickness, digitWidth, digitHeight/2),
	image.Rect(digitWidth-thickness, digitHeight/2, digitWidth, digitHeight-thickness),
	image.Rect(thickness, digitHeight-thickness, digitWidth-thickness, digitHeight),
	image.Rect(0, digitHeight/2, thickness, digitHeight-thickness),
	image.Rect(0, thickness, thickness, digitHeight/2),
	image.Rect(thickness, digitHeight/2-thickness/2, digitWidth-thickness, digitHeight/2+thickness/2),
	image.Rect(digitWidth+2, digitHeight-thickness, digitWidth+2+thickness, digitHeight),
}

// Preview holds the most recent picture of the display.
type Preview struct {
	imageMu sync.Mutex
	image   *image.NRGBA // must hold imageMu to read or write.
}

// NewPreview returns a Preview showing a blank display.
func NewPreview() *Preview {
	p := &Preview{
		image: image.NewNRGBA(image.Rect(0, 0, 2*border+display.Digits*(digitWidth+digitSpacing), 2*border+digitHeight+captionHeight)),
	}
	p.Update([display.Segments]uint8{}, watch.State{})
	return p
}

// segmentColor maps a segment brightness to the color of a lit segment.  The shift registers
// show brightness by dithering, so brightness is linear in the duty cycle.
func segmentColor(b uint8) color.NRGBA {
	if b == 0 {
		return unlit
	}
	r := uint16(unlit.R) + uint16(b)*(0xff-uint16(unlit.R))/0xff
	return color.NRGBA{R: uint8(r), G: unlit.G, B: unlit.B, A: 0xff}
}

// Update redraws the preview from the display canvas and the watch state.
func (p *Preview) Update(canvas [display.Segments]uint8, state watch.State) {
	p.imageMu.Lock()
	defer p.imageMu.Unlock()
	draw.Draw(p.image, p.image.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
	for pos := 0; pos < display.Digits; pos++ {
		origin := image.Pt(border+pos*(digitWidth+digitSpacing), border)
		for bit, r := range segments {
			b := canvas[pos*display.SegmentsPerDigit+display.SegmentsPerDigit-1-bit]
			draw.Draw(p.image, r.Add(origin), image.NewUniform(segmentColor(b)), image.Point{}, draw.Src)
		}
	}

	drawer := &font.Drawer{
		Dst:  p.image,
		Src:  image.NewUniform(caption),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(border, 2*border+digitHeight+basicfont.Face7x13.Ascent),
	}
	drawer.DrawString(Caption(state))
}

// Caption describes the watch state in words.
func Caption(s watch.State) string {
	return fmt.Sprintf("%s  brightness %d  %s", s.Mode, s.Brightness, time.Unix(int64(s.Timestamp), 0).UTC().Format(time.RFC3339))
}

// Image returns a copy of the current preview.
func (p *Preview) Image() *image.NRGBA {
	p.imageMu.Lock()
	defer p.imageMu.Unlock()
	img := image.NewNRGBA(p.image.Bounds())
	copy(img.Pix, p.image.Pix)
	return img
}

// ServeHTTP serves the current image as a PNG.
func (p *Preview) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Add("content-type", "image/png")
	w.WriteHeader(http.StatusOK)
	p.imageMu.Lock()
	defer p.imageMu.Unlock()
	if err := png.Encode(w, p.image); err != nil {
		log.Printf("encoding image: %v", err)
	}
}
