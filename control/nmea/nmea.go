// Package nmea assembles NMEA 0183 sentences from a serial byte stream and extracts the UTC date
// and time from ZDA sentences.
package nmea

import (
	"bytes"
	"strconv"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// LineCapacity is the longest line we will buffer.  NMEA limits sentences to 82 bytes, but
	// some receivers ignore that.
	LineCapacity = 255

	// DefaultPrefix matches the multi-constellation time and date sentence.
	DefaultPrefix = "$GNZDA"
)

var linesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nmea_lines",
	Help: "count of lines received on the serial port, by what we did with them",
}, []string{"result"})

// Fix is a UTC date and time reported by the receiver.
type Fix struct {
	Year, Month, Day     uint64
	Hour, Minute, Second uint64
}

// Complete reports whether the receiver filled in the date and time.  Receivers without a
// satellite fix report zero for every field.  Midnight itself is indistinguishable from that and
// is skipped; the next second will do.
func (f Fix) Complete() bool {
	return f.Year != 0 && f.Month != 0 && f.Day != 0 && (f.Hour != 0 || f.Minute != 0 || f.Second != 0)
}

// Assembler is an io.Writer that collects bytes into lines and parses the configured sentence.
type Assembler struct {
	// RequireFix suppresses sentences where the receiver has not filled in the time yet.
	RequireFix bool

	prefix     []byte
	buf        [LineCapacity]byte
	cursor     int
	overflowed bool
}

// NewAssembler returns an Assembler for sentences starting with prefix, such as "$GNZDA".
func NewAssembler(prefix string, requireFix bool) *Assembler {
	return &Assembler{prefix: []byte(prefix), RequireFix: requireFix}
}

// Feed adds one byte.  When the byte completes a matching sentence, the parsed fix is returned.
func (a *Assembler) Feed(b byte) (Fix, bool) {
	if b != '\n' {
		if a.cursor < len(a.buf) {
			a.buf[a.cursor] = b
			a.cursor++
		} else {
			a.overflowed = true
		}
		return Fix{}, false
	}

	line := a.buf[:a.cursor]
	overflowed := a.overflowed
	a.cursor, a.overflowed = 0, false
	if overflowed {
		linesCounter.WithLabelValues("overflow").Inc()
		return Fix{}, false
	}
	return a.parseLine(bytes.TrimSuffix(line, []byte{'\r'}))
}

// Write feeds every byte in p, discarding the fixes.  It never returns an error.
func (a *Assembler) Write(p []byte) (int, error) {
	for _, b := range p {
		a.Feed(b)
	}
	return len(p), nil
}

// Pending returns the number of bytes buffered for the current line.
func (a *Assembler) Pending() int {
	return a.cursor
}

func (a *Assembler) parseLine(line []byte) (Fix, bool) {
	if !utf8.Valid(line) {
		linesCounter.WithLabelValues("not_text").Inc()
		return Fix{}, false
	}
	if !bytes.HasPrefix(line, a.prefix) {
		linesCounter.WithLabelValues("ignored").Inc()
		return Fix{}, false
	}
	body, ok := verifyChecksum(line)
	if !ok {
		linesCounter.WithLabelValues("bad_checksum").Inc()
		return Fix{}, false
	}
	fix := parseZDA(body)
	if a.RequireFix && !fix.Complete() {
		linesCounter.WithLabelValues("no_fix").Inc()
		return Fix{}, false
	}
	linesCounter.WithLabelValues("fix").Inc()
	return fix, true
}

// verifyChecksum strips the "*hh" suffix from a sentence and checks it against the XOR of the
// bytes between '$' and '*'.  Sentences without a checksum are accepted as is.
func verifyChecksum(line []byte) ([]byte, bool) {
	star := bytes.LastIndexByte(line, '*')
	if star < 0 {
		return line, true
	}
	want, err := strconv.ParseUint(string(line[star+1:]), 16, 8)
	if err != nil || star == 0 {
		return nil, false
	}
	var sum byte
	for _, b := range line[1:star] {
		sum ^= b
	}
	return line[:star], sum == byte(want)
}

// parseZDA extracts the date and time from a ZDA sentence body:
//
//	$GNZDA,hhmmss.ss,dd,mm,yyyy,tzh,tzm
//
// Fields that don't parse are zero.
func parseZDA(body []byte) Fix {
	fields := bytes.Split(body, []byte{','})
	field := func(i int) []byte {
		if i < len(fields) {
			return fields[i]
		}
		return nil
	}
	hms := field(1)
	if dot := bytes.IndexByte(hms, '.'); dot >= 0 {
		hms = hms[:dot]
	}
	t := parseUint(hms)
	return Fix{
		Second: t % 100,
		Minute: t / 100 % 100,
		Hour:   t / 10000 % 100,
		Day:    parseUint(field(2)),
		Month:  parseUint(field(3)),
		Year:   parseUint(field(4)),
	}
}

func parseUint(b []byte) uint64 {
	n, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
