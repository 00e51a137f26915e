package remote

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// From linux/lirc.h.
const (
	lircSetRecMode   = 0x40046912 // _IOW('i', 0x00000012, __u32)
	lircModeScancode = 0x00000008
	lircScancodeSize = 24 // sizeof(struct lirc_scancode)
)

const (
	lircQueue      = 16
	lircErrorQueue = 4
)

// LIRC reads scancodes that the kernel's rc-core decoder has already decoded from the infrared
// receiver, usually /dev/lirc0 with the NEC protocol enabled in /sys/class/rc/rc0/protocols.
type LIRC struct {
	f     *os.File
	codes chan Code
	errs  chan error
}

// OpenLIRC opens a lirc character device in scancode mode and starts reading from it.
func OpenLIRC(path string) (*LIRC, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := unix.IoctlSetPointerInt(int(f.Fd()), lircSetRecMode, lircModeScancode); err != nil {
		f.Close()
		return nil, fmt.Errorf("set scancode mode on %s: %w", path, err)
	}
	l := &LIRC{
		f:     f,
		codes: make(chan Code, lircQueue),
		errs:  make(chan error, lircErrorQueue),
	}
	go l.read(f)
	return l, nil
}

func (l *LIRC) read(r io.Reader) {
	defer close(l.codes)
	buf := make([]byte, lircScancodeSize)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, os.ErrClosed) || errors.Is(err, io.EOF) {
				return
			}
			select {
			case l.errs <- err:
			default:
			}
			return
		}
		code, ok := decodeScancode(buf)
		if !ok {
			continue
		}
		select {
		case l.codes <- code:
		default:
			// Nobody is polling; a stale button press is worse than a dropped one.
		}
	}
}

// decodeScancode extracts the NEC command byte from a struct lirc_scancode.  For NEC, NECX and
// NEC32 the command is always the low byte of the scancode.
func decodeScancode(b []byte) (Code, bool) {
	if len(b) != lircScancodeSize {
		return 0, false
	}
	scancode := binary.LittleEndian.Uint64(b[16:24])
	return Code(scancode & 0xff), true
}

// Poll returns the next decoded code without blocking.
func (l *LIRC) Poll() (Code, bool, error) {
	select {
	case code, ok := <-l.codes:
		return code, ok, nil
	case err := <-l.errs:
		return 0, false, err
	default:
		return 0, false, nil
	}
}

// Close stops reading from the device.
func (l *LIRC) Close() error {
	return l.f.Close()
}
