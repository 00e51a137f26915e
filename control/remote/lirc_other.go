//go:build !linux

package remote

import "errors"

// LIRC is only available on Linux.
type LIRC struct{}

// OpenLIRC always fails outside of Linux.
func OpenLIRC(path string) (*LIRC, error) {
	return nil, errors.New("lirc devices are only supported on linux")
}

func (l *LIRC) Poll() (Code, bool, error) { return 0, false, nil }
func (l *LIRC) Close() error              { return nil }
