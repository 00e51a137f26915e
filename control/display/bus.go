package display

import (
	"fmt"

	"github.com/fulr/spidev"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
)

// OpenPeriph opens a periph.io SPI port and GPIO latch pin for the display.  The caller must
// have called host.Init.  The returned function closes the port.
func OpenPeriph(port, latch string, speed physic.Frequency) (*Controller, func() error, error) {
	p, err := spireg.Open(port)
	if err != nil {
		return nil, nil, fmt.Errorf("open spi port %q: %w", port, err)
	}
	conn, err := p.Connect(speed, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, nil, fmt.Errorf("connect to spi port %q: %w", port, err)
	}
	pin := gpioreg.ByName(latch)
	if pin == nil {
		p.Close()
		return nil, nil, fmt.Errorf("latch pin %q: no such gpio", latch)
	}
	if err := pin.Out(gpio.High); err != nil {
		p.Close()
		return nil, nil, fmt.Errorf("init latch pin %q: %w", latch, err)
	}
	return New(conn, pin), p.Close, nil
}

// spidevConn adapts a raw spidev device.  The kernel drives chip select low for the duration of
// each transfer, so with the register latch wired to CS no separate latch pin is needed.
type spidevConn struct {
	dev *spidev.SPIDevice
}

func (s *spidevConn) Tx(w, r []byte) error {
	buf := make([]byte, len(w))
	copy(buf, w)
	s.dev.Xfer(buf)
	return nil
}

// OpenSpidev opens a /dev/spidevX.Y device for the display, using chip select as the latch.
func OpenSpidev(path string) (*Controller, error) {
	dev, err := spidev.NewSPIDevice(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return New(&spidevConn{dev: dev}, nil), nil
}
