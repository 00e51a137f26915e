// Package uart moves bytes from a serial port into a bounded receive FIFO, waking the task that
// drains it.
package uart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/pkg/term"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
)

var (
	bytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uart_bytes_received",
		Help: "count of bytes read from the serial port",
	})
	fifoOverruns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uart_fifo_overruns",
		Help: "count of received bytes dropped because the receive fifo was full",
	})
	portErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uart_errors",
		Help: "count of serial port errors, by operation",
	}, []string{"op"})
)

// ErrEmpty is returned by ReadByte when no bytes are waiting.
var ErrEmpty = errors.New("receive fifo empty")

// FIFO is the receive queue between the port reader and the task that consumes the bytes.
type FIFO struct {
	ch     chan byte
	notify func()
}

// NewFIFO returns a FIFO holding up to size bytes.  notify is called after every write that
// queued at least one byte; it must not block.
func NewFIFO(size int, notify func()) *FIFO {
	if notify == nil {
		notify = func() {}
	}
	return &FIFO{ch: make(chan byte, size), notify: notify}
}

// Write queues p without blocking.  Bytes that don't fit are dropped and counted.
func (f *FIFO) Write(p []byte) (int, error) {
	var queued int
	for _, b := range p {
		select {
		case f.ch <- b:
			queued++
		default:
			fifoOverruns.Inc()
		}
	}
	if queued > 0 {
		f.notify()
	}
	return len(p), nil
}

// ReadByte returns the oldest queued byte, or ErrEmpty.
func (f *FIFO) ReadByte() (byte, error) {
	select {
	case b := <-f.ch:
		return b, nil
	default:
		return 0, ErrEmpty
	}
}

// Len returns the number of queued bytes.
func (f *FIFO) Len() int {
	return len(f.ch)
}

// Opener opens the serial port.
type Opener func() (io.ReadCloser, error)

// Open returns an Opener for a raw-mode serial port at the given baud rate.  Reads time out
// every half second so that an idle port can be closed promptly.
func Open(path string, baud int) Opener {
	return func() (io.ReadCloser, error) {
		t, err := term.Open(path, term.Speed(baud), term.RawMode, term.ReadTimeout(500*time.Millisecond))
		if err != nil {
			return nil, fmt.Errorf("open serial port %q: %w", path, err)
		}
		return t, nil
	}
}

// Pump reads from the port and writes to w until the context is cancelled.  Errors are logged
// and the port is reopened after retry.
func Pump(ctx context.Context, open Opener, w io.Writer, retry time.Duration, events trace.EventLog) error {
	for {
		if err := pumpOnce(ctx, open, w, events); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("serial pump: %w", ctx.Err())
			}
			log.Printf("serial port: %v", err)
			if events != nil {
				events.Errorf("%v", err)
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("serial pump: %w", ctx.Err())
		case <-time.After(retry):
		}
	}
}

func pumpOnce(ctx context.Context, open Opener, w io.Writer, events trace.EventLog) error {
	port, err := open()
	if err != nil {
		portErrors.WithLabelValues("open").Inc()
		return err
	}
	if events != nil {
		events.Printf("port open")
	}

	// Closing the port is the only way to interrupt a blocked read.
	doneCh := make(chan struct{})
	defer close(doneCh)
	go func() {
		select {
		case <-ctx.Done():
		case <-doneCh:
		}
		port.Close()
	}()

	buf := make([]byte, 64)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			bytesReceived.Add(float64(n))
			w.Write(buf[:n])
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			// A read timeout on an idle port.
		default:
			portErrors.WithLabelValues("read").Inc()
			return fmt.Errorf("read: %w", err)
		}
	}
}
