// Package chrony asks chronyd whether the system clock can be trusted, so that the clock can
// start with the right time instead of waiting for the GPS receiver.
package chrony

import (
	"fmt"
	"net"
	"time"

	"github.com/facebookincubator/ntp/protocol/chrony"
	"golang.org/x/net/trace"
)

// Leap status values from chronyd's tracking report.
const (
	leapNormal         = 0
	leapInsertSecond   = 1
	leapDeleteSecond   = 2
	leapUnsynchronised = 3
)

// Tracking fetches chronyd's tracking report from addr, usually "localhost:323".
func Tracking(addr string, timeout time.Duration) (*chrony.Tracking, error) {
	l := trace.NewEventLog("service", "chrony")
	defer l.Finish()

	l.Printf("dial %s", addr)
	conn, err := net.DialTimeout("udp", addr, timeout)
	if err != nil {
		l.Errorf("dial: %v", err)
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	c := chrony.Client{Sequence: 1, Connection: conn}
	res, err := c.Communicate(chrony.NewTrackingPacket())
	if err != nil {
		l.Errorf("get tracking info: %v", err)
		return nil, fmt.Errorf("get tracking info: communicate: %w", err)
	}
	tracking, ok := res.(*chrony.ReplyTracking)
	if !ok {
		l.Errorf("tracking reply was of unexpected type: %#v", res)
		return nil, fmt.Errorf("tracking reply was of unexpected type %T", res)
	}
	l.Printf("tracking: %s", Describe(&tracking.Tracking))
	return &tracking.Tracking, nil
}

// Synchronized reports whether chronyd considers the system clock synchronized to a reference.
func Synchronized(t *chrony.Tracking) bool {
	if t == nil {
		return false
	}
	return t.LeapStatus != leapUnsynchronised && t.Stratum > 0 && t.Stratum < 16 && !t.RefTime.IsZero()
}

// Describe summarizes a tracking report for the logs.
func Describe(t *chrony.Tracking) string {
	return fmt.Sprintf("ref %s stratum %d leap %s offset %.6fs", intRefID(t.RefID), t.Stratum, formatLeap(t.LeapStatus), t.LastOffset)
}

func formatLeap(s uint16) string {
	switch s {
	case leapNormal:
		return "normal"
	case leapInsertSecond:
		return "insert second"
	case leapDeleteSecond:
		return "delete second"
	case leapUnsynchronised:
		return "not synchronised"
	}
	return fmt.Sprintf("unknown (%d)", s)
}

func refID(ip net.IP) string {
	if v4 := ip.To4(); v4 != nil {
		last := len(v4)
		for i, b := range v4 {
			if b == 0 && i > 0 {
				last = i
				break
			}
			if b < '0' || b > 'z' {
				last = 0
				break
			}
		}
		if last > 0 {
			return string(v4[0:last])
		}
	}
	return ip.String()
}

func intRefID(ip uint32) string {
	return refID(net.IPv4(byte((ip>>24)&0xff), byte((ip>>16)&0xff), byte((ip>>8)&0xff), byte(ip&0xff)))
}
