// Package gpsd reads the time from gpsd, for clocks whose receiver is shared with other programs.
package gpsd

import (
	"context"
	"fmt"
	"log"
	"time"

	gps "github.com/jrockway/go-gpsd"
	"github.com/jrockway/segment-clock/control/nmea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
)

var reportsCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "gpsd_tpv_reports",
	Help: "count of TPV reports received from gpsd",
})

// FixFromTPV converts the time in a TPV report.  Reports from a receiver without a fix carry no
// time, which converts to the zero Fix.
func FixFromTPV(r *gps.TPVReport) nmea.Fix {
	if r == nil {
		return nmea.Fix{}
	}
	return fixFromTime(r.Time)
}

func fixFromTime(t time.Time) nmea.Fix {
	if t.IsZero() {
		return nmea.Fix{}
	}
	t = t.UTC()
	return nmea.Fix{
		Year:   uint64(t.Year()),
		Month:  uint64(t.Month()),
		Day:    uint64(t.Day()),
		Hour:   uint64(t.Hour()),
		Minute: uint64(t.Minute()),
		Second: uint64(t.Second()),
	}
}

// Watch sends a fix to sink for every TPV report from the gpsd at addr, until the context is
// cancelled.  The connection is restarted if gpsd goes quiet for longer than watchdog.
func Watch(ctx context.Context, addr string, sink func(nmea.Fix), watchdog time.Duration) error {
	l := trace.NewEventLog("service", "gpsd")
	defer l.Finish()
	for {
		monitorGpsd(ctx, l, addr, sink, watchdog)
		select {
		case <-ctx.Done():
			return fmt.Errorf("watch gpsd: %w", ctx.Err())
		case <-time.After(10 * time.Second):
		}
	}
}

func monitorGpsd(ctx context.Context, l trace.EventLog, addr string, sink func(nmea.Fix), timeout time.Duration) {
	watchdog := make(chan struct{})
	l.Printf("dial %s", addr)
	session, err := gps.Dial(addr)
	if err != nil {
		l.Errorf("dial gpsd: %v", err)
		return
	}
	session.AddFilter("TPV", func(r interface{}) {
		select {
		case watchdog <- struct{}{}:
		default:
		}
		tpv, ok := r.(*gps.TPVReport)
		if !ok {
			l.Errorf("TPV report of unexpected type: %#v", r)
			return
		}
		reportsCounter.Inc()
		sink(FixFromTPV(tpv))
	})
	log.Printf("starting gpsd watch loop")
	done := session.Watch()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			l.Errorf("gpsd watch stopped; restarting")
			return
		case <-time.After(timeout):
			l.Errorf("gpsd hasn't sent data for %v; restarting", timeout)
			return
		case <-watchdog:
			continue
		}
	}
}
