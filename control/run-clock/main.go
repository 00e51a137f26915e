package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jrockway/segment-clock/control/chrony"
	"github.com/jrockway/segment-clock/control/clock"
	"github.com/jrockway/segment-clock/control/config"
	"github.com/jrockway/segment-clock/control/display"
	"github.com/jrockway/segment-clock/control/gpsd"
	"github.com/jrockway/segment-clock/control/remote"
	"github.com/jrockway/segment-clock/control/screen"
	"github.com/jrockway/segment-clock/control/synclog"
	"github.com/jrockway/segment-clock/control/uart"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/trace"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

var (
	configFile = flag.String("config", "", "yaml config file; empty for the defaults")
	bind       = flag.String("bind", "", "address to bind for debug/metrics server; overrides http.bind")
)

func openDisplay(cfg config.DisplayConfig) (*display.Controller, func() error, error) {
	switch cfg.Driver {
	case "periph":
		return display.OpenPeriph(cfg.SPI, cfg.Latch, physic.Frequency(cfg.SpeedHz)*physic.Hertz)
	case "spidev":
		d, err := display.OpenSpidev(cfg.SPI)
		return d, func() error { return nil }, err
	}
	return display.New(nil, nil), func() error { return nil }, nil
}

// seed starts the clock from the system time if chronyd vouches for it.
func seed(cl *clock.Clock, cfg config.ChronyConfig) {
	tracking, err := chrony.Tracking(cfg.Addr, time.Duration(cfg.TimeoutMs)*time.Millisecond)
	if err != nil {
		log.Printf("ask chronyd about the system clock: %v", err)
		return
	}
	if !chrony.Synchronized(tracking) {
		log.Printf("system clock not synchronized (%s); waiting for a gps fix", chrony.Describe(tracking))
		return
	}
	now := time.Now()
	cl.Seed(now)
	log.Printf("clock seeded from system clock (%s): %s", chrony.Describe(tracking), now.UTC().Format(time.RFC3339))
}

func serveSyncs(db *synclog.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		events, err := db.Recent(100)
		if err != nil {
			http.Error(w, fmt.Sprintf("read sync log: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Add("content-type", "text/plain")
		w.WriteHeader(http.StatusOK)
		for _, e := range events {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%+d\n", e.At.UTC().Format(time.RFC3339), e.Source, e.Before, e.After, e.Offset())
		}
	}
}

func main() {
	flag.Parse()

	cfg := new(config.Config)
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
	}
	config.Normalize(cfg)
	if *bind != "" {
		cfg.HTTP.Bind = *bind
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}

	if _, err := host.Init(); err != nil {
		log.Fatalf("init periph.io: %v", err)
	}

	// Things to close after the display is blanked.
	var closers []func() error

	d, closeDisplay, err := openDisplay(cfg.Display)
	if err != nil {
		log.Fatalf("open display: %v", err)
	}
	closers = append(closers, closeDisplay)

	var rx clock.Receiver
	if cfg.Remote.Device != "" {
		lirc, err := remote.OpenLIRC(cfg.Remote.Device)
		if err != nil {
			log.Fatalf("open remote: %v", err)
		}
		closers = append(closers, lirc.Close)
		rx = lirc
	}

	preview := screen.NewPreview()
	cl, err := clock.New(cfg.Clock(), d, rx, preview)
	if err != nil {
		log.Fatalf("init clock: %v", err)
	}
	if cfg.Chrony.Seed {
		seed(cl, cfg.Chrony)
	}

	ctx, cancel := context.WithCancel(context.Background())

	http.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/display.png", http.StatusFound)
	})
	http.Handle("/display.png", preview)
	http.Handle("/metrics", promhttp.Handler())

	if cfg.DB.Path != "" {
		db, err := synclog.OpenDatabase(cfg.DB.Path)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		closers = append(closers, db.Close)
		events := make(chan synclog.Event, 16)
		cl.SyncEvents = events
		go func() {
			if err := db.Record(ctx, events, time.Duration(cfg.DB.IntervalS)*time.Second); err != nil {
				log.Printf("sync log stopped: %v", err)
			}
		}()
		http.Handle("/syncs", serveSyncs(db))
	}

	if cfg.Serial.Port != "" {
		go func() {
			l := trace.NewEventLog("service", "serial")
			defer l.Finish()
			open := uart.Open(cfg.Serial.Port, cfg.Serial.Baud)
			retry := time.Duration(cfg.Serial.RetryMs) * time.Millisecond
			if err := uart.Pump(ctx, open, cl.Serial(), retry, l); err != nil {
				log.Printf("serial pump stopped: %v", err)
			}
		}()
	}

	if cfg.GPSD.Addr != "" {
		go func() {
			watchdog := time.Duration(cfg.GPSD.WatchdogMs) * time.Millisecond
			if err := gpsd.Watch(ctx, cfg.GPSD.Addr, cl.GPSFix, watchdog); err != nil {
				log.Printf("gpsd watch stopped: %v", err)
			}
		}()
	}

	httpDoneCh := make(chan error)
	httpServer := http.Server{Addr: cfg.HTTP.Bind}
	go func() {
		log.Printf("http server listening on %s", httpServer.Addr)
		err := httpServer.ListenAndServe()
		select {
		case httpDoneCh <- err:
		case <-ctx.Done():
		}
		close(httpDoneCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	loopDoneCh := make(chan error)
	go func() {
		err := cl.Run(ctx)
		loopDoneCh <- err
		close(loopDoneCh)
	}()

	httpAlive := true
	select {
	case err := <-httpDoneCh:
		log.Printf("http server died: %v", err)
		httpAlive = false
	case err := <-loopDoneCh:
		log.Printf("clock loop died: %v", err)
	case <-sigCh:
		log.Printf("interrupt")
	}
	signal.Stop(sigCh)
	cancel()
	if err := <-loopDoneCh; err != nil {
		log.Printf("clock loop stopped: %v", err)
	}
	cl.Blank()
	if httpAlive {
		tctx, c := context.WithTimeout(context.Background(), time.Second)
		httpServer.Shutdown(tctx)
		c()
	}
	for _, closer := range closers {
		if err := closer(); err != nil {
			log.Printf("cleanup: %v", err)
		}
	}
	os.Exit(1)
}
