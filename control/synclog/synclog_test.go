package synclog

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDatabase(t *testing.T) {
	db, err := OpenDatabase(":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	now := time.Date(2023, 8, 8, 0, 41, 1, 0, time.UTC)
	if err := db.RecordSync(Event{At: now, Source: "serial", Before: 0, After: 1691455261}); err != nil {
		t.Errorf("record sync: %v", err)
	}
	if err := db.RecordSync(Event{At: now.Add(time.Second), Source: "gpsd", Before: 1691455262, After: 1691455261}); err != nil {
		t.Errorf("record sync: %v", err)
	}

	c, err := db.single("select count(1) from sync")
	if err != nil {
		t.Fatalf("count syncs: %v", err)
	}
	if got, want := c, 2; got != want {
		t.Errorf("unexpected number of sync rows:\n  got: %d\n want: %d", got, want)
	}

	recent, err := db.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if got, want := len(recent), 2; got != want {
		t.Fatalf("unexpected number of recent events:\n  got: %d\n want: %d", got, want)
	}
	if got, want := recent[0].Source, "gpsd"; got != want {
		t.Errorf("newest event:\n  got: %v\n want: %v", got, want)
	}
	if got, want := recent[0].Offset(), int64(-1); got != want {
		t.Errorf("offset:\n  got: %v\n want: %v", got, want)
	}
	if got, want := recent[1].After, uint64(1691455261); got != want {
		t.Errorf("oldest event after:\n  got: %v\n want: %v", got, want)
	}
}

func TestRecord(t *testing.T) {
	db, err := OpenDatabase(":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	start := time.Date(2023, 8, 8, 0, 41, 1, 0, time.UTC)
	ch := make(chan Event, 10)
	ch <- Event{At: start, Source: "serial", Before: 0, After: 100}                              // written
	ch <- Event{At: start.Add(1 * time.Second), Source: "serial", Before: 101, After: 101}       // skipped
	ch <- Event{At: start.Add(2 * time.Second), Source: "serial", Before: 102, After: 103}       // correction
	ch <- Event{At: start.Add(3 * time.Second), Source: "gpsd", Before: 104, After: 104}         // first from gpsd
	ch <- Event{At: start.Add(4 * time.Second), Source: "serial", Before: 105, After: 105}       // skipped
	ch <- Event{At: start.Add(2 * time.Minute), Source: "serial", Before: 1000, After: 1000}     // interval passed
	ch <- Event{At: start.Add(2*time.Minute + time.Second), Source: "gpsd", Before: 1, After: 1} // interval passed
	close(ch)

	if err := db.Record(context.Background(), ch, time.Minute); err != nil {
		t.Fatalf("record: %v", err)
	}
	c, err := db.single("select count(1) from sync")
	if err != nil {
		t.Fatalf("count syncs: %v", err)
	}
	if got, want := c, 5; got != want {
		t.Errorf("unexpected number of sync rows:\n  got: %d\n want: %d", got, want)
	}
}

func TestRecordCancel(t *testing.T) {
	db, err := OpenDatabase(":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := db.Record(ctx, make(chan Event), time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("unexpected error after cancel: %v", err)
	}
}
