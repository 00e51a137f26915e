// Package synclog keeps a history of the times the clock was set from a time source.
package synclog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const initDatabase = `
CREATE TABLE IF NOT EXISTS sync (date datetime not null, source text not null, before integer not null, after integer not null);
CREATE INDEX IF NOT EXISTS sync_date ON sync (date);
`

var rowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "synclog_rows",
	Help: "count of sync events written to the database, by result",
}, []string{"result"})

// Event is one setting of the clock.  Before and After are the clock's timestamps, in seconds
// since the epoch, either side of the change.
type Event struct {
	At     time.Time
	Source string
	Before uint64
	After  uint64
}

// Offset returns how far the clock moved.
func (e Event) Offset() int64 {
	return int64(e.After - e.Before)
}

type DB struct {
	*sql.DB
}

func OpenDatabase(filename string) (*DB, error) {
	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}
	// Every connection to :memory: is a new database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(initDatabase); err != nil {
		db.Close()
		return nil, fmt.Errorf("init %s: %w", filename, err)
	}

	return &DB{db}, nil
}

func (db *DB) RecordSync(e Event) error {
	s, err := db.Prepare("insert into sync values(?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer s.Close()
	if _, err := s.Exec(e.At, e.Source, int64(e.Before), int64(e.After)); err != nil {
		return err
	}
	return nil
}

// Recent returns up to n events, newest first.
func (db *DB) Recent(n int) ([]Event, error) {
	rows, err := db.Query("select date, source, before, after from sync order by date desc limit ?", n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Event
	for rows.Next() {
		var e Event
		var before, after int64
		if err := rows.Scan(&e.At, &e.Source, &before, &after); err != nil {
			return nil, err
		}
		e.Before, e.After = uint64(before), uint64(after)
		result = append(result, e)
	}
	return result, rows.Err()
}

func (db *DB) single(query string, args ...interface{}) (int, error) {
	s, err := db.Prepare(query)
	if err != nil {
		return 0, err
	}
	defer s.Close()

	rows, err := s.Query(args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var result int
	var found bool
	for rows.Next() {
		if found {
			return 0, errors.New("more than one row returned!")
		}
		if err := rows.Scan(&result); err != nil {
			return 0, err
		}
		found = true
	}
	return result, nil
}

// Record writes events from ch until the context is cancelled or ch is closed.  A source that
// agrees with the clock is only recorded once per interval; every correction is recorded.
func (db *DB) Record(ctx context.Context, ch <-chan Event, interval time.Duration) error {
	last := make(map[string]time.Time)
	for {
		var e Event
		select {
		case <-ctx.Done():
			return fmt.Errorf("record syncs: %w", ctx.Err())
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			e = ev
		}
		if e.Before == e.After && e.At.Sub(last[e.Source]) < interval {
			rowsWritten.WithLabelValues("skipped").Inc()
			continue
		}
		if err := db.RecordSync(e); err != nil {
			rowsWritten.WithLabelValues("error").Inc()
			log.Printf("error logging sync: %v", err)
			continue
		}
		rowsWritten.WithLabelValues("written").Inc()
		last[e.Source] = e.At
	}
}
