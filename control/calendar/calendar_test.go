package calendar

import (
	"fmt"
	"testing"
	"time"
)

func TestSeconds(t *testing.T) {
	testData := []time.Time{
		time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(1970, 1, 1, 0, 0, 1, 0, time.UTC),
		time.Date(1999, 12, 31, 23, 59, 59, 0, time.UTC),
		time.Date(2000, 2, 28, 12, 0, 0, 0, time.UTC),
		time.Date(2000, 2, 29, 12, 0, 0, 0, time.UTC),
		time.Date(2000, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 8, 8, 0, 41, 1, 0, time.UTC),
		time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC),
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC),
		time.Date(2038, 1, 19, 3, 14, 7, 0, time.UTC),
		time.Date(2100, 2, 28, 0, 0, 0, 0, time.UTC),
		time.Date(2100, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(1900, 2, 28, 0, 0, 0, 0, time.UTC),
		time.Date(1900, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(1969, 12, 31, 23, 59, 59, 0, time.UTC),
	}

	for _, ts := range testData {
		t.Run(ts.Format(time.RFC3339), func(t *testing.T) {
			got := Seconds(int64(ts.Year()), int64(ts.Month()), int64(ts.Day()), int64(ts.Hour()), int64(ts.Minute()), int64(ts.Second()))
			if want := ts.Unix(); got != want {
				t.Errorf("seconds:\n  got: %v\n want: %v", got, want)
			}
		})
	}
}

func TestCenturyLeapYears(t *testing.T) {
	testData := []struct {
		year int64
		want int64 // days between Feb 28 and Mar 1
	}{
		{1900, 1},
		{2000, 2},
		{2023, 1},
		{2024, 2},
		{2100, 1},
	}

	for _, test := range testData {
		t.Run(fmt.Sprint(test.year), func(t *testing.T) {
			feb := Seconds(test.year, 2, 28, 0, 0, 0)
			mar := Seconds(test.year, 3, 1, 0, 0, 0)
			if got, want := (mar-feb)/86400, test.want; got != want {
				t.Errorf("days from feb 28 to mar 1:\n  got: %v\n want: %v", got, want)
			}
		})
	}
}

func TestMonotonic(t *testing.T) {
	start := time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	var last int64
	for i := 0; i < 365*30; i++ {
		ts := start.Add(time.Duration(i)*24*time.Hour + time.Duration(i%86400)*time.Second)
		got := Seconds(int64(ts.Year()), int64(ts.Month()), int64(ts.Day()), int64(ts.Hour()), int64(ts.Minute()), int64(ts.Second()))
		if i > 0 && got <= last {
			t.Fatalf("%v: not increasing: %v <= %v", ts, got, last)
		}
		if want := ts.Unix(); got != want {
			t.Fatalf("%v:\n  got: %v\n want: %v", ts, got, want)
		}
		last = got
	}
}

func TestMonthNormalization(t *testing.T) {
	testData := []struct {
		name                string
		year, month, day    int64
		wantY, wantM, wantD int
	}{
		{"month 13", 2023, 13, 1, 2024, 1, 1},
		{"month 0", 2023, 0, 15, 2022, 12, 15},
		{"month -1", 2023, -1, 15, 2022, 11, 15},
		{"month 25", 2023, 25, 2, 2025, 1, 2},
	}

	for _, test := range testData {
		t.Run(test.name, func(t *testing.T) {
			got := Seconds(test.year, test.month, test.day, 0, 0, 0)
			want := time.Date(test.wantY, time.Month(test.wantM), test.wantD, 0, 0, 0, 0, time.UTC).Unix()
			if got != want {
				t.Errorf("seconds:\n  got: %v\n want: %v", got, want)
			}
		})
	}
}
