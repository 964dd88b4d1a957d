package repository

import (
	"fmt"
	"time"
)

// dbTimeLayout is how timestamps are written: UTC, second precision.
// Range predicates on reservations.date compare values in this format,
// which orders the same way as time in both MySQL and SQLite.
const dbTimeLayout = "2006-01-02 15:04:05"

func formatDBTime(t time.Time) string { return t.UTC().Format(dbTimeLayout) }

var scanLayouts = []string{
	dbTimeLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// dbTime scans DATETIME columns whether the driver hands back a
// time.Time (MySQL with parseTime=true) or text (SQLite).
type dbTime struct {
	Time  time.Time
	Valid bool
}

func (d *dbTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		d.Time, d.Valid = time.Time{}, false
		return nil
	case time.Time:
		d.Time, d.Valid = x.UTC(), true
		return nil
	case string:
		return d.parse(x)
	case []byte:
		return d.parse(string(x))
	}
	return fmt.Errorf("unsupported timestamp type %T", v)
}

func (d *dbTime) parse(s string) error {
	for _, layout := range scanLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time, d.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}
