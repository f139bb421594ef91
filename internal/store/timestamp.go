package store

import (
	"fmt"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
}

// timestamp scans TIMESTAMPTZ values from Postgres and the TEXT values SQLite
// stores for the same columns.
type timestamp struct {
	Time  time.Time
	Valid bool
}

func (t *timestamp) Scan(src any) error {
	switch value := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = value.UTC(), true
		return nil
	case string:
		return t.parse(value)
	case []byte:
		return t.parse(string(value))
	default:
		return fmt.Errorf("scan timestamp: unsupported type %T", src)
	}
}

func (t *timestamp) parse(value string) error {
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			t.Time, t.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("scan timestamp: unrecognized format %q", value)
}

func (t timestamp) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	value := t.Time
	return &value
}

// timeArg renders a time for the dialect's timestamp columns.
func timeArg(dialect Dialect, value time.Time) any {
	if dialect == DialectSQLite {
		return value.UTC().Format(time.RFC3339Nano)
	}
	return value.UTC()
}
