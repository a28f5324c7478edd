package storage

import (
	"errors"
	"time"
)

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// NullableString stores empty strings as NULL.
func NullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// NullableTime stores nil or zero times as NULL.
func NullableTime(value *time.Time) any {
	if value == nil || value.IsZero() {
		return nil
	}
	return FormatTime(*value)
}

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders timestamps in the stored representation.
func FormatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

// BoolToInt maps booleans onto SQLite integers.
func BoolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// ParseTime parses RFC3339Nano and SQLite's default datetime format.
func ParseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

// ParseTimePtr parses a nullable timestamp column.
func ParseTimePtr(value string, valid bool) *time.Time {
	if !valid {
		return nil
	}
	t, err := ParseTime(value)
	if err != nil {
		return nil
	}
	return &t
}

// Placeholders returns "?,?,?" for count parameters.
func Placeholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
