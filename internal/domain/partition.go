package domain

import (
	"fmt"
	"time"
)

// DateLayout is the ISO 8601 calendar date used for run dates and partition keys.
const DateLayout = "2006-01-02"

// PartitionKey scopes one run's local file, staged object and warehouse load.
type PartitionKey string

// NewPartitionKey derives the key for a logical run date. Only the calendar
// date in UTC contributes, so any instant within the same UTC day maps to the
// same key.
func NewPartitionKey(runDate time.Time) PartitionKey {
	return PartitionKey(runDate.UTC().Format(DateLayout))
}

// ParsePartitionKey validates an ISO date string and returns its key.
func ParsePartitionKey(s string) (PartitionKey, error) {
	d, err := ParseRunDate(s)
	if err != nil {
		return "", err
	}
	return NewPartitionKey(d), nil
}

// ParseRunDate parses a trigger's ISO 8601 date (YYYY-MM-DD) as midnight UTC.
func ParseRunDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid run date %q: %w", s, err)
	}
	return d, nil
}

// Date returns the run date the key was derived from.
func (k PartitionKey) Date() (time.Time, error) {
	return ParseRunDate(string(k))
}

func (k PartitionKey) String() string { return string(k) }
