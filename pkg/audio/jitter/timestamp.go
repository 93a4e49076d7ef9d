package jitter

import "time"

// EpochMillis is a timestamp in milliseconds since the Unix epoch.
type EpochMillis int64

// FromTime converts a time.Time to EpochMillis.
func FromTime(t time.Time) EpochMillis {
	return EpochMillis(t.UnixMilli())
}

// FromDuration converts a duration to EpochMillis (milliseconds), truncating.
func FromDuration(d time.Duration) EpochMillis {
	return EpochMillis(d.Milliseconds())
}

// Duration converts EpochMillis to a time.Duration.
func (ms EpochMillis) Duration() time.Duration {
	return time.Duration(ms) * time.Millisecond
}
