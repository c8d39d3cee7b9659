package application

import "time"

// Clock stamps analysis results so tests can pin the time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default, UTC wall time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }
