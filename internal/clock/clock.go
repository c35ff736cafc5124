package clock

import "time"

// Clock abstracts time so streak and recency rules stay deterministic in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in a fixed location. Streak days are
// counted in that location.
type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.Location)
}

// Fixed always returns the same instant until moved.
type Fixed struct {
	T time.Time
}

func (c *Fixed) Now() time.Time {
	return c.T
}

// Advance moves the clock forward by d.
func (c *Fixed) Advance(d time.Duration) {
	c.T = c.T.Add(d)
}
