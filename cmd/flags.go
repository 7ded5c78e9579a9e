package cmd

import (
	"fmt"
	"strconv"
	"time"
)

// millisDuration is a duration flag that also accepts a bare integer as
// milliseconds, so both --wait 1500 and --wait 1.5s work.
type millisDuration time.Duration

func newMillisDuration(d time.Duration) *millisDuration {
	m := millisDuration(d)
	return &m
}

func (m *millisDuration) Set(s string) error {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms < 0 {
			return fmt.Errorf("duration must not be negative: %s", s)
		}
		*m = millisDuration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: use milliseconds or a Go duration such as 2s", s)
	}
	*m = millisDuration(d)
	return nil
}

func (m *millisDuration) String() string { return time.Duration(*m).String() }

// Type reports "duration" so viper decodes the bound value as one.
func (m *millisDuration) Type() string { return "duration" }
