package scheduler

import (
	"fmt"
	"time"
)

// IntervalScheduler runs a backup every fixed interval
type IntervalScheduler struct {
	*loop
	interval time.Duration
}

// every is a constant-delay schedule with sub-second resolution
type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

// NewIntervalScheduler creates a new interval-based scheduler
func NewIntervalScheduler(config Config, runner Runner) (*IntervalScheduler, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", config.Interval)
	}

	l, err := newLoop(every(config.Interval), runner)
	if err != nil {
		return nil, err
	}

	return &IntervalScheduler{loop: l, interval: config.Interval}, nil
}

// Interval returns the delay between runs
func (s *IntervalScheduler) Interval() time.Duration {
	return s.interval
}
