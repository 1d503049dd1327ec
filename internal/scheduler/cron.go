package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// CronScheduler runs a backup at the activations of a cron expression
type CronScheduler struct {
	*loop
	spec string
}

// NewCronScheduler parses config.Cron and creates a scheduler for it.
// Expressions use the standard five fields (minute hour dom month dow) or
// descriptors like @daily and @every 6h.
func NewCronScheduler(config Config, runner Runner) (*CronScheduler, error) {
	if config.Cron == "" {
		return nil, fmt.Errorf("cron expression cannot be empty")
	}

	sched, err := cron.ParseStandard(config.Cron)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", config.Cron, err)
	}

	l, err := newLoop(sched, runner)
	if err != nil {
		return nil, err
	}

	return &CronScheduler{loop: l, spec: config.Cron}, nil
}

// Spec returns the cron expression
func (s *CronScheduler) Spec() string {
	return s.spec
}
