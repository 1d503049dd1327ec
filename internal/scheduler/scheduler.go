// Package scheduler triggers archive runs on a fixed interval or a cron
// expression for daemon mode.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Scheduler drives a Runner until stopped or its context ends
type Scheduler interface {
	Start(ctx context.Context) error
	// Stop ends the loop, waiting for a run in progress to finish
	Stop() error
	Status() *Status
}

// Status is a snapshot of a scheduler
type Status struct {
	Running        bool
	LastRunTime    time.Time
	NextRunTime    time.Time
	TotalRuns      int
	SuccessfulRuns int
	FailedRuns     int
	LastError      string
}

// Config selects the schedule; set exactly one field
type Config struct {
	Interval time.Duration
	// Cron is a five-field expression or a descriptor such as @daily
	Cron string
}

// Runner performs one scheduled run
type Runner interface {
	RunOnce(ctx context.Context) error
}

// New returns the scheduler matching config
func New(config Config, runner Runner) (Scheduler, error) {
	switch {
	case config.Interval > 0 && config.Cron != "":
		return nil, errors.New("interval and cron are mutually exclusive")
	case config.Cron != "":
		return NewCronScheduler(config, runner)
	default:
		return NewIntervalScheduler(config, runner)
	}
}

// schedule yields the next activation after t; cron.Schedule satisfies it
type schedule interface {
	Next(t time.Time) time.Time
}

type loopState int

const (
	idle loopState = iota
	running
	stopped
)

// loop runs on its own goroutine, so runs never overlap. Activations that
// pass while a run is in progress are skipped, not queued.
type loop struct {
	sched  schedule
	runner Runner

	mu     sync.Mutex
	state  loopState
	stop   chan struct{}
	done   chan struct{}
	status Status
}

func newLoop(sched schedule, runner Runner) (*loop, error) {
	if runner == nil {
		return nil, errors.New("runner cannot be nil")
	}
	return &loop{sched: sched, runner: runner}, nil
}

// Start launches the loop. A loop runs once; it cannot be restarted after
// Stop or after its context ends.
func (l *loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case running:
		return errors.New("scheduler is already running")
	case stopped:
		return errors.New("scheduler cannot be restarted after stop")
	}

	l.state = running
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	l.status.Running = true
	l.status.NextRunTime = l.sched.Next(time.Now())

	go l.run(ctx)
	return nil
}

func (l *loop) run(ctx context.Context) {
	defer func() {
		l.mu.Lock()
		l.state = stopped
		l.status.Running = false
		l.mu.Unlock()
		close(l.done)
	}()

	for {
		l.mu.Lock()
		wait := time.Until(l.status.NextRunTime)
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-l.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		l.tick(ctx)
	}
}

func (l *loop) tick(ctx context.Context) {
	l.mu.Lock()
	l.status.LastRunTime = time.Now()
	l.status.TotalRuns++
	l.mu.Unlock()

	err := l.runner.RunOnce(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.status.FailedRuns++
		l.status.LastError = err.Error()
	} else {
		l.status.SuccessfulRuns++
		l.status.LastError = ""
	}
	l.status.NextRunTime = l.sched.Next(time.Now())
}

func (l *loop) Stop() error {
	l.mu.Lock()
	if l.state != running {
		l.mu.Unlock()
		return errors.New("scheduler is not running")
	}
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
	done := l.done
	l.mu.Unlock()

	<-done
	return nil
}

func (l *loop) Status() *Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.status
	return &s
}
