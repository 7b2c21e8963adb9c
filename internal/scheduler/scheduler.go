package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"papertrader/internal/logger"
)

// Task is one scheduled unit of work. Its context outlives Stop so an
// in-flight run always finishes.
type Task func(ctx context.Context)

// Status is the externally visible scheduler state. Interval is in milliseconds.
type Status struct {
	IsRunning bool       `json:"isRunning"`
	LastTick  *time.Time `json:"lastTick"`
	NextTick  *time.Time `json:"nextTick"`
	Interval  int64      `json:"interval"`
}

// TickScheduler runs a task at a fixed rate anchored at Start. A run that
// overshoots its slot skips the missed slots instead of queueing them.
type TickScheduler struct {
	Name string

	task Task
	base context.Context

	mu              sync.Mutex
	defaultInterval time.Duration
	interval        time.Duration
	cancel          context.CancelFunc
	done            chan struct{}
	lastTick        time.Time
	nextTick        time.Time

	nowFn func() time.Time
}

func NewTickScheduler(ctx context.Context, defaultInterval time.Duration, task Task) *TickScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &TickScheduler{
		Name:            "tick",
		defaultInterval: defaultInterval,
		interval:        defaultInterval,
		task:            task,
		base:            ctx,
		nowFn:           time.Now,
	}
}

// SetDefaultInterval changes the interval used by later Start(0) calls.
func (s *TickScheduler) SetDefaultInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.defaultInterval = d
	s.mu.Unlock()
}

// Start launches the loop with the first run right away. interval <= 0 uses
// the default interval. It reports false when the scheduler was already running.
func (s *TickScheduler) Start(interval time.Duration) (bool, error) {
	if s == nil || s.task == nil {
		return false, fmt.Errorf("scheduler: no task")
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return false, nil
	}
	if interval <= 0 {
		interval = s.defaultInterval
	}
	if interval <= 0 {
		s.mu.Unlock()
		return false, fmt.Errorf("scheduler: invalid interval %s", interval)
	}
	ctx, cancel := context.WithCancel(s.base)
	done := make(chan struct{})
	s.interval = interval
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	logger.Infof("%s: started interval=%s at=%s", s.prefix(), interval, s.nowFn().UTC().Format(time.RFC3339))
	go s.loop(ctx, interval, done)
	return true, nil
}

// Stop prevents future runs. It does not wait for an in-flight run.
func (s *TickScheduler) Stop() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.nextTick = time.Time{}
	s.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	logger.Infof("%s: stopped", s.prefix())
	return true
}

// Done is closed when the current loop has exited; nil when never started.
func (s *TickScheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *TickScheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		IsRunning: s.cancel != nil,
		Interval:  s.interval.Milliseconds(),
	}
	if !s.lastTick.IsZero() {
		t := s.lastTick
		st.LastTick = &t
	}
	if st.IsRunning && !s.nextTick.IsZero() {
		t := s.nextTick
		st.NextTick = &t
	}
	return st
}

func (s *TickScheduler) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	anchor := s.nowFn()
	s.run()
	for {
		next := nextFixedTimeAfter(anchor, interval, s.nowFn())
		if !s.setNext(ctx, next) {
			return
		}
		timer := time.NewTimer(next.Sub(s.nowFn()))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Debugf("%s: ctx done, exit", s.prefix())
			return
		case <-timer.C:
		}
		s.run()
	}
}

func (s *TickScheduler) setNext(ctx context.Context, next time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	s.nextTick = next
	return true
}

func (s *TickScheduler) run() {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("%s: task panic: %v", s.prefix(), r)
		}
		s.mu.Lock()
		s.lastTick = s.nowFn()
		s.mu.Unlock()
	}()
	s.task(s.base)
}

func (s *TickScheduler) prefix() string {
	if s.Name == "" {
		return "TickScheduler"
	}
	return "TickScheduler[" + s.Name + "]"
}

func nextFixedTimeAfter(anchor time.Time, interval time.Duration, now time.Time) time.Time {
	if interval <= 0 {
		return now
	}
	delta := now.Sub(anchor)
	if delta < 0 {
		return anchor
	}
	k := delta / interval
	return anchor.Add((k + 1) * interval)
}
