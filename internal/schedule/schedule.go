// Package schedule triggers recurring batch runs from a cron expression.
package schedule

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// standard five-field cron: minute hour dom month dow
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse validates a cron expression and returns its schedule
func Parse(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// RunFunc executes one batch invocation
type RunFunc func(ctx context.Context) error

// Scheduler fires a RunFunc on a cron schedule. Overlapping runs are
// skipped, not queued: a batch still in flight when its next slot
// arrives simply keeps that slot.
type Scheduler struct {
	sched   cron.Schedule
	run     RunFunc
	mu      sync.Mutex
	running bool
	lastRun time.Time
}

// New creates a scheduler for one cron expression
func New(expr string, run RunFunc) (*Scheduler, error) {
	sched, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	return &Scheduler{sched: sched, run: run}, nil
}

// Next returns the next fire time after t
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.sched.Next(t)
}

// Run blocks, firing the batch at each scheduled slot, until the context
// is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := s.sched.Next(time.Now())
		log.Printf("⏰ Next scheduled run at %s", next.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if !s.tryStart() {
			log.Printf("⏭️ Previous scheduled run still in flight, skipping this slot")
			continue
		}
		go func() {
			defer s.finish()
			if err := s.run(ctx); err != nil {
				log.Printf("⚠️ Scheduled run failed: %v", err)
			}
		}()
	}
}

func (s *Scheduler) tryStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Scheduler) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.lastRun = time.Now()
}

// LastRun returns when the most recent run finished, zero if never
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}
