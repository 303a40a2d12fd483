// Package scheduler decides when feature actions fire. A Scheduler owns every
// timer of one feature, so stopping it is enough to silence the feature.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nikshitha/douyin-live-helper/logger"
)

// State is the lifecycle position of a scheduler
type State string

const (
	StateIdle      State = "idle"
	StateScheduled State = "scheduled"
	StateFiring    State = "firing"
	StateStopped   State = "stopped"
)

// Options configures a Scheduler
type Options struct {
	Name    string
	Clock   Clock
	Planner Planner
	// Action runs once per planned offset
	Action func(ctx context.Context)
	// Running is consulted before Start and before every callback; a false
	// result turns the callback into a no-op
	Running func() bool
	Logger  *logger.Logger
}

// Scheduler arms planned actions and the repeat timer for one feature
type Scheduler struct {
	name    string
	clock   Clock
	planner Planner
	action  func(ctx context.Context)
	running func() bool
	logger  *logger.Logger

	mu      sync.Mutex
	gen     uint64
	nextID  uint64
	timers  map[uint64]Timer
	started bool
	stopped bool
	firing  int
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a scheduler
func New(opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Running == nil {
		opts.Running = func() bool { return true }
	}
	return &Scheduler{
		name:    opts.Name,
		clock:   opts.Clock,
		planner: opts.Planner,
		action:  opts.Action,
		running: opts.Running,
		logger:  opts.Logger.WithModule("scheduler").WithField("feature", opts.Name),
		timers:  make(map[uint64]Timer),
	}
}

// Start plans the first cycle. It returns false when already started or
// when the owner does not report running.
func (s *Scheduler) Start() bool {
	if !s.running() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return false
	}
	s.started = true
	s.stopped = false
	s.gen++
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.planLocked(true)
	return true
}

// Stop cancels every pending timer and the context handed to in-flight
// actions. Callbacks already running when Stop returns become no-ops.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	s.stopped = true
	s.gen++
	s.stopTimersLocked()
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Debug("Scheduler stopped")
}

// Reschedule drops pending timers and plans a fresh cycle from now
func (s *Scheduler) Reschedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.gen++
	s.stopTimersLocked()
	s.planLocked(false)
	s.logger.Debug("Scheduler rescheduled")
}

// Next plans the following cycle. It is used with planners that return no
// repeat delay, once the owner has finished with the previous action.
func (s *Scheduler) Next() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.planLocked(false)
}

// Ensure plans the following cycle unless a timer is already armed. Owners
// finishing an action use it so a Reschedule that raced the action does not
// leave two cycles pending.
func (s *Scheduler) Ensure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || len(s.timers) > 0 {
		return
	}
	s.planLocked(false)
}

// After runs f once after d. The timer belongs to the current cycle and is
// dropped by Stop and Reschedule.
func (s *Scheduler) After(d time.Duration, f func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return false
	}
	s.armLocked(d, f)
	return true
}

// State reports the lifecycle position
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.started && s.firing > 0:
		return StateFiring
	case s.started:
		return StateScheduled
	case s.stopped:
		return StateStopped
	default:
		return StateIdle
	}
}

// Pending returns the number of armed timers
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) planLocked(first bool) {
	offsets, repeat := s.planner.Plan(first)
	for _, off := range offsets {
		s.armLocked(off, s.action)
	}
	if repeat > 0 {
		gen := s.gen
		s.armLocked(repeat, func(context.Context) { s.cycle(gen) })
	}
	s.logger.WithFields(map[string]interface{}{
		"actions": len(offsets),
		"repeat":  repeat.String(),
	}).Debug("Cycle planned")
}

func (s *Scheduler) armLocked(d time.Duration, f func(ctx context.Context)) {
	s.nextID++
	id := s.nextID
	gen := s.gen
	s.timers[id] = s.clock.AfterFunc(d, func() {
		s.fire(gen, id, f)
	})
}

// cycle is the repeat timer body
func (s *Scheduler) cycle(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || gen != s.gen {
		return
	}
	s.planLocked(false)
}

func (s *Scheduler) fire(gen, id uint64, f func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", fmt.Sprint(r)).Error("Recovered from panic in scheduled callback")
		}
	}()

	s.mu.Lock()
	if gen != s.gen || !s.started {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	ctx := s.ctx
	s.mu.Unlock()

	if !s.running() {
		return
	}

	s.mu.Lock()
	s.firing++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.firing--
		s.mu.Unlock()
	}()

	f(ctx)
}

func (s *Scheduler) stopTimersLocked() {
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
