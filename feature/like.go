package feature

import (
	"context"
	"errors"

	"github.com/nikshitha/douyin-live-helper/action"
	"github.com/nikshitha/douyin-live-helper/config"
	"github.com/nikshitha/douyin-live-helper/events"
	"github.com/nikshitha/douyin-live-helper/scheduler"
)

// Like runs the auto-like feature
type Like struct {
	core
	exec    *action.LikeExecutor
	planner *scheduler.BatchPlanner
}

// NewLike creates the like machine in the stopped state
func NewLike(deps Deps, exec *action.LikeExecutor, settings config.Settings) *Like {
	m := &Like{
		core: newCore(NameLike, deps, settings),
		exec: exec,
	}
	m.planner = scheduler.NewBatchPlanner(deps.Rand, m.rateLocked(), scheduler.PlanOptions{
		MinGap:   ms(deps.Schedule.MinGapMs),
		GuardGap: ms(deps.Schedule.GuardGapMs),
	})
	m.sched = scheduler.New(scheduler.Options{
		Name:    NameLike,
		Clock:   deps.Clock,
		Planner: m.planner,
		Action:  m.tick,
		Running: m.running.Load,
		Logger:  deps.Logger,
	})
	return m
}

func (m *Like) rateLocked() config.RateConfig {
	return m.settings.LikeRate(ms(m.schedule.LikeWindowMs))
}

// Start begins liking. It refuses when already running, when the feature is
// disabled, when the rate is unusable or when the license forbids it.
func (m *Like) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(ctx)
}

func (m *Like) startLocked(ctx context.Context) error {
	if m.running.Load() {
		m.logger.Warn("Auto-like is already running")
		return ErrAlreadyRunning
	}
	if !m.settings.LikeEnabled {
		m.logger.Warn("Auto-like is disabled")
		return ErrDisabled
	}
	rate := m.rateLocked()
	if err := rate.Validate(); err != nil {
		return m.rejectLocked(invalid("like rate: %v", err), func(s *config.Settings) { s.LikeEnabled = false })
	}
	if !m.permitted(ctx, NameLike) {
		m.logger.Warn("Auto-like is not permitted by the current license")
		return ErrNotPermitted
	}

	m.planner.SetRate(rate)
	m.retry = 0
	m.running.Store(true)
	m.sched.Start()

	m.logger.WithFields(map[string]interface{}{
		"min_per_minute": rate.MinPerInterval,
		"max_per_minute": rate.MaxPerInterval,
	}).Info("Auto-like started")
	m.bus.Emit(events.LikeStarted, events.Counts{Total: m.total, Today: m.today})
	return nil
}

// Stop halts liking. Calling it on a stopped machine does nothing.
func (m *Like) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Like) stopLocked() {
	if !m.running.Load() {
		return
	}
	m.running.Store(false)
	m.sched.Stop()
	m.acting.Store(false)
	m.retry = 0

	m.logger.Info("Auto-like stopped")
	m.bus.Emit(events.LikeStopped, events.Counts{Total: m.total, Today: m.today})
}

// UpdateConfig merges patch into the machine's settings and reacts to it:
// enabling starts, disabling stops, and a rate change replans the window.
// Enabling an already enabled but stopped machine retries the start.
func (m *Like) UpdateConfig(ctx context.Context, patch config.SettingsPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.settings
	m.settings = old.Apply(patch)
	next := m.settings

	switch {
	case !old.LikeEnabled && next.LikeEnabled:
		return m.startLocked(ctx)
	case old.LikeEnabled && !next.LikeEnabled:
		m.stopLocked()
		return nil
	case requested(patch.LikeEnabled) && !m.running.Load():
		// enabled earlier but refused, e.g. by the license gate
		return m.startLocked(ctx)
	}

	if m.running.Load() && (old.LikeMinPerMinute != next.LikeMinPerMinute || old.LikeMaxPerMinute != next.LikeMaxPerMinute) {
		rate := m.rateLocked()
		if err := rate.Validate(); err != nil {
			m.stopLocked()
			return m.rejectLocked(invalid("like rate: %v", err), func(s *config.Settings) { s.LikeEnabled = false })
		}
		m.planner.SetRate(rate)
		m.sched.Reschedule()
		m.logger.WithFields(map[string]interface{}{
			"min_per_minute": rate.MinPerInterval,
			"max_per_minute": rate.MaxPerInterval,
		}).Info("Like rate updated")
	}
	return nil
}

// State returns a snapshot of the machine
func (m *Like) State() State {
	return m.state()
}

// tick is one planned like
func (m *Like) tick(ctx context.Context) {
	if !m.acting.CompareAndSwap(false, true) {
		m.logger.Debug("Previous like still in progress, skipping")
		return
	}
	defer m.acting.Store(false)

	err := m.attempt(ctx)
	if err == nil {
		counts := m.succeed()
		m.logger.WithField("total", counts.Total).Success("Like sent")
		m.bus.Emit(events.LikeSuccess, counts)
		return
	}
	if ctx.Err() != nil || !m.running.Load() {
		return
	}
	m.fail(err)
}

func (m *Like) attempt(ctx context.Context) error {
	target, err := m.resolver.FindLikeTarget(ctx)
	if err != nil {
		return err
	}
	ok, err := m.exec.PerformLike(ctx, target)
	if err != nil {
		return err
	}
	if !ok {
		return action.ErrTargetNotFound
	}
	return nil
}

// fail schedules a retry of a failed like, or gives up on this one once the
// retry budget is spent. Planned likes keep firing either way.
func (m *Like) fail(err error) {
	log := m.logger.WithError(err)
	if errors.Is(err, action.ErrTargetNotFound) {
		log.Warn("Like target not found")
	} else {
		log.Error("Like failed")
	}

	delay, ok := m.nextRetry()
	if !ok {
		m.logger.Warn("Like retries exhausted, resuming normal schedule")
		return
	}
	m.logger.WithField("delay", delay.String()).Info("Retrying like")
	m.sched.After(delay, m.tick)
}
