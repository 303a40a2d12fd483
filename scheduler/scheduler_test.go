package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikshitha/douyin-live-helper/config"
	"github.com/nikshitha/douyin-live-helper/logger"
	"github.com/nikshitha/douyin-live-helper/stealth"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	return log
}

func TestBuildPlanInvariants(t *testing.T) {
	opts := PlanOptions{MinGap: 500 * time.Millisecond, GuardGap: time.Second}
	window := time.Minute

	for seed := int64(1); seed <= 200; seed++ {
		rnd := stealth.NewRandom(seed)
		count := rnd.NormalInt(20, 50)
		plan := BuildPlan(rnd, count, window, opts)

		require.Len(t, plan, count, "seed %d", seed)
		for i := range plan {
			assert.GreaterOrEqual(t, plan[i], time.Duration(0))
			if i > 0 {
				assert.GreaterOrEqual(t, plan[i]-plan[i-1], opts.MinGap, "seed %d index %d", seed, i)
			}
		}
		assert.LessOrEqual(t, plan[len(plan)-1], window-opts.GuardGap, "seed %d", seed)
	}
}

func TestBuildPlanCapsCountThatCannotFit(t *testing.T) {
	rnd := stealth.NewRandom(4)
	opts := PlanOptions{MinGap: 500 * time.Millisecond, GuardGap: time.Second}

	plan := BuildPlan(rnd, 10, 2*time.Second, opts)

	// (2s - 1s) / 500ms + 1
	require.Len(t, plan, 3)
	assert.Equal(t, []time.Duration{0, 500 * time.Millisecond, time.Second}, plan)
}

func TestBuildPlanDenseWindow(t *testing.T) {
	rnd := stealth.NewRandom(9)
	opts := PlanOptions{MinGap: 500 * time.Millisecond, GuardGap: time.Second}

	// 119 actions fill a minute exactly at the minimum spacing
	plan := BuildPlan(rnd, 500, time.Minute, opts)
	require.Len(t, plan, 119)
	assert.Equal(t, time.Duration(0), plan[0])
	assert.Equal(t, 59*time.Second, plan[118])
}

func TestBuildPlanEmpty(t *testing.T) {
	rnd := stealth.NewRandom(1)
	assert.Nil(t, BuildPlan(rnd, 0, time.Minute, PlanOptions{}))
	assert.Nil(t, BuildPlan(rnd, 5, 0, PlanOptions{}))
}

func TestIntervalPlanner(t *testing.T) {
	rnd := stealth.NewRandom(2)
	p := NewIntervalPlanner(rnd, 90*time.Second, 10, 3*time.Second)

	for i := 0; i < 200; i++ {
		offsets, repeat := p.Plan(false)
		require.Len(t, offsets, 1)
		assert.Zero(t, repeat)
		assert.GreaterOrEqual(t, offsets[0], 81*time.Second)
		assert.LessOrEqual(t, offsets[0], 99*time.Second)
	}

	p.SetInterval(time.Second)
	offsets, _ := p.Plan(false)
	assert.Equal(t, 3*time.Second, offsets[0], "interval below the floor is raised to it")

	p.SetFastStart(true, 3*time.Second, 5*time.Second)
	p.SetInterval(90 * time.Second)
	offsets, _ = p.Plan(true)
	assert.GreaterOrEqual(t, offsets[0], 3*time.Second)
	assert.LessOrEqual(t, offsets[0], 5*time.Second)

	offsets, _ = p.Plan(false)
	assert.GreaterOrEqual(t, offsets[0], 81*time.Second, "fast start only applies to the first cycle")
}

type stubPlanner struct {
	offsets []time.Duration
	repeat  time.Duration
	calls   atomic.Int32
}

func (p *stubPlanner) Plan(first bool) ([]time.Duration, time.Duration) {
	p.calls.Add(1)
	return p.offsets, p.repeat
}

func newTestScheduler(t *testing.T, clock Clock, planner Planner, running *atomic.Bool, action func(context.Context)) *Scheduler {
	t.Helper()
	return New(Options{
		Name:    "test",
		Clock:   clock,
		Planner: planner,
		Action:  action,
		Running: running.Load,
		Logger:  testLogger(t),
	})
}

func TestSchedulerFiresPlanAndRepeats(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	planner := NewBatchPlanner(stealth.NewRandom(5), config.RateConfig{MinPerInterval: 3, MaxPerInterval: 6, Interval: time.Minute}, PlanOptions{})
	running := &atomic.Bool{}
	running.Store(true)

	var fired atomic.Int32
	s := newTestScheduler(t, clock, planner, running, func(context.Context) { fired.Add(1) })

	require.True(t, s.Start())
	assert.False(t, s.Start(), "second start is a no-op")
	assert.Equal(t, StateScheduled, s.State())

	firstCycle := s.Pending() - 1 // minus the repeat timer
	require.GreaterOrEqual(t, firstCycle, 3)
	require.LessOrEqual(t, firstCycle, 6)

	clock.Advance(59 * time.Second)
	assert.Equal(t, int32(firstCycle), fired.Load())

	// Repeat timer plans the next window
	clock.Advance(time.Second)
	assert.Greater(t, s.Pending(), 1)

	clock.Advance(time.Minute)
	assert.Greater(t, fired.Load(), int32(firstCycle))
}

func TestSchedulerZeroCountArmsOnlyRepeat(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	planner := &stubPlanner{repeat: time.Minute}
	running := &atomic.Bool{}
	running.Store(true)

	s := newTestScheduler(t, clock, planner, running, func(context.Context) { t.Error("no action expected") })
	require.True(t, s.Start())

	assert.Equal(t, []time.Duration{time.Minute}, clock.Pending())
	clock.Advance(time.Minute)
	assert.Equal(t, int32(2), planner.calls.Load())
}

func TestSchedulerStopIsIdempotentAndSilences(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	planner := &stubPlanner{offsets: []time.Duration{time.Second, 2 * time.Second}, repeat: time.Minute}
	running := &atomic.Bool{}
	running.Store(true)

	var fired atomic.Int32
	s := newTestScheduler(t, clock, planner, running, func(context.Context) { fired.Add(1) })
	require.True(t, s.Start())

	s.Stop()
	s.Stop()

	assert.Equal(t, StateStopped, s.State())
	assert.Zero(t, s.Pending())
	assert.Empty(t, clock.Pending())

	clock.Advance(10 * time.Minute)
	assert.Zero(t, fired.Load())
}

func TestSchedulerStopInsideActionDropsRestOfCycle(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	planner := &stubPlanner{offsets: []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, repeat: time.Minute}
	running := &atomic.Bool{}
	running.Store(true)

	var fired atomic.Int32
	var s *Scheduler
	s = newTestScheduler(t, clock, planner, running, func(ctx context.Context) {
		fired.Add(1)
		running.Store(false)
		s.Stop()
		assert.Error(t, ctx.Err(), "in-flight action context is cancelled by Stop")
	})
	require.True(t, s.Start())

	clock.Advance(5 * time.Minute)
	assert.Equal(t, int32(1), fired.Load())
}

func TestSchedulerSkipsCallbacksWhenOwnerNotRunning(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	planner := &stubPlanner{offsets: []time.Duration{time.Second}, repeat: time.Minute}
	running := &atomic.Bool{}
	running.Store(true)

	var fired atomic.Int32
	s := newTestScheduler(t, clock, planner, running, func(context.Context) { fired.Add(1) })
	require.True(t, s.Start())

	running.Store(false)
	clock.Advance(2 * time.Second)
	assert.Zero(t, fired.Load())

	assert.False(t, New(Options{Name: "idle", Planner: planner, Running: running.Load, Logger: testLogger(t)}).Start(),
		"start refuses when the owner is not running")
}

func TestSchedulerReschedule(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	planner := &stubPlanner{offsets: []time.Duration{10 * time.Second}, repeat: time.Minute}
	running := &atomic.Bool{}
	running.Store(true)

	var fired atomic.Int32
	s := newTestScheduler(t, clock, planner, running, func(context.Context) { fired.Add(1) })
	require.True(t, s.Start())

	clock.Advance(5 * time.Second)
	retried := atomic.Bool{}
	s.After(time.Second, func(context.Context) { retried.Store(true) })
	s.Reschedule()

	// The old 10s offset and the retry are gone; a fresh cycle starts now
	assert.Equal(t, []time.Duration{10 * time.Second, time.Minute}, clock.Pending())
	clock.Advance(9 * time.Second)
	assert.Zero(t, fired.Load())
	assert.False(t, retried.Load())
	clock.Advance(time.Second)
	assert.Equal(t, int32(1), fired.Load())
}

func TestSchedulerNextForIntervalPlanner(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	planner := NewIntervalPlanner(stealth.NewRandom(3), 10*time.Second, 10, 3*time.Second)
	running := &atomic.Bool{}
	running.Store(true)

	var fired atomic.Int32
	var s *Scheduler
	s = newTestScheduler(t, clock, planner, running, func(context.Context) {
		fired.Add(1)
		s.Next()
	})
	require.True(t, s.Start())
	require.Len(t, clock.Pending(), 1)

	clock.Advance(11 * time.Second)
	assert.Equal(t, int32(1), fired.Load())
	require.Len(t, clock.Pending(), 1, "next cycle armed by the action")

	clock.Advance(22 * time.Second)
	assert.Equal(t, int32(3), fired.Load())
}

func TestSchedulerEnsureKeepsOneCycle(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	planner := &stubPlanner{offsets: []time.Duration{5 * time.Second}}
	running := &atomic.Bool{}
	running.Store(true)

	s := newTestScheduler(t, clock, planner, running, func(context.Context) {})
	require.True(t, s.Start())

	s.Ensure()
	assert.Len(t, clock.Pending(), 1, "armed cycle is left alone")

	s.Reschedule()
	s.Ensure()
	assert.Len(t, clock.Pending(), 1)

	clock.Advance(5 * time.Second)
	require.Empty(t, clock.Pending())
	s.Ensure()
	assert.Len(t, clock.Pending(), 1)
}

func TestSchedulerRecoversFromPanic(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	planner := &stubPlanner{offsets: []time.Duration{time.Second, 2 * time.Second}, repeat: time.Minute}
	running := &atomic.Bool{}
	running.Store(true)

	var fired atomic.Int32
	s := newTestScheduler(t, clock, planner, running, func(context.Context) {
		if fired.Add(1) == 1 {
			panic("boom")
		}
	})
	require.True(t, s.Start())

	assert.NotPanics(t, func() { clock.Advance(3 * time.Second) })
	assert.Equal(t, int32(2), fired.Load())
	assert.Equal(t, StateScheduled, s.State())
}

func TestSchedulerAfterRequiresStart(t *testing.T) {
	running := &atomic.Bool{}
	running.Store(true)
	s := newTestScheduler(t, NewManualClock(time.Unix(0, 0)), &stubPlanner{}, running, func(context.Context) {})

	assert.False(t, s.After(time.Second, func(context.Context) {}))
	assert.Equal(t, StateIdle, s.State())
}

func TestSystemClockAfterFunc(t *testing.T) {
	done := make(chan struct{})
	SystemClock{}.AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SystemClock timer did not fire")
	}
}
