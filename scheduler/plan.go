package scheduler

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/nikshitha/douyin-live-helper/config"
	"github.com/nikshitha/douyin-live-helper/stealth"
)

// Default plan spacing
const (
	DefaultMinGap   = 500 * time.Millisecond
	DefaultGuardGap = time.Second
)

// PlanOptions bounds the spacing of a plan
type PlanOptions struct {
	MinGap   time.Duration
	GuardGap time.Duration
}

func (o PlanOptions) withDefaults() PlanOptions {
	if o.MinGap <= 0 {
		o.MinGap = DefaultMinGap
	}
	if o.GuardGap < 0 {
		o.GuardGap = 0
	}
	return o
}

// BuildPlan returns count offsets inside window, sorted ascending, with at
// least MinGap between neighbours and the last no later than window-GuardGap.
// When count cannot fit at that spacing it is reduced to the largest count
// that does.
func BuildPlan(rnd *stealth.Random, count int, window time.Duration, opts PlanOptions) []time.Duration {
	opts = opts.withDefaults()
	if count <= 0 || window <= 0 {
		return nil
	}

	limit := window - opts.GuardGap
	if limit < 0 {
		limit = 0
	}
	if fit := int(limit/opts.MinGap) + 1; count > fit {
		count = fit
	}

	plan := make([]time.Duration, count)
	for i := range plan {
		plan[i] = time.Duration(rnd.Float64() * float64(window))
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i] < plan[j] })

	// Push crowded offsets forward
	for i := 1; i < count; i++ {
		if plan[i]-plan[i-1] < opts.MinGap {
			plan[i] = plan[i-1] + opts.MinGap
		}
	}

	// Pull the tail back under the limit without breaking the gaps
	if plan[count-1] > limit {
		plan[count-1] = limit
	}
	for i := count - 2; i >= 0; i-- {
		if plan[i] > plan[i+1]-opts.MinGap {
			plan[i] = plan[i+1] - opts.MinGap
		}
	}

	return plan
}

// Planner decides the shape of each scheduling cycle
type Planner interface {
	// Plan returns the action offsets of the next cycle and the delay after
	// which the following cycle is planned. A zero repeat means the owner
	// asks for the next cycle explicitly with Next.
	Plan(first bool) (offsets []time.Duration, repeat time.Duration)
}

// BatchPlanner spreads a normally distributed number of actions across each window
type BatchPlanner struct {
	rand *stealth.Random
	opts PlanOptions
	rate atomic.Pointer[config.RateConfig]
}

// NewBatchPlanner creates a planner for rate
func NewBatchPlanner(rnd *stealth.Random, rate config.RateConfig, opts PlanOptions) *BatchPlanner {
	p := &BatchPlanner{rand: rnd, opts: opts.withDefaults()}
	p.SetRate(rate)
	return p
}

// SetRate swaps the rate used by future cycles
func (p *BatchPlanner) SetRate(rate config.RateConfig) {
	p.rate.Store(&rate)
}

// Rate returns the current rate
func (p *BatchPlanner) Rate() config.RateConfig {
	return *p.rate.Load()
}

// Plan implements Planner
func (p *BatchPlanner) Plan(first bool) ([]time.Duration, time.Duration) {
	rate := p.Rate()
	if rate.Interval <= 0 {
		return nil, 0
	}
	count := 0
	if rate.MaxPerInterval > 0 {
		count = p.rand.NormalInt(rate.MinPerInterval, rate.MaxPerInterval)
	}
	return BuildPlan(p.rand, count, rate.Interval, p.opts), rate.Interval
}

// IntervalPlanner schedules one action per cycle at a jittered interval
type IntervalPlanner struct {
	rand        *stealth.Random
	variancePct float64
	floor       time.Duration

	interval  atomic.Int64
	fastStart atomic.Pointer[[2]time.Duration]
}

// NewIntervalPlanner creates a planner firing every interval ±variancePct,
// never sooner than floor
func NewIntervalPlanner(rnd *stealth.Random, interval time.Duration, variancePct float64, floor time.Duration) *IntervalPlanner {
	p := &IntervalPlanner{rand: rnd, variancePct: variancePct, floor: floor}
	p.SetInterval(interval)
	return p
}

// SetInterval swaps the nominal interval
func (p *IntervalPlanner) SetInterval(d time.Duration) {
	p.interval.Store(int64(d))
}

// Interval returns the nominal interval
func (p *IntervalPlanner) Interval() time.Duration {
	return time.Duration(p.interval.Load())
}

// SetFastStart makes the first cycle after a start fire within [min,max]
func (p *IntervalPlanner) SetFastStart(enabled bool, min, max time.Duration) {
	if !enabled {
		p.fastStart.Store(nil)
		return
	}
	p.fastStart.Store(&[2]time.Duration{min, max})
}

// Plan implements Planner
func (p *IntervalPlanner) Plan(first bool) ([]time.Duration, time.Duration) {
	if fast := p.fastStart.Load(); first && fast != nil {
		return []time.Duration{p.rand.Between(fast[0], fast[1])}, 0
	}
	d := p.rand.JitteredDelay(p.Interval(), p.variancePct)
	if d < p.floor {
		d = p.floor
	}
	return []time.Duration{d}, 0
}
