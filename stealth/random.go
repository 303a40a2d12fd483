package stealth

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Random is a goroutine-safe source of the distributions used for pacing
// and click placement. A fixed seed makes every draw reproducible.
type Random struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRandom creates a source; seed 0 seeds from the clock
func NewRandom(seed int64) *Random {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Random{r: rand.New(rand.NewSource(seed))}
}

// Float64 returns a uniform value in [0,1)
func (r *Random) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Float64()
}

// Intn returns a uniform value in [0,n)
func (r *Random) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Intn(n)
}

// IntBetween returns a uniform integer in [min,max]
func (r *Random) IntBetween(min, max int) int {
	if max < min {
		min, max = max, min
	}
	return min + r.Intn(max-min+1)
}

// FloatBetween returns a uniform value in [min,max)
func (r *Random) FloatBetween(min, max float64) float64 {
	return min + r.Float64()*(max-min)
}

// Between returns a uniform duration in [lo,hi]
func (r *Random) Between(lo, hi time.Duration) time.Duration {
	if hi < lo {
		lo, hi = hi, lo
	}
	if hi == lo {
		return lo
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo + time.Duration(r.r.Int63n(int64(hi-lo)+1))
}

// Millis returns a uniform duration between minMs and maxMs milliseconds
func (r *Random) Millis(minMs, maxMs int) time.Duration {
	return time.Duration(r.IntBetween(minMs, maxMs)) * time.Millisecond
}

// Sign returns -1 or +1 with equal probability
func (r *Random) Sign() float64 {
	if r.Float64() < 0.5 {
		return -1
	}
	return 1
}

// NormalInt draws from a normal distribution centred on (min+max)/2 with a
// standard deviation of a quarter of the range, rounded and clamped into
// [min,max]. Roughly 95% of draws land inside the middle half.
func (r *Random) NormalInt(min, max int) int {
	if max < min {
		min, max = max, min
	}
	if min == max {
		return min
	}

	r.mu.Lock()
	// Box-Muller; both uniforms are kept away from zero
	u := 1 - r.r.Float64()
	v := 1 - r.r.Float64()
	r.mu.Unlock()

	z := math.Sqrt(-2*math.Log(u)) * math.Cos(2*math.Pi*v)
	mean := float64(min+max) / 2
	sd := float64(max-min) / 4

	n := int(math.Round(mean + z*sd))
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// JitteredDelay perturbs base by up to ±variancePct percent, never below zero
func (r *Random) JitteredDelay(base time.Duration, variancePct float64) time.Duration {
	if base <= 0 || variancePct <= 0 {
		if base < 0 {
			return 0
		}
		return base
	}
	spread := float64(base) * variancePct / 100
	d := time.Duration(float64(base) + (r.Float64()*2-1)*spread)
	if d < 0 {
		return 0
	}
	return d
}

// Sleeper waits for a duration or until the context ends
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealSleeper sleeps on the wall clock
type RealSleeper struct{}

// Sleep implements Sleeper
func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
