// Package feature holds the per-feature state machines. Each machine owns a
// scheduler, decides whether it may start, counts successes and retries
// failures with a linear backoff.
package feature

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nikshitha/douyin-live-helper/action"
	"github.com/nikshitha/douyin-live-helper/config"
	"github.com/nikshitha/douyin-live-helper/events"
	"github.com/nikshitha/douyin-live-helper/logger"
	"github.com/nikshitha/douyin-live-helper/scheduler"
	"github.com/nikshitha/douyin-live-helper/stealth"
)

// Feature names, also used as license keys and log sources
const (
	NameLike      = "like"
	NameComment   = "comment"
	NameAIComment = "ai_comment"
)

var (
	ErrAlreadyRunning = errors.New("feature already running")
	ErrDisabled       = errors.New("feature disabled")
	ErrEmptyPool      = errors.New("comment pool is empty")
	ErrInvalidConfig  = errors.New("invalid feature configuration")
	ErrNotPermitted   = errors.New("feature not permitted by license")
)

// Gate decides whether a gated feature may run
type Gate interface {
	Permitted(ctx context.Context, feature string) bool
}

// Deps are the collaborators shared by both machines
type Deps struct {
	Resolver action.Resolver
	Clock    scheduler.Clock
	Rand     *stealth.Random
	Logger   *logger.Logger
	Gate     Gate
	Schedule config.ScheduleConfig
}

// State is a point-in-time view of a machine
type State struct {
	Running    bool            `json:"running"`
	Acting     bool            `json:"acting"`
	Generating bool            `json:"generating,omitempty"`
	Sending    bool            `json:"sending,omitempty"`
	Total      int             `json:"total"`
	Today      int             `json:"today"`
	Retry      int             `json:"retry"`
	Scheduler  scheduler.State `json:"scheduler"`
}

// core is the part shared by the like and comment machines
type core struct {
	name     string
	logger   *logger.Logger
	bus      *events.Bus
	gate     Gate
	resolver action.Resolver
	schedule config.ScheduleConfig
	sched    *scheduler.Scheduler

	running atomic.Bool
	acting  atomic.Bool

	mu       sync.Mutex
	settings config.Settings
	total    int
	today    int
	retry    int
}

func newCore(name string, deps Deps, settings config.Settings) core {
	return core{
		name:     name,
		logger:   deps.Logger.WithModule("feature").WithSource(name),
		bus:      events.NewBus(),
		gate:     deps.Gate,
		resolver: deps.Resolver,
		schedule: deps.Schedule,
		settings: settings,
	}
}

// Events returns the machine's event bus
func (c *core) Events() *events.Bus {
	return c.bus
}

// Running reports whether the feature is started
func (c *core) Running() bool {
	return c.running.Load()
}

// Settings returns the machine's copy of the settings record
func (c *core) Settings() config.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.Apply(config.SettingsPatch{})
}

// SetCounts seeds the counters, typically from storage
func (c *core) SetCounts(total, today int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total, c.today = total, today
}

// Counts returns the counters
func (c *core) Counts() events.Counts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return events.Counts{Total: c.total, Today: c.today}
}

// ResetToday zeroes the daily counter
func (c *core) ResetToday() {
	c.mu.Lock()
	c.today = 0
	c.mu.Unlock()
	c.logger.Debug("Daily counter reset")
}

func (c *core) state() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Running:   c.running.Load(),
		Acting:    c.acting.Load(),
		Total:     c.total,
		Today:     c.today,
		Retry:     c.retry,
		Scheduler: c.sched.State(),
	}
}

// permitted consults the license gate
func (c *core) permitted(ctx context.Context, feature string) bool {
	if c.gate == nil {
		return true
	}
	return c.gate.Permitted(ctx, feature)
}

// reject records a start refusal that the host must reflect by turning the
// toggle off. Called with c.mu held.
func (c *core) rejectLocked(err error, disable func(*config.Settings)) error {
	disable(&c.settings)
	c.logger.WithError(err).Warn("Refusing to start")
	typ := events.LikeRejected
	if c.name == NameComment {
		typ = events.CommentRejected
	}
	c.bus.Emit(typ, events.Rejection{Reason: err.Error()})
	return err
}

// succeed bumps the counters and clears the retry streak
func (c *core) succeed() events.Counts {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	c.today++
	c.retry = 0
	return events.Counts{Total: c.total, Today: c.today}
}

// nextRetry advances the retry streak. It returns the delay before the next
// attempt, or false once the streak is exhausted and has been reset.
func (c *core) nextRetry() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retry++
	if c.retry > c.schedule.MaxRetries {
		c.retry = 0
		return 0, false
	}
	return time.Duration(c.retry) * ms(c.schedule.RetryBackoffMs), true
}

// requested reports whether a patch explicitly turns a toggle on
func requested(toggle *bool) bool {
	return toggle != nil && *toggle
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
